package cardano

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockfrostParamsFixture = `{
	"epoch": 150,
	"min_fee_a": 44,
	"min_fee_b": 155381,
	"max_tx_size": 16384,
	"coins_per_utxo_size": "4310",
	"collateral_percent": 150,
	"max_collateral_inputs": 3,
	"max_tx_ex_mem": "14000000",
	"max_tx_ex_steps": "10000000000",
	"price_mem": 0.0577,
	"price_step": 0.0000721,
	"cost_models_raw": {"PlutusV2": [205665, 812, 1]}
}`

func blockfrostUtxoJson(txByte byte, index int, extra string) string {
	return fmt.Sprintf(`{
		"tx_hash": "%s",
		"output_index": %d,
		"amount": [{"unit": "lovelace", "quantity": "5000000"}%s],
		"data_hash": null
	}`, strings.Repeat(fmt.Sprintf("%02x", txByte), 32), index, extra)
}

func newFakeBlockfrost(t *testing.T, addr string) (*BlockfrostChain, *atomic.Int32) {
	paramsCalls := &atomic.Int32{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("project_id") != "preprodtest" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"status_code":403,"error":"Forbidden","message":"Invalid project token."}`))
			return
		}

		switch r.URL.Path {
		case "/addresses/" + addr + "/utxos":
			var items []string
			switch r.URL.Query().Get("page") {
			case "1":
				for i := 0; i < blockfrostPageSize; i++ {
					items = append(items, blockfrostUtxoJson(1, i, ""))
				}
			case "2":
				token := `, {"unit": "` + strings.Repeat("01", 28) + `746f6b", "quantity": "7"}`
				items = append(items, strings.Replace(
					blockfrostUtxoJson(2, 0, token),
					`"data_hash": null`,
					`"data_hash": "`+strings.Repeat("ab", 32)+`"`, 1))
			}
			_, _ = w.Write([]byte("[" + strings.Join(items, ",") + "]"))
		case "/blocks/latest":
			_, _ = w.Write([]byte(`{"slot": 4567, "height": 100}`))
		case "/epochs/latest/parameters":
			paramsCalls.Add(1)
			_, _ = w.Write([]byte(blockfrostParamsFixture))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status_code":404,"error":"Not Found","message":"The requested component has not been found."}`))
		}
	}))
	t.Cleanup(server.Close)

	chain, err := NewBlockfrostChain(&BlockfrostChainOptions{Endpoint: server.URL, ProjectId: "preprodtest"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = chain.Close() })

	return chain, paramsCalls
}

func TestBlockfrostChain_UtxosAt(t *testing.T) {
	addr := testAddress(3)
	bech, err := addr.Bech32String()
	require.NoError(t, err)

	chain, _ := newFakeBlockfrost(t, bech)
	utxos, err := chain.UtxosAt(context.Background(), addr)
	require.NoError(t, err)
	require.Len(t, utxos, blockfrostPageSize+1)

	first := utxos[0]
	assert.Equal(t, uint64(5_000_000), first.Output.Amount.Coin)
	assert.True(t, first.Output.Amount.IsAdaOnly())
	assert.Nil(t, first.Output.DatumHash)
	assert.Equal(t, addr, first.Output.Address)

	last := utxos[blockfrostPageSize]
	assert.Equal(t, byte(2), last.Input.TxId[0])
	assert.Equal(t, uint64(7), last.Output.Amount.Quantity(testPolicy, AssetName("tok")))
	require.NotNil(t, last.Output.DatumHash)
	assert.Equal(t, strings.Repeat("ab", 32), last.Output.DatumHash.String())

	// an address blockfrost has never seen has no utxos
	utxos, err = chain.UtxosAt(context.Background(), testAddress(4))
	require.NoError(t, err)
	assert.Empty(t, utxos)
}

func TestBlockfrostChain_SlotAndParams(t *testing.T) {
	chain, paramsCalls := newFakeBlockfrost(t, "")
	ctx := context.Background()

	slot, err := chain.CurrentSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4567), slot)

	params, err := chain.ProtocolParameters(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(44), params.MinFeeA)
	assert.Equal(t, uint64(155381), params.MinFeeB)
	assert.Equal(t, uint64(4310), params.CoinsPerUtxoByte)
	assert.Equal(t, uint64(3), params.MaxCollateralInputs)
	assert.Equal(t, ExUnits{Mem: 14_000_000, Steps: 10_000_000_000}, params.MaxTxExUnits)
	assert.Equal(t, 0, params.PriceMem.Cmp(big.NewRat(577, 10000)))
	assert.Equal(t, 0, params.PriceStep.Cmp(big.NewRat(721, 10000000)))
	assert.Equal(t, []int64{205665, 812, 1}, params.CostModels[PlutusV2])

	_, err = chain.ProtocolParameters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, paramsCalls.Load(), "parameters are cached")
}

func TestBlockfrostChain_Errors(t *testing.T) {
	chain, _ := newFakeBlockfrost(t, "")
	chain.http.SetHeader("project_id", "wrong")

	_, err := chain.CurrentSlot(context.Background())
	assert.True(t, errors.Is(err, ErrChainQuery), "got %v", err)
	assert.Contains(t, err.Error(), "Invalid project token")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = chain.ProtocolParameters(ctx)
	assert.True(t, errors.Is(err, ErrChainQuery))
}
