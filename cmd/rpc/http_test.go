package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/alexdcox/cardano-go"
	"github.com/alexdcox/cardano-go/rpcclient"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// acceptingOgmios accepts every submitted transaction.
func acceptingOgmios(t *testing.T) string {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			req := gjson.ParseBytes(data)
			tx, err := DecodeTransactionHex(req.Get("params.transaction.cbor").String())
			if err != nil {
				return
			}
			id, _ := tx.Id()
			reply := fmt.Sprintf(
				`{"jsonrpc":"2.0","method":"submitTransaction","result":{"transaction":{"id":"%s"}},"id":%s}`,
				id, req.Get("id").Raw)
			if err = ws.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type rpcFixture struct {
	rpc  *rpcclient.RpcClient
	seed []byte
	from Address
}

func newRpcFixture(t *testing.T) *rpcFixture {
	seed := bytes.Repeat([]byte{1}, 32)
	key, err := NewSigningKey(seed)
	require.NoError(t, err)
	from := NewEnterpriseAddress(NetworkPreProd, key.KeyHash())

	chain := NewMemoryChain(&ProtocolParams{
		MinFeeA:          44,
		MinFeeB:          155381,
		MaxTxSize:        16384,
		CoinsPerUtxoByte: 4310,
	})
	chain.Slot = 5000
	chain.AddUtxo(Utxo{
		Input:  TransactionInput{TxId: TxId{1}},
		Output: TransactionOutput{Address: from, Amount: NewValue(50_000_000)},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	config := &Config{
		Network:        NetworkPreProd,
		OgmiosEndpoint: acceptingOgmios(t),
		Timeout:        5 * time.Second,
		RpcHostPort:    ln.Addr().String(),
	}

	client, err := NewClient(&ClientOptions{Config: config, Chain: chain})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Stop() })

	server, err := NewHttpRpcServer(config, client)
	require.NoError(t, err)
	go func() {
		_ = server.app.Listener(ln)
	}()
	t.Cleanup(func() { _ = server.Stop() })

	rpc, err := rpcclient.NewRpcClient("http://"+ln.Addr().String(), NetworkPreProd)
	require.NoError(t, err)

	return &rpcFixture{rpc: rpc, seed: seed, from: from}
}

func TestHttpRpc_StatusAndUtxos(t *testing.T) {
	f := newRpcFixture(t)

	status, err := f.rpc.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, NetworkPreProd, status.Network)
	assert.Equal(t, uint64(5000), status.Slot)
	assert.Equal(t, uint64(44), status.Protocol.MinFeeCoefficient)
	assert.Equal(t, uint64(155381), status.Protocol.MinFeeConstant)
	assert.NotZero(t, status.Protocol.MinUtxoThreshold)

	utxos, err := f.rpc.GetUtxosForAddress(f.from)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, uint64(50_000_000), utxos[0].Amount)
	assert.Equal(t, TxId{1}.String(), utxos[0].TxHash)
}

func TestHttpRpc_SendAndLookup(t *testing.T) {
	f := newRpcFixture(t)

	to, err := NewEnterpriseAddress(NetworkPreProd, KeyHash{2}).Bech32String()
	require.NoError(t, err)

	sent, err := f.rpc.SendTx(&rpcclient.TransactionBuildIn{
		SigningKeyHex: hex.EncodeToString(f.seed),
		To:            to,
		Amount:        10_000_000,
		ValidFor:      600,
	})
	require.NoError(t, err)
	assert.Equal(t, SubmitAccepted, sent.Status)
	assert.NotZero(t, sent.Fee)

	tx, err := sent.Transaction()
	require.NoError(t, err)
	assert.Equal(t, uint64(5600), tx.Body.Ttl)
	assert.NoError(t, tx.VerifyWitnesses())

	record, err := f.rpc.GetSubmission(sent.Hash)
	require.NoError(t, err)
	assert.Equal(t, SubmitAccepted, record.Status)

	recent, err := f.rpc.GetRecentSubmissions(5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, sent.Hash, recent[0].TxId.String())
}

func TestHttpRpc_Errors(t *testing.T) {
	f := newRpcFixture(t)

	_, err := f.rpc.GetSubmission(strings.Repeat("00", 32))
	assert.True(t, errors.Is(err, ErrSubmissionNotFound), "got %v", err)

	to, err := NewEnterpriseAddress(NetworkPreProd, KeyHash{2}).Bech32String()
	require.NoError(t, err)

	_, err = f.rpc.BuildTx(&rpcclient.TransactionBuildIn{
		SigningKeyHex: hex.EncodeToString(f.seed),
		To:            to,
		Amount:        100_000_000,
	})
	assert.True(t, errors.Is(err, ErrInsufficientFunds), "got %v", err)

	_, err = f.rpc.BuildTx(&rpcclient.TransactionBuildIn{SigningKeyHex: "zz", To: to, Amount: 1})
	assert.True(t, errors.Is(err, ErrInvalidKey), "got %v", err)

	_, err = f.rpc.BroadcastTx(&rpcclient.BroadcastTxIn{TxHex: "00"})
	assert.True(t, errors.Is(err, ErrInvalidTransactionInput), "got %v", err)
}

func TestHttpRpc_PubkeyToAddress(t *testing.T) {
	f := newRpcFixture(t)

	key, err := NewSigningKey(f.seed)
	require.NoError(t, err)

	out, err := f.rpc.PublicKeyToAddress(&rpcclient.PublicKeyToAddressIn{
		PublicKeyHex: hex.EncodeToString(key.VerificationKey()),
	})
	require.NoError(t, err)

	expected, err := f.from.Bech32String()
	require.NoError(t, err)
	assert.Equal(t, expected, out.Address)
}
