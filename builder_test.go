package cardano

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScriptHex = "4e4d01000033222220051200120011"

func testParams() *ProtocolParams {
	return &ProtocolParams{
		MinFeeA:             44,
		MinFeeB:             155381,
		MaxTxSize:           16384,
		CoinsPerUtxoByte:    4310,
		CollateralPercent:   150,
		MaxCollateralInputs: 3,
		PriceMem:            big.NewRat(577, 10000),
		PriceStep:           big.NewRat(721, 10000000),
		MaxTxExUnits:        ExUnits{Mem: 14_000_000, Steps: 10_000_000_000},
		CostModels:          map[Language][]int64{PlutusV2: make([]int64, 175)},
	}
}

func testKey(t *testing.T, b byte) *SigningKey {
	t.Helper()
	key, err := NewSigningKey(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return key
}

func keyAddress(key *SigningKey) Address {
	return NewEnterpriseAddress(NetworkPreProd, key.KeyHash())
}

func changeOutput(t *testing.T, tx *Transaction) TransactionOutput {
	t.Helper()
	require.NotEmpty(t, tx.Body.Outputs)
	return tx.Body.Outputs[len(tx.Body.Outputs)-1]
}

func TestBuildAndSign_SimplePayment(t *testing.T) {
	key := testKey(t, 1)
	from := keyAddress(key)
	to := testAddress(2)

	params := &ProtocolParams{MinFeeA: 0, MinFeeB: 170_000}
	builder := NewTxBuilder(params, NetworkPreProd)

	require.NoError(t, builder.AddInput(testUtxo(1, 0, from, NewValue(100_000_000))))
	out, err := NewOutput(to, NewValue(10_000_000))
	require.NoError(t, err)
	require.NoError(t, builder.AddOutput(out))

	tx, err := builder.BuildAndSign(context.Background(), []*SigningKey{key}, from)
	require.NoError(t, err)

	assert.EqualValues(t, 170_000, tx.Body.Fee)
	assert.Len(t, tx.Body.Inputs, 1)
	require.Len(t, tx.Body.Outputs, 2)
	assert.Equal(t, to, tx.Body.Outputs[0].Address)
	assert.Equal(t, from, tx.Body.Outputs[1].Address)
	assert.EqualValues(t, 89_830_000, tx.Body.Outputs[1].Amount.Coin)

	assert.NoError(t, tx.VerifyWitnesses())
	assert.True(t, tx.HasWitness(key.KeyHash()))
}

func TestBuildAndSign_FeeMatchesSize(t *testing.T) {
	key := testKey(t, 1)
	from := keyAddress(key)
	params := testParams()

	for _, n := range []int{1, 2, 7, 20, 50} {
		builder := NewTxBuilder(params, NetworkPreProd)
		for i := 0; i < n; i++ {
			require.NoError(t, builder.AddInput(testUtxo(byte(i), uint32(i), from, NewValue(30_000_000))))
			out, err := NewOutput(testAddress(byte(i+1)), NewValue(2_000_000+uint64(i)))
			require.NoError(t, err)
			require.NoError(t, builder.AddOutput(out))
		}

		tx, err := builder.BuildAndSign(context.Background(), []*SigningKey{key}, from)
		require.NoError(t, err, "%d inputs and outputs", n)

		encoded, err := tx.Bytes()
		require.NoError(t, err)
		assert.Equal(t, params.LinearFee(len(encoded)), tx.Body.Fee, "%d inputs and outputs", n)

		in := uint64(n) * 30_000_000
		out := sumOutputs(tx.Body.Outputs).Coin
		assert.Equal(t, in, out+tx.Body.Fee, "value is conserved")
	}
}

func TestBuildAndSign_FeeOnChangeWidthBoundary(t *testing.T) {
	key := testKey(t, 1)
	from := keyAddress(key)
	to := testAddress(2)
	params := testParams()
	const payment = 10_000_000

	build := func(inputCoin uint64) *Transaction {
		builder := NewTxBuilder(params, NetworkPreProd)
		require.NoError(t, builder.AddInput(testUtxo(1, 0, from, NewValue(inputCoin))))
		out, err := NewOutput(to, NewValue(payment))
		require.NoError(t, err)
		require.NoError(t, builder.AddOutput(out))
		tx, err := builder.BuildAndSign(context.Background(), []*SigningKey{key}, from)
		require.NoError(t, err)
		return tx
	}

	// a change coin of 2^32 or more takes 4 more bytes than one below it
	wide := build(payment + 1<<33)
	feeWide := wide.Body.Fee
	feeNarrow := feeWide - 4*params.MinFeeA

	// paying feeNarrow leaves change >= 2^32, paying feeWide leaves change
	// < 2^32, so no fee is exactly the fee of its own transaction
	tx := build(payment + 1<<32 + feeNarrow + 50)

	assert.Equal(t, feeWide, tx.Body.Fee)
	assert.Less(t, changeOutput(t, tx).Amount.Coin, uint64(1<<32))

	encoded, err := tx.Bytes()
	require.NoError(t, err)
	required := params.LinearFee(len(encoded))
	assert.GreaterOrEqual(t, tx.Body.Fee, required)
	assert.Equal(t, 4*params.MinFeeA, tx.Body.Fee-required)

	assert.EqualValues(t, payment+1<<32+feeNarrow+50, sumOutputs(tx.Body.Outputs).Coin+tx.Body.Fee)
}

func TestBuildAndSign_SelectsFromInputAddress(t *testing.T) {
	key := testKey(t, 1)
	from := keyAddress(key)
	params := testParams()

	chain := NewMemoryChain(params)
	chain.AddUtxo(
		testUtxo(1, 0, from, NewValue(3_000_000)),
		testUtxo(2, 0, from, NewValue(50_000_000)),
		testUtxo(3, 0, from, NewValue(8_000_000)),
	)

	builder := NewTxBuilder(nil, NetworkPreProd, WithChain(chain), WithSelectionPolicy(SelectSmallestFirst))
	require.NoError(t, builder.AddInputAddress(from))
	out, err := NewOutput(testAddress(2), NewValue(5_000_000))
	require.NoError(t, err)
	require.NoError(t, builder.AddOutput(out))

	tx, err := builder.BuildAndSign(context.Background(), []*SigningKey{key}, from)
	require.NoError(t, err)

	var first, third TxId
	first[0], third[0] = 1, 3
	assert.Equal(t, []TransactionInput{{TxId: first}, {TxId: third}}, tx.Body.Inputs)
	assert.EqualValues(t, 11_000_000-5_000_000-tx.Body.Fee, changeOutput(t, tx).Amount.Coin)
}

func TestBuildAndSign_InputAddressInsufficientFunds(t *testing.T) {
	key := testKey(t, 1)
	from := keyAddress(key)

	chain := NewMemoryChain(testParams())
	chain.AddUtxo(testUtxo(1, 0, from, NewValue(3_000_000)))

	builder := NewTxBuilder(nil, NetworkPreProd, WithChain(chain))
	require.NoError(t, builder.AddInputAddress(from))
	out, err := NewOutput(testAddress(2), NewValue(5_000_000))
	require.NoError(t, err)
	require.NoError(t, builder.AddOutput(out))

	_, err = builder.BuildAndSign(context.Background(), []*SigningKey{key}, from)
	assert.True(t, errors.Is(err, ErrInsufficientFunds), "got %v", err)
}

func TestBuildAndSign_Errors(t *testing.T) {
	key := testKey(t, 1)
	other := testKey(t, 2)
	from := keyAddress(key)
	ctx := context.Background()

	t.Run("no inputs", func(t *testing.T) {
		builder := NewTxBuilder(testParams(), NetworkPreProd)
		_, err := builder.BuildAndSign(ctx, []*SigningKey{key}, from)
		assert.True(t, errors.Is(err, ErrNoInputs))
	})

	t.Run("negative change", func(t *testing.T) {
		builder := NewTxBuilder(testParams(), NetworkPreProd)
		require.NoError(t, builder.AddInput(testUtxo(1, 0, from, NewValue(5_000_000))))
		out, err := NewOutput(testAddress(2), NewValue(10_000_000))
		require.NoError(t, err)
		require.NoError(t, builder.AddOutput(out))

		_, err = builder.BuildAndSign(ctx, []*SigningKey{key}, from)
		assert.True(t, errors.Is(err, ErrNegativeChange), "got %v", err)
	})

	t.Run("missing required signer", func(t *testing.T) {
		builder := NewTxBuilder(testParams(), NetworkPreProd)
		require.NoError(t, builder.AddInput(testUtxo(1, 0, from, NewValue(50_000_000))))
		builder.SetRequiredSigners(other.KeyHash())

		_, err := builder.BuildAndSign(ctx, []*SigningKey{key}, from)
		assert.True(t, errors.Is(err, ErrMissingRequiredSigner), "got %v", err)

		tx, err := builder.BuildAndSign(ctx, []*SigningKey{key, other}, from)
		require.NoError(t, err)
		assert.Equal(t, []KeyHash{other.KeyHash()}, tx.Body.RequiredSigners)
		assert.Len(t, tx.Witnesses.VKeyWitnesses, 2)
		assert.NoError(t, tx.VerifyWitnesses())
	})

	t.Run("network mismatch", func(t *testing.T) {
		builder := NewTxBuilder(testParams(), NetworkPreProd)
		mainnet := NewEnterpriseAddress(NetworkMainNet, key.KeyHash())

		err := builder.AddInput(testUtxo(1, 0, mainnet, NewValue(5_000_000)))
		assert.True(t, errors.Is(err, ErrNetworkMismatch))

		out, err := NewOutput(mainnet, NewValue(5_000_000))
		require.NoError(t, err)
		assert.True(t, errors.Is(builder.AddOutput(out), ErrNetworkMismatch))
	})

	t.Run("output below minimum", func(t *testing.T) {
		builder := NewTxBuilder(testParams(), NetworkPreProd)
		require.NoError(t, builder.AddInput(testUtxo(1, 0, from, NewValue(50_000_000))))
		out, err := NewOutput(testAddress(2), NewValue(1_000))
		require.NoError(t, err)
		require.NoError(t, builder.AddOutput(out))

		_, err = builder.BuildAndSign(ctx, []*SigningKey{key}, from)
		assert.True(t, errors.Is(err, ErrOutputBelowMinimum), "got %v", err)
	})

	t.Run("empty validity interval", func(t *testing.T) {
		builder := NewTxBuilder(testParams(), NetworkPreProd)
		assert.Error(t, builder.SetValidityInterval(100, 100))
		assert.NoError(t, builder.SetValidityInterval(100, 0))
	})
}

func TestBuildAndSign_ValidityAndRoundTrip(t *testing.T) {
	key := testKey(t, 1)
	from := keyAddress(key)

	chain := NewMemoryChain(testParams())
	chain.Slot = 1_000
	chain.AddUtxo(testUtxo(1, 0, from, NewValue(20_000_000)))

	builder := NewTxBuilder(nil, NetworkPreProd, WithChain(chain))
	require.NoError(t, builder.AddInputAddress(from))
	require.NoError(t, builder.SetValidityInterval(900, 0))
	require.NoError(t, builder.ValidFor(context.Background(), 3600))
	out, err := NewOutput(testAddress(2), NewValue(5_000_000))
	require.NoError(t, err)
	require.NoError(t, builder.AddOutput(out))

	tx, err := builder.BuildAndSign(context.Background(), []*SigningKey{key}, from)
	require.NoError(t, err)
	assert.EqualValues(t, 900, tx.Body.ValidityStart)
	assert.EqualValues(t, 4_600, tx.Body.Ttl)

	encoded, err := tx.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeTransaction(encoded)
	require.NoError(t, err)
	assert.Equal(t, tx.Body, decoded.Body)
	assert.Equal(t, tx.Witnesses, decoded.Witnesses)
	assert.True(t, decoded.Valid)

	id, err := tx.Id()
	require.NoError(t, err)
	decodedId, err := decoded.Id()
	require.NoError(t, err)
	assert.Equal(t, id, decodedId)
	assert.NoError(t, decoded.VerifyWitnesses())

	reencoded, err := decoded.Bytes()
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

type scriptFixture struct {
	key        *SigningKey
	from       Address
	script     PlutusScript
	datum      PlutusData
	locked     Utxo
	funding    Utxo
	collateral Utxo
	chain      *MemoryChain
}

func newScriptFixture(t *testing.T) *scriptFixture {
	f := &scriptFixture{key: testKey(t, 1)}
	f.from = keyAddress(f.key)

	var err error
	f.script, err = ParsePlutusScript(PlutusV2, testScriptHex)
	require.NoError(t, err)

	f.datum = NewConstr(0, NewBytes(f.key.KeyHash().Bytes()))
	lockedOut, err := NewScriptOutput(f.script.Address(NetworkPreProd), NewValue(50_000_000), f.datum)
	require.NoError(t, err)

	var lockTx TxId
	lockTx[0] = 7
	f.locked = Utxo{Input: TransactionInput{TxId: lockTx}, Output: lockedOut}
	f.funding = testUtxo(0, 0, f.from, NewValue(20_000_000))
	f.collateral = testUtxo(9, 0, f.from, NewValue(5_000_000))

	f.chain = NewMemoryChain(testParams())
	f.chain.AddUtxo(f.locked, f.funding, f.collateral)
	return f
}

func TestBuildAndSign_ScriptSpend(t *testing.T) {
	f := newScriptFixture(t)
	params := testParams()

	builder := NewTxBuilder(nil, NetworkPreProd, WithChain(f.chain))
	require.NoError(t, builder.AddInput(f.funding))
	require.NoError(t, builder.AddScriptInput(f.locked, f.script, f.datum, Redeemer{Data: Unit()}))
	builder.SetRequiredSigners(f.key.KeyHash())
	out, err := NewOutput(f.from, NewValue(25_000_000))
	require.NoError(t, err)
	require.NoError(t, builder.AddOutput(out))

	tx, err := builder.BuildAndSign(context.Background(), []*SigningKey{f.key}, f.from)
	require.NoError(t, err)

	assert.Equal(t, []TransactionInput{f.funding.Input, f.locked.Input}, tx.Body.Inputs)
	assert.Equal(t, []TransactionInput{f.collateral.Input}, tx.Body.Collateral)
	require.NotNil(t, tx.Body.ScriptDataHash)

	require.Len(t, tx.Witnesses.Redeemers, 1)
	redeemer := tx.Witnesses.Redeemers[0]
	assert.Equal(t, RedeemerSpend, redeemer.Tag)
	assert.EqualValues(t, 1, redeemer.Index, "index of the script input in sorted order")
	assert.Equal(t, params.MaxTxExUnits.Mem, redeemer.ExUnits.Mem)
	assert.Equal(t, params.MaxTxExUnits.Steps, redeemer.ExUnits.Steps)

	require.Len(t, tx.Witnesses.PlutusData, 1)
	assert.True(t, tx.Witnesses.PlutusData[0].Equal(f.datum))
	assert.Equal(t, [][]byte{f.script.Bytes}, tx.Witnesses.PlutusV2Scripts)

	encoded, err := tx.Bytes()
	require.NoError(t, err)
	assert.Equal(t, params.LinearFee(len(encoded))+params.ScriptFee(redeemer.ExUnits), tx.Body.Fee)
	assert.NoError(t, tx.VerifyWitnesses())
}

func TestBuildAndSign_ScriptSpendUsesEvaluator(t *testing.T) {
	f := newScriptFixture(t)
	budget := ExUnits{Mem: 12_345, Steps: 6_789_000}
	f.chain.Evaluator = func(tx []byte) ([]RedeemerBudget, error) {
		_, err := DecodeTransaction(tx)
		if err != nil {
			return nil, err
		}
		return []RedeemerBudget{{Tag: RedeemerSpend, Index: 1, ExUnits: budget}}, nil
	}

	builder := NewTxBuilder(nil, NetworkPreProd, WithChain(f.chain))
	require.NoError(t, builder.AddInput(f.funding))
	require.NoError(t, builder.AddScriptInput(f.locked, f.script, f.datum, Redeemer{Data: Unit()}))

	tx, err := builder.BuildAndSign(context.Background(), []*SigningKey{f.key}, f.from)
	require.NoError(t, err)
	require.Len(t, tx.Witnesses.Redeemers, 1)
	assert.Equal(t, budget.Mem, tx.Witnesses.Redeemers[0].ExUnits.Mem)
	assert.Equal(t, budget.Steps, tx.Witnesses.Redeemers[0].ExUnits.Steps)
}

func TestAddScriptInput_DatumMismatch(t *testing.T) {
	f := newScriptFixture(t)

	// no chain context: the check happens before anything is queried
	builder := NewTxBuilder(testParams(), NetworkPreProd)
	err := builder.AddScriptInput(f.locked, f.script, NewConstr(0, NewBytes([]byte("someone else"))), Redeemer{Data: Unit()})
	assert.True(t, errors.Is(err, ErrDatumMismatch), "got %v", err)

	err = builder.AddScriptInput(f.funding, f.script, f.datum, Redeemer{Data: Unit()})
	assert.True(t, errors.Is(err, ErrDatumMismatch), "utxo without datum hash")

	other, err := ParsePlutusScript(PlutusV1, testScriptHex)
	require.NoError(t, err)
	err = builder.AddScriptInput(f.locked, other, f.datum, Redeemer{Data: Unit()})
	assert.True(t, errors.Is(err, ErrScriptMismatch), "got %v", err)

	_, err = builder.BuildAndSign(context.Background(), []*SigningKey{f.key}, f.from)
	assert.True(t, errors.Is(err, ErrNoInputs), "rejected inputs are not added")
}

func TestBuildAndSign_NoCollateralAvailable(t *testing.T) {
	f := newScriptFixture(t)

	chain := NewMemoryChain(testParams())
	tokens := testUtxo(9, 0, f.from, NewValue(5_000_000).WithAsset(testPolicy, "tok", 1))
	chain.AddUtxo(f.locked, f.funding, tokens)

	builder := NewTxBuilder(nil, NetworkPreProd, WithChain(chain))
	require.NoError(t, builder.AddInput(f.funding))
	require.NoError(t, builder.AddScriptInput(f.locked, f.script, f.datum, Redeemer{Data: Unit()}))

	_, err := builder.BuildAndSign(context.Background(), []*SigningKey{f.key}, f.from)
	assert.True(t, errors.Is(err, ErrNoCollateralAvailable), "got %v", err)

	assert.True(t, errors.Is(builder.SetCollateral(tokens), ErrInvalidCollateral))
}

func TestBuildAndSign_CollateralAlsoSpent(t *testing.T) {
	f := newScriptFixture(t)

	builder := NewTxBuilder(nil, NetworkPreProd, WithChain(f.chain))
	require.NoError(t, builder.AddInput(f.funding))
	require.NoError(t, builder.AddScriptInput(f.locked, f.script, f.datum, Redeemer{Data: Unit()}))
	require.NoError(t, builder.SetCollateral(f.funding))

	_, err := builder.BuildAndSign(context.Background(), []*SigningKey{f.key}, f.from)
	assert.True(t, errors.Is(err, ErrInvalidCollateral), "got %v", err)
}

func TestBuildAndSign_CollateralAlsoSpentWithoutScripts(t *testing.T) {
	key := testKey(t, 1)
	from := keyAddress(key)
	utxo := testUtxo(1, 0, from, NewValue(20_000_000))

	builder := NewTxBuilder(testParams(), NetworkPreProd)
	require.NoError(t, builder.AddInput(utxo))
	require.NoError(t, builder.SetCollateral(utxo))
	out, err := NewOutput(testAddress(2), NewValue(5_000_000))
	require.NoError(t, err)
	require.NoError(t, builder.AddOutput(out))

	_, err = builder.BuildAndSign(context.Background(), []*SigningKey{key}, from)
	assert.True(t, errors.Is(err, ErrInvalidCollateral), "got %v", err)
}

func TestBuildAndSign_SelectionSkipsCollateral(t *testing.T) {
	f := newScriptFixture(t)

	builder := NewTxBuilder(nil, NetworkPreProd, WithChain(f.chain), WithSelectionPolicy(SelectSmallestFirst))
	require.NoError(t, builder.AddInputAddress(f.from))
	require.NoError(t, builder.AddScriptInput(f.locked, f.script, f.datum, Redeemer{Data: Unit()}))
	require.NoError(t, builder.SetCollateral(f.collateral))
	builder.SetRequiredSigners(f.key.KeyHash())
	out, err := NewOutput(f.from, NewValue(53_000_000))
	require.NoError(t, err)
	require.NoError(t, builder.AddOutput(out))

	tx, err := builder.BuildAndSign(context.Background(), []*SigningKey{f.key}, f.from)
	require.NoError(t, err)

	assert.Equal(t, []TransactionInput{f.funding.Input, f.locked.Input}, tx.Body.Inputs,
		"the smaller collateral utxo is left out of selection")
	assert.Equal(t, []TransactionInput{f.collateral.Input}, tx.Body.Collateral)
}

func TestBuildAndSign_InsufficientCollateral(t *testing.T) {
	f := newScriptFixture(t)

	small := testUtxo(9, 1, f.from, NewValue(1_000_000))

	builder := NewTxBuilder(nil, NetworkPreProd, WithChain(f.chain))
	require.NoError(t, builder.AddInput(f.funding))
	require.NoError(t, builder.AddScriptInput(f.locked, f.script, f.datum, Redeemer{Data: Unit()}))
	require.NoError(t, builder.SetCollateral(small))

	_, err := builder.BuildAndSign(context.Background(), []*SigningKey{f.key}, f.from)
	assert.True(t, errors.Is(err, ErrInsufficientCollateral), "got %v", err)
}
