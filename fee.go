package cardano

import (
	"sort"

	"github.com/pkg/errors"
)

// MaxFeeIterations bounds the fee/change fixed point loop.
const MaxFeeIterations = 10

// dummyWitnesses stand in for the real signatures while sizing the
// transaction. A vkey witness always encodes to the same length, so the
// estimate is exact.
func dummyWitnesses(n int) []VKeyWitness {
	out := make([]VKeyWitness, n)
	for i := range out {
		out[i] = VKeyWitness{VKey: make([]byte, 32), Signature: make([]byte, 64)}
	}
	return out
}

func scriptFee(tx *Transaction, params *ProtocolParams) (fee uint64) {
	var total ExUnits
	for _, r := range tx.Witnesses.Redeemers {
		total.Mem += r.ExUnits.Mem
		total.Steps += r.ExUnits.Steps
	}
	if total.IsZero() {
		return 0
	}
	return params.ScriptFee(total)
}

// RequiredFee is the fee the transaction needs once signed by the given
// number of keys: minFeeA * size + minFeeB, plus the price of the redeemer
// budgets when scripts run.
func RequiredFee(tx *Transaction, params *ProtocolParams, signers int) (fee uint64, size int, err error) {
	trial := *tx
	trial.bodyRaw = nil
	trial.Witnesses.VKeyWitnesses = dummyWitnesses(signers)

	b, err := trial.Bytes()
	if err != nil {
		err = errors.Wrap(err, "failed to serialise draft")
		return
	}
	size = len(b)
	fee = params.LinearFee(size) + scriptFee(tx, params)
	return
}

type feeState struct {
	base          []TransactionOutput
	totalIn       Value
	totalOut      Value
	changeAddress Address
}

// apply sets fee on tx and rebuilds the change output from what is left.
func (s *feeState) apply(tx *Transaction, fee uint64) (change Value, err error) {
	change, ok := s.totalIn.Sub(s.totalOut.Add(NewValue(fee)))
	if !ok {
		err = errors.Wrapf(
			ErrInsufficientFunds,
			"inputs %s cannot pay outputs %s and fee %d",
			s.totalIn,
			s.totalOut,
			fee)
		return
	}

	tx.Body.Fee = fee
	tx.Body.Outputs = append([]TransactionOutput{}, s.base...)
	if !change.IsZero() {
		tx.Body.Outputs = append(tx.Body.Outputs, TransactionOutput{
			Address: s.changeAddress,
			Amount:  change,
		})
	}
	return
}

// balance finds the fee at which fee == RequiredFee(tx) with the change
// output in place. Fee and change depend on each other through the size of
// the change coin, so this iterates. When the change sits on a CBOR integer
// width boundary the sequence can cycle between two fees; the larger one is
// then accepted if it still covers the transaction it produces. In that case
// the fee exceeds minFeeA*size+minFeeB by the few bytes the change coin
// shrank, at most 4*minFeeA lovelace.
func (b *TxBuilder) balance(tx *Transaction, params *ProtocolParams, signers int, totalIn Value, changeAddress Address) (err error) {
	state := &feeState{
		base:          append([]TransactionOutput{}, tx.Body.Outputs...),
		totalIn:       totalIn,
		totalOut:      sumOutputs(tx.Body.Outputs),
		changeAddress: changeAddress,
	}

	if !totalIn.GreaterOrEqual(state.totalOut) {
		return errors.Wrapf(ErrNegativeChange, "inputs %s, outputs %s", totalIn, state.totalOut)
	}

	var (
		fee   uint64
		tried []uint64
	)
	for i := 0; i < MaxFeeIterations; i++ {
		if _, err = state.apply(tx, fee); err != nil {
			return
		}

		next, size, err2 := RequiredFee(tx, params, signers)
		if err2 != nil {
			return err2
		}
		b.log.Debug().Msgf("fee pass %d: fee %d, size %d, required %d", i+1, fee, size, next)

		if next == fee {
			return b.checkChange(tx, state, params)
		}

		tried = append(tried, fee)
		if cycle := cycleFrom(tried, next); cycle != nil {
			return b.settleCycle(tx, state, params, signers, cycle)
		}
		fee = next
	}

	return errors.Wrapf(ErrFeeComputationFailed, "fee did not settle after %d passes", MaxFeeIterations)
}

// cycleFrom returns the fees tried since next was last tried, or nil when
// next is new.
func cycleFrom(tried []uint64, next uint64) []uint64 {
	for i, f := range tried {
		if f == next {
			return append([]uint64{}, tried[i:]...)
		}
	}
	return nil
}

func (b *TxBuilder) settleCycle(tx *Transaction, state *feeState, params *ProtocolParams, signers int, cycle []uint64) (err error) {
	sort.Slice(cycle, func(i, j int) bool { return cycle[i] > cycle[j] })
	fee := cycle[0]

	if _, err = state.apply(tx, fee); err != nil {
		return
	}
	required, _, err := RequiredFee(tx, params, signers)
	if err != nil {
		return
	}
	if fee < required {
		return errors.Wrapf(ErrFeeComputationFailed, "fees %v cycle and %d does not cover %d", cycle, fee, required)
	}

	b.log.Debug().Msgf("fee cycles between %v, settled on %d (required %d)", cycle, fee, required)
	return b.checkChange(tx, state, params)
}

func (b *TxBuilder) checkChange(tx *Transaction, state *feeState, params *ProtocolParams) error {
	if len(tx.Body.Outputs) == len(state.base) {
		return nil
	}
	change := tx.Body.Outputs[len(tx.Body.Outputs)-1]
	min, err := MinLovelace(change, params.CoinsPerUtxoByte)
	if err != nil {
		return err
	}
	if change.Amount.Coin < min {
		return errors.Wrapf(
			ErrInsufficientFunds,
			"change of %s is below the %d lovelace minimum",
			change.Amount,
			min)
	}
	return nil
}
