package cardano

import (
	"fmt"
	"sort"
)

// TransactionInput references an output of an earlier transaction.
type TransactionInput struct {
	_     struct{} `cbor:",toarray"`
	TxId  TxId     `json:"txId"`
	Index uint32   `json:"index"`
}

func (i TransactionInput) String() string {
	return fmt.Sprintf("%s#%d", i.TxId, i.Index)
}

// Compare orders references by transaction id bytes, then index. This is the
// order the ledger uses for input sets and therefore for redeemer indexes.
func (i TransactionInput) Compare(o TransactionInput) int {
	if c := i.TxId.Compare(o.TxId); c != 0 {
		return c
	}
	switch {
	case i.Index < o.Index:
		return -1
	case i.Index > o.Index:
		return 1
	}
	return 0
}

func sortInputs(inputs []TransactionInput) {
	sort.Slice(inputs, func(a, b int) bool {
		return inputs[a].Compare(inputs[b]) < 0
	})
}

// Utxo is an unspent output together with its reference. Never mutated.
type Utxo struct {
	Input  TransactionInput  `json:"input"`
	Output TransactionOutput `json:"output"`
}

func (u Utxo) String() string {
	return fmt.Sprintf("%s %s", u.Input, u.Output.Amount)
}

// sortUtxos puts a listing into canonical reference order.
func sortUtxos(utxos []Utxo) []Utxo {
	out := append([]Utxo{}, utxos...)
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Input.Compare(out[b].Input) < 0
	})
	return out
}

func sumUtxos(utxos []Utxo) (total Value) {
	for _, u := range utxos {
		total = total.Add(u.Output.Amount)
	}
	return
}
