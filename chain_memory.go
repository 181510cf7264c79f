package cardano

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryChain is an offline chain context holding a fixed utxo set, used by
// tests and dry runs.
type MemoryChain struct {
	Params *ProtocolParams
	Slot   uint64
	// Evaluator, when set, answers EvaluateTx.
	Evaluator func(tx []byte) ([]RedeemerBudget, error)

	utxos map[string][]Utxo
	mu    sync.RWMutex
}

var _ ChainContext = &MemoryChain{}
var _ TxEvaluator = &MemoryChain{}

func NewMemoryChain(params *ProtocolParams) *MemoryChain {
	return &MemoryChain{
		Params: params,
		utxos:  map[string][]Utxo{},
	}
}

// AddUtxo places a utxo at its output's address.
func (m *MemoryChain) AddUtxo(utxos ...Utxo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range utxos {
		key := u.Output.Address.String()
		m.utxos[key] = append(m.utxos[key], u)
	}
}

// Spend removes the given references, as applying a transaction would.
func (m *MemoryChain) Spend(inputs ...TransactionInput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, list := range m.utxos {
		kept := list[:0]
		for _, u := range list {
			if !isExcluded(u.Input, inputs) {
				kept = append(kept, u)
			}
		}
		m.utxos[addr] = kept
	}
}

func (m *MemoryChain) UtxosAt(ctx context.Context, addr Address) ([]Utxo, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Utxo{}, m.utxos[addr.String()]...), nil
}

func (m *MemoryChain) CurrentSlot(context.Context) (uint64, error) {
	return m.Slot, nil
}

func (m *MemoryChain) ProtocolParameters(context.Context) (*ProtocolParams, error) {
	if m.Params == nil {
		return nil, errors.Wrap(ErrChainQuery, "no protocol parameters loaded")
	}
	return m.Params, nil
}

func (m *MemoryChain) EvaluateTx(_ context.Context, tx []byte) ([]RedeemerBudget, error) {
	if m.Evaluator == nil {
		return nil, errors.Wrap(ErrUnsupported, "no evaluator configured")
	}
	return m.Evaluator(tx)
}
