package cardano

import (
	"context"
	"math/big"
)

// ChainContext is the read-only chain query collaborator. Implementations
// return a trusted snapshot; callers do not get retries on their behalf.
type ChainContext interface {
	UtxosAt(ctx context.Context, addr Address) ([]Utxo, error)
	CurrentSlot(ctx context.Context) (uint64, error)
	ProtocolParameters(ctx context.Context) (*ProtocolParams, error)
}

// TxEvaluator is implemented by chain contexts able to run a transaction's
// scripts and report their execution budgets.
type TxEvaluator interface {
	EvaluateTx(ctx context.Context, tx []byte) ([]RedeemerBudget, error)
}

type RedeemerBudget struct {
	Tag     RedeemerTag `json:"tag"`
	Index   uint32      `json:"index"`
	ExUnits ExUnits     `json:"budget"`
}

// ProtocolParams are the network parameters the builder needs.
type ProtocolParams struct {
	MinFeeA             uint64               `json:"minFeeA"`
	MinFeeB             uint64               `json:"minFeeB"`
	MaxTxSize           uint64               `json:"maxTxSize"`
	CoinsPerUtxoByte    uint64               `json:"coinsPerUtxoByte"`
	CollateralPercent   uint64               `json:"collateralPercent"`
	MaxCollateralInputs uint64               `json:"maxCollateralInputs"`
	PriceMem            *big.Rat             `json:"priceMem,omitempty"`
	PriceStep           *big.Rat             `json:"priceStep,omitempty"`
	MaxTxExUnits        ExUnits              `json:"maxTxExUnits"`
	CostModels          map[Language][]int64 `json:"costModels,omitempty"`
}

// LinearFee is minFeeA * size + minFeeB.
func (p *ProtocolParams) LinearFee(size int) uint64 {
	return p.MinFeeA*uint64(size) + p.MinFeeB
}

// ScriptFee is the rounded up cost of the given execution units.
func (p *ProtocolParams) ScriptFee(units ExUnits) uint64 {
	cost := new(big.Rat)
	if p.PriceMem != nil {
		cost.Add(cost, new(big.Rat).Mul(p.PriceMem, new(big.Rat).SetUint64(units.Mem)))
	}
	if p.PriceStep != nil {
		cost.Add(cost, new(big.Rat).Mul(p.PriceStep, new(big.Rat).SetUint64(units.Steps)))
	}
	q, r := new(big.Int).QuoRem(cost.Num(), cost.Denom(), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Uint64()
}

// MaxFee is the fee of a transaction of maximum size, used as selection
// headroom.
func (p *ProtocolParams) MaxFee() uint64 {
	size := p.MaxTxSize
	if size == 0 {
		size = 16384
	}
	return p.LinearFee(int(size))
}
