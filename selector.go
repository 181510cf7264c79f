package cardano

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// SelectionPolicy decides the order in which an address's UTXOs are
// considered. Both policies are deterministic for a given listing, whatever
// order the chain query returned it in.
type SelectionPolicy int

const (
	// SelectFirstFit walks UTXOs in reference order (tx id bytes, then
	// output index).
	SelectFirstFit SelectionPolicy = iota
	// SelectSmallestFirst walks UTXOs by ascending lovelace, ties broken by
	// reference order.
	SelectSmallestFirst
)

func (p SelectionPolicy) String() string {
	if p == SelectSmallestFirst {
		return "smallest-first"
	}
	return "first-fit"
}

func (p SelectionPolicy) order(utxos []Utxo) []Utxo {
	out := sortUtxos(utxos)
	if p == SelectSmallestFirst {
		sort.SliceStable(out, func(a, b int) bool {
			return out[a].Output.Amount.Coin < out[b].Output.Amount.Coin
		})
	}
	return out
}

// SelectUtxos returns an ordered subset of utxos covering target. A UTXO is
// taken only if it supplies some component of the target that is still
// missing.
func SelectUtxos(utxos []Utxo, target Value, policy SelectionPolicy) (selected []Utxo, err error) {
	total := sumUtxos(utxos)
	if !total.GreaterOrEqual(target) {
		err = errors.Wrapf(
			ErrInsufficientFunds,
			"holdings %s do not cover %s",
			total,
			target)
		return
	}

	var acc Value
	for _, u := range policy.order(utxos) {
		missing := acc.shortfall(target)
		if missing.IsZero() {
			break
		}
		if !u.Output.Amount.contributes(missing) {
			continue
		}
		selected = append(selected, u)
		acc = acc.Add(u.Output.Amount)
	}

	return
}

// SelectCollateral returns the first UTXO, in reference order, that holds
// only lovelace, sits at a key address, carries no datum and is not listed in
// exclude.
func SelectCollateral(utxos []Utxo, exclude ...TransactionInput) (collateral Utxo, err error) {
	for _, u := range sortUtxos(utxos) {
		if isExcluded(u.Input, exclude) {
			continue
		}
		if err2 := collateralEligible(u); err2 != nil {
			continue
		}
		return u, nil
	}

	err = errors.Wrapf(ErrNoCollateralAvailable, "none of %d utxos holds only lovelace", len(utxos))
	return
}

func collateralEligible(u Utxo) error {
	if !u.Output.Amount.IsAdaOnly() {
		return errors.Wrapf(ErrInvalidCollateral, "%s holds native assets", u.Input)
	}
	if u.Output.DatumHash != nil {
		return errors.Wrapf(ErrInvalidCollateral, "%s is locked by a datum", u.Input)
	}
	if u.Output.Address.IsScript() {
		return errors.Wrapf(ErrInvalidCollateral, "%s sits at a script address", u.Input)
	}
	return nil
}

func isExcluded(in TransactionInput, exclude []TransactionInput) bool {
	for _, e := range exclude {
		if e.Compare(in) == 0 {
			return true
		}
	}
	return false
}

// Selector applies the selection functions to listings fetched from a chain
// query collaborator.
type Selector struct {
	Chain  ChainContext
	Policy SelectionPolicy
}

func (s *Selector) Select(ctx context.Context, addr Address, target Value) (selected []Utxo, err error) {
	utxos, err := s.Chain.UtxosAt(ctx, addr)
	if err != nil {
		return
	}
	return SelectUtxos(utxos, target, s.Policy)
}

func (s *Selector) Collateral(ctx context.Context, addr Address, exclude ...TransactionInput) (collateral Utxo, err error) {
	utxos, err := s.Chain.UtxosAt(ctx, addr)
	if err != nil {
		return
	}
	return SelectCollateral(utxos, exclude...)
}

// FetchUtxos queries independent addresses concurrently. The result is keyed
// by the address's string form.
func FetchUtxos(ctx context.Context, chain ChainContext, addrs ...Address) (listings map[string][]Utxo, err error) {
	listings = make(map[string][]Utxo, len(addrs))
	mu := &sync.Mutex{}

	group, ctx := errgroup.WithContext(ctx)
	for _, addr := range addrs {
		addr := addr
		group.Go(func() error {
			utxos, err := chain.UtxosAt(ctx, addr)
			if err != nil {
				return errors.Wrapf(err, "utxos at %s", addr)
			}
			mu.Lock()
			listings[addr.String()] = utxos
			mu.Unlock()
			return nil
		})
	}

	if err = group.Wait(); err != nil {
		listings = nil
	}
	return
}
