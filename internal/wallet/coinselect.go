// Package wallet selects outputs for new spends, aggregates balances and
// holds the node's signing keys.
package wallet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-ledger/internal/utxo"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Coin selection errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStoreUnavailable  = errors.New("output store unavailable")
	ErrZeroTarget        = errors.New("target must be positive")
)

// OutputSource is the read side of the output store.
type OutputSource interface {
	// Find returns the outputs owned by addr in a stable order.
	Find(addr types.Address) ([]*utxo.Output, error)
	// Now returns the clock used for time locks, in unix ms.
	Now() uint64
}

// CoinSelection holds the result of coin selection.
type CoinSelection struct {
	Inputs []*utxo.Output // Selected outputs to spend.
	Total  uint64         // Sum of selected input values.
	Change uint64         // Change = Total - target.
}

// Outpoints returns the outpoints of the selected outputs.
func (cs *CoinSelection) Outpoints() []types.Outpoint {
	ops := make([]types.Outpoint, len(cs.Inputs))
	for i, o := range cs.Inputs {
		ops[i] = o.Outpoint
	}
	return ops
}

// SelectCoins picks outputs first-fit: addresses in the given order, each
// address's spendable outputs in store order, stopping as soon as the
// accumulated value reaches target.
//
// Selection fails closed. When the addresses cannot cover target the
// result is nil with ErrInsufficientFunds, never a partial selection. A
// lookup failure also yields nil, reported as ErrStoreUnavailable.
func SelectCoins(src OutputSource, addrs []types.Address, target uint64) (*CoinSelection, error) {
	if target == 0 {
		return nil, ErrZeroTarget
	}

	now := src.Now()
	sel := &CoinSelection{}
	seen := make(map[types.Address]bool, len(addrs))
	for _, addr := range addrs {
		if seen[addr] {
			continue
		}
		seen[addr] = true

		outs, err := src.Find(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: find %s: %w", ErrStoreUnavailable, addr, err)
		}
		for _, o := range outs {
			if !o.Spendable(now) || o.Value == 0 {
				continue
			}
			sel.Inputs = append(sel.Inputs, o)
			sel.Total += o.Value
			if sel.Total >= target {
				sel.Change = sel.Total - target
				return sel, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, sel.Total, target)
}

// SelectLeastChange gathers every spendable output of addrs and picks the
// candidate set with the least change. It tries two strategies:
//  1. Single output: the smallest single output that covers the target.
//  2. Largest-first accumulation: adds the largest outputs until the target is met.
//
// Like SelectCoins it fails closed.
func SelectLeastChange(src OutputSource, addrs []types.Address, target uint64) (*CoinSelection, error) {
	if target == 0 {
		return nil, ErrZeroTarget
	}

	now := src.Now()
	var candidates []*utxo.Output
	seen := make(map[types.Address]bool, len(addrs))
	for _, addr := range addrs {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		outs, err := src.Find(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: find %s: %w", ErrStoreUnavailable, addr, err)
		}
		for _, o := range outs {
			if o.Spendable(now) && o.Value > 0 {
				candidates = append(candidates, o)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Value < candidates[j].Value
	})

	var single *CoinSelection
	for _, o := range candidates {
		if o.Value >= target {
			single = &CoinSelection{Inputs: []*utxo.Output{o}, Total: o.Value, Change: o.Value - target}
			break // Sorted ascending, first match is smallest.
		}
	}

	var accum *CoinSelection
	var selected []*utxo.Output
	var total uint64
	for i := len(candidates) - 1; i >= 0; i-- {
		selected = append(selected, candidates[i])
		total += candidates[i].Value
		if total >= target {
			accum = &CoinSelection{Inputs: selected, Total: total, Change: total - target}
			break
		}
	}

	switch {
	case single != nil && accum != nil:
		if single.Change <= accum.Change {
			return single, nil
		}
		return accum, nil
	case single != nil:
		return single, nil
	case accum != nil:
		return accum, nil
	default:
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, total, target)
	}
}
