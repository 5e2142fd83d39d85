package wallet

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/utxo"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Balance is the derived value held by an address.
// Usable + Locked == Total. Spent outputs are not counted.
type Balance struct {
	Usable uint64 `json:"usable"`
	Locked uint64 `json:"locked"`
	Total  uint64 `json:"total"`
}

// Calculator aggregates balances from the output store. Every call reads
// the current store state; nothing is cached.
type Calculator struct {
	src OutputSource
}

// NewCalculator creates a balance calculator over src.
func NewCalculator(src OutputSource) *Calculator {
	return &Calculator{src: src}
}

// Balance returns the usable and locked value owned by addr. Time-locked
// outputs whose unlock time has passed count as usable.
func (c *Calculator) Balance(addr types.Address) (Balance, error) {
	outs, err := c.src.Find(addr)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: find %s: %w", ErrStoreUnavailable, addr, err)
	}
	now := c.src.Now()
	var b Balance
	for _, o := range outs {
		switch {
		case o.Spendable(now):
			b.Usable += o.Value
		case o.Locked(now):
			b.Locked += o.Value
		}
	}
	b.Total = b.Usable + b.Locked
	return b, nil
}

// LockedOutputs returns the outputs of addr that are consensus-locked or
// still time-locked.
func (c *Calculator) LockedOutputs(addr types.Address) ([]*utxo.Output, error) {
	outs, err := c.src.Find(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: find %s: %w", ErrStoreUnavailable, addr, err)
	}
	now := c.src.Now()
	var locked []*utxo.Output
	for _, o := range outs {
		if o.Locked(now) {
			locked = append(locked, o)
		}
	}
	return locked, nil
}
