package ledger

import "github.com/Klingon-tech/klingnet-ledger/pkg/tx"

// Fee defaults.
const (
	DefaultBaseFee = 100000
	// DefaultHeightPerPeriod is one year of blocks at a 10 second target.
	DefaultHeightPerPeriod = 3153600
)

// FeePolicy computes the fee a new transaction must pay. The fee decays
// with chain age: BaseFee / (height/HeightPerPeriod + 1).
type FeePolicy struct {
	BaseFee         uint64
	HeightPerPeriod uint64
	exempt          map[tx.Type]bool
}

// NewFeePolicy creates a fee policy. Coinbase, small-change and
// cancel-deposit transactions are exempt.
func NewFeePolicy(baseFee, heightPerPeriod uint64) *FeePolicy {
	if heightPerPeriod == 0 {
		heightPerPeriod = DefaultHeightPerPeriod
	}
	return &FeePolicy{
		BaseFee:         baseFee,
		HeightPerPeriod: heightPerPeriod,
		exempt: map[tx.Type]bool{
			tx.TypeCoinBase:      true,
			tx.TypeSmallChange:   true,
			tx.TypeCancelDeposit: true,
		},
	}
}

// DefaultFeePolicy returns the policy with the default constants.
func DefaultFeePolicy() *FeePolicy {
	return NewFeePolicy(DefaultBaseFee, DefaultHeightPerPeriod)
}

// IsExempt reports whether t never pays a fee.
func (p *FeePolicy) IsExempt(t tx.Type) bool {
	return p.exempt[t]
}

// RequiredFee returns the fee for a transaction of type t at height. When
// no best height is known yet the base fee applies.
func (p *FeePolicy) RequiredFee(t tx.Type, height uint64, known bool) uint64 {
	if p.exempt[t] {
		return 0
	}
	if !known {
		return p.BaseFee
	}
	return p.BaseFee / (height/p.HeightPerPeriod + 1)
}
