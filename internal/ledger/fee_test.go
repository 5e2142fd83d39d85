package ledger

import (
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

func TestFeePolicy_Decay(t *testing.T) {
	p := DefaultFeePolicy()

	if got := p.RequiredFee(tx.TypeTransfer, 0, true); got != DefaultBaseFee {
		t.Fatalf("fee at height 0 = %d, want %d", got, DefaultBaseFee)
	}
	if got := p.RequiredFee(tx.TypeTransfer, DefaultHeightPerPeriod-1, true); got != DefaultBaseFee {
		t.Fatalf("fee at end of first period = %d, want %d", got, DefaultBaseFee)
	}
	if got := p.RequiredFee(tx.TypeTransfer, DefaultHeightPerPeriod, true); got != DefaultBaseFee/2 {
		t.Fatalf("fee at second period = %d, want %d", got, DefaultBaseFee/2)
	}
	if got := p.RequiredFee(tx.TypeLock, 3*DefaultHeightPerPeriod, true); got != DefaultBaseFee/4 {
		t.Fatalf("fee at fourth period = %d, want %d", got, DefaultBaseFee/4)
	}
}

func TestFeePolicy_UnknownHeight(t *testing.T) {
	p := NewFeePolicy(1000, 10)
	if got := p.RequiredFee(tx.TypeTransfer, 500, false); got != 1000 {
		t.Fatalf("fee without best height = %d, want 1000", got)
	}
}

func TestFeePolicy_Exempt(t *testing.T) {
	p := DefaultFeePolicy()
	for _, typ := range []tx.Type{tx.TypeCoinBase, tx.TypeSmallChange, tx.TypeCancelDeposit} {
		if !p.IsExempt(typ) {
			t.Errorf("%s should be exempt", typ)
		}
		if got := p.RequiredFee(typ, 0, true); got != 0 {
			t.Errorf("RequiredFee(%s) = %d, want 0", typ, got)
		}
		if got := p.RequiredFee(typ, 0, false); got != 0 {
			t.Errorf("RequiredFee(%s, unknown height) = %d, want 0", typ, got)
		}
	}
	if p.IsExempt(tx.TypeRegisterAgent) {
		t.Error("register agent should pay a fee")
	}
}

func TestNewFeePolicy_ZeroPeriod(t *testing.T) {
	p := NewFeePolicy(10, 0)
	if p.HeightPerPeriod != DefaultHeightPerPeriod {
		t.Fatalf("HeightPerPeriod = %d, want default", p.HeightPerPeriod)
	}
}
