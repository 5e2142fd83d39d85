package wallet

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/internal/utxo"
)

func TestCalculator_Balance(t *testing.T) {
	s := testStore(t)
	addOutput(t, s, addrA, 1, 100, utxo.StatusUnspent, 0)
	addOutput(t, s, addrA, 2, 20, utxo.StatusConsensusLocked, 0)
	addOutput(t, s, addrA, 3, 7, utxo.StatusTimeLocked, testNow+10)
	addOutput(t, s, addrA, 4, 3, utxo.StatusTimeLocked, testNow-10)
	addOutput(t, s, addrA, 5, 999, utxo.StatusSpent, 0)
	addOutput(t, s, addrB, 6, 50, utxo.StatusUnspent, 0)

	bal, err := NewCalculator(s).Balance(addrA)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Usable != 103 {
		t.Errorf("usable = %d, want 103", bal.Usable)
	}
	if bal.Locked != 27 {
		t.Errorf("locked = %d, want 27", bal.Locked)
	}
	if bal.Total != bal.Usable+bal.Locked || bal.Total != 130 {
		t.Errorf("total = %d, want 130", bal.Total)
	}
}

func TestCalculator_EmptyAddress(t *testing.T) {
	bal, err := NewCalculator(testStore(t)).Balance(addrC)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != (Balance{}) {
		t.Fatalf("balance = %+v, want zero", bal)
	}
}

func TestCalculator_StoreFailure(t *testing.T) {
	if _, err := NewCalculator(failingSource{}).Balance(addrA); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestCalculator_LockedOutputs(t *testing.T) {
	s := testStore(t)
	addOutput(t, s, addrA, 1, 100, utxo.StatusUnspent, 0)
	dep := addOutput(t, s, addrA, 2, 20, utxo.StatusConsensusLocked, 0)
	tl := addOutput(t, s, addrA, 3, 7, utxo.StatusTimeLocked, testNow+10)

	outs, err := NewCalculator(s).LockedOutputs(addrA)
	if err != nil {
		t.Fatalf("LockedOutputs: %v", err)
	}
	if len(outs) != 2 || outs[0].Outpoint != dep || outs[1].Outpoint != tl {
		t.Fatalf("locked outputs = %v", outs)
	}
}
