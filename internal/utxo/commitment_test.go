package utxo

import (
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

func TestCommitment_Empty(t *testing.T) {
	root, err := Commitment(testStore(t))
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	if !root.IsZero() {
		t.Error("empty store commitment should be zero hash")
	}
}

func TestCommitment_OrderIndependent(t *testing.T) {
	a := makeOutput("tx1", 0, addrA, 1000)
	b := makeOutput("tx2", 1, addrB, 2000)

	s1 := testStore(t)
	mustPut(t, s1, a)
	mustPut(t, s1, b)
	s2 := testStore(t)
	mustPut(t, s2, b)
	mustPut(t, s2, a)

	r1, _ := Commitment(s1)
	r2, _ := Commitment(s2)
	if r1 != r2 {
		t.Fatal("commitment depends on insertion order")
	}
}

func TestCommitment_CoversStatus(t *testing.T) {
	s := testStore(t)
	o := makeOutput("tx1", 0, addrA, 1000)
	mustPut(t, s, o)
	before, _ := Commitment(s)

	if err := s.MarkSpent(o.Outpoint, types.Hash{1}); err != nil {
		t.Fatalf("MarkSpent: %v", err)
	}
	after, _ := Commitment(s)
	if before == after {
		t.Fatal("status change did not change commitment")
	}
}

func TestHashOutput_DifferentValues(t *testing.T) {
	a := makeOutput("tx1", 0, addrA, 1)
	b := makeOutput("tx1", 0, addrA, 2)
	if hashOutput(a) == hashOutput(b) {
		t.Fatal("different values hash the same")
	}
}
