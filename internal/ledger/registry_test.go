package ledger

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

// namedHandler is a no-op handler identified by name.
type namedHandler struct{ name string }

func (namedHandler) OnApproval(*tx.Transaction, []*tx.Transaction, *block.Block) error { return nil }
func (namedHandler) OnCommit(*tx.Transaction, *block.Block, *Notices) error            { return nil }
func (namedHandler) OnRollback(*tx.Transaction, *block.Block) error                    { return nil }

func chainNames(t *testing.T, r *Registry, typ tx.Type) []string {
	t.Helper()
	chain, err := r.Chain(typ)
	if err != nil {
		t.Fatalf("Chain(%s) error: %v", typ, err)
	}
	names := make([]string, len(chain))
	for i, h := range chain {
		names[i] = h.(namedHandler).name
	}
	return names
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRegistry_Lineage(t *testing.T) {
	r := NewRegistry()
	lin, err := r.Lineage(tx.TypeCancelDeposit)
	if err != nil {
		t.Fatalf("Lineage() error: %v", err)
	}
	want := []tx.Type{tx.TypeCoin, tx.TypeUnlock, tx.TypeCancelDeposit}
	if len(lin) != len(want) {
		t.Fatalf("Lineage() = %v, want %v", lin, want)
	}
	for i := range want {
		if lin[i] != want[i] {
			t.Fatalf("Lineage() = %v, want %v", lin, want)
		}
	}

	if !r.IsA(tx.TypeSmallChange, tx.TypeTransfer) {
		t.Error("small change should be a transfer")
	}
	if r.IsA(tx.TypeRegisterAgent, tx.TypeUnlock) {
		t.Error("register agent is not an unlock")
	}
}

func TestRegistry_ChainOrder(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, tx.TypeStopAgent, namedHandler{"stop"})
	mustRegister(t, r, tx.TypeCoin, namedHandler{"coin"})
	mustRegister(t, r, tx.TypeUnlock, namedHandler{"unlock"})

	if got := chainNames(t, r, tx.TypeStopAgent); !equalNames(got, []string{"coin", "unlock", "stop"}) {
		t.Fatalf("Chain(stop) = %v", got)
	}
	// Ancestors without a handler are skipped.
	if got := chainNames(t, r, tx.TypeSmallChange); !equalNames(got, []string{"coin"}) {
		t.Fatalf("Chain(small change) = %v", got)
	}
}

func TestRegistry_ChainCacheReset(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, tx.TypeCoin, namedHandler{"coin"})
	if got := chainNames(t, r, tx.TypeRegisterAgent); len(got) != 1 {
		t.Fatalf("Chain() = %v", got)
	}

	mustRegister(t, r, tx.TypeRegisterAgent, namedHandler{"agent"})
	if got := chainNames(t, r, tx.TypeRegisterAgent); !equalNames(got, []string{"coin", "agent"}) {
		t.Fatalf("Chain() after Register = %v", got)
	}

	const custom tx.Type = 200
	if err := r.DefineType(custom, tx.TypeRegisterAgent); err != nil {
		t.Fatalf("DefineType() error: %v", err)
	}
	mustRegister(t, r, custom, namedHandler{"custom"})
	if got := chainNames(t, r, custom); !equalNames(got, []string{"coin", "agent", "custom"}) {
		t.Fatalf("Chain(custom) = %v", got)
	}
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()
	if err := r.DefineType(tx.TypeTransfer, tx.TypeCoin); !errors.Is(err, ErrTypeDefined) {
		t.Fatalf("DefineType(existing) = %v, want ErrTypeDefined", err)
	}
	if err := r.DefineType(300, 299); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("DefineType(unknown parent) = %v, want ErrUnknownType", err)
	}
	if err := r.Register(299, namedHandler{"x"}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Register(unknown) = %v, want ErrUnknownType", err)
	}
	mustRegister(t, r, tx.TypeLock, namedHandler{"lock"})
	if err := r.Register(tx.TypeLock, namedHandler{"again"}); !errors.Is(err, ErrHandlerExists) {
		t.Fatalf("Register(twice) = %v, want ErrHandlerExists", err)
	}
	if _, err := r.Chain(299); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Chain(unknown) = %v, want ErrUnknownType", err)
	}
}

func mustRegister(t *testing.T, r *Registry, typ tx.Type, h Handler) {
	t.Helper()
	if err := r.Register(typ, h); err != nil {
		t.Fatalf("Register(%s) error: %v", typ, err)
	}
}
