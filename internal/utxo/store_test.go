package utxo

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

var (
	addrA = types.Address{0x0a}
	addrB = types.Address{0x0b}
)

// fixedNow is the store clock used by tests, in unix ms.
const fixedNow = 1_700_000_000_000

func testStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(storage.NewMemory())
	s.SetClock(func() time.Time { return time.UnixMilli(fixedNow) })
	return s
}

func makeOutpoint(data string, index uint32) types.Outpoint {
	return types.Outpoint{
		TxID:  crypto.Hash([]byte(data)),
		Index: index,
	}
}

func makeOutput(data string, index uint32, addr types.Address, value uint64) *Output {
	return &Output{
		Outpoint: makeOutpoint(data, index),
		Address:  addr,
		Value:    value,
		Height:   1,
		Status:   StatusUnspent,
	}
}

func mustPut(t *testing.T, s *Store, o *Output) {
	t.Helper()
	if err := s.Put(o); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
}

func mustGet(t *testing.T, s *Store, op types.Outpoint) *Output {
	t.Helper()
	o, err := s.Get(op)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	return o
}

func TestStore_PutAndGet(t *testing.T) {
	s := testStore(t)
	o := makeOutput("tx1", 0, addrA, 5000)
	mustPut(t, s, o)

	got := mustGet(t, s, o.Outpoint)
	if got.Value != 5000 || got.Address != addrA || got.Status != StatusUnspent {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestStore_GetNonexistent(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(makeOutpoint("missing", 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() = %v, want ErrNotFound", err)
	}
}

func TestStore_HasAndDelete(t *testing.T) {
	s := testStore(t)
	o := makeOutput("tx1", 0, addrA, 1000)

	if ok, _ := s.Has(o.Outpoint); ok {
		t.Fatal("Has() should be false before Put()")
	}
	mustPut(t, s, o)
	if ok, _ := s.Has(o.Outpoint); !ok {
		t.Fatal("Has() should be true after Put()")
	}
	if err := s.Delete(o.Outpoint); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if ok, _ := s.Has(o.Outpoint); ok {
		t.Fatal("Has() should be false after Delete()")
	}
	outs, _ := s.Find(addrA)
	if len(outs) != 0 {
		t.Fatalf("Find() after Delete() = %d outputs, want 0", len(outs))
	}
	if err := s.Delete(o.Outpoint); err != nil {
		t.Fatalf("Delete() of missing output error: %v", err)
	}
}

func TestStore_FindOrder(t *testing.T) {
	s := testStore(t)
	late := makeOutput("z", 0, addrA, 1)
	late.Height = 5
	early := makeOutput("y", 1, addrA, 2)
	early.Height = 2
	early0 := makeOutput("y", 0, addrA, 3)
	early0.Height = 2
	mustPut(t, s, late)
	mustPut(t, s, early)
	mustPut(t, s, early0)
	mustPut(t, s, makeOutput("other", 0, addrB, 9))

	for i := 0; i < 3; i++ {
		outs, err := s.Find(addrA)
		if err != nil {
			t.Fatalf("Find() error: %v", err)
		}
		if len(outs) != 3 {
			t.Fatalf("Find() = %d outputs, want 3", len(outs))
		}
		if outs[0].Outpoint != early0.Outpoint || outs[1].Outpoint != early.Outpoint || outs[2].Outpoint != late.Outpoint {
			t.Fatalf("Find() order = %s, %s, %s", outs[0].Outpoint, outs[1].Outpoint, outs[2].Outpoint)
		}
	}
}

func TestStore_FindByTx(t *testing.T) {
	s := testStore(t)
	mustPut(t, s, makeOutput("tx1", 1, addrA, 1))
	mustPut(t, s, makeOutput("tx1", 0, addrB, 2))
	mustPut(t, s, makeOutput("tx2", 0, addrA, 3))

	outs, err := s.FindByTx(crypto.Hash([]byte("tx1")))
	if err != nil {
		t.Fatalf("FindByTx() error: %v", err)
	}
	if len(outs) != 2 || outs[0].Outpoint.Index != 0 || outs[1].Outpoint.Index != 1 {
		t.Fatalf("FindByTx() = %v", outs)
	}
}

func TestStore_MarkSpent(t *testing.T) {
	s := testStore(t)
	o := makeOutput("tx1", 0, addrA, 10)
	mustPut(t, s, o)
	spender := types.Hash{0x99}

	if err := s.MarkSpent(o.Outpoint, spender); err != nil {
		t.Fatalf("MarkSpent() error: %v", err)
	}
	got := mustGet(t, s, o.Outpoint)
	if got.Status != StatusSpent || got.SpentBy != spender {
		t.Fatalf("after MarkSpent() = %s by %s", got.Status, got.SpentBy)
	}

	// Same spender again is a no-op.
	if err := s.MarkSpent(o.Outpoint, spender); err != nil {
		t.Fatalf("repeated MarkSpent() error: %v", err)
	}
	// A different spender is a double spend.
	if err := s.MarkSpent(o.Outpoint, types.Hash{0x98}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkSpent() by other spender = %v, want ErrInvalidTransition", err)
	}

	if err := s.MarkUnspent(o.Outpoint); err != nil {
		t.Fatalf("MarkUnspent() error: %v", err)
	}
	got = mustGet(t, s, o.Outpoint)
	if got.Status != StatusUnspent || !got.SpentBy.IsZero() {
		t.Fatalf("after MarkUnspent() = %s by %s", got.Status, got.SpentBy)
	}
	if err := s.MarkUnspent(o.Outpoint); err != nil {
		t.Fatalf("repeated MarkUnspent() error: %v", err)
	}
}

func TestStore_MarkSpentUnknown(t *testing.T) {
	s := testStore(t)
	if err := s.MarkSpent(makeOutpoint("nope", 0), types.Hash{1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkSpent() = %v, want ErrNotFound", err)
	}
	if err := s.MarkUnspent(makeOutpoint("nope", 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkUnspent() = %v, want ErrNotFound", err)
	}
}

func TestStore_TimeLock(t *testing.T) {
	s := testStore(t)
	future := makeOutput("lock", 0, addrA, 10)
	future.LockTime = fixedNow + 1000
	future.Status = StatusTimeLocked
	past := makeOutput("lock", 1, addrA, 10)
	past.LockTime = fixedNow - 1000
	past.Status = StatusTimeLocked
	mustPut(t, s, future)
	mustPut(t, s, past)

	if err := s.MarkSpent(future.Outpoint, types.Hash{1}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("spending unexpired lock = %v, want ErrInvalidTransition", err)
	}
	if err := s.MarkSpent(past.Outpoint, types.Hash{1}); err != nil {
		t.Fatalf("spending expired lock error: %v", err)
	}
	if err := s.MarkUnspent(past.Outpoint); err != nil {
		t.Fatalf("MarkUnspent() error: %v", err)
	}
	if got := mustGet(t, s, past.Outpoint); got.Status != StatusTimeLocked {
		t.Fatalf("restored status = %s, want time_locked", got.Status)
	}
}

func TestStore_ConsensusLock(t *testing.T) {
	s := testStore(t)
	o := makeOutput("dep", 0, addrA, 10)
	mustPut(t, s, o)

	if err := s.LockConsensus(o.Outpoint); err != nil {
		t.Fatalf("LockConsensus() error: %v", err)
	}
	if err := s.LockConsensus(o.Outpoint); err != nil {
		t.Fatalf("repeated LockConsensus() error: %v", err)
	}
	if err := s.MarkSpent(o.Outpoint, types.Hash{1}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("spending locked output = %v, want ErrInvalidTransition", err)
	}
	if err := s.UnlockConsensus(o.Outpoint); err != nil {
		t.Fatalf("UnlockConsensus() error: %v", err)
	}
	if got := mustGet(t, s, o.Outpoint); got.Status != StatusUnspent {
		t.Fatalf("status = %s, want unspent", got.Status)
	}

	s.MarkSpent(o.Outpoint, types.Hash{1})
	if err := s.LockConsensus(o.Outpoint); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("locking spent output = %v, want ErrInvalidTransition", err)
	}
}

func depositTx() *tx.Transaction {
	return &tx.Transaction{
		Type: tx.TypeJoinConsensus,
		Time: fixedNow,
		Outputs: []tx.Output{
			{Address: addrA, Value: 500, LockTime: tx.LockConsensus},
			{Address: addrA, Value: 7},
		},
	}
}

func TestStore_UnlockTxAndLockTx(t *testing.T) {
	s := testStore(t)
	dep := depositTx()
	if err := s.Apply(ChangesetFor(dep, 3, fixedNow)); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	changed, err := s.UnlockTx(dep.Hash())
	if err != nil {
		t.Fatalf("UnlockTx() error: %v", err)
	}
	if len(changed) != 1 || changed[0].Index != 0 {
		t.Fatalf("UnlockTx() changed = %v, want deposit output only", changed)
	}
	if got := mustGet(t, s, changed[0]); got.Status != StatusUnspent {
		t.Fatalf("status = %s, want unspent", got.Status)
	}

	relocked, err := s.LockTx(dep.Hash())
	if err != nil {
		t.Fatalf("LockTx() error: %v", err)
	}
	if len(relocked) != 1 {
		t.Fatalf("LockTx() changed = %v", relocked)
	}
	if got := mustGet(t, s, relocked[0]); got.Status != StatusConsensusLocked {
		t.Fatalf("status = %s, want consensus_locked", got.Status)
	}

	if _, err := s.UnlockTx(types.Hash{0x42}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UnlockTx() unknown tx = %v, want ErrNotFound", err)
	}
}

func TestStore_ConcurrentMarkSpent(t *testing.T) {
	s := testStore(t)
	o := makeOutput("race", 0, addrA, 10)
	mustPut(t, s, o)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.MarkSpent(o.Outpoint, types.Hash{byte(i + 1)}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d spenders succeeded, want exactly 1", wins)
	}
}

func TestOutput_SpendableAndLocked(t *testing.T) {
	cases := []struct {
		o         Output
		spendable bool
		locked    bool
	}{
		{Output{Status: StatusUnspent}, true, false},
		{Output{Status: StatusSpent}, false, false},
		{Output{Status: StatusConsensusLocked}, false, true},
		{Output{Status: StatusTimeLocked, LockTime: 200}, false, true},
		{Output{Status: StatusTimeLocked, LockTime: 100}, true, false},
	}
	for i, c := range cases {
		if got := c.o.Spendable(100); got != c.spendable {
			t.Errorf("case %d: Spendable() = %v, want %v", i, got, c.spendable)
		}
		if got := c.o.Locked(100); got != c.locked {
			t.Errorf("case %d: Locked() = %v, want %v", i, got, c.locked)
		}
	}
}

func TestNewOutput_InitialStatus(t *testing.T) {
	op := types.Outpoint{}
	if o := NewOutput(op, tx.Output{Value: 1}, 0, 0); o.Status != StatusUnspent {
		t.Errorf("plain output = %s", o.Status)
	}
	if o := NewOutput(op, tx.Output{Value: 1, LockTime: 5}, 0, 0); o.Status != StatusTimeLocked {
		t.Errorf("time-locked output = %s", o.Status)
	}
	if o := NewOutput(op, tx.Output{Value: 1, LockTime: tx.LockConsensus}, 0, 0); o.Status != StatusConsensusLocked {
		t.Errorf("deposit output = %s", o.Status)
	}
}

func TestStore_MarkUnspentRestoresPriorStatus(t *testing.T) {
	s := testStore(t)

	// Expired time lock: spent as TimeLocked, restored as TimeLocked.
	timed := makeOutput("timed", 0, addrA, 10)
	timed.LockTime = fixedNow - 1
	timed.Status = StatusTimeLocked
	mustPut(t, s, timed)

	// Deposit released after creation: spent as Unspent, restored as Unspent.
	dep := makeOutput("deposit", 0, addrA, 20)
	dep.LockTime = tx.LockConsensus
	dep.Status = StatusConsensusLocked
	mustPut(t, s, dep)
	if err := s.UnlockConsensus(dep.Outpoint); err != nil {
		t.Fatalf("UnlockConsensus() error: %v", err)
	}

	spender := types.Hash{0x01}
	for _, tt := range []struct {
		op   types.Outpoint
		want Status
	}{
		{timed.Outpoint, StatusTimeLocked},
		{dep.Outpoint, StatusUnspent},
	} {
		if err := s.MarkSpent(tt.op, spender); err != nil {
			t.Fatalf("MarkSpent(%s) error: %v", tt.op, err)
		}
		if err := s.MarkUnspent(tt.op); err != nil {
			t.Fatalf("MarkUnspent(%s) error: %v", tt.op, err)
		}
		got := mustGet(t, s, tt.op)
		if got.Status != tt.want {
			t.Errorf("%s status = %s, want %s", tt.op, got.Status, tt.want)
		}
		if !got.SpentBy.IsZero() {
			t.Errorf("%s spent_by = %s, want zero", tt.op, got.SpentBy.Short())
		}
		if !got.Spendable(fixedNow) {
			t.Errorf("%s should be spendable", tt.op)
		}
	}
}
