package ledger

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

var errHook = errors.New("hook failed")

// traceHandler appends "<name>.<phase>" to a shared trace.
type traceHandler struct {
	name                               string
	trace                              *[]string
	failApproval, failCommit, failUndo bool
}

func (h *traceHandler) OnApproval(*tx.Transaction, []*tx.Transaction, *block.Block) error {
	*h.trace = append(*h.trace, h.name+".approve")
	if h.failApproval {
		return errHook
	}
	return nil
}

func (h *traceHandler) OnCommit(t *tx.Transaction, blk *block.Block, n *Notices) error {
	*h.trace = append(*h.trace, h.name+".commit")
	if h.failCommit {
		return errHook
	}
	return n.Add(h.name, t, blk, nil)
}

func (h *traceHandler) OnRollback(*tx.Transaction, *block.Block) error {
	*h.trace = append(*h.trace, h.name+".rollback")
	if h.failUndo {
		return errHook
	}
	return nil
}

type dispatchFixture struct {
	disp                *Dispatcher
	trace               []string
	coin, unlock, agent *traceHandler
	fatal               []error
}

// newDispatchFixture registers handlers on coin, unlock and stop agent.
func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{}
	f.coin = &traceHandler{name: "coin", trace: &f.trace}
	f.unlock = &traceHandler{name: "unlock", trace: &f.trace}
	f.agent = &traceHandler{name: "stop", trace: &f.trace}

	r := NewRegistry()
	mustRegister(t, r, tx.TypeCoin, f.coin)
	mustRegister(t, r, tx.TypeUnlock, f.unlock)
	mustRegister(t, r, tx.TypeStopAgent, f.agent)
	f.disp = NewDispatcher(r, func(err error) { f.fatal = append(f.fatal, err) })
	return f
}

func stopTx() *tx.Transaction {
	return &tx.Transaction{Type: tx.TypeStopAgent, Time: 1, Status: tx.StatusCached}
}

func testBlock(height uint64) *block.Block {
	return block.NewBlock(&block.Header{Height: height, Timestamp: 1_700_000_000_000}, nil)
}

func TestDispatcher_Lifecycle(t *testing.T) {
	f := newDispatchFixture(t)
	stop := stopTx()
	blk := testBlock(7)

	if err := f.disp.ConflictDetect(stop, nil, nil); err != nil {
		t.Fatalf("ConflictDetect() error: %v", err)
	}
	if stop.Status != tx.StatusAgreed {
		t.Fatalf("status after detect = %s", stop.Status)
	}

	notices, err := f.disp.Commit(stop, blk)
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if stop.Status != tx.StatusConfirmed || stop.BlockHeight != 7 {
		t.Fatalf("status after commit = %s at %d", stop.Status, stop.BlockHeight)
	}
	if got := len(notices.List()); got != 3 {
		t.Fatalf("notices = %d, want 3", got)
	}

	if err := f.disp.Rollback(stop, blk); err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	if stop.Status != tx.StatusCached || stop.BlockHeight != 0 {
		t.Fatalf("status after rollback = %s at %d", stop.Status, stop.BlockHeight)
	}

	want := []string{
		"coin.approve", "unlock.approve", "stop.approve",
		"coin.commit", "unlock.commit", "stop.commit",
		"stop.rollback", "unlock.rollback", "coin.rollback",
	}
	if !equalNames(f.trace, want) {
		t.Fatalf("trace = %v\nwant    %v", f.trace, want)
	}
}

func TestDispatcher_CommitRequiresAgreed(t *testing.T) {
	f := newDispatchFixture(t)
	stop := stopTx()

	notices, err := f.disp.Commit(stop, testBlock(1))
	if err != nil {
		t.Fatalf("Commit(cached) error: %v", err)
	}
	if notices != nil || stop.Status != tx.StatusCached || len(f.trace) != 0 {
		t.Fatalf("Commit(cached) promoted or ran handlers: %s %v", stop.Status, f.trace)
	}
}

func TestDispatcher_CommitIdempotent(t *testing.T) {
	f := newDispatchFixture(t)
	stop := stopTx()
	stop.Status = tx.StatusAgreed

	if _, err := f.disp.Commit(stop, testBlock(1)); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	n := len(f.trace)
	if _, err := f.disp.Commit(stop, testBlock(1)); err != nil {
		t.Fatalf("second Commit() error: %v", err)
	}
	if len(f.trace) != n || stop.Status != tx.StatusConfirmed {
		t.Fatalf("second Commit() ran handlers: %v", f.trace[n:])
	}
}

func TestDispatcher_ApprovalFailure(t *testing.T) {
	f := newDispatchFixture(t)
	f.unlock.failApproval = true
	stop := stopTx()

	err := f.disp.ConflictDetect(stop, nil, nil)
	if !errors.Is(err, ErrConflict) || !errors.Is(err, errHook) {
		t.Fatalf("ConflictDetect() = %v, want ErrConflict wrapping the hook error", err)
	}
	if stop.Status != tx.StatusCached {
		t.Fatalf("status = %s, want cached", stop.Status)
	}
	if !equalNames(f.trace, []string{"coin.approve", "unlock.approve"}) {
		t.Fatalf("trace = %v", f.trace)
	}
}

func TestDispatcher_ConflictDetectConfirmed(t *testing.T) {
	f := newDispatchFixture(t)
	stop := stopTx()
	stop.Status = tx.StatusConfirmed
	if err := f.disp.ConflictDetect(stop, nil, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ConflictDetect(confirmed) = %v, want ErrInvalidTransition", err)
	}
}

func TestDispatcher_CommitCompensates(t *testing.T) {
	f := newDispatchFixture(t)
	f.agent.failCommit = true
	stop := stopTx()
	stop.Status = tx.StatusAgreed

	_, err := f.disp.Commit(stop, testBlock(3))
	if !errors.Is(err, ErrHandlerFailure) {
		t.Fatalf("Commit() = %v, want ErrHandlerFailure", err)
	}
	if stop.Status != tx.StatusAgreed {
		t.Fatalf("status = %s, want agreed", stop.Status)
	}
	want := []string{
		"coin.commit", "unlock.commit", "stop.commit",
		"unlock.rollback", "coin.rollback",
	}
	if !equalNames(f.trace, want) {
		t.Fatalf("trace = %v\nwant    %v", f.trace, want)
	}
	if len(f.fatal) != 0 {
		t.Fatalf("fatal hook called: %v", f.fatal)
	}
}

func TestDispatcher_RollbackFailureIsFatal(t *testing.T) {
	f := newDispatchFixture(t)
	f.unlock.failUndo = true
	stop := stopTx()
	stop.Status = tx.StatusConfirmed

	err := f.disp.Rollback(stop, testBlock(3))
	if !errors.Is(err, ErrRollbackInvariant) || !errors.Is(err, ErrHandlerFailure) {
		t.Fatalf("Rollback() = %v, want ErrRollbackInvariant", err)
	}
	// Every handler still runs and the status is reset.
	if !equalNames(f.trace, []string{"stop.rollback", "unlock.rollback", "coin.rollback"}) {
		t.Fatalf("trace = %v", f.trace)
	}
	if stop.Status != tx.StatusCached {
		t.Fatalf("status = %s, want cached", stop.Status)
	}
	if len(f.fatal) != 1 || !errors.Is(f.fatal[0], ErrRollbackInvariant) {
		t.Fatalf("fatal hook = %v", f.fatal)
	}
}

func TestDispatcher_RollbackCachedNoop(t *testing.T) {
	f := newDispatchFixture(t)
	if err := f.disp.Rollback(stopTx(), nil); err != nil {
		t.Fatalf("Rollback(cached) error: %v", err)
	}
	if len(f.trace) != 0 {
		t.Fatalf("trace = %v", f.trace)
	}
}

func TestTransition(t *testing.T) {
	cached := &tx.Transaction{Status: tx.StatusCached}
	if err := transition(cached, eventConfirm); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirm from cached = %v, want ErrInvalidTransition", err)
	}
	if err := transition(cached, eventRollback); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rollback from cached = %v, want ErrInvalidTransition", err)
	}
	if err := transition(cached, eventAgree); err != nil || cached.Status != tx.StatusAgreed {
		t.Fatalf("agree = %v (%s)", err, cached.Status)
	}
}
