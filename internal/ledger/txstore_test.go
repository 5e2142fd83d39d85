package ledger

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

var (
	recA = types.Address{0xa1}
	recB = types.Address{0xb2}
)

func recordTx(time uint64, to types.Address) *tx.Transaction {
	return &tx.Transaction{
		Type:    tx.TypeTransfer,
		Time:    time,
		Outputs: []tx.Output{{Address: to, Value: time}},
	}
}

func TestTxStore_SaveAndQuery(t *testing.T) {
	s := NewTxStore(storage.NewMemory())
	late, early := recordTx(20, recA), recordTx(10, recA)
	other := recordTx(15, recB)

	err := s.SaveTxList(
		[]*tx.Transaction{late, early, other},
		[][]types.Address{{recA}, {recA}, {recB}},
	)
	if err != nil {
		t.Fatalf("SaveTxList() error: %v", err)
	}

	got, err := s.GetTx(other.Hash())
	if err != nil {
		t.Fatalf("GetTx() error: %v", err)
	}
	if got.Hash() != other.Hash() {
		t.Fatal("GetTx() returned a different transaction")
	}

	list, err := s.GetTxsByAddress(recA)
	if err != nil {
		t.Fatalf("GetTxsByAddress() error: %v", err)
	}
	if len(list) != 2 || list[0].Time != 10 || list[1].Time != 20 {
		t.Fatalf("GetTxsByAddress() = %d txs, want oldest first", len(list))
	}

	if _, err := s.GetTx(types.Hash{0x01}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTx(unknown) = %v, want ErrNotFound", err)
	}
}

func TestTxStore_HeightIndexFollowsStatus(t *testing.T) {
	s := NewTxStore(storage.NewMemory())
	x := recordTx(10, recA)
	if err := s.SaveTxList([]*tx.Transaction{x}, [][]types.Address{{recA}}); err != nil {
		t.Fatalf("SaveTxList() error: %v", err)
	}

	x.Status, x.BlockHeight = tx.StatusConfirmed, 9
	if err := s.UpdateStatus(x); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if list, _ := s.GetTxsAtHeight(9); len(list) != 1 {
		t.Fatalf("GetTxsAtHeight(9) = %d", len(list))
	}
	// Addresses survive a status update.
	if list, _ := s.GetTxsByAddress(recA); len(list) != 1 || list[0].Status != tx.StatusConfirmed {
		t.Fatalf("GetTxsByAddress() after update = %v", list)
	}

	x.Status, x.BlockHeight = tx.StatusCached, 0
	if err := s.UpdateStatus(x); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if list, _ := s.GetTxsAtHeight(9); len(list) != 0 {
		t.Fatalf("GetTxsAtHeight(9) after rollback = %d", len(list))
	}
}

func TestTxStore_LocalIndex(t *testing.T) {
	s := NewTxStore(storage.NewMemory())
	x := recordTx(10, recA)
	if err := s.SaveTxList([]*tx.Transaction{x}, [][]types.Address{{recA, recB}}); err != nil {
		t.Fatalf("SaveTxList() error: %v", err)
	}
	entry := &LocalTx{Hash: x.Hash(), Direction: Send, Addresses: []types.Address{recA}}
	if err := s.SaveLocalList([]*LocalTx{entry}); err != nil {
		t.Fatalf("SaveLocalList() error: %v", err)
	}

	list, err := s.GetLocalTxs(recA)
	if err != nil {
		t.Fatalf("GetLocalTxs() error: %v", err)
	}
	if len(list) != 1 || list[0].Direction != Send || list[0].Hash != x.Hash() {
		t.Fatalf("GetLocalTxs() = %v", list)
	}
	if list, _ := s.GetLocalTxs(recB); len(list) != 0 {
		t.Fatalf("GetLocalTxs(B) = %d entries", len(list))
	}

	if err := s.DeleteTx(x.Hash()); err != nil {
		t.Fatalf("DeleteTx() error: %v", err)
	}
	if list, _ := s.GetLocalTxs(recA); len(list) != 0 {
		t.Fatalf("GetLocalTxs() after delete = %d", len(list))
	}
	if list, _ := s.GetTxsByAddress(recB); len(list) != 0 {
		t.Fatalf("GetTxsByAddress() after delete = %d", len(list))
	}
	// Deleting again is harmless.
	if err := s.DeleteTx(x.Hash()); err != nil {
		t.Fatalf("second DeleteTx() error: %v", err)
	}
}

func TestTxStore_BestHeight(t *testing.T) {
	s := NewTxStore(storage.NewMemory())
	if _, ok, err := s.BestHeight(); err != nil || ok {
		t.Fatalf("BestHeight() on empty store = %v, %v", ok, err)
	}
	if err := s.SetBestHeight(42); err != nil {
		t.Fatalf("SetBestHeight() error: %v", err)
	}
	h, ok, err := s.BestHeight()
	if err != nil || !ok || h != 42 {
		t.Fatalf("BestHeight() = %d, %v, %v", h, ok, err)
	}
}

func TestDirection_String(t *testing.T) {
	if Send.String() != "send" || Receive.String() != "receive" {
		t.Fatalf("Direction strings = %s/%s", Send, Receive)
	}
}

func TestTxStore_SaveKeepsStoredStatus(t *testing.T) {
	s := NewTxStore(storage.NewMemory())
	x := recordTx(10, recA)
	x.Status, x.BlockHeight = tx.StatusConfirmed, 4
	if err := s.UpdateTxList([]*tx.Transaction{x}, [][]types.Address{{recA}}); err != nil {
		t.Fatalf("UpdateTxList() error: %v", err)
	}

	fresh := recordTx(10, recA)
	if err := s.SaveTxList([]*tx.Transaction{fresh}, [][]types.Address{{recA}}); err != nil {
		t.Fatalf("SaveTxList() error: %v", err)
	}
	got, err := s.GetTx(x.Hash())
	if err != nil {
		t.Fatalf("GetTx() error: %v", err)
	}
	if got.Status != tx.StatusConfirmed || got.BlockHeight != 4 {
		t.Fatalf("stored = %s at %d, want confirmed at 4", got.Status, got.BlockHeight)
	}
	if fresh.Status != tx.StatusCached {
		t.Fatalf("caller's copy was modified: %s", fresh.Status)
	}
	if list, _ := s.GetTxsAtHeight(4); len(list) != 1 {
		t.Fatalf("GetTxsAtHeight(4) = %d, want 1", len(list))
	}
}

func TestTxStore_DeleteTx(t *testing.T) {
	s := NewTxStore(storage.NewMemory())
	x := recordTx(10, recA)
	if err := s.SaveTxList([]*tx.Transaction{x}, [][]types.Address{{recA}}); err != nil {
		t.Fatalf("SaveTxList() error: %v", err)
	}
	entry := &LocalTx{Hash: x.Hash(), Direction: Receive, Addresses: []types.Address{recA}}
	if err := s.SaveLocalList([]*LocalTx{entry}); err != nil {
		t.Fatalf("SaveLocalList() error: %v", err)
	}

	if err := s.DeleteTx(x.Hash()); err != nil {
		t.Fatalf("DeleteTx() error: %v", err)
	}
	if _, err := s.GetTx(x.Hash()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTx() after delete = %v, want ErrNotFound", err)
	}
	if list, _ := s.GetTxsByAddress(recA); len(list) != 0 {
		t.Fatalf("GetTxsByAddress() after delete = %d", len(list))
	}
	if list, _ := s.GetLocalTxs(recA); len(list) != 0 {
		t.Fatalf("GetLocalTxs() after delete = %d", len(list))
	}
}
