package utxo

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Key prefixes for the output store.
var (
	prefixOutput = []byte("u/") // u/<txid><index> -> Output JSON
	prefixAddr   = []byte("a/") // a/<address><txid><index> -> empty (index)
)

// Store is the output store backed by a storage.DB. Every status change is
// a read-check-write under the store mutex, so readers never observe a
// torn status.
type Store struct {
	mu  sync.RWMutex
	db  storage.DB
	now func() time.Time
}

// NewStore creates a new output store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock replaces the clock used to decide whether time locks expired.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Now returns the store clock in unix milliseconds.
func (s *Store) Now() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowMs()
}

func (s *Store) nowMs() uint64 {
	return uint64(s.now().UnixMilli())
}

// outputKey builds a storage key for an outpoint: "u/" + txid(32) + index(4).
func outputKey(op types.Outpoint) []byte {
	key := make([]byte, len(prefixOutput)+types.HashSize+4)
	copy(key, prefixOutput)
	copy(key[len(prefixOutput):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixOutput)+types.HashSize:], op.Index)
	return key
}

// addrKey builds an address index key: "a/" + addr(20) + txid(32) + index(4).
func addrKey(addr types.Address, op types.Outpoint) []byte {
	key := make([]byte, len(prefixAddr)+types.AddressSize+types.HashSize+4)
	copy(key, prefixAddr)
	copy(key[len(prefixAddr):], addr[:])
	off := len(prefixAddr) + types.AddressSize
	copy(key[off:], op.TxID[:])
	binary.BigEndian.PutUint32(key[off+types.HashSize:], op.Index)
	return key
}

// Get retrieves an output by its outpoint.
func (s *Store) Get(op types.Outpoint) (*Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(op)
}

func (s *Store) get(op types.Outpoint) (*Output, error) {
	data, err := s.db.Get(outputKey(op))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrStore, op, err)
	}
	var o Output
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %w", ErrStore, op, err)
	}
	return &o, nil
}

// Has checks if an output exists for the given outpoint.
func (s *Store) Has(op types.Outpoint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := s.db.Has(outputKey(op))
	if err != nil {
		return false, fmt.Errorf("%w: has %s: %w", ErrStore, op, err)
	}
	return ok, nil
}

// Put stores an output and its address index entry, overwriting any
// existing record.
func (s *Store) Put(o *Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := storage.NewBatch(s.db)
	if err := writeOutput(b, o); err != nil {
		return err
	}
	return commit(b)
}

// Delete removes an output and its address index entry.
func (s *Store) Delete(op types.Outpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(op)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	b := storage.NewBatch(s.db)
	if err := deleteOutput(b, o); err != nil {
		return err
	}
	return commit(b)
}

// ForEach iterates over every stored output.
func (s *Store) ForEach(fn func(*Output) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.ForEach(prefixOutput, func(_, value []byte) error {
		var o Output
		if err := json.Unmarshal(value, &o); err != nil {
			return fmt.Errorf("%w: unmarshal: %w", ErrStore, err)
		}
		return fn(&o)
	})
}

// Find returns every output owned by addr, spent ones included, ordered by
// creation height, then transaction ID, then index. The order is stable
// across calls and drives deterministic coin selection.
func (s *Store) Find(addr types.Address) ([]*Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := make([]byte, len(prefixAddr)+types.AddressSize)
	copy(prefix, prefixAddr)
	copy(prefix[len(prefixAddr):], addr[:])

	var ops []types.Outpoint
	err := s.db.ForEach(prefix, func(key, _ []byte) error {
		// Key layout: "a/" + addr(20) + txid(32) + index(4).
		off := len(prefixAddr) + types.AddressSize
		if len(key) < off+types.HashSize+4 {
			return nil // Malformed key, skip.
		}
		var op types.Outpoint
		copy(op.TxID[:], key[off:off+types.HashSize])
		op.Index = binary.BigEndian.Uint32(key[off+types.HashSize:])
		ops = append(ops, op)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan address index: %w", ErrStore, err)
	}

	outs := make([]*Output, 0, len(ops))
	for _, op := range ops {
		o, err := s.get(op)
		if errors.Is(err, ErrNotFound) {
			continue // Stale index entry.
		}
		if err != nil {
			return nil, err
		}
		outs = append(outs, o)
	}
	sortOutputs(outs)
	return outs, nil
}

// FindByTx returns the outputs created by the given transaction, by index.
func (s *Store) FindByTx(txID types.Hash) ([]*Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByTx(txID)
}

func (s *Store) findByTx(txID types.Hash) ([]*Output, error) {
	prefix := make([]byte, len(prefixOutput)+types.HashSize)
	copy(prefix, prefixOutput)
	copy(prefix[len(prefixOutput):], txID[:])

	var outs []*Output
	err := s.db.ForEach(prefix, func(_, value []byte) error {
		var o Output
		if err := json.Unmarshal(value, &o); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		outs = append(outs, &o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan tx %s: %w", ErrStore, txID.Short(), err)
	}
	sortOutputs(outs)
	return outs, nil
}

func sortOutputs(outs []*Output) {
	sort.SliceStable(outs, func(i, j int) bool {
		a, b := outs[i], outs[j]
		if a.Height != b.Height {
			return a.Height < b.Height
		}
		return a.Outpoint.Less(b.Outpoint)
	})
}

// MarkSpent records that spender consumed the output. Repeating the call
// with the same spender is a no-op. The output must be spendable now.
func (s *Store) MarkSpent(op types.Outpoint, spender types.Hash) error {
	return s.transition(op, func(o *Output, now uint64) (bool, error) {
		if o.Status == StatusSpent {
			if o.SpentBy == spender {
				return false, nil
			}
			return false, fmt.Errorf("%w: %s already spent by %s", ErrInvalidTransition, op, o.SpentBy.Short())
		}
		if !o.Spendable(now) {
			return false, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, op, o.Status)
		}
		o.spend(spender)
		return true, nil
	})
}

// MarkUnspent reverses MarkSpent, restoring the status the output held
// when it was spent. Calling it on an output that is not spent is a no-op.
func (s *Store) MarkUnspent(op types.Outpoint) error {
	return s.transition(op, func(o *Output, _ uint64) (bool, error) {
		if o.Status != StatusSpent {
			return false, nil
		}
		o.unspend()
		return true, nil
	})
}

// LockConsensus moves an unspent output into the consensus-locked state.
func (s *Store) LockConsensus(op types.Outpoint) error {
	return s.transition(op, func(o *Output, _ uint64) (bool, error) {
		switch o.Status {
		case StatusConsensusLocked:
			return false, nil
		case StatusUnspent:
			o.Status = StatusConsensusLocked
			return true, nil
		default:
			return false, fmt.Errorf("%w: cannot consensus-lock %s output %s", ErrInvalidTransition, o.Status, op)
		}
	})
}

// UnlockConsensus releases a consensus-locked output.
func (s *Store) UnlockConsensus(op types.Outpoint) error {
	return s.transition(op, func(o *Output, _ uint64) (bool, error) {
		switch o.Status {
		case StatusUnspent:
			return false, nil
		case StatusConsensusLocked:
			o.Status = StatusUnspent
			return true, nil
		default:
			return false, fmt.Errorf("%w: cannot unlock %s output %s", ErrInvalidTransition, o.Status, op)
		}
	})
}

// transition applies fn to the stored output under the write lock and
// persists it when fn reports a change.
func (s *Store) transition(op types.Outpoint, fn func(o *Output, now uint64) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(op)
	if err != nil {
		return err
	}
	changed, err := fn(o, s.nowMs())
	if err != nil || !changed {
		return err
	}
	b := storage.NewBatch(s.db)
	if err := writeOutput(b, o); err != nil {
		return err
	}
	return commit(b)
}

// UnlockTx releases every consensus-locked output created by txID and
// returns the outpoints it changed.
func (s *Store) UnlockTx(txID types.Hash) ([]types.Outpoint, error) {
	return s.relockTx(txID, StatusConsensusLocked, StatusUnspent)
}

// LockTx reverses UnlockTx: unspent deposit outputs of txID are locked again.
func (s *Store) LockTx(txID types.Hash) ([]types.Outpoint, error) {
	return s.relockTx(txID, StatusUnspent, StatusConsensusLocked)
}

func (s *Store) relockTx(txID types.Hash, from, to Status) ([]types.Outpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outs, err := s.findByTx(txID)
	if err != nil {
		return nil, err
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("%w: no outputs for tx %s", ErrNotFound, txID.Short())
	}

	b := storage.NewBatch(s.db)
	var changed []types.Outpoint
	for _, o := range outs {
		if o.Status != from || !isDeposit(o) {
			continue
		}
		o.Status = to
		if err := writeOutput(b, o); err != nil {
			return nil, err
		}
		changed = append(changed, o.Outpoint)
	}
	if err := commit(b); err != nil {
		return nil, err
	}
	return changed, nil
}

func isDeposit(o *Output) bool {
	return initialStatus(o.LockTime) == StatusConsensusLocked
}

func writeOutput(b storage.Batch, o *Output) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %w", ErrStore, o.Outpoint, err)
	}
	if err := b.Put(outputKey(o.Outpoint), data); err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrStore, o.Outpoint, err)
	}
	if err := b.Put(addrKey(o.Address, o.Outpoint), []byte{}); err != nil {
		return fmt.Errorf("%w: index put %s: %w", ErrStore, o.Outpoint, err)
	}
	return nil
}

func deleteOutput(b storage.Batch, o *Output) error {
	if err := b.Delete(addrKey(o.Address, o.Outpoint)); err != nil {
		return fmt.Errorf("%w: index delete %s: %w", ErrStore, o.Outpoint, err)
	}
	if err := b.Delete(outputKey(o.Outpoint)); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrStore, o.Outpoint, err)
	}
	return nil
}

func commit(b storage.Batch) error {
	if err := b.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStore, err)
	}
	return nil
}
