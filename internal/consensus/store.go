package consensus

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Key prefixes for the agent store.
var (
	prefixAgent        = []byte("g/")  // g/<txhash> -> AgentRecord JSON
	prefixAgentAddr    = []byte("ga/") // ga/<agent address><txhash> -> empty
	prefixDeposit      = []byte("d/")  // d/<txhash> -> DepositRecord JSON
	prefixAgentDeposit = []byte("dg/") // dg/<agent txhash><txhash> -> empty
)

// Store keeps agent and deposit records. Deleting through the lifecycle
// marks records with the deleting transaction; rollback of a registration
// removes them outright.
type Store struct {
	mu sync.RWMutex
	db storage.DB
}

// NewStore creates an agent store backed by db.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func key(prefix []byte, parts ...[]byte) []byte {
	k := append([]byte{}, prefix...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

// ── Agents ──────────────────────────────────────────────────────────────

// PutAgent stores an agent record and its address index entry.
func (s *Store) PutAgent(r *AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := storage.NewBatch(s.db)
	if err := writeAgent(b, r); err != nil {
		return err
	}
	if err := b.Put(key(prefixAgentAddr, r.AgentAddress[:], r.TxHash[:]), []byte{}); err != nil {
		return fmt.Errorf("%w: put agent index: %w", ErrStore, err)
	}
	return commit(b)
}

// GetAgent returns the agent registered by txHash.
func (s *Store) GetAgent(txHash types.Hash) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAgent(txHash)
}

func (s *Store) getAgent(txHash types.Hash) (*AgentRecord, error) {
	data, err := s.db.Get(key(prefixAgent, txHash[:]))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, txHash.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get agent: %w", ErrStore, err)
	}
	var r AgentRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: unmarshal agent: %w", ErrStore, err)
	}
	return &r, nil
}

// LiveAgentByAddress returns the live agent registered for addr, if any.
func (s *Store) LiveAgentByAddress(addr types.Address) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := key(prefixAgentAddr, addr[:])
	var hashes []types.Hash
	err := s.db.ForEach(prefix, func(k, _ []byte) error {
		if len(k) != len(prefix)+types.HashSize {
			return nil
		}
		var h types.Hash
		copy(h[:], k[len(prefix):])
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan agents: %w", ErrStore, err)
	}
	for _, h := range hashes {
		r, err := s.getAgent(h)
		if errors.Is(err, ErrAgentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if r.Live() {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: no live agent for %s", ErrAgentNotFound, addr)
}

// Agents returns every stored agent, live or not.
func (s *Store) Agents() ([]*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AgentRecord
	err := s.db.ForEach(prefixAgent, func(_, v []byte) error {
		var r AgentRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("%w: unmarshal agent: %w", ErrStore, err)
		}
		out = append(out, &r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveAgent hard-deletes an agent together with every deposit made to it.
func (s *Store) RemoveAgent(txHash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getAgent(txHash)
	if errors.Is(err, ErrAgentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	deps, err := s.depositsOf(txHash)
	if err != nil {
		return err
	}

	b := storage.NewBatch(s.db)
	if err := b.Delete(key(prefixAgent, txHash[:])); err != nil {
		return fmt.Errorf("%w: delete agent: %w", ErrStore, err)
	}
	if err := b.Delete(key(prefixAgentAddr, r.AgentAddress[:], txHash[:])); err != nil {
		return fmt.Errorf("%w: delete agent index: %w", ErrStore, err)
	}
	for _, d := range deps {
		if err := deleteDeposit(b, d); err != nil {
			return err
		}
	}
	return commit(b)
}

// ── Deposits ────────────────────────────────────────────────────────────

// PutDeposit stores a deposit record and its agent index entry.
func (s *Store) PutDeposit(r *DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := storage.NewBatch(s.db)
	if err := writeDeposit(b, r); err != nil {
		return err
	}
	return commit(b)
}

func writeDeposit(b storage.Batch, r *DepositRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: marshal deposit: %w", ErrStore, err)
	}
	if err := b.Put(key(prefixDeposit, r.TxHash[:]), data); err != nil {
		return fmt.Errorf("%w: put deposit: %w", ErrStore, err)
	}
	if err := b.Put(key(prefixAgentDeposit, r.AgentHash[:], r.TxHash[:]), []byte{}); err != nil {
		return fmt.Errorf("%w: put deposit index: %w", ErrStore, err)
	}
	return nil
}

// GetDeposit returns the deposit made by txHash.
func (s *Store) GetDeposit(txHash types.Hash) (*DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getDeposit(txHash)
}

func (s *Store) getDeposit(txHash types.Hash) (*DepositRecord, error) {
	data, err := s.db.Get(key(prefixDeposit, txHash[:]))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDepositNotFound, txHash.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get deposit: %w", ErrStore, err)
	}
	var r DepositRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: unmarshal deposit: %w", ErrStore, err)
	}
	return &r, nil
}

// RemoveDeposit hard-deletes a deposit.
func (s *Store) RemoveDeposit(txHash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getDeposit(txHash)
	if errors.Is(err, ErrDepositNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	b := storage.NewBatch(s.db)
	if err := deleteDeposit(b, r); err != nil {
		return err
	}
	return commit(b)
}

func deleteDeposit(b storage.Batch, r *DepositRecord) error {
	if err := b.Delete(key(prefixDeposit, r.TxHash[:])); err != nil {
		return fmt.Errorf("%w: delete deposit: %w", ErrStore, err)
	}
	if err := b.Delete(key(prefixAgentDeposit, r.AgentHash[:], r.TxHash[:])); err != nil {
		return fmt.Errorf("%w: delete deposit index: %w", ErrStore, err)
	}
	return nil
}

// DepositsOf returns every deposit made to the agent registered by agentHash.
func (s *Store) DepositsOf(agentHash types.Hash) ([]*DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depositsOf(agentHash)
}

func (s *Store) depositsOf(agentHash types.Hash) ([]*DepositRecord, error) {
	prefix := key(prefixAgentDeposit, agentHash[:])
	var hashes []types.Hash
	err := s.db.ForEach(prefix, func(k, _ []byte) error {
		if len(k) != len(prefix)+types.HashSize {
			return nil
		}
		var h types.Hash
		copy(h[:], k[len(prefix):])
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan deposits: %w", ErrStore, err)
	}
	out := make([]*DepositRecord, 0, len(hashes))
	for _, h := range hashes {
		r, err := s.getDeposit(h)
		if errors.Is(err, ErrDepositNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// TotalDeposit sums the live deposits of an agent. The sum saturates at
// math.MaxUint64.
func (s *Store) TotalDeposit(agentHash types.Hash) (uint64, error) {
	deps, err := s.DepositsOf(agentHash)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, d := range deps {
		if !d.Live() {
			continue
		}
		if total > math.MaxUint64-d.Amount {
			return math.MaxUint64, nil
		}
		total += d.Amount
	}
	return total, nil
}

// ── Deletion marks ──────────────────────────────────────────────────────

// MarkDepositDeleted records that by removed the deposit at height.
func (s *Store) MarkDepositDeleted(txHash, by types.Hash, height uint64) error {
	return s.updateDeposit(txHash, func(r *DepositRecord) {
		r.DeletedBy, r.DelHeight = by, height
	})
}

// ClearDepositDeleted undoes MarkDepositDeleted if by made the mark.
func (s *Store) ClearDepositDeleted(txHash, by types.Hash) error {
	return s.updateDeposit(txHash, func(r *DepositRecord) {
		if r.DeletedBy == by {
			r.DeletedBy, r.DelHeight = types.Hash{}, 0
		}
	})
}

func (s *Store) updateDeposit(txHash types.Hash, fn func(*DepositRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getDeposit(txHash)
	if err != nil {
		return err
	}
	fn(r)
	b := storage.NewBatch(s.db)
	if err := writeDeposit(b, r); err != nil {
		return err
	}
	return commit(b)
}

// StopAgent marks the agent and its live deposits deleted by the stop
// transaction and returns the deposits it marked.
func (s *Store) StopAgent(agentHash, by types.Hash, height uint64) ([]*DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, err := s.getAgent(agentHash)
	if err != nil {
		return nil, err
	}
	deps, err := s.depositsOf(agentHash)
	if err != nil {
		return nil, err
	}

	b := storage.NewBatch(s.db)
	if agent.Live() {
		agent.DeletedBy, agent.DelHeight = by, height
		if err := writeAgent(b, agent); err != nil {
			return nil, err
		}
	}
	var marked []*DepositRecord
	for _, d := range deps {
		if !d.Live() && d.DeletedBy != by {
			continue
		}
		d.DeletedBy, d.DelHeight = by, height
		if err := writeDeposit(b, d); err != nil {
			return nil, err
		}
		marked = append(marked, d)
	}
	if err := commit(b); err != nil {
		return nil, err
	}
	return marked, nil
}

// RestoreAgent undoes StopAgent for the marks made by by and returns the
// deposits it restored.
func (s *Store) RestoreAgent(agentHash, by types.Hash) ([]*DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, err := s.getAgent(agentHash)
	if errors.Is(err, ErrAgentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	deps, err := s.depositsOf(agentHash)
	if err != nil {
		return nil, err
	}

	b := storage.NewBatch(s.db)
	if agent.DeletedBy == by {
		agent.DeletedBy, agent.DelHeight = types.Hash{}, 0
		if err := writeAgent(b, agent); err != nil {
			return nil, err
		}
	}
	var restored []*DepositRecord
	for _, d := range deps {
		if d.DeletedBy != by {
			continue
		}
		d.DeletedBy, d.DelHeight = types.Hash{}, 0
		if err := writeDeposit(b, d); err != nil {
			return nil, err
		}
		restored = append(restored, d)
	}
	if err := commit(b); err != nil {
		return nil, err
	}
	return restored, nil
}

func writeAgent(b storage.Batch, r *AgentRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: marshal agent: %w", ErrStore, err)
	}
	if err := b.Put(key(prefixAgent, r.TxHash[:]), data); err != nil {
		return fmt.Errorf("%w: put agent: %w", ErrStore, err)
	}
	return nil
}

func commit(b storage.Batch) error {
	if err := b.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStore, err)
	}
	return nil
}
