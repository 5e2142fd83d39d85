package utxo

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Spend records one output consumed by a transaction.
type Spend struct {
	Outpoint types.Outpoint
	Spender  types.Hash
}

// Changeset is the full output mutation of one transaction: the outputs it
// consumes and the outputs it creates. Apply and Revert write it through a
// single batch so no partial state is visible.
type Changeset struct {
	Spends  []Spend
	Creates []*Output
}

// ChangesetFor derives the changeset of t confirmed at height and time.
func ChangesetFor(t *tx.Transaction, height, time uint64) *Changeset {
	h := t.Hash()
	cs := &Changeset{
		Spends:  make([]Spend, len(t.Inputs)),
		Creates: make([]*Output, len(t.Outputs)),
	}
	for i, in := range t.Inputs {
		cs.Spends[i] = Spend{Outpoint: in.PrevOut, Spender: h}
	}
	for i, out := range t.Outputs {
		cs.Creates[i] = NewOutput(types.Outpoint{TxID: h, Index: uint32(i)}, out, height, time)
	}
	return cs
}

// Apply consumes the spent outputs and persists the created ones. Every
// precondition is checked before anything is written. Inputs already spent
// by the same spender are accepted so a replayed changeset is a no-op.
func (s *Store) Apply(cs *Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMs()
	seen := make(map[types.Outpoint]bool, len(cs.Spends))
	var spent []*Output
	for _, sp := range cs.Spends {
		if seen[sp.Outpoint] {
			return fmt.Errorf("%w: %s spent twice in one changeset", ErrInvalidTransition, sp.Outpoint)
		}
		seen[sp.Outpoint] = true

		o, err := s.get(sp.Outpoint)
		if err != nil {
			return err
		}
		if o.Status == StatusSpent {
			if o.SpentBy == sp.Spender {
				continue
			}
			return fmt.Errorf("%w: %s already spent by %s", ErrInvalidTransition, sp.Outpoint, o.SpentBy.Short())
		}
		if !o.Spendable(now) {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, sp.Outpoint, o.Status)
		}
		o.spend(sp.Spender)
		spent = append(spent, o)
	}

	var created []*Output
	for _, c := range cs.Creates {
		existing, err := s.get(c.Outpoint)
		switch {
		case err == nil:
			if existing.Status == c.Status && existing.Value == c.Value && existing.Address == c.Address {
				continue
			}
			return fmt.Errorf("%w: %s", ErrAlreadyExists, c.Outpoint)
		case !errors.Is(err, ErrNotFound):
			return err
		}
		created = append(created, c)
	}

	b := storage.NewBatch(s.db)
	for _, o := range spent {
		if err := writeOutput(b, o); err != nil {
			return err
		}
	}
	for _, o := range created {
		if err := writeOutput(b, o); err != nil {
			return err
		}
	}
	return commit(b)
}

// Revert undoes Apply: created outputs are removed and outputs consumed by
// the changeset's spender return to the status they held when spent.
// Parts never applied or already reverted are skipped, as are outputs some
// other transaction spent. A created output that was itself spent since
// cannot be removed and fails with ErrInvalidTransition.
func (s *Store) Revert(cs *Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*Output
	for _, c := range cs.Creates {
		o, err := s.get(c.Outpoint)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if o.Status == StatusSpent {
			return fmt.Errorf("%w: created output %s was spent by %s", ErrInvalidTransition, c.Outpoint, o.SpentBy.Short())
		}
		removed = append(removed, o)
	}

	var restored []*Output
	for _, sp := range cs.Spends {
		o, err := s.get(sp.Outpoint)
		if err != nil {
			return err
		}
		if o.Status != StatusSpent || o.SpentBy != sp.Spender {
			continue // Not consumed by this changeset.
		}
		o.unspend()
		restored = append(restored, o)
	}

	b := storage.NewBatch(s.db)
	for _, o := range removed {
		if err := deleteOutput(b, o); err != nil {
			return err
		}
	}
	for _, o := range restored {
		if err := writeOutput(b, o); err != nil {
			return err
		}
	}
	return commit(b)
}
