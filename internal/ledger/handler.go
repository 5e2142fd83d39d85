package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Handler holds the lifecycle hooks of one transaction kind.
//
// blk is nil when no containing block is known (conflict detection of a
// pending transaction, rollback of a locally built one).
type Handler interface {
	// OnApproval checks t against the store and the other transactions of
	// batch. It must not mutate state.
	OnApproval(t *tx.Transaction, batch []*tx.Transaction, blk *block.Block) error
	// OnCommit applies t's effects. Domain events go into n.
	OnCommit(t *tx.Transaction, blk *block.Block, n *Notices) error
	// OnRollback undoes OnCommit. It must tolerate effects that were never
	// applied, since a rollback can follow a failed or absent commit.
	OnRollback(t *tx.Transaction, blk *block.Block) error
}

// Notice is a domain event produced by a commit.
type Notice struct {
	Kind    string          `json:"kind"`
	TxHash  types.Hash      `json:"tx_hash"`
	Height  uint64          `json:"height"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Notices collects the events of one commit. They are published only
// after the commit succeeded and the ledger lock was released.
type Notices struct {
	list []Notice
}

// Add records an event with payload encoded as JSON.
func (n *Notices) Add(kind string, t *tx.Transaction, blk *block.Block, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s notice: %w", kind, err)
		}
		raw = data
	}
	n.list = append(n.list, Notice{Kind: kind, TxHash: t.Hash(), Height: blk.Height(), Payload: raw})
	return nil
}

// List returns the collected events in the order they were added.
func (n *Notices) List() []Notice {
	if n == nil {
		return nil
	}
	return n.list
}
