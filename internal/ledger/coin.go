package ledger

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/utxo"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// CoinHandler moves value for every coin-bearing kind. It is registered on
// TypeCoin so it runs first in every chain.
type CoinHandler struct {
	outputs *utxo.Store
	fee     func(tx.Type) uint64
}

// NewCoinHandler creates the coin handler. fee returns the minimum fee a
// transaction of a kind must leave between its inputs and outputs; nil
// disables the fee check.
func NewCoinHandler(outputs *utxo.Store, fee func(tx.Type) uint64) *CoinHandler {
	return &CoinHandler{outputs: outputs, fee: fee}
}

// OnApproval checks structure, double spends within batch, input
// availability, signatures, value conservation and the fee.
func (h *CoinHandler) OnApproval(t *tx.Transaction, batch []*tx.Transaction, _ *block.Block) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}

	if len(t.Inputs) == 0 {
		if len(t.Outputs) > 0 && t.Type != tx.TypeCoinBase {
			return fmt.Errorf("%w: %s creates outputs without inputs", ErrConflict, t.Type)
		}
		return nil
	}
	if t.Type == tx.TypeCoinBase {
		return fmt.Errorf("%w: coinbase must not spend inputs", ErrConflict)
	}

	hash := t.Hash()
	mine := make(map[types.Outpoint]bool, len(t.Inputs))
	for _, in := range t.Inputs {
		mine[in.PrevOut] = true
	}
	for _, other := range batch {
		if other == t || other.Hash() == hash {
			continue
		}
		for _, in := range other.Inputs {
			if mine[in.PrevOut] {
				return fmt.Errorf("%w: input %s also spent by %s", ErrConflict, in.PrevOut, other.Hash().Short())
			}
		}
	}

	now := h.outputs.Now()
	owners := make(map[types.Outpoint]types.Address, len(t.Inputs))
	var inTotal uint64
	for _, in := range t.Inputs {
		o, err := h.outputs.Get(in.PrevOut)
		if errors.Is(err, utxo.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		if err != nil {
			return storeErr(err)
		}
		if !o.Spendable(now) {
			return fmt.Errorf("%w: input %s is %s", ErrConflict, in.PrevOut, o.Status)
		}
		owners[in.PrevOut] = o.Address
		inTotal += o.Value
	}

	err := t.VerifySignatures(func(op types.Outpoint) (types.Address, error) {
		return owners[op], nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}

	outTotal, _ := t.TotalOutputValue()
	if outTotal > inTotal {
		return fmt.Errorf("%w: outputs %d exceed inputs %d", ErrConflict, outTotal, inTotal)
	}
	if h.fee != nil {
		if required := h.fee(t.Type); inTotal-outTotal < required {
			return fmt.Errorf("%w: fee %d below required %d", ErrConflict, inTotal-outTotal, required)
		}
	}
	return nil
}

// OnCommit spends the inputs and creates the outputs in one batch.
func (h *CoinHandler) OnCommit(t *tx.Transaction, blk *block.Block, _ *Notices) error {
	return storeErr(h.outputs.Apply(changeset(t, blk)))
}

// OnRollback removes the created outputs and releases the inputs.
func (h *CoinHandler) OnRollback(t *tx.Transaction, blk *block.Block) error {
	return storeErr(h.outputs.Revert(changeset(t, blk)))
}

// changeset builds t's output mutation. Outputs take the block's height
// and time, or the transaction time outside a block.
func changeset(t *tx.Transaction, blk *block.Block) *utxo.Changeset {
	created := blk.Time()
	if created == 0 {
		created = t.Time
	}
	return utxo.ChangesetFor(t, blk.Height(), created)
}
