package ledger

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/utxo"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

// UnlockHandler releases the consensus-locked outputs of the transaction
// named in an unlock payload. It is registered on TypeUnlock.
type UnlockHandler struct {
	outputs *utxo.Store
}

// NewUnlockHandler creates the unlock handler.
func NewUnlockHandler(outputs *utxo.Store) *UnlockHandler {
	return &UnlockHandler{outputs: outputs}
}

// OnApproval requires the referenced transaction to hold at least one
// consensus-locked output.
func (h *UnlockHandler) OnApproval(t *tx.Transaction, _ []*tx.Transaction, _ *block.Block) error {
	var ud tx.UnlockData
	if err := t.DecodeData(&ud); err != nil {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	outs, err := h.outputs.FindByTx(ud.TxHash)
	if err != nil {
		return storeErr(err)
	}
	for _, o := range outs {
		if o.Status == utxo.StatusConsensusLocked {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no locked outputs", ErrConflict, ud.TxHash.Short())
}

// OnCommit unlocks the referenced deposit outputs.
func (h *UnlockHandler) OnCommit(t *tx.Transaction, _ *block.Block, _ *Notices) error {
	var ud tx.UnlockData
	if err := t.DecodeData(&ud); err != nil {
		return err
	}
	_, err := h.outputs.UnlockTx(ud.TxHash)
	return storeErr(err)
}

// OnRollback locks the referenced deposit outputs again.
func (h *UnlockHandler) OnRollback(t *tx.Transaction, _ *block.Block) error {
	var ud tx.UnlockData
	if err := t.DecodeData(&ud); err != nil {
		return err
	}
	_, err := h.outputs.LockTx(ud.TxHash)
	if errors.Is(err, utxo.ErrNotFound) {
		return nil
	}
	return storeErr(err)
}
