package consensus

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/utxo"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// NoticeAgentRegistered is published when a registration commits. Its
// payload is the stored AgentRecord.
const NoticeAgentRegistered = "agent-registered"

// RegisterHandlers installs the agent handlers on reg.
func RegisterHandlers(reg *ledger.Registry, store *Store, outputs *utxo.Store) error {
	handlers := []struct {
		t tx.Type
		h ledger.Handler
	}{
		{tx.TypeRegisterAgent, &RegisterAgentHandler{store: store}},
		{tx.TypeJoinConsensus, &JoinConsensusHandler{store: store}},
		{tx.TypeCancelDeposit, &CancelDepositHandler{store: store}},
		{tx.TypeStopAgent, &StopAgentHandler{store: store, outputs: outputs}},
	}
	for _, e := range handlers {
		if err := reg.Register(e.t, e.h); err != nil {
			return fmt.Errorf("register %s handler: %w", e.t, err)
		}
	}
	return nil
}

// lockedValue sums the consensus-locked outputs of t paid to addr.
func lockedValue(t *tx.Transaction, addr types.Address) uint64 {
	var total uint64
	for _, out := range t.Outputs {
		if out.IsConsensusLocked() && out.Address == addr {
			total += out.Value
		}
	}
	return total
}

// ── Register agent ──────────────────────────────────────────────────────

// RegisterAgentHandler creates agents.
type RegisterAgentHandler struct {
	store *Store
}

// OnApproval checks the agent payload, the deposit and that neither the
// batch nor the store already holds an agent for the same addresses.
func (h *RegisterAgentHandler) OnApproval(t *tx.Transaction, batch []*tx.Transaction, _ *block.Block) error {
	var agent Agent
	if err := t.DecodeData(&agent); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAgent, err)
	}
	if err := agent.Validate(); err != nil {
		return err
	}
	if t.Time == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidAgent, tx.ErrTimeNotSet)
	}
	if lockedValue(t, agent.AgentAddress) == 0 {
		return fmt.Errorf("%w for agent %s", ErrNoDeposit, agent.AgentAddress)
	}

	hash := t.Hash()
	for _, other := range batch {
		if other.Type != tx.TypeRegisterAgent || other.Hash() == hash {
			continue
		}
		var oa Agent
		if other.DecodeData(&oa) != nil {
			continue
		}
		if oa.AgentAddress == agent.AgentAddress || oa.PackingAddress == agent.PackingAddress {
			return fmt.Errorf("%w: agent %s also registered by %s", ErrBatchDuplicate, agent.AgentAddress, other.Hash().Short())
		}
	}

	existing, err := h.store.LiveAgentByAddress(agent.AgentAddress)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s by %s", ErrAgentExists, agent.AgentAddress, existing.TxHash.Short())
	case !errors.Is(err, ErrAgentNotFound):
		return err
	}
	return nil
}

// OnCommit stores the agent as waiting and announces it.
func (h *RegisterAgentHandler) OnCommit(t *tx.Transaction, blk *block.Block, n *ledger.Notices) error {
	var agent Agent
	if err := t.DecodeData(&agent); err != nil {
		return err
	}
	rec := &AgentRecord{
		Agent:   agent,
		TxHash:  t.Hash(),
		Deposit: lockedValue(t, agent.AgentAddress),
		Height:  blk.Height(),
		Status:  AgentWaiting,
	}
	if err := h.store.PutAgent(rec); err != nil {
		return err
	}
	log.Consensus.Info().
		Str("agent", agent.AgentAddress.String()).
		Str("name", agent.Name).
		Uint64("height", rec.Height).
		Msg("Agent registered")
	return n.Add(NoticeAgentRegistered, t, blk, rec)
}

// OnRollback removes the agent and every deposit made to it.
func (h *RegisterAgentHandler) OnRollback(t *tx.Transaction, _ *block.Block) error {
	return h.store.RemoveAgent(t.Hash())
}

// ── Join consensus ──────────────────────────────────────────────────────

// JoinConsensusHandler records deposits to agents.
type JoinConsensusHandler struct {
	store *Store
}

// OnApproval requires a live agent and a deposit output from the depositor.
func (h *JoinConsensusHandler) OnApproval(t *tx.Transaction, _ []*tx.Transaction, _ *block.Block) error {
	var dep Deposit
	if err := t.DecodeData(&dep); err != nil {
		return err
	}
	if dep.Address.IsZero() {
		return fmt.Errorf("%w: zero depositor address", ErrNoDeposit)
	}
	if lockedValue(t, dep.Address) == 0 {
		return fmt.Errorf("%w for depositor %s", ErrNoDeposit, dep.Address)
	}
	agent, err := h.store.GetAgent(dep.AgentHash)
	if err != nil {
		return err
	}
	if !agent.Live() {
		return fmt.Errorf("%w: agent %s was stopped", ErrAgentNotFound, dep.AgentHash.Short())
	}
	return nil
}

// OnCommit stores the deposit.
func (h *JoinConsensusHandler) OnCommit(t *tx.Transaction, blk *block.Block, _ *ledger.Notices) error {
	var dep Deposit
	if err := t.DecodeData(&dep); err != nil {
		return err
	}
	return h.store.PutDeposit(&DepositRecord{
		Deposit: dep,
		TxHash:  t.Hash(),
		Amount:  lockedValue(t, dep.Address),
		Height:  blk.Height(),
	})
}

// OnRollback removes the deposit.
func (h *JoinConsensusHandler) OnRollback(t *tx.Transaction, _ *block.Block) error {
	return h.store.RemoveDeposit(t.Hash())
}

// ── Cancel deposit ──────────────────────────────────────────────────────

// CancelDepositHandler withdraws a deposit. The locked output itself is
// released by the unlock handler earlier in the chain.
type CancelDepositHandler struct {
	store *Store
}

// OnApproval requires a live deposit that no other batch transaction cancels.
func (h *CancelDepositHandler) OnApproval(t *tx.Transaction, batch []*tx.Transaction, _ *block.Block) error {
	var ud tx.UnlockData
	if err := t.DecodeData(&ud); err != nil {
		return err
	}
	if err := checkBatchUnlock(t, ud, batch); err != nil {
		return err
	}
	dep, err := h.store.GetDeposit(ud.TxHash)
	if err != nil {
		return err
	}
	if !dep.Live() {
		return fmt.Errorf("%w: deposit %s already withdrawn", ErrDepositNotFound, ud.TxHash.Short())
	}
	return nil
}

// OnCommit marks the deposit deleted at the block height.
func (h *CancelDepositHandler) OnCommit(t *tx.Transaction, blk *block.Block, _ *ledger.Notices) error {
	var ud tx.UnlockData
	if err := t.DecodeData(&ud); err != nil {
		return err
	}
	return h.store.MarkDepositDeleted(ud.TxHash, t.Hash(), blk.Height())
}

// OnRollback clears the deletion mark.
func (h *CancelDepositHandler) OnRollback(t *tx.Transaction, _ *block.Block) error {
	var ud tx.UnlockData
	if err := t.DecodeData(&ud); err != nil {
		return err
	}
	err := h.store.ClearDepositDeleted(ud.TxHash, t.Hash())
	if errors.Is(err, ErrDepositNotFound) {
		return nil
	}
	return err
}

// ── Stop agent ──────────────────────────────────────────────────────────

// StopAgentHandler retires an agent with all of its deposits. The agent's
// own deposit output is released by the unlock handler; the deposits made
// to it are released here.
type StopAgentHandler struct {
	store   *Store
	outputs *utxo.Store
}

// OnApproval requires the referenced agent to still be live.
func (h *StopAgentHandler) OnApproval(t *tx.Transaction, batch []*tx.Transaction, _ *block.Block) error {
	var ud tx.UnlockData
	if err := t.DecodeData(&ud); err != nil {
		return err
	}
	if err := checkBatchUnlock(t, ud, batch); err != nil {
		return err
	}
	agent, err := h.store.GetAgent(ud.TxHash)
	if err != nil {
		return err
	}
	if !agent.Live() {
		return fmt.Errorf("%w: agent %s already stopped", ErrAgentNotFound, ud.TxHash.Short())
	}
	return nil
}

// OnCommit marks the agent and its deposits deleted and unlocks the
// deposit outputs.
func (h *StopAgentHandler) OnCommit(t *tx.Transaction, blk *block.Block, _ *ledger.Notices) error {
	var ud tx.UnlockData
	if err := t.DecodeData(&ud); err != nil {
		return err
	}
	deps, err := h.store.StopAgent(ud.TxHash, t.Hash(), blk.Height())
	if err != nil {
		return err
	}
	for _, d := range deps {
		if _, err := h.outputs.UnlockTx(d.TxHash); err != nil && !errors.Is(err, utxo.ErrNotFound) {
			return err
		}
	}
	log.Consensus.Info().
		Str("agent", ud.TxHash.Short()).
		Int("deposits", len(deps)).
		Msg("Agent stopped")
	return nil
}

// OnRollback restores the agent and its deposits and locks the deposit
// outputs again.
func (h *StopAgentHandler) OnRollback(t *tx.Transaction, _ *block.Block) error {
	var ud tx.UnlockData
	if err := t.DecodeData(&ud); err != nil {
		return err
	}
	deps, err := h.store.RestoreAgent(ud.TxHash, t.Hash())
	if err != nil {
		return err
	}
	for _, d := range deps {
		if _, err := h.outputs.LockTx(d.TxHash); err != nil && !errors.Is(err, utxo.ErrNotFound) {
			return err
		}
	}
	return nil
}

// checkBatchUnlock rejects t when another transaction of the same kind in
// batch releases the same target.
func checkBatchUnlock(t *tx.Transaction, ud tx.UnlockData, batch []*tx.Transaction) error {
	hash := t.Hash()
	for _, other := range batch {
		if other.Type != t.Type || other.Hash() == hash {
			continue
		}
		var oud tx.UnlockData
		if other.DecodeData(&oud) != nil {
			continue
		}
		if oud.TxHash == ud.TxHash {
			return fmt.Errorf("%w: %s also released by %s", ErrBatchDuplicate, ud.TxHash.Short(), other.Hash().Short())
		}
	}
	return nil
}
