// Package consensus keeps the agent and deposit records that consensus
// transactions create, and the type handlers that drive them through the
// ledger's commit and rollback protocol.
package consensus

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Agent limits.
const (
	MaxAgentNameLength = 32
	MinCommissionRate  = 10  // percent
	MaxCommissionRate  = 100 // percent
)

// Payload and record errors.
var (
	ErrInvalidAgent    = errors.New("invalid agent")
	ErrAgentExists     = errors.New("agent already registered")
	ErrAgentNotFound   = errors.New("agent not found")
	ErrDepositNotFound = errors.New("deposit not found")
	ErrBatchDuplicate  = errors.New("duplicate in batch")
	ErrNoDeposit       = errors.New("no consensus-locked output")
	ErrStore           = errors.New("agent store failure")
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus uint8

const (
	// AgentWaiting agents are registered but not yet packing blocks.
	AgentWaiting AgentStatus = iota
	AgentActive
)

// String returns the status name.
func (s AgentStatus) String() string {
	switch s {
	case AgentWaiting:
		return "waiting"
	case AgentActive:
		return "active"
	default:
		return fmt.Sprintf("agent_status(%d)", uint8(s))
	}
}

// Agent is the payload of a register-agent transaction.
type Agent struct {
	AgentAddress   types.Address `json:"agent_address"`
	RewardAddress  types.Address `json:"reward_address"`
	PackingAddress types.Address `json:"packing_address"`
	Name           string        `json:"name"`
	CommissionRate uint64        `json:"commission_rate"`
}

// Validate checks the payload on its own.
func (a *Agent) Validate() error {
	if a.AgentAddress.IsZero() || a.RewardAddress.IsZero() || a.PackingAddress.IsZero() {
		return fmt.Errorf("%w: zero address", ErrInvalidAgent)
	}
	if a.AgentAddress == a.PackingAddress || a.RewardAddress == a.PackingAddress {
		return fmt.Errorf("%w: packing address must differ from agent and reward address", ErrInvalidAgent)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidAgent)
	}
	if len(a.Name) > MaxAgentNameLength {
		return fmt.Errorf("%w: name is %d bytes, max %d", ErrInvalidAgent, len(a.Name), MaxAgentNameLength)
	}
	if a.CommissionRate < MinCommissionRate || a.CommissionRate > MaxCommissionRate {
		return fmt.Errorf("%w: commission rate %d outside [%d, %d]",
			ErrInvalidAgent, a.CommissionRate, MinCommissionRate, MaxCommissionRate)
	}
	return nil
}

// AgentRecord is a stored agent. TxHash is the hash of the registering
// transaction and identifies the agent.
type AgentRecord struct {
	Agent
	TxHash    types.Hash  `json:"tx_hash"`
	Deposit   uint64      `json:"deposit"`
	Height    uint64      `json:"height"`
	Status    AgentStatus `json:"status"`
	DelHeight uint64      `json:"del_height,omitempty"`
	DeletedBy types.Hash  `json:"deleted_by"`
}

// Live reports whether the agent has not been stopped.
func (r *AgentRecord) Live() bool {
	return r.DeletedBy.IsZero()
}

// Deposit is the payload of a join-consensus transaction.
type Deposit struct {
	AgentHash types.Hash    `json:"agent_hash"`
	Address   types.Address `json:"address"`
}

// DepositRecord is a stored deposit, identified by its joining transaction.
type DepositRecord struct {
	Deposit
	TxHash    types.Hash `json:"tx_hash"`
	Amount    uint64     `json:"amount"`
	Height    uint64     `json:"height"`
	DelHeight uint64     `json:"del_height,omitempty"`
	DeletedBy types.Hash `json:"deleted_by"`
}

// Live reports whether the deposit has not been cancelled or stopped.
func (r *DepositRecord) Live() bool {
	return r.DeletedBy.IsZero()
}
