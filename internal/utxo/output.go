// Package utxo manages the output store: every coin-bearing output the
// ledger knows about together with its spend status.
package utxo

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Store errors.
var (
	ErrNotFound          = errors.New("output not found")
	ErrInvalidTransition = errors.New("invalid output status transition")
	ErrAlreadyExists     = errors.New("output already exists")
	ErrStore             = errors.New("output store failure")
)

// Status is the spend status of an output.
type Status uint8

const (
	StatusUnspent Status = iota
	StatusSpent
	// StatusConsensusLocked holds an output as a staking deposit.
	StatusConsensusLocked
	// StatusTimeLocked outputs become spendable once LockTime has passed.
	StatusTimeLocked
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusUnspent:
		return "unspent"
	case StatusSpent:
		return "spent"
	case StatusConsensusLocked:
		return "consensus_locked"
	case StatusTimeLocked:
		return "time_locked"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Output is a stored unit of value.
type Output struct {
	Outpoint types.Outpoint `json:"outpoint"`
	Address  types.Address  `json:"address"`
	Value    uint64         `json:"value"`
	Height   uint64         `json:"height"`
	Time     uint64         `json:"time"` // creation, unix ms
	LockTime uint64         `json:"lock_time,omitempty"`
	Status   Status         `json:"status"`
	SpentBy  types.Hash     `json:"spent_by,omitempty"`
	// PrevStatus is the status held before the output was spent. A
	// deposit released after creation is Unspent here, not ConsensusLocked.
	PrevStatus Status `json:"prev_status,omitempty"`
}

// NewOutput builds the stored form of output index of a transaction.
// The initial status follows the output's lock time.
func NewOutput(op types.Outpoint, out tx.Output, height, time uint64) *Output {
	return &Output{
		Outpoint: op,
		Address:  out.Address,
		Value:    out.Value,
		Height:   height,
		Time:     time,
		LockTime: out.LockTime,
		Status:   initialStatus(out.LockTime),
	}
}

// initialStatus is the status of a fresh output.
func initialStatus(lockTime uint64) Status {
	switch {
	case lockTime == tx.LockConsensus:
		return StatusConsensusLocked
	case lockTime != 0:
		return StatusTimeLocked
	default:
		return StatusUnspent
	}
}

// Spendable reports whether the output may be consumed at now (unix ms).
func (o *Output) Spendable(now uint64) bool {
	switch o.Status {
	case StatusUnspent:
		return true
	case StatusTimeLocked:
		return o.LockTime <= now
	default:
		return false
	}
}

// Locked reports whether the output is held by a consensus deposit or an
// unexpired time lock at now.
func (o *Output) Locked(now uint64) bool {
	switch o.Status {
	case StatusConsensusLocked:
		return true
	case StatusTimeLocked:
		return o.LockTime > now
	default:
		return false
	}
}

// spend marks the output consumed by spender, remembering its status.
func (o *Output) spend(spender types.Hash) {
	o.PrevStatus = o.Status
	o.Status = StatusSpent
	o.SpentBy = spender
}

// unspend returns a spent output to the status it held before spend.
func (o *Output) unspend() {
	o.Status = o.PrevStatus
	o.PrevStatus = StatusUnspent
	o.SpentBy = types.Hash{}
}
