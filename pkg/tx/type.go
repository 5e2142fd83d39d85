package tx

import (
	"fmt"
	"strconv"
)

// Type tags a transaction kind. The set is open: new kinds are added by
// defining them in a ledger registry with their parent kind.
type Type uint16

// Built-in transaction kinds.
const (
	// TypeCoin is the abstract root of every coin-bearing kind. No
	// transaction carries it directly.
	TypeCoin Type = 0

	TypeCoinBase    Type = 1 // Block reward.
	TypeTransfer    Type = 2
	TypeLock        Type = 3 // Creates a time-locked or consensus-locked output.
	TypeUnlock      Type = 4 // Abstract: releases consensus-locked outputs.
	TypeSmallChange Type = 5 // Change consolidation.

	TypeRegisterAgent Type = 90
	TypeJoinConsensus Type = 91
	TypeCancelDeposit Type = 92
	TypeStopAgent     Type = 95
)

var typeNames = map[Type]string{
	TypeCoin:          "coin",
	TypeCoinBase:      "coinbase",
	TypeTransfer:      "transfer",
	TypeLock:          "lock",
	TypeUnlock:        "unlock",
	TypeSmallChange:   "small_change",
	TypeRegisterAgent: "register_agent",
	TypeJoinConsensus: "join_consensus",
	TypeCancelDeposit: "cancel_deposit",
	TypeStopAgent:     "stop_agent",
}

// String returns the kind name, or "type(N)" for kinds without a name.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint16(t))
}

// ParseType resolves a kind name such as "transfer", or a decimal kind
// number, to a Type.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown transaction type %q", s)
	}
	return Type(n), nil
}

// Status is a transaction's position in the ledger lifecycle.
type Status uint8

const (
	// StatusCached is the initial status: known but not yet agreed.
	StatusCached Status = iota
	// StatusAgreed means conflict detection passed; eligible for a block.
	StatusAgreed
	// StatusConfirmed means the effects are applied as part of a block.
	StatusConfirmed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusCached:
		return "cached"
	case StatusAgreed:
		return "agreed"
	case StatusConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}
