// Package ledger drives transactions through their lifecycle and exposes
// the ledger's public operations.
package ledger

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/utxo"
	"github.com/Klingon-tech/klingnet-ledger/internal/wallet"
)

// Ledger error kinds. Lower-layer errors are wrapped so errors.Is matches
// both the ledger kind and the original cause.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInsufficientFunds = wallet.ErrInsufficientFunds
	ErrConflict          = errors.New("transaction conflict")
	ErrDuplicateTx       = errors.New("transaction already stored")
	ErrHandlerFailure    = errors.New("type handler failed")
	ErrStoreUnavailable  = errors.New("store unavailable")

	// ErrRollbackInvariant means a committed transaction could not be
	// undone. The ledger state can no longer be trusted.
	ErrRollbackInvariant = errors.New("rollback invariant violated")

	ErrUnknownType     = errors.New("unknown transaction type")
	ErrTypeDefined     = errors.New("transaction type already defined")
	ErrHandlerExists   = errors.New("handler already registered for type")
	ErrNoSigner        = errors.New("no signing key for address")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidLockTime = errors.New("invalid unlock time")
)

// storeErr maps a lower-layer store error onto the ledger error kinds.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, utxo.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, utxo.ErrInvalidTransition):
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	case errors.Is(err, utxo.ErrStore), errors.Is(err, wallet.ErrStoreUnavailable):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	default:
		return err
	}
}
