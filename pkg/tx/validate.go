package tx

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Limits on transaction shape.
const (
	MaxRemarkLength = 100 // bytes
	MaxTxInputs     = 2500
	MaxTxOutputs    = 2500
)

// Validation errors.
var (
	ErrDuplicateInput = errors.New("duplicate input")
	ErrOutputOverflow = errors.New("output values overflow")
	ErrZeroOutput     = errors.New("output value is zero")
	ErrZeroAddress    = errors.New("output address is zero")
	ErrRemarkTooLong  = errors.New("remark too long")
	ErrRemarkEncoding = errors.New("remark is not valid utf-8")
	ErrTooManyInputs  = errors.New("too many inputs")
	ErrTooManyOutputs = errors.New("too many outputs")
	ErrMissingSig     = errors.New("input missing signature")
	ErrInvalidSig     = errors.New("invalid signature")
	ErrWrongSigner    = errors.New("signer does not own input")
	ErrNoPayload      = errors.New("transaction has no payload")
	ErrTimeNotSet     = errors.New("transaction time is zero")
)

// Validate checks transaction structure. It does not consult the output
// store: whether inputs exist and are spendable is decided at conflict
// detection and commit time.
func (tx *Transaction) Validate() error {
	if tx.Time == 0 {
		return ErrTimeNotSet
	}
	if len(tx.Remark) > MaxRemarkLength {
		return fmt.Errorf("%w: %d bytes, max %d", ErrRemarkTooLong, len(tx.Remark), MaxRemarkLength)
	}
	if !utf8.ValidString(tx.Remark) {
		return ErrRemarkEncoding
	}
	if len(tx.Inputs) > MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(tx.Inputs), MaxTxInputs)
	}
	if len(tx.Outputs) > MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(tx.Outputs), MaxTxOutputs)
	}

	seen := make(map[types.Outpoint]bool, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true
	}

	for i, out := range tx.Outputs {
		if out.Value == 0 {
			return fmt.Errorf("output %d: %w", i, ErrZeroOutput)
		}
		if out.Address.IsZero() {
			return fmt.Errorf("output %d: %w", i, ErrZeroAddress)
		}
	}
	if _, err := tx.TotalOutputValue(); err != nil {
		return err
	}
	return nil
}

// VerifySignatures checks every input signature against the transaction
// hash. ownerOf returns the address owning a referenced outpoint; the
// signer's public key must hash to that address.
func (tx *Transaction) VerifySignatures(ownerOf func(types.Outpoint) (types.Address, error)) error {
	hash := tx.Hash()
	for i, in := range tx.Inputs {
		if len(in.Signature) == 0 || len(in.PubKey) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingSig)
		}
		if !crypto.VerifySignature(hash, in.Signature, in.PubKey) {
			return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
		owner, err := ownerOf(in.PrevOut)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if crypto.AddressFromPubKey(in.PubKey) != owner {
			return fmt.Errorf("input %d: %w", i, ErrWrongSigner)
		}
	}
	return nil
}
