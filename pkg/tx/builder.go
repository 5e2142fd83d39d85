package tx

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx  *Transaction
	err error
}

// NewBuilder creates a builder for a transaction of the given kind.
func NewBuilder(t Type) *Builder {
	return &Builder{tx: &Transaction{Type: t}}
}

// SetTime sets the creation time (unix milliseconds).
func (b *Builder) SetTime(ms uint64) *Builder {
	b.tx.Time = ms
	return b
}

// SetRemark sets the free-form remark.
func (b *Builder) SetRemark(remark string) *Builder {
	b.tx.Remark = remark
	return b
}

// AddInput adds an input referencing a previous output.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut})
	return b
}

// AddOutput adds an unlocked output.
func (b *Builder) AddOutput(addr types.Address, value uint64) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Address: addr, Value: value})
	return b
}

// AddLockedOutput adds an output that cannot be spent before lockTime
// (unix ms), or until released when lockTime is LockConsensus.
func (b *Builder) AddLockedOutput(addr types.Address, value, lockTime uint64) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Address: addr, Value: value, LockTime: lockTime})
	return b
}

// SetData sets the type-specific payload. Encoding errors surface from Build.
func (b *Builder) SetData(v any) *Builder {
	if err := b.tx.SetData(v); err != nil && b.err == nil {
		b.err = err
	}
	return b
}

// Sign signs every input with the given key (single-owner spend).
func (b *Builder) Sign(key *crypto.PrivateKey) error {
	return b.SignMulti(func(types.Outpoint) *crypto.PrivateKey { return key })
}

// SignMulti signs each input with the key returned by keyFor for its outpoint.
func (b *Builder) SignMulti(keyFor func(types.Outpoint) *crypto.PrivateKey) error {
	hash := b.tx.Hash()
	for i := range b.tx.Inputs {
		key := keyFor(b.tx.Inputs[i].PrevOut)
		if key == nil {
			return fmt.Errorf("input %d: no key for %s", i, b.tx.Inputs[i].PrevOut)
		}
		sig, err := key.Sign(hash)
		if err != nil {
			return fmt.Errorf("sign input %d: %w", i, err)
		}
		b.tx.Inputs[i].Signature = sig
		b.tx.Inputs[i].PubKey = key.PublicKey()
	}
	return nil
}

// Build returns the constructed transaction in the Cached status.
func (b *Builder) Build() (*Transaction, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.tx.Status = StatusCached
	return b.tx, nil
}
