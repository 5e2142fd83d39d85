// Package tx defines ledger transactions, their kinds and lifecycle status.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// LockConsensus marks an output held as a consensus deposit. Such an
// output stays locked until an unlock transaction releases it.
const LockConsensus = math.MaxUint64

// Transaction is a unit of ledger mutation.
type Transaction struct {
	Type    Type            `json:"type"`
	Time    uint64          `json:"time"` // Creation time, unix milliseconds.
	Remark  string          `json:"remark,omitempty"`
	Inputs  []Input         `json:"inputs"`
	Outputs []Output        `json:"outputs"`
	Data    json.RawMessage `json:"data,omitempty"` // Type-specific payload.

	// Lifecycle state; not part of the hash.
	Status      Status `json:"status"`
	BlockHeight uint64 `json:"block_height,omitempty"`
}

// Input references an output being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature"`
	PubKey    []byte         `json:"pubkey"`
}

// inputJSON is the JSON representation of Input with hex-encoded byte fields.
type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature string         `json:"signature,omitempty"`
	PubKey    string         `json:"pubkey,omitempty"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	return json.Marshal(inputJSON{
		PrevOut:   in.PrevOut,
		Signature: hex.EncodeToString(in.Signature),
		PubKey:    hex.EncodeToString(in.PubKey),
	})
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	var err error
	if j.Signature != "" {
		if in.Signature, err = hex.DecodeString(j.Signature); err != nil {
			return fmt.Errorf("signature: %w", err)
		}
	}
	if j.PubKey != "" {
		if in.PubKey, err = hex.DecodeString(j.PubKey); err != nil {
			return fmt.Errorf("pubkey: %w", err)
		}
	}
	return nil
}

// Output creates a new unit of value owned by Address.
type Output struct {
	Address  types.Address `json:"address"`
	Value    uint64        `json:"value"`
	LockTime uint64        `json:"lock_time,omitempty"` // 0, LockConsensus, or unlock time in unix ms.
}

// IsConsensusLocked reports whether the output is a consensus deposit.
func (o Output) IsConsensusLocked() bool {
	return o.LockTime == LockConsensus
}

// IsTimeLocked reports whether the output carries an unlock time.
func (o Output) IsTimeLocked() bool {
	return o.LockTime != 0 && o.LockTime != LockConsensus
}

// Hash computes the transaction ID (BLAKE3 of SigningBytes).
func (tx *Transaction) Hash() types.Hash {
	return crypto.Hash(tx.SigningBytes())
}

// SigningBytes returns the canonical byte representation used for hashing
// and signing. Signatures, status and block height are excluded.
// Format: type(2) | time(8) | remark_len(4) remark | input_count(4) [prevout(36)]... |
// output_count(4) [addr(20) value(8) lock_time(8)]... | data_len(4) data
func (tx *Transaction) SigningBytes() []byte {
	buf := make([]byte, 0, 64+36*len(tx.Inputs)+36*len(tx.Outputs)+len(tx.Remark)+len(tx.Data))

	buf = binary.LittleEndian.AppendUint16(buf, uint16(tx.Type))
	buf = binary.LittleEndian.AppendUint64(buf, tx.Time)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Remark)))
	buf = append(buf, tx.Remark...)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = append(buf, out.Address[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = binary.LittleEndian.AppendUint64(buf, out.LockTime)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Data)))
	buf = append(buf, tx.Data...)
	return buf
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (tx *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, ErrOutputOverflow
		}
		total += out.Value
	}
	return total, nil
}

// Outpoints returns the outpoints this transaction creates.
func (tx *Transaction) Outpoints() []types.Outpoint {
	h := tx.Hash()
	ops := make([]types.Outpoint, len(tx.Outputs))
	for i := range tx.Outputs {
		ops[i] = types.Outpoint{TxID: h, Index: uint32(i)}
	}
	return ops
}

// DecodeData unmarshals the type-specific payload into v.
func (tx *Transaction) DecodeData(v any) error {
	if len(tx.Data) == 0 {
		return ErrNoPayload
	}
	if err := json.Unmarshal(tx.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", tx.Type, err)
	}
	return nil
}

// SetData marshals v as the type-specific payload.
func (tx *Transaction) SetData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", tx.Type, err)
	}
	tx.Data = data
	return nil
}

// UnlockData is the payload of unlock-kind transactions: the hash of the
// transaction whose consensus-locked outputs are released.
type UnlockData struct {
	TxHash types.Hash `json:"tx_hash"`
}
