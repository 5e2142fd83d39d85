package types

import "fmt"

// Outpoint identifies an output: the hash of the transaction that created
// it and its position in that transaction's output list.
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsZero returns true if the outpoint has a zero TxID and zero index.
func (o Outpoint) IsZero() bool {
	return o.TxID.IsZero() && o.Index == 0
}

// Less orders outpoints by transaction hash, then index.
func (o Outpoint) Less(other Outpoint) bool {
	if c := o.TxID.Compare(other.TxID); c != 0 {
		return c < 0
	}
	return o.Index < other.Index
}

// String returns "txid:index" in hex.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}
