// Package block defines the containing block passed to ledger hooks.
package block

import (
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Block is an ordered batch of transactions at a height.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock creates a block and fills in the header's merkle root.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	b := &Block{Header: header, Transactions: txs}
	if header != nil {
		header.MerkleRoot = b.ComputeMerkleRoot()
	}
	return b
}

// Height returns the block height, or 0 for a nil block or header.
func (b *Block) Height() uint64 {
	if b == nil || b.Header == nil {
		return 0
	}
	return b.Header.Height
}

// Time returns the block timestamp (unix ms), or 0 if unknown.
func (b *Block) Time() uint64 {
	if b == nil || b.Header == nil {
		return 0
	}
	return b.Header.Timestamp
}

// Hash returns the header hash.
func (b *Block) Hash() types.Hash {
	if b == nil || b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

// ComputeMerkleRoot returns the merkle root over the block's transaction hashes.
func (b *Block) ComputeMerkleRoot() types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return ComputeMerkleRoot(hashes)
}
