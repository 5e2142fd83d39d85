package utxo

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Commitment computes a merkle root over every output in the store,
// statuses included. Two stores hold the same ledger state exactly when
// their commitments match. Returns a zero hash for an empty store.
func Commitment(store *Store) (types.Hash, error) {
	var hashes []types.Hash

	err := store.ForEach(func(o *Output) error {
		hashes = append(hashes, hashOutput(o))
		return nil
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("output commitment: %w", err)
	}

	if len(hashes) == 0 {
		return types.Hash{}, nil
	}

	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].Compare(hashes[j]) < 0
	})

	return block.ComputeMerkleRoot(hashes), nil
}

// hashOutput produces a deterministic BLAKE3 hash of an output.
// Format: txid(32) | index(4) | address(20) | value(8) | lock_time(8) | status(1) | spent_by(32)
func hashOutput(o *Output) types.Hash {
	buf := make([]byte, 0, 105)
	buf = append(buf, o.Outpoint.TxID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, o.Outpoint.Index)
	buf = append(buf, o.Address[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, o.Value)
	buf = binary.LittleEndian.AppendUint64(buf, o.LockTime)
	buf = append(buf, byte(o.Status))
	buf = append(buf, o.SpentBy[:]...)
	return crypto.Hash(buf)
}
