package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Key prefixes for transaction records.
var (
	prefixTx        = []byte("t/")  // t/<hash> -> record JSON
	prefixTxAddr    = []byte("ta/") // ta/<address><hash> -> empty
	prefixTxHeight  = []byte("th/") // th/<height><hash> -> empty
	prefixLocal     = []byte("l/")  // l/<hash> -> local entry JSON
	prefixLocalAddr = []byte("la/") // la/<address><hash> -> empty

	keyBestHeight = []byte("m/best")
)

// Direction tells whether a wallet transaction spent the node's funds.
type Direction uint8

const (
	// Receive is any own transaction that consumed none of the node's outputs.
	Receive Direction = iota
	// Send is a transaction with at least one input owned by the node.
	Send
)

// String returns the direction name.
func (d Direction) String() string {
	if d == Send {
		return "send"
	}
	return "receive"
}

// txRecord is the stored form of a transaction.
type txRecord struct {
	Tx        *tx.Transaction `json:"tx"`
	Addresses []types.Address `json:"addresses"` // owners of inputs and outputs
}

// LocalTx is an entry of the wallet index.
type LocalTx struct {
	Hash      types.Hash      `json:"hash"`
	Direction Direction       `json:"direction"`
	Addresses []types.Address `json:"addresses"` // own addresses involved
}

// TxStore persists transaction records, an address index over them and
// the local wallet index.
type TxStore struct {
	db storage.DB
}

// NewTxStore creates a transaction store backed by db.
func NewTxStore(db storage.DB) *TxStore {
	return &TxStore{db: db}
}

func hashKey(prefix []byte, h types.Hash) []byte {
	key := make([]byte, 0, len(prefix)+types.HashSize)
	key = append(key, prefix...)
	return append(key, h[:]...)
}

func addrHashKey(prefix []byte, addr types.Address, h types.Hash) []byte {
	key := make([]byte, 0, len(prefix)+types.AddressSize+types.HashSize)
	key = append(key, prefix...)
	key = append(key, addr[:]...)
	return append(key, h[:]...)
}

func heightKey(height uint64, h types.Hash) []byte {
	key := make([]byte, 0, len(prefixTxHeight)+8+types.HashSize)
	key = append(key, prefixTxHeight...)
	key = binary.BigEndian.AppendUint64(key, height)
	return append(key, h[:]...)
}

// SaveTxList writes the transactions and their indexes in one batch.
// addrs lists the addresses each transaction touches. A transaction that
// is already stored keeps its stored status and block height.
func (s *TxStore) SaveTxList(txs []*tx.Transaction, addrs [][]types.Address) error {
	return s.saveTxList(txs, addrs, false)
}

// UpdateTxList is SaveTxList for lifecycle steps: the status and block
// height of each transaction replace the stored ones.
func (s *TxStore) UpdateTxList(txs []*tx.Transaction, addrs [][]types.Address) error {
	return s.saveTxList(txs, addrs, true)
}

func (s *TxStore) saveTxList(txs []*tx.Transaction, addrs [][]types.Address, setStatus bool) error {
	b := storage.NewBatch(s.db)
	for i, t := range txs {
		var touched []types.Address
		if i < len(addrs) {
			touched = addrs[i]
		}
		if err := s.writeRecord(b, &txRecord{Tx: t, Addresses: touched}, setStatus); err != nil {
			return err
		}
	}
	return commitBatch(b)
}

func (s *TxStore) writeRecord(b storage.Batch, rec *txRecord, setStatus bool) error {
	h := rec.Tx.Hash()
	old, err := s.getRecord(h)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if old != nil && !setStatus {
		kept := *rec.Tx
		kept.Status = old.Tx.Status
		kept.BlockHeight = old.Tx.BlockHeight
		rec.Tx = &kept
	}
	if old != nil && old.Tx.BlockHeight != 0 && old.Tx.BlockHeight != rec.Tx.BlockHeight {
		if err := b.Delete(heightKey(old.Tx.BlockHeight, h)); err != nil {
			return storeErr(err)
		}
	}
	if old != nil && len(rec.Addresses) == 0 {
		rec.Addresses = old.Addresses
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal tx %s: %w", h.Short(), err)
	}
	if err := b.Put(hashKey(prefixTx, h), data); err != nil {
		return fmt.Errorf("%w: put tx: %w", ErrStoreUnavailable, err)
	}
	for _, a := range rec.Addresses {
		if err := b.Put(addrHashKey(prefixTxAddr, a, h), []byte{}); err != nil {
			return fmt.Errorf("%w: put tx index: %w", ErrStoreUnavailable, err)
		}
	}
	if rec.Tx.BlockHeight != 0 {
		if err := b.Put(heightKey(rec.Tx.BlockHeight, h), []byte{}); err != nil {
			return fmt.Errorf("%w: put height index: %w", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (s *TxStore) getRecord(h types.Hash) (*txRecord, error) {
	data, err := s.db.Get(hashKey(prefixTx, h))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: tx %s", ErrNotFound, h.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get tx: %w", ErrStoreUnavailable, err)
	}
	var rec txRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal tx %s: %w", h.Short(), err)
	}
	return &rec, nil
}

// GetTx returns the stored transaction with its latest status.
func (s *TxStore) GetTx(h types.Hash) (*tx.Transaction, error) {
	rec, err := s.getRecord(h)
	if err != nil {
		return nil, err
	}
	return rec.Tx, nil
}

// UpdateStatus rewrites t's record with its current status and height.
func (s *TxStore) UpdateStatus(t *tx.Transaction) error {
	b := storage.NewBatch(s.db)
	if err := s.writeRecord(b, &txRecord{Tx: t}, true); err != nil {
		return err
	}
	return commitBatch(b)
}

// GetTxsByAddress returns the transactions touching addr, oldest first.
func (s *TxStore) GetTxsByAddress(addr types.Address) ([]*tx.Transaction, error) {
	prefix := append(append([]byte{}, prefixTxAddr...), addr[:]...)
	return s.scanHashes(prefix)
}

// GetTxsAtHeight returns the transactions confirmed at height.
func (s *TxStore) GetTxsAtHeight(height uint64) ([]*tx.Transaction, error) {
	prefix := binary.BigEndian.AppendUint64(append([]byte{}, prefixTxHeight...), height)
	return s.scanHashes(prefix)
}

// scanHashes loads the transactions whose hash ends each key under prefix.
func (s *TxStore) scanHashes(prefix []byte) ([]*tx.Transaction, error) {
	var hashes []types.Hash
	err := s.db.ForEach(prefix, func(key, _ []byte) error {
		if len(key) < len(prefix)+types.HashSize {
			return nil // Malformed key, skip.
		}
		var h types.Hash
		copy(h[:], key[len(key)-types.HashSize:])
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan tx index: %w", ErrStoreUnavailable, err)
	}

	txs := make([]*tx.Transaction, 0, len(hashes))
	for _, h := range hashes {
		t, err := s.GetTx(h)
		if errors.Is(err, ErrNotFound) {
			continue // Stale index entry.
		}
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Time < txs[j].Time })
	return txs, nil
}

// DeleteTx removes a transaction record, its indexes and its wallet entry.
func (s *TxStore) DeleteTx(h types.Hash) error {
	rec, err := s.getRecord(h)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	keys := [][]byte{hashKey(prefixTx, h)}
	for _, a := range rec.Addresses {
		keys = append(keys, addrHashKey(prefixTxAddr, a, h))
	}
	if rec.Tx.BlockHeight != 0 {
		keys = append(keys, heightKey(rec.Tx.BlockHeight, h))
	}
	if local, err := s.GetLocalTx(h); err == nil {
		keys = append(keys, hashKey(prefixLocal, h))
		for _, a := range local.Addresses {
			keys = append(keys, addrHashKey(prefixLocalAddr, a, h))
		}
	}

	b := storage.NewBatch(s.db)
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return fmt.Errorf("%w: delete tx %s: %w", ErrStoreUnavailable, h.Short(), err)
		}
	}
	return commitBatch(b)
}

// SaveLocalList writes wallet index entries in one batch.
func (s *TxStore) SaveLocalList(entries []*LocalTx) error {
	b := storage.NewBatch(s.db)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal local tx %s: %w", e.Hash.Short(), err)
		}
		if err := b.Put(hashKey(prefixLocal, e.Hash), data); err != nil {
			return fmt.Errorf("%w: put local tx: %w", ErrStoreUnavailable, err)
		}
		for _, a := range e.Addresses {
			if err := b.Put(addrHashKey(prefixLocalAddr, a, e.Hash), []byte{}); err != nil {
				return fmt.Errorf("%w: put local index: %w", ErrStoreUnavailable, err)
			}
		}
	}
	return commitBatch(b)
}

// GetLocalTx returns the wallet index entry for h.
func (s *TxStore) GetLocalTx(h types.Hash) (*LocalTx, error) {
	data, err := s.db.Get(hashKey(prefixLocal, h))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: local tx %s", ErrNotFound, h.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get local tx: %w", ErrStoreUnavailable, err)
	}
	var e LocalTx
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal local tx %s: %w", h.Short(), err)
	}
	return &e, nil
}

// GetLocalTxs returns the wallet index entries involving addr.
func (s *TxStore) GetLocalTxs(addr types.Address) ([]*LocalTx, error) {
	prefix := append(append([]byte{}, prefixLocalAddr...), addr[:]...)
	var out []*LocalTx
	err := s.db.ForEach(prefix, func(key, _ []byte) error {
		if len(key) < len(prefix)+types.HashSize {
			return nil
		}
		var h types.Hash
		copy(h[:], key[len(prefix):])
		e, err := s.GetLocalTx(h)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func commitBatch(b storage.Batch) error {
	if err := b.Commit(); err != nil {
		return fmt.Errorf("%w: commit batch: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// SetBestHeight records the height of the last applied block.
func (s *TxStore) SetBestHeight(height uint64) error {
	if err := s.db.Put(keyBestHeight, binary.BigEndian.AppendUint64(nil, height)); err != nil {
		return fmt.Errorf("%w: put best height: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// BestHeight returns the recorded best height. ok is false when no block
// has been applied yet.
func (s *TxStore) BestHeight() (height uint64, ok bool, err error) {
	data, err := s.db.Get(keyBestHeight)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: get best height: %w", ErrStoreUnavailable, err)
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("invalid best height record")
	}
	return binary.BigEndian.Uint64(data), true, nil
}
