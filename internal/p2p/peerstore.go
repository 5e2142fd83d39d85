package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

const (
	staleThreshold    = 24 * time.Hour
	persistInterval   = 5 * time.Minute
	maxPersistedPeers = 500
)

// PeerRecord is a persisted peer entry.
type PeerRecord struct {
	ID       string   `json:"id"`        // base58 peer ID
	Addrs    []string `json:"addrs"`     // multiaddr strings
	LastSeen int64    `json:"last_seen"` // unix seconds
	Source   string   `json:"source"`
}

// AddrInfo decodes the record into dialable peer info.
func (r PeerRecord) AddrInfo() (*peer.AddrInfo, error) {
	id, err := peer.Decode(r.ID)
	if err != nil {
		return nil, fmt.Errorf("decode peer id: %w", err)
	}
	info := &peer.AddrInfo{ID: id}
	for _, s := range r.Addrs {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			continue
		}
		info.Addrs = append(info.Addrs, ma)
	}
	if len(info.Addrs) == 0 {
		return nil, fmt.Errorf("peer %s has no usable address", shortID(id))
	}
	return info, nil
}

// PeerStore persists peer records so a restarted node can reconnect
// without seeds.
type PeerStore struct {
	db storage.DB
}

// NewPeerStore stores records in db under the "peer/" namespace.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{db: storage.NewPrefixDB(db, []byte("peer/"))}
}

// Save writes rec. New peers are skipped once the store is full.
func (ps *PeerStore) Save(rec PeerRecord) error {
	key := []byte(rec.ID)
	exists, err := ps.db.Has(key)
	if err != nil {
		return fmt.Errorf("check peer exists: %w", err)
	}
	if !exists {
		count, err := ps.Count()
		if err != nil {
			return err
		}
		if count >= maxPersistedPeers {
			return nil
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal peer record: %w", err)
	}
	return ps.db.Put(key, data)
}

// LoadAll returns every decodable record.
func (ps *PeerStore) LoadAll() ([]PeerRecord, error) {
	var records []PeerRecord
	err := ps.db.ForEach(nil, func(_, value []byte) error {
		var rec PeerRecord
		if json.Unmarshal(value, &rec) == nil {
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate peer records: %w", err)
	}
	return records, nil
}

// Delete removes a peer record.
func (ps *PeerStore) Delete(id peer.ID) error {
	return ps.db.Delete([]byte(id.String()))
}

// PruneStale removes records last seen before now-threshold and records
// that no longer decode. It returns the number removed.
func (ps *PeerStore) PruneStale(now time.Time, threshold time.Duration) (int, error) {
	cutoff := now.Add(-threshold).Unix()
	var stale [][]byte
	err := ps.db.ForEach(nil, func(key, value []byte) error {
		var rec PeerRecord
		if json.Unmarshal(value, &rec) != nil || rec.LastSeen < cutoff {
			stale = append(stale, append([]byte(nil), key...))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate for prune: %w", err)
	}

	batch := storage.NewBatch(ps.db)
	for _, k := range stale {
		if err := batch.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("delete stale peers: %w", err)
	}
	return len(stale), nil
}

// Count returns the number of persisted records.
func (ps *PeerStore) Count() (int, error) {
	count := 0
	err := ps.db.ForEach(nil, func(_, _ []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count peers: %w", err)
	}
	return count, nil
}
