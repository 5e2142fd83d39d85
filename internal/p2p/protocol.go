package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

// GossipSub topic names.
const (
	TopicTransactions = "/klingnet-ledger/tx/1.0.0"
	TopicNotices      = "/klingnet-ledger/notice/1.0.0"
)

// MaxMessageSize bounds a single gossip message.
const MaxMessageSize = 1 << 20

// Peer sources.
const (
	SourceSeed   = "seed"
	SourceMDNS   = "mdns"
	SourceDHT    = "dht"
	SourceGossip = "gossip"
	SourceStore  = "store"
)

// decodeTx parses and structurally checks a gossiped transaction.
func decodeTx(data []byte) (*tx.Transaction, error) {
	var t tx.Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tx %s: %w", t.Hash().Short(), err)
	}
	return &t, nil
}

// decodeNotice parses a gossiped notice.
func decodeNotice(data []byte) (*ledger.Notice, error) {
	var n ledger.Notice
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode notice: %w", err)
	}
	if n.Kind == "" {
		return nil, fmt.Errorf("decode notice: empty kind")
	}
	return &n, nil
}
