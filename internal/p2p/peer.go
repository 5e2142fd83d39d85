package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Peer is a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string // one of the Source constants, empty if inbound
}
