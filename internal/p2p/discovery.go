package p2p

import (
	"github.com/libp2p/go-libp2p/core/peer"
)

// discoveryNotifee dials peers found by mDNS.
type discoveryNotifee struct {
	node *Node
}

// HandlePeerFound is called when a peer is discovered via mDNS.
func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == d.node.host.ID() || d.node.atCapacity() {
		return
	}
	d.node.dial(pi, SourceMDNS)
}
