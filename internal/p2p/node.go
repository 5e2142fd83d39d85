// Package p2p carries transactions and ledger notices between nodes over
// libp2p gossipsub.
package p2p

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
)

const (
	rendezvousFallback   = "klingnet-ledger"
	dhtDiscoveryInterval = 30 * time.Second
	seedRetryInterval    = 10 * time.Second
	peerConnectTimeout   = 5 * time.Second
	identityFile         = "node.key"
)

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	NoDiscover bool
	DHTServer  bool
	NetworkID  string     // isolates discovery per network
	DataDir    string     // holds the node identity; empty means ephemeral
	DB         storage.DB // peer persistence; nil disables it
}

// Node is a libp2p host with the ledger's gossip topics. It implements
// ledger.Broadcaster.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	config Config
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	topicTx     *pubsub.Topic
	topicNotice *pubsub.Topic
	subTx       *pubsub.Subscription
	subNotice   *pubsub.Subscription

	handlerMu     sync.RWMutex
	txHandler     func(peer.ID, *tx.Transaction)
	noticeHandler func(peer.ID, ledger.Notice)

	mu    sync.RWMutex
	peers map[peer.ID]*Peer

	peerStore *PeerStore   // nil if Config.DB is nil
	dht       *dht.IpfsDHT // nil if NoDiscover
	mdns      mdns.Service // nil if NoDiscover
	wg        sync.WaitGroup
}

var _ ledger.Broadcaster = (*Node)(nil)

// New creates a node. Nothing listens until Start.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config: cfg,
		logger: klog.P2P,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[peer.ID]*Peer),
	}
	if cfg.DB != nil {
		n.peerStore = NewPeerStore(cfg.DB)
	}
	return n
}

// ParseSeed turns a seed multiaddr with a /p2p/ component into peer info.
func ParseSeed(s string) (*peer.AddrInfo, error) {
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("parse seed %q: %w", s, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return nil, fmt.Errorf("seed %q: %w", s, err)
	}
	return info, nil
}

func (n *Node) rendezvous() string {
	if n.config.NetworkID != "" {
		return rendezvousFallback + "/" + n.config.NetworkID
	}
	return rendezvousFallback
}

// Start creates the host, joins the gossip topics and begins discovery.
func (n *Node) Start() error {
	seeds := make([]peer.AddrInfo, 0, len(n.config.Seeds))
	for _, s := range n.config.Seeds {
		info, err := ParseSeed(s)
		if err != nil {
			return err
		}
		seeds = append(seeds, *info)
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)),
	}
	if n.config.DataDir != "" {
		key, err := loadOrCreateIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(key))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h
	h.Network().Notify(&connNotifier{node: n})

	if !n.config.NoDiscover {
		if err := n.initDHT(); err != nil {
			h.Close()
			return fmt.Errorf("init dht: %w", err)
		}
	}

	ps, err := pubsub.NewGossipSub(n.ctx, h, pubsub.WithMaxMessageSize(MaxMessageSize))
	if err != nil {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	if err := n.joinTopics(); err != nil {
		n.closeDHT()
		h.Close()
		return err
	}

	n.goLoop(func() { n.readLoop(n.subTx, n.handleTxMessage) })
	n.goLoop(func() { n.readLoop(n.subNotice, n.handleNoticeMessage) })

	if len(seeds) > 0 {
		n.logger.Info().Int("seeds", len(seeds)).Msg("Connecting to seeds...")
		n.connectSeeds(seeds)
		n.goLoop(func() { n.retrySeeds(seeds) })
	}
	if n.peerStore != nil {
		n.goLoop(n.reconnectStored)
		n.goLoop(n.runPersistLoop)
	}
	if !n.config.NoDiscover {
		n.startMDNS()
		n.goLoop(n.runDHTDiscovery)
	}

	n.logger.Info().
		Str("id", shortID(h.ID())).
		Strs("addrs", n.Addrs()).
		Msg("P2P node started")
	return nil
}

// Stop shuts the node down. It is safe to call before Start.
func (n *Node) Stop() error {
	n.persistPeers()
	n.cancel()
	if n.subTx != nil {
		n.subTx.Cancel()
	}
	if n.subNotice != nil {
		n.subNotice.Cancel()
	}
	if n.mdns != nil {
		n.mdns.Close()
	}
	n.wg.Wait()
	n.closeDHT()
	if n.host != nil {
		return n.host.Close()
	}
	return nil
}

func (n *Node) goLoop(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

// Host returns the underlying libp2p host (nil before Start).
func (n *Node) Host() host.Host {
	return n.host
}

// ID returns the peer ID of this node.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the full multiaddrs of this node.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

// Connect dials a peer by full multiaddr.
func (n *Node) Connect(ctx context.Context, addr string) error {
	if n.host == nil {
		return ErrNotStarted
	}
	info, err := ParseSeed(addr)
	if err != nil {
		return err
	}
	if err := n.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("connect %s: %w", shortID(info.ID), err)
	}
	n.markPeer(info.ID, SourceSeed)
	return nil
}

// SetTxHandler registers a callback for incoming transactions. Only
// structurally valid transactions from other peers reach it.
func (n *Node) SetTxHandler(fn func(from peer.ID, t *tx.Transaction)) {
	n.handlerMu.Lock()
	n.txHandler = fn
	n.handlerMu.Unlock()
}

// SetNoticeHandler registers a callback for notices from other peers.
func (n *Node) SetNoticeHandler(fn func(from peer.ID, notice ledger.Notice)) {
	n.handlerMu.Lock()
	n.noticeHandler = fn
	n.handlerMu.Unlock()
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns a snapshot of connected peers.
func (n *Node) PeerList() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (n *Node) addPeer(id peer.ID) {
	n.markPeer(id, "")
}

// markPeer records a connected peer and fills in its source if unknown.
func (n *Node) markPeer(id peer.ID, source string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[id]
	if !ok {
		p = &Peer{ID: id, ConnectedAt: time.Now()}
		n.peers[id] = p
	}
	if p.Source == "" {
		p.Source = source
	}
}

func (n *Node) removePeer(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

func (n *Node) joinTopics() error {
	if err := n.pubsub.RegisterTopicValidator(TopicTransactions, n.validateTx); err != nil {
		return fmt.Errorf("register tx validator: %w", err)
	}
	if err := n.pubsub.RegisterTopicValidator(TopicNotices, n.validateNotice); err != nil {
		return fmt.Errorf("register notice validator: %w", err)
	}

	var err error
	if n.topicTx, err = n.pubsub.Join(TopicTransactions); err != nil {
		return fmt.Errorf("join tx topic: %w", err)
	}
	if n.topicNotice, err = n.pubsub.Join(TopicNotices); err != nil {
		return fmt.Errorf("join notice topic: %w", err)
	}
	if n.subTx, err = n.topicTx.Subscribe(); err != nil {
		return fmt.Errorf("subscribe tx: %w", err)
	}
	if n.subNotice, err = n.topicNotice.Subscribe(); err != nil {
		return fmt.Errorf("subscribe notice: %w", err)
	}
	return nil
}

func (n *Node) readLoop(sub *pubsub.Subscription, handler func(*pubsub.Message)) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return // Context cancelled.
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.safeHandle(handler, msg)
	}
}

func (n *Node) safeHandle(handler func(*pubsub.Message), msg *pubsub.Message) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Str("topic", msg.GetTopic()).Msg("Gossip handler panicked")
		}
	}()
	handler(msg)
}

// ── Seeds ───────────────────────────────────────────────────────────────

func (n *Node) connectSeeds(seeds []peer.AddrInfo) int {
	connected := 0
	for _, info := range seeds {
		ctx, cancel := context.WithTimeout(n.ctx, 2*peerConnectTimeout)
		err := n.host.Connect(ctx, info)
		cancel()
		if err != nil {
			n.logger.Warn().Str("peer", shortID(info.ID)).Err(err).Msg("Seed connect failed")
			continue
		}
		n.markPeer(info.ID, SourceSeed)
		n.logger.Info().Str("peer", shortID(info.ID)).Msg("Seed connected")
		connected++
	}
	return connected
}

// retrySeeds reconnects to the seeds whenever the node has no peers.
func (n *Node) retrySeeds(seeds []peer.AddrInfo) {
	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.PeerCount() == 0 {
				n.logger.Info().Int("seeds", len(seeds)).Msg("No peers, retrying seeds...")
				n.connectSeeds(seeds)
			}
		}
	}
}

// ── Discovery ───────────────────────────────────────────────────────────

func (n *Node) startMDNS() {
	svc := mdns.NewMdnsService(n.host, n.rendezvous(), &discoveryNotifee{node: n})
	if err := svc.Start(); err != nil {
		n.logger.Warn().Err(err).Msg("mDNS discovery unavailable")
		return
	}
	n.mdns = svc
}

func (n *Node) initDHT() error {
	mode := dht.ModeClient
	if n.config.DHTServer {
		mode = dht.ModeServer
	}
	kad, err := dht.New(n.ctx, n.host, dht.Mode(mode))
	if err != nil {
		return fmt.Errorf("create kad-dht: %w", err)
	}
	n.dht = kad
	return kad.Bootstrap(n.ctx)
}

func (n *Node) closeDHT() {
	if n.dht != nil {
		n.dht.Close()
		n.dht = nil
	}
}

func (n *Node) runDHTDiscovery() {
	if n.dht == nil {
		return
	}
	rd := drouting.NewRoutingDiscovery(n.dht)
	dutil.Advertise(n.ctx, rd, n.rendezvous())

	ticker := time.NewTicker(dhtDiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.findDHTPeers(rd)
		}
	}
}

func (n *Node) findDHTPeers(rd *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(n.ctx, 20*time.Second)
	defer cancel()

	peerCh, err := rd.FindPeers(ctx, n.rendezvous())
	if err != nil {
		n.logger.Debug().Err(err).Msg("DHT find peers failed")
		return
	}
	for p := range peerCh {
		if p.ID == n.host.ID() || len(p.Addrs) == 0 {
			continue
		}
		if n.atCapacity() {
			return
		}
		n.dial(p, SourceDHT)
	}
}

func (n *Node) atCapacity() bool {
	return n.config.MaxPeers > 0 && n.PeerCount() >= n.config.MaxPeers
}

func (n *Node) dial(info peer.AddrInfo, source string) {
	ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
	defer cancel()
	if err := n.host.Connect(ctx, info); err == nil {
		n.markPeer(info.ID, source)
	}
}

// ── Persistence ─────────────────────────────────────────────────────────

func (n *Node) persistPeers() {
	if n.peerStore == nil || n.host == nil {
		return
	}
	now := time.Now().Unix()
	for _, p := range n.PeerList() {
		addrs := n.host.Peerstore().Addrs(p.ID)
		rec := PeerRecord{
			ID:       p.ID.String(),
			Addrs:    make([]string, len(addrs)),
			LastSeen: now,
			Source:   p.Source,
		}
		for i, a := range addrs {
			rec.Addrs[i] = a.String()
		}
		if err := n.peerStore.Save(rec); err != nil {
			n.logger.Debug().Err(err).Str("peer", shortID(p.ID)).Msg("Persist peer failed")
		}
	}
}

func (n *Node) reconnectStored() {
	if _, err := n.peerStore.PruneStale(time.Now(), staleThreshold); err != nil {
		n.logger.Warn().Err(err).Msg("Prune peer store failed")
	}
	records, err := n.peerStore.LoadAll()
	if err != nil {
		n.logger.Warn().Err(err).Msg("Load peer store failed")
		return
	}
	for _, rec := range records {
		info, err := rec.AddrInfo()
		if err != nil || info.ID == n.host.ID() {
			continue
		}
		if n.ctx.Err() != nil || n.atCapacity() {
			return
		}
		n.dial(*info, SourceStore)
	}
}

func (n *Node) runPersistLoop() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.persistPeers()
			n.peerStore.PruneStale(time.Now(), staleThreshold)
		}
	}
}

// loadOrCreateIdentity keeps the peer ID stable across restarts.
func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	path := filepath.Join(dataDir, identityFile)
	if data, err := os.ReadFile(path); err == nil {
		raw, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode node key: %w", err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(raw)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(raw)), 0600); err != nil {
		return nil, fmt.Errorf("save node key: %w", err)
	}
	return priv, nil
}
