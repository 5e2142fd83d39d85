// Package node wires the ledger, the agent store, the network and the
// metrics endpoint into one object that a binary can start and stop.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/p2p"
	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/internal/wallet"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var agentPrefix = []byte("agent/")

// Node owns every long-lived component of a ledger node.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	db      storage.DB
	ledger  *ledger.Ledger
	agents  *consensus.Store
	keyring *wallet.Keyring // nil when the wallet is disabled

	p2pNode   *p2p.Node   // nil when P2P is disabled
	rpcServer *rpc.Server // nil when RPC is disabled

	metricsSrv *http.Server
	metricsLn  net.Listener

	fatalOnce sync.Once
	fatalCh   chan error

	wg sync.WaitGroup
}

// New builds a node from cfg. password unlocks the wallet key file and
// is ignored when the wallet is disabled. Nothing runs until Start.
func New(cfg *config.Config, password []byte) (*Node, error) {
	// ── 1. Logger ───────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		if err := os.MkdirAll(cfg.LogsDir(), 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(cfg.LogsDir(), "ledgerd.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, expandHome(logFile)); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.Node

	logger.Info().
		Str("network", string(cfg.Network)).
		Uint64("base_fee", cfg.Ledger.BaseFee).
		Uint64("fee_period", cfg.Ledger.HeightPerPeriod).
		Msg("Starting Klingnet Ledger Node")

	n := &Node{
		cfg:     cfg,
		logger:  logger,
		fatalCh: make(chan error, 1),
	}

	// ── 2. Wallet ───────────────────────────────────────────────────
	locals, err := config.WatchAddresses(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Wallet.Enabled {
		kr, err := wallet.OpenKeyFile(cfg.KeyFilePath(), password)
		if err != nil {
			return nil, fmt.Errorf("open wallet %s: %w", cfg.KeyFilePath(), err)
		}
		n.keyring = kr
		locals = append(locals, kr.Addresses()...)
		logger.Info().
			Str("path", cfg.KeyFilePath()).
			Int("addresses", len(kr.Addresses())).
			Msg("Wallet loaded")
	}

	// ── 3. Storage ──────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.LedgerDir())
	if err != nil {
		n.wipeKeys()
		return nil, fmt.Errorf("open database at %s: %w", cfg.LedgerDir(), err)
	}
	n.db = db
	logger.Info().Str("path", cfg.LedgerDir()).Msg("Database opened")

	// ── 4. Network ──────────────────────────────────────────────────
	if cfg.P2P.Enabled {
		n.p2pNode = p2p.New(p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Port:       cfg.P2P.Port,
			Seeds:      cfg.P2P.Seeds,
			MaxPeers:   cfg.P2P.MaxPeers,
			NoDiscover: cfg.P2P.NoDiscover,
			DHTServer:  cfg.P2P.DHTServer,
			NetworkID:  string(cfg.Network),
			DataDir:    cfg.ChainDataDir(),
			DB:         db,
		})
	} else {
		logger.Warn().Msg("P2P disabled by config")
	}

	// ── 5. Ledger ───────────────────────────────────────────────────
	opts := []ledger.Option{
		ledger.WithFeePolicy(ledger.NewFeePolicy(cfg.Ledger.BaseFee, cfg.Ledger.HeightPerPeriod)),
		ledger.WithFatal(n.fail),
		ledger.WithLocalAddresses(locals...),
	}
	if n.p2pNode != nil {
		opts = append(opts, ledger.WithBroadcaster(n.p2pNode))
	}
	if n.keyring != nil {
		opts = append(opts, ledger.WithSigner(n.keyring))
	}
	if cfg.Ledger.LeastChange {
		opts = append(opts, ledger.WithLeastChange())
	}
	l, err := ledger.New(db, ledger.NewRegistry(), opts...)
	if err != nil {
		n.close()
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	n.ledger = l

	// ── 6. Agents ───────────────────────────────────────────────────
	n.agents = consensus.NewStore(storage.NewPrefixDB(db, agentPrefix))
	if err := consensus.RegisterHandlers(l.Registry(), n.agents, l.Outputs()); err != nil {
		n.close()
		return nil, fmt.Errorf("register agent handlers: %w", err)
	}

	// ── 7. RPC ──────────────────────────────────────────────────────────
	if cfg.RPC.Enabled {
		n.rpcServer = rpc.New(cfg.RPCListenAddr(), l, n.agents, cfg.RPC)
		if n.p2pNode != nil {
			n.rpcServer.SetP2PNode(n.p2pNode)
		}
		if n.keyring != nil {
			n.rpcServer.SetWallet(n.keyring.Addresses)
		}
	}

	if height, ok := l.BestHeight(); ok {
		logger.Info().Uint64("height", height).Msg("Ledger state loaded")
	}
	return n, nil
}

// Start begins serving metrics and RPC and joins the network.
func (n *Node) Start() error {
	if n.cfg.Metrics.Enabled {
		if err := n.startMetrics(); err != nil {
			return err
		}
	}
	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			n.stopMetrics()
			return err
		}
	}

	if n.p2pNode != nil {
		n.p2pNode.SetTxHandler(n.handleGossipTx)
		n.p2pNode.SetNoticeHandler(n.handleGossipNotice)
		if err := n.p2pNode.Start(); err != nil {
			n.stopRPC()
			n.stopMetrics()
			return fmt.Errorf("start p2p: %w", err)
		}
	}

	height, _ := n.ledger.BestHeight()
	n.logger.Info().
		Uint64("height", height).
		Bool("p2p", n.p2pNode != nil).
		Bool("wallet", n.keyring != nil).
		Str("rpc", n.RPCAddr()).
		Str("metrics", n.MetricsAddr()).
		Msg("Node started successfully")
	return nil
}

// Stop shuts the node down in reverse start order.
func (n *Node) Stop() {
	n.stopRPC()
	n.stopMetrics()
	if n.p2pNode != nil {
		if err := n.p2pNode.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("P2P shutdown error")
		}
	}
	n.wg.Wait()
	n.close()
	n.logger.Info().Msg("Goodbye!")
}

func (n *Node) close() {
	n.wipeKeys()
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Database close error")
		}
		n.db = nil
	}
}

func (n *Node) wipeKeys() {
	if n.keyring != nil {
		n.keyring.Wipe()
	}
}

// Ledger returns the ledger facade.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Agents returns the agent and deposit store.
func (n *Node) Agents() *consensus.Store { return n.agents }

// P2P returns the network node, nil when P2P is disabled.
func (n *Node) P2P() *p2p.Node { return n.p2pNode }

// Addresses returns the wallet's addresses, nil when the wallet is disabled.
func (n *Node) Addresses() []types.Address {
	if n.keyring == nil {
		return nil
	}
	return n.keyring.Addresses()
}

// Fatal delivers the first inconsistency the ledger could not undo and is
// then closed. The node should be stopped once it fires.
func (n *Node) Fatal() <-chan error { return n.fatalCh }

func (n *Node) fail(err error) {
	n.logger.Error().Err(err).Msg("Ledger state is inconsistent; stopping")
	n.fatalOnce.Do(func() {
		n.fatalCh <- err
		close(n.fatalCh)
	})
}

// ── Gossip ──────────────────────────────────────────────────────────────

// handleGossipTx saves transactions the ledger has not seen yet. Known
// ones keep their stored lifecycle status.
func (n *Node) handleGossipTx(from peer.ID, t *tx.Transaction) {
	err := n.ledger.SaveNewTx(t)
	if errors.Is(err, ledger.ErrDuplicateTx) {
		return
	}
	if err != nil {
		n.logger.Warn().
			Err(err).
			Str("tx", t.Hash().Short()).
			Str("from", from.String()).
			Msg("Gossip tx not saved")
		return
	}
	n.logger.Debug().
		Str("tx", t.Hash().Short()).
		Str("type", t.Type.String()).
		Msg("Gossip tx saved")
}

func (n *Node) handleGossipNotice(from peer.ID, notice ledger.Notice) {
	n.logger.Debug().
		Str("kind", notice.Kind).
		Str("tx", notice.TxHash.Short()).
		Uint64("height", notice.Height).
		Str("from", from.String()).
		Msg("Notice received")
}

// ── RPC ─────────────────────────────────────────────────────────────────

func (n *Node) stopRPC() {
	if n.rpcServer == nil {
		return
	}
	if err := n.rpcServer.Stop(); err != nil {
		n.logger.Warn().Err(err).Msg("RPC shutdown error")
	}
}

// RPCAddr returns the RPC listen address, empty when disabled.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// ── Metrics ─────────────────────────────────────────────────────────────

func (n *Node) startMetrics() error {
	ln, err := net.Listen("tcp", n.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("listen metrics on %s: %w", n.cfg.Metrics.Addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	n.metricsLn = ln
	n.metricsSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	n.logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics server started")
	return nil
}

func (n *Node) stopMetrics() {
	if n.metricsSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.metricsSrv.Shutdown(ctx); err != nil {
		n.logger.Warn().Err(err).Msg("Metrics shutdown error")
	}
	n.metricsSrv = nil
}

// MetricsAddr returns the metrics listen address, empty when disabled.
func (n *Node) MetricsAddr() string {
	if n.metricsLn == nil {
		return ""
	}
	return n.metricsLn.Addr().String()
}
