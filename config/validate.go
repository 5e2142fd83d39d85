package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
	"github.com/multiformats/go-multiaddr"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is empty")
	}

	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.maxpeers must not be negative")
	}
	for i, s := range cfg.P2P.Seeds {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return fmt.Errorf("p2p.seeds[%d]: %w", i, err)
		}
		if _, err := ma.ValueForProtocol(multiaddr.P_P2P); err != nil {
			return fmt.Errorf("p2p.seeds[%d] has no /p2p/ peer ID", i)
		}
	}

	if cfg.RPC.Enabled {
		if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
			return fmt.Errorf("rpc.port must be in range [0, 65535]")
		}
		for i, entry := range cfg.RPC.AllowedIPs {
			if net.ParseIP(entry) != nil {
				continue
			}
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("rpc.allowed[%d] %q is not an IP or CIDR", i, entry)
			}
		}
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}

	if cfg.Wallet.Enabled && strings.TrimSpace(cfg.Wallet.KeyFile) == "" {
		return fmt.Errorf("wallet.keyfile is empty")
	}
	if _, err := WatchAddresses(cfg); err != nil {
		return err
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not debug, info, warn or error", cfg.Log.Level)
	}
	return nil
}

// WatchAddresses parses the watched wallet addresses, dropping duplicates.
func WatchAddresses(cfg *Config) ([]types.Address, error) {
	seen := make(map[types.Address]bool, len(cfg.Wallet.Watch))
	out := make([]types.Address, 0, len(cfg.Wallet.Watch))
	for i, s := range cfg.Wallet.Watch {
		addr, err := types.ParseAddress(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("wallet.watch[%d]: %w", i, err)
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out, nil
}
