package config

import "github.com/Klingon-tech/klingnet-ledger/internal/ledger"

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Ledger: LedgerConfig{
			BaseFee:         ledger.DefaultBaseFee,
			HeightPerPeriod: ledger.DefaultHeightPerPeriod,
		},
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       30313,
			MaxPeers:   50,
			// Seed format: "/ip4/203.0.113.1/tcp/30313/p2p/12D3KooW..."
			Seeds: []string{},
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8745,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9313",
		},
		Wallet: WalletConfig{
			Enabled: false,
			KeyFile: "wallet.key",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.P2P.Port = 30314
	cfg.RPC.Port = 8746
	cfg.Metrics.Addr = "127.0.0.1:9314"
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
