// Package config handles node configuration: defaults per network, the
// key = value config file, command-line flags and validation.
package config

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds node runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	Ledger  LedgerConfig
	P2P     P2PConfig
	RPC     RPCConfig
	Metrics MetricsConfig
	Wallet  WalletConfig
	Log     LogConfig
}

// LedgerConfig holds the fee schedule and coin selection strategy.
type LedgerConfig struct {
	BaseFee         uint64 `conf:"ledger.basefee"`
	HeightPerPeriod uint64 `conf:"ledger.feeperiod"`   // blocks per fee halving step
	LeastChange     bool   `conf:"ledger.leastchange"` // prefer exact-fit coin selection
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"`
}

// RPCConfig holds the JSON-RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // allowed CORS origins ("*" = all)
}

// RPCListenAddr returns the RPC host:port listen address.
func (c *Config) RPCListenAddr() string {
	return net.JoinHostPort(c.RPC.Addr, strconv.Itoa(c.RPC.Port))
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `conf:"metrics.enabled"`
	Addr    string `conf:"metrics.addr"`
}

// WalletConfig holds the node's signing keys and watched addresses.
type WalletConfig struct {
	Enabled      bool     `conf:"wallet.enabled"`
	KeyFile      string   `conf:"wallet.keyfile"`      // relative paths resolve under the chain dir
	PasswordFile string   `conf:"wallet.passwordfile"` // empty means prompt
	Watch        []string `conf:"wallet.watch"`        // extra local addresses without keys
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-ledger
//	macOS:   ~/Library/Application Support/KlingnetLedger
//	Windows: %APPDATA%\KlingnetLedger
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-ledger"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetLedger")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "KlingnetLedger")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetLedger")
	default:
		return filepath.Join(home, ".klingnet-ledger")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// LedgerDir returns the ledger database directory.
func (c *Config) LedgerDir() string {
	return filepath.Join(c.ChainDataDir(), "ledger")
}

// KeyFilePath returns the wallet key file path.
func (c *Config) KeyFilePath() string {
	path := c.Wallet.KeyFile
	if path == "" {
		path = "wallet.key"
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ChainDataDir(), path)
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "ledger.conf")
}
