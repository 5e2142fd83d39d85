package node

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-ledger/internal/wallet"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

var testParams = wallet.EncryptionParams{Memory: 1024, Iterations: 1, Parallelism: 1}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(config.Testnet)
	cfg.DataDir = dir
	cfg.P2P.Enabled = false
	cfg.RPC.Enabled = false
	cfg.Log.File = filepath.Join(dir, "test.log")
	if err := config.EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs() error: %v", err)
	}
	return cfg
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.klingnet-ledger/wallet.key", filepath.Join(home, ".klingnet-ledger/wallet.key")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestReadPasswordFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pass")
	if err := os.WriteFile(path, []byte("hunter2\nignored\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadPasswordFile(path)
	if err != nil {
		t.Fatalf("ReadPasswordFile() error: %v", err)
	}
	if string(got) != "hunter2" {
		t.Errorf("ReadPasswordFile() = %q, want %q", got, "hunter2")
	}
}

func TestReadPasswordFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pass")
	os.WriteFile(path, []byte("\n"), 0600)
	if _, err := ReadPasswordFile(path); err == nil {
		t.Error("empty password file should fail")
	}
	if _, err := ReadPasswordFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing password file should fail")
	}
}

func TestNode_Lifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.RPC.Enabled = true
	cfg.RPC.Port = 0

	n, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if n.P2P() != nil {
		t.Error("P2P should be nil when disabled")
	}
	if n.Addresses() != nil {
		t.Error("Addresses() should be nil without a wallet")
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	resp, err := http.Get("http://" + n.MetricsAddr() + "/metrics")
	if err != nil {
		n.Stop()
		t.Fatalf("GET /metrics error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "ledger_tx_commit") {
		t.Error("/metrics does not expose ledger_tx_commit")
	}

	info, err := rpcclient.New("http://" + n.RPCAddr() + "/").GetInfo(context.Background())
	if err != nil {
		n.Stop()
		t.Fatalf("GetInfo() error: %v", err)
	}
	if info.Wallet || info.Peers != 0 {
		t.Errorf("info = %+v", info)
	}

	n.Stop()
	if n.MetricsAddr() == "" {
		t.Error("MetricsAddr() should keep the last bound address")
	}
}

func TestNode_ReopenKeepsState(t *testing.T) {
	cfg := testConfig(t)

	n, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := n.Ledger().SetBestHeight(42); err != nil {
		t.Fatalf("SetBestHeight() error: %v", err)
	}
	n.Stop()

	n, err = New(cfg, nil)
	if err != nil {
		t.Fatalf("second New() error: %v", err)
	}
	defer n.Stop()
	if h, ok := n.Ledger().BestHeight(); !ok || h != 42 {
		t.Errorf("BestHeight() = %d, %v, want 42", h, ok)
	}
}

func TestNode_Wallet(t *testing.T) {
	cfg := testConfig(t)
	cfg.Wallet.Enabled = true

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	password := []byte("correct horse")
	if err := wallet.CreateKeyFile(cfg.KeyFilePath(), mnemonic, password, 0, 2, testParams); err != nil {
		t.Fatalf("CreateKeyFile() error: %v", err)
	}

	if _, err := New(cfg, []byte("wrong")); !errors.Is(err, wallet.ErrWrongPassword) {
		t.Fatalf("New(wrong password) error = %v, want ErrWrongPassword", err)
	}

	n, err := New(cfg, password)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer n.Stop()
	addrs := n.Addresses()
	if len(addrs) != 2 {
		t.Fatalf("Addresses() = %d, want 2", len(addrs))
	}
	for _, a := range addrs {
		if a.IsZero() {
			t.Error("zero wallet address")
		}
	}
}

func TestNode_GossipKeepsStoredStatus(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer n.Stop()

	to := types.Address{0x01}
	cb := &tx.Transaction{
		Type:    tx.TypeCoinBase,
		Time:    1_700_000_000_000,
		Remark:  "gossip",
		Outputs: []tx.Output{{Address: to, Value: 50}},
	}
	wire := *cb
	n.handleGossipTx("", &wire)

	stored, err := n.Ledger().GetTx(cb.Hash())
	if err != nil {
		t.Fatalf("GetTx() error: %v", err)
	}
	if stored.Status != tx.StatusCached {
		t.Fatalf("status = %s, want cached", stored.Status)
	}

	if err := n.Ledger().ConflictDetect(stored, nil); err != nil {
		t.Fatalf("ConflictDetect() error: %v", err)
	}
	if err := n.Ledger().CommitTx(stored, block.NewBlock(&block.Header{Height: 1, Timestamp: 1_700_000_000_000}, nil)); err != nil {
		t.Fatalf("CommitTx() error: %v", err)
	}

	again := *cb
	n.handleGossipTx("", &again)
	stored, err = n.Ledger().GetTx(cb.Hash())
	if err != nil {
		t.Fatalf("GetTx() error: %v", err)
	}
	if stored.Status != tx.StatusConfirmed {
		t.Errorf("status after re-gossip = %s, want confirmed", stored.Status)
	}
}
