package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/internal/wallet"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

type testEnv struct {
	client  *Client
	ledger  *ledger.Ledger
	addr    types.Address
	addrHex string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	kr := wallet.NewKeyring()
	addr := kr.Add(key)

	db := storage.NewMemory()
	l, err := ledger.New(db, ledger.NewRegistry(),
		ledger.WithFeePolicy(ledger.NewFeePolicy(1, 100)),
		ledger.WithSigner(kr),
		ledger.WithLocalAddresses(addr),
	)
	if err != nil {
		t.Fatalf("create ledger: %v", err)
	}
	agents := consensus.NewStore(storage.NewPrefixDB(db, []byte("agent/")))
	if err := consensus.RegisterHandlers(l.Registry(), agents, l.Outputs()); err != nil {
		t.Fatalf("register handlers: %v", err)
	}

	cb := &tx.Transaction{
		Type:    tx.TypeCoinBase,
		Time:    1_700_000_000_000,
		Remark:  "fund",
		Outputs: []tx.Output{{Address: addr, Value: 1000}},
	}
	if err := l.SaveTransactions([]*tx.Transaction{cb}); err != nil {
		t.Fatalf("save coinbase: %v", err)
	}
	if err := l.ConflictDetect(cb, nil); err != nil {
		t.Fatalf("conflict detect: %v", err)
	}
	if err := l.CommitTx(cb, block.NewBlock(&block.Header{Height: 1, Timestamp: cb.Time}, nil)); err != nil {
		t.Fatalf("commit coinbase: %v", err)
	}

	srv := rpc.New("127.0.0.1:0", l, agents, config.RPCConfig{})
	srv.SetWallet(kr.Addresses)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		client:  New(fmt.Sprintf("http://%s/", srv.Addr())),
		ledger:  l,
		addr:    addr,
		addrHex: addr.String(),
	}
}

func TestClient_GetInfo(t *testing.T) {
	env := setupTestEnv(t)

	info, err := env.client.GetInfo(context.Background())
	if err != nil {
		t.Fatalf("GetInfo() error: %v", err)
	}
	if !info.Wallet || info.TransferFee != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestClient_BalanceAndTransfer(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	bal, err := env.client.GetBalance(ctx, env.addrHex)
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if bal.Usable != 1000 {
		t.Errorf("usable = %d, want 1000", bal.Usable)
	}

	to := types.Address{0x09}
	hash, err := env.client.Transfer(ctx, nil, to.String(), 250, "client")
	if err != nil {
		t.Fatalf("Transfer() error: %v", err)
	}
	got, err := env.client.GetTx(ctx, hash)
	if err != nil {
		t.Fatalf("GetTx() error: %v", err)
	}
	if got.Type != "transfer" || got.Transaction.Remark != "client" {
		t.Errorf("tx = %+v", got)
	}

	list, err := env.client.GetTxList(ctx, to.String())
	if err != nil {
		t.Fatalf("GetTxList() error: %v", err)
	}
	if len(list) != 1 || list[0].Hash != hash {
		t.Errorf("recipient tx list = %+v", list)
	}
}

func TestClient_Addresses(t *testing.T) {
	env := setupTestEnv(t)

	addrs, err := env.client.Addresses(context.Background())
	if err != nil {
		t.Fatalf("Addresses() error: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != env.addrHex {
		t.Errorf("Addresses() = %v", addrs)
	}
}

func TestClient_RPCError(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.client.GetTx(context.Background(), "00")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("GetTx(bad hash) error = %v, want *RPCError", err)
	}
	if rpcErr.Code != rpc.CodeInvalidParams {
		t.Errorf("code = %d, want %d", rpcErr.Code, rpc.CodeInvalidParams)
	}

	err = env.client.Call(context.Background(), "nope_method", nil, nil)
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.CodeMethodNotFound {
		t.Errorf("Call(nope_method) error = %v", err)
	}
}

func TestClient_ContextCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := New(ts.URL).Call(ctx, "ledger_getInfo", nil, nil); err == nil {
		t.Error("Call() should fail when the context expires")
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	c := NewWithTimeout("http://127.0.0.1:1/", time.Second)
	if _, err := c.GetInfo(context.Background()); err == nil {
		t.Error("GetInfo() against a closed port should fail")
	}
}
