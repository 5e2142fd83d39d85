// ledger-cli is a command-line client for interacting with a ledgerd node.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := ""
	network := "mainnet"

	// Scan for --rpc and --network before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	if rpcURL == "" {
		rpcURL = defaultRPC(network)
	}

	client := rpcclient.New(rpcURL)
	ctx := context.Background()
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "status":
		cmdStatus(ctx, client)
	case "fee":
		cmdFee(ctx, client, rest)
	case "balance":
		cmdBalance(ctx, client, rest)
	case "tx":
		cmdTx(ctx, client, rest)
	case "txs":
		cmdTxs(ctx, client, rest)
	case "send":
		cmdSend(ctx, client, rest)
	case "lock":
		cmdLock(ctx, client, rest)
	case "submit":
		cmdSubmit(ctx, client, rest)
	case "addresses":
		cmdAddresses(ctx, client)
	case "agents":
		cmdAgents(ctx, client)
	case "peers":
		cmdPeers(ctx, client)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

// defaultRPC returns the node's default RPC endpoint for network.
func defaultRPC(network string) string {
	if network == "testnet" {
		return "http://127.0.0.1:8746"
	}
	return "http://127.0.0.1:8745"
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ledger-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8745)
  --network <net>     mainnet (default) or testnet

Commands:
  status                          Show ledger status
  fee <type>                      Show the current fee for a transaction type
  balance <address>               Show address balance
  tx <hash>                       Show transaction details
  txs <address>                   List transactions touching an address
  send --to <addr> --amount <n>   Transfer from the node wallet
       [--from <a,b>] [--remark <text>]
  lock --address <addr> --amount <n> --until <time>
                                  Time-lock funds (RFC3339 or unix ms)
  submit <file.json>              Submit a signed transaction
  addresses                       List node wallet addresses
  agents                          List consensus agents
  peers                           Show connected peers
`)
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(ctx context.Context, client *rpcclient.Client) {
	info, err := client.GetInfo(ctx)
	if err != nil {
		fatal("ledger_getInfo: %v", err)
	}

	if info.HeightKnown {
		fmt.Printf("Height:       %d\n", info.BestHeight)
	} else {
		fmt.Printf("Height:       unknown\n")
	}
	fmt.Printf("State Root:   %s\n", info.StateRoot)
	fmt.Printf("Transfer Fee: %d\n", info.TransferFee)
	fmt.Printf("Peers:        %d\n", info.Peers)
	fmt.Printf("Wallet:       %t\n", info.Wallet)
}

// ── fee ─────────────────────────────────────────────────────────────────

func cmdFee(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli fee <type>")
	}
	res, err := client.GetTxFee(ctx, args[0])
	if err != nil {
		fatal("ledger_getTxFee: %v", err)
	}
	fmt.Printf("%s: %d\n", res.Type, res.Fee)
}

// ── balance ─────────────────────────────────────────────────────────────

func cmdBalance(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli balance <address>")
	}

	res, err := client.GetBalance(ctx, args[0])
	if err != nil {
		fatal("ledger_getBalance: %v", err)
	}

	fmt.Printf("Address: %s\n", res.Address)
	fmt.Printf("Usable:  %d\n", res.Usable)
	if res.Locked > 0 {
		fmt.Printf("Locked:  %d\n", res.Locked)
		fmt.Printf("Total:   %d\n", res.Total)
	}
}

// ── tx ──────────────────────────────────────────────────────────────────

func cmdTx(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli tx <hash>")
	}

	res, err := client.GetTx(ctx, args[0])
	if err != nil {
		fatal("ledger_getTx: %v", err)
	}

	t := res.Transaction
	fmt.Printf("Hash:     %s\n", res.Hash)
	fmt.Printf("Type:     %s\n", res.Type)
	fmt.Printf("Status:   %s\n", res.Status)
	if res.BlockHeight > 0 {
		fmt.Printf("Height:   %d\n", res.BlockHeight)
	}
	if t == nil {
		return
	}
	ts := time.UnixMilli(int64(t.Time)).UTC()
	fmt.Printf("Time:     %s\n", ts.Format("2006-01-02 15:04:05 UTC"))
	if t.Remark != "" {
		fmt.Printf("Remark:   %s\n", t.Remark)
	}
	fmt.Printf("Inputs:   %d\n", len(t.Inputs))
	for i, in := range t.Inputs {
		fmt.Printf("  [%d] %s\n", i, in.PrevOut)
	}
	fmt.Printf("Outputs:  %d\n", len(t.Outputs))
	for i, out := range t.Outputs {
		fmt.Printf("  [%d] %d -> %s%s\n", i, out.Value, out.Address, lockSuffix(out))
	}
}

func lockSuffix(out tx.Output) string {
	switch {
	case out.LockTime == 0:
		return ""
	case out.IsConsensusLocked():
		return " (consensus locked)"
	default:
		until := time.UnixMilli(int64(out.LockTime)).UTC()
		return " (locked until " + until.Format(time.RFC3339) + ")"
	}
}

func cmdTxs(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli txs <address>")
	}

	list, err := client.GetTxList(ctx, args[0])
	if err != nil {
		fatal("ledger_getTxList: %v", err)
	}
	if len(list) == 0 {
		fmt.Println("No transactions.")
		return
	}
	for _, r := range list {
		fmt.Printf("%s  %-15s %-9s", r.Hash, r.Type, r.Status)
		if r.BlockHeight > 0 {
			fmt.Printf(" @%d", r.BlockHeight)
		}
		fmt.Println()
	}
}

// ── send / lock ─────────────────────────────────────────────────────────

func cmdSend(ctx context.Context, client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "Recipient address")
	amount := fs.Uint64("amount", 0, "Amount to send")
	from := fs.String("from", "", "Comma-separated source addresses (default: whole wallet)")
	remark := fs.String("remark", "", "Transaction remark")
	fs.Parse(args)

	if *to == "" || *amount == 0 {
		fatal("Usage: ledger-cli send --to <addr> --amount <n> [--from <a,b>] [--remark <text>]")
	}

	var sources []string
	if *from != "" {
		for _, s := range strings.Split(*from, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sources = append(sources, s)
			}
		}
	}

	hash, err := client.Transfer(ctx, sources, *to, *amount, *remark)
	if err != nil {
		fatal("wallet_transfer: %v", err)
	}
	fmt.Printf("Transaction sent: %s\n", hash)
}

func cmdLock(ctx context.Context, client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	address := fs.String("address", "", "Address whose funds are locked")
	amount := fs.Uint64("amount", 0, "Amount to lock")
	until := fs.String("until", "", "Unlock time (RFC3339 or unix ms)")
	remark := fs.String("remark", "", "Transaction remark")
	fs.Parse(args)

	if *address == "" || *amount == 0 || *until == "" {
		fatal("Usage: ledger-cli lock --address <addr> --amount <n> --until <time>")
	}
	unlock, err := parseUnlockTime(*until)
	if err != nil {
		fatal("%v", err)
	}

	hash, err := client.Lock(ctx, *address, *amount, unlock, *remark)
	if err != nil {
		fatal("wallet_lock: %v", err)
	}
	fmt.Printf("Lock sent: %s\n", hash)
}

// parseUnlockTime accepts either an RFC3339 timestamp or unix milliseconds.
func parseUnlockTime(s string) (uint64, error) {
	if ms, err := strconv.ParseUint(s, 10, 64); err == nil {
		return ms, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid unlock time %q: want RFC3339 or unix ms", s)
	}
	if ts.Before(time.Unix(0, 0)) {
		return 0, fmt.Errorf("unlock time %q before epoch", s)
	}
	return uint64(ts.UnixMilli()), nil
}

// ── submit ──────────────────────────────────────────────────────────────

func cmdSubmit(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli submit <file.json>")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fatal("read %s: %v", args[0], err)
	}
	var t tx.Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		fatal("decode tx: %v", err)
	}

	hash, err := client.SubmitTx(ctx, &t)
	if err != nil {
		fatal("tx_submit: %v", err)
	}
	fmt.Printf("Transaction submitted: %s\n", hash)
}

// ── wallet / agents / peers ─────────────────────────────────────────────

func cmdAddresses(ctx context.Context, client *rpcclient.Client) {
	addrs, err := client.Addresses(ctx)
	if err != nil {
		fatal("wallet_addresses: %v", err)
	}
	for i, a := range addrs {
		fmt.Printf("  [%d] %s\n", i, a)
	}
}

func cmdAgents(ctx context.Context, client *rpcclient.Client) {
	agents, err := client.Agents(ctx)
	if err != nil {
		fatal("agent_list: %v", err)
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return
	}

	fmt.Printf("Agents: %d\n", len(agents))
	for _, a := range agents {
		if a.AgentRecord == nil {
			continue
		}
		state := a.StatusName
		if !a.Live {
			state = "stopped"
		}
		name := a.Name
		if name == "" {
			name = "-"
		}
		fmt.Printf("  %s  %-16s %-10s deposit=%d total=%d commission=%d\n",
			a.TxHash.Short(), name, state, a.Deposit, a.TotalDeposit, a.CommissionRate)
	}
}

func cmdPeers(ctx context.Context, client *rpcclient.Client) {
	peers, err := client.Peers(ctx)
	if err != nil {
		fatal("net_getPeerInfo: %v", err)
	}

	fmt.Printf("Peers: %d\n", peers.Count)
	for _, p := range peers.Peers {
		if p.Source != "" {
			fmt.Printf("  %s (connected: %s, via %s)\n", p.ID, p.ConnectedAt, p.Source)
			continue
		}
		fmt.Printf("  %s (connected: %s)\n", p.ID, p.ConnectedAt)
	}
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
