// Klingnet ledger node daemon.
//
// Usage:
//
//	ledgerd [options]                Run node
//	ledgerd [options] wallet init    Create the wallet key file
//	ledgerd [options] wallet import  Create the key file from a mnemonic
//	ledgerd [options] wallet show    List the wallet's addresses
//	ledgerd --help                   Show help
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/node"
	"github.com/Klingon-tech/klingnet-ledger/internal/wallet"
	"golang.org/x/term"
)

// walletAddresses is the number of external addresses a new key file derives.
const walletAddresses = 5

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fatal("%v", err)
	}

	if len(flags.Args) > 0 {
		switch flags.Args[0] {
		case "wallet":
			cmdWallet(cfg, flags.Args[1:])
		default:
			fatal("unknown command: %s (see ledgerd --help)", flags.Args[0])
		}
		return
	}

	run(cfg)
}

func run(cfg *config.Config) {
	var password []byte
	if cfg.Wallet.Enabled {
		password = walletPassword(cfg)
	}

	n, err := node.New(cfg, password)
	clear(password)
	if err != nil {
		fatal("%v", err)
	}

	if err := n.Start(); err != nil {
		n.Stop()
		fatal("%v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case <-sigCh:
	case err := <-n.Fatal():
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = 1
	}

	n.Stop()
	os.Exit(code)
}

// ── Wallet ──────────────────────────────────────────────────────────────

func cmdWallet(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledgerd wallet <init|import|show>")
	}
	switch args[0] {
	case "init":
		cmdWalletInit(cfg)
	case "import":
		cmdWalletImport(cfg)
	case "show":
		cmdWalletShow(cfg)
	default:
		fatal("Unknown wallet command: %s\nUsage: ledgerd wallet <init|import|show>", args[0])
	}
}

func cmdWalletInit(cfg *config.Config) {
	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	createKeyFile(cfg, mnemonic)
}

func cmdWalletImport(cfg *config.Config) {
	fmt.Fprint(os.Stderr, "Enter mnemonic: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fatal("read mnemonic: %v", err)
	}
	mnemonic := strings.Join(strings.Fields(line), " ")

	kr, err := wallet.KeyringFromMnemonic(mnemonic, "", 0, 1)
	if err != nil {
		fatal("%v", err)
	}
	kr.Wipe()

	createKeyFile(cfg, mnemonic)
}

func createKeyFile(cfg *config.Config, mnemonic string) {
	password := newPassword(cfg)
	defer clear(password)

	path := cfg.KeyFilePath()
	if err := wallet.CreateKeyFile(path, mnemonic, password, 0, walletAddresses, wallet.DefaultParams()); err != nil {
		fatal("create key file: %v", err)
	}

	kr, err := wallet.OpenKeyFile(path, password)
	if err != nil {
		fatal("open key file: %v", err)
	}
	defer kr.Wipe()

	fmt.Printf("\nKey file created: %s\n", path)
	printAddresses(kr)
}

func cmdWalletShow(cfg *config.Config) {
	password := walletPassword(cfg)
	defer clear(password)

	kr, err := wallet.OpenKeyFile(cfg.KeyFilePath(), password)
	if err != nil {
		fatal("open key file: %v", err)
	}
	defer kr.Wipe()

	fmt.Printf("Key file: %s\n", cfg.KeyFilePath())
	printAddresses(kr)
}

func printAddresses(kr *wallet.Keyring) {
	fmt.Println("Addresses:")
	for i, addr := range kr.Addresses() {
		fmt.Printf("  %d  %s\n", i, addr)
	}
}

// ── Passwords ───────────────────────────────────────────────────────────

// walletPassword reads the configured password file, or prompts.
func walletPassword(cfg *config.Config) []byte {
	if cfg.Wallet.PasswordFile != "" {
		password, err := node.ReadPasswordFile(cfg.Wallet.PasswordFile)
		if err != nil {
			fatal("%v", err)
		}
		return password
	}
	password, err := readPassword("Wallet password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	return password
}

// newPassword reads the password for a new key file, prompting twice
// when there is no password file.
func newPassword(cfg *config.Config) []byte {
	if cfg.Wallet.PasswordFile != "" {
		return walletPassword(cfg)
	}
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	defer clear(confirm)
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	if len(password) == 0 {
		fatal("password is empty")
	}
	return password
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
