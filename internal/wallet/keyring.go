package wallet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// BIP-44 derivation path: m/44'/CoinType'/account'/0/index.
const (
	PurposeBIP44   = bip32.FirstHardenedChild + 44
	CoinType       = bip32.FirstHardenedChild + 8888
	ChangeExternal = 0

	// MnemonicEntropyBits is the entropy size for 24-word mnemonics.
	MnemonicEntropyBits = 256
)

// ErrInvalidMnemonic is returned for a mnemonic that fails the BIP-39 checksum.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// Keyring holds the signing keys of the node's own addresses. Addresses
// appear in the order they were added.
type Keyring struct {
	mu    sync.RWMutex
	keys  map[types.Address]*crypto.PrivateKey
	order []types.Address
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[types.Address]*crypto.PrivateKey)}
}

// KeyringFromMnemonic derives count external addresses of the given
// account from a BIP-39 mnemonic.
func KeyringFromMnemonic(mnemonic, passphrase string, account, count uint32) (*Keyring, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	defer zero(seed)
	return KeyringFromSeed(seed, account, count)
}

// KeyringFromSeed derives count external addresses of the given account
// from a 64-byte BIP-32 seed.
func KeyringFromSeed(seed []byte, account, count uint32) (*Keyring, error) {
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	chain, err := derivePath(master, PurposeBIP44, CoinType, bip32.FirstHardenedChild+account, ChangeExternal)
	if err != nil {
		return nil, err
	}

	kr := NewKeyring()
	for i := uint32(0); i < count; i++ {
		child, err := chain.NewChildKey(i)
		if err != nil {
			return nil, fmt.Errorf("derive index %d: %w", i, err)
		}
		// bip32 private keys carry a leading 0x00 pad byte.
		raw := child.Key
		if len(raw) == 33 && raw[0] == 0 {
			raw = raw[1:]
		}
		key, err := crypto.PrivateKeyFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		kr.Add(key)
	}
	return kr, nil
}

func derivePath(k *bip32.Key, indices ...uint32) (*bip32.Key, error) {
	for _, idx := range indices {
		child, err := k.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		k = child
	}
	return k, nil
}

// Add stores key under its address.
func (kr *Keyring) Add(key *crypto.PrivateKey) types.Address {
	addr := key.Address()
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if _, ok := kr.keys[addr]; !ok {
		kr.order = append(kr.order, addr)
	}
	kr.keys[addr] = key
	return addr
}

// KeyFor returns the signing key for addr, or nil if the keyring does not
// hold one.
func (kr *Keyring) KeyFor(addr types.Address) *crypto.PrivateKey {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.keys[addr]
}

// Addresses returns the held addresses in insertion order.
func (kr *Keyring) Addresses() []types.Address {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	out := make([]types.Address, len(kr.order))
	copy(out, kr.order)
	return out
}

// Wipe zeroes every held key and empties the keyring.
func (kr *Keyring) Wipe() {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	for _, k := range kr.keys {
		k.Zero()
	}
	kr.keys = make(map[types.Address]*crypto.PrivateKey)
	kr.order = nil
}
