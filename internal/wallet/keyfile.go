package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrKeyFileExists is returned when creating over an existing key file.
var ErrKeyFileExists = errors.New("key file already exists")

// keyFile is the on-disk JSON format of the node's encrypted mnemonic.
type keyFile struct {
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	EncryptedMnemonic []byte    `json:"encrypted_mnemonic"`
	Account           uint32    `json:"account"`
	Addresses         uint32    `json:"addresses"`
}

// CreateKeyFile seals mnemonic under password and writes it to path.
// addresses is the number of external addresses the node derives.
func CreateKeyFile(path, mnemonic string, password []byte, account, addresses uint32, params EncryptionParams) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrKeyFileExists, path)
	}
	if addresses == 0 {
		addresses = 1
	}
	sealed, err := Encrypt([]byte(mnemonic), password, params)
	if err != nil {
		return fmt.Errorf("encrypt mnemonic: %w", err)
	}
	data, err := json.MarshalIndent(keyFile{
		Version:           1,
		CreatedAt:         time.Now().UTC(),
		EncryptedMnemonic: sealed,
		Account:           account,
		Addresses:         addresses,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// OpenKeyFile decrypts the key file at path and derives its keyring.
func OpenKeyFile(path string, password []byte) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported key file version %d", kf.Version)
	}
	mnemonic, err := Decrypt(kf.EncryptedMnemonic, password)
	if err != nil {
		return nil, err
	}
	defer zero(mnemonic)
	return KeyringFromMnemonic(string(mnemonic), "", kf.Account, kf.Addresses)
}
