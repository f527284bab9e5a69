package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is a signing key and its derived address. It is loaded per
// operation and never written anywhere by this package.
type Identity struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewIdentity(key *ecdsa.PrivateKey) (*Identity, error) {
	if key == nil {
		return nil, errors.New("private key is nil")
	}
	return &Identity{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// IdentityFromHex parses a hex private key with or without the 0x prefix.
func IdentityFromHex(hexKey string) (*Identity, error) {
	hexKey = strings.TrimSpace(hexKey)
	hexKey = strings.TrimPrefix(strings.TrimPrefix(hexKey, "0x"), "0X")
	if hexKey == "" {
		return nil, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewIdentity(key)
}

// IdentityFromKeystore decrypts a go-ethereum keystore JSON file.
func IdentityFromKeystore(path, passphrase string) (*Identity, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("keystore path is required")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore %s: %w", path, err)
	}
	if key.PrivateKey == nil {
		return nil, errors.New("private key not available")
	}
	return NewIdentity(key.PrivateKey)
}

func (i *Identity) Address() common.Address {
	return i.address
}

// String never includes key material.
func (i *Identity) String() string {
	return i.address.Hex()
}
