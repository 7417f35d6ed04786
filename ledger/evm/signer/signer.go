// Package signer provides the account that signs ledger transactions.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignerProvider signs transaction hashes for one ledger account.
type SignerProvider interface {
	// Sign returns the 65-byte [R || S || V] signature of a 32-byte hash.
	// Remote providers abandon the call when ctx is done.
	Sign(ctx context.Context, hash []byte) ([]byte, error)
	Address() common.Address
}

// DefaultProvider signs with a private key held in memory.
type DefaultProvider struct {
	priv *ecdsa.PrivateKey
}

// NewDefaultProvider creates a signer from a hex private key, with or
// without the 0x prefix.
func NewDefaultProvider(privHex string) (*DefaultProvider, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return nil, err
	}
	return &DefaultProvider{priv: priv}, nil
}

// GenerateProvider creates a signer for a fresh random account.
func GenerateProvider() (*DefaultProvider, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &DefaultProvider{priv: priv}, nil
}

// Sign signs the hash.
func (s *DefaultProvider) Sign(_ context.Context, hash []byte) ([]byte, error) {
	signature, err := crypto.Sign(hash, s.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	if len(signature) != crypto.SignatureLength {
		return nil, fmt.Errorf("invalid signature length: expected %d bytes, got %d", crypto.SignatureLength, len(signature))
	}

	return signature, nil
}

// Address returns the account address.
func (s *DefaultProvider) Address() common.Address {
	return crypto.PubkeyToAddress(s.priv.PublicKey)
}
