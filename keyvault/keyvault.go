// Package keyvault defines the signing capability the DID and credential
// engines depend on.
//
// Private keys never leave a vault. Callers generate a key, receive its
// handle and public key, and later ask the vault to sign with that handle.
// Any backend (in-memory, hardware module, remote KMS) may implement
// KeyVault; implementations handle their own internal serialization so
// signing calls for independent keys may run concurrently.
package keyvault

import (
	"context"
	"fmt"

	"github.com/pilacorp/go-identity-sdk/common/jwk"
)

// KeyHandle identifies a key inside a vault.
//
// Handles are the RFC 7638 thumbprint of the public key, which lets a
// resolved DID document point back at the vault key without storing the
// handle in the document.
type KeyHandle string

// KeyVault generates keys and signs payloads with them.
type KeyVault interface {
	// GenerateKey creates a key pair of the given type and returns its
	// handle and public key.
	GenerateKey(ctx context.Context, keyType jwk.KeyType) (KeyHandle, jwk.Key, error)
	// Sign signs payload with the key behind handle. The signature format
	// follows the JWS algorithm of the key type: 64 bytes Ed25519 for
	// Ed25519 keys, 64 bytes r||s over SHA-256 for secp256k1 keys.
	Sign(ctx context.Context, handle KeyHandle, payload []byte) ([]byte, error)
}

// HandleFor returns the handle a vault assigns to the given public key.
func HandleFor(key jwk.Key) (KeyHandle, error) {
	tp, err := key.Thumbprint()
	if err != nil {
		return "", fmt.Errorf("failed to derive key handle: %w", err)
	}
	return KeyHandle(tp), nil
}
