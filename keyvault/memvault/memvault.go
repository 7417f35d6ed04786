// Package memvault is an in-memory KeyVault protected by a password.
//
// The vault starts locked. Unlock checks the password against a bcrypt
// hash; every generate or sign call on a locked vault fails with
// VaultLocked.
package memvault

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/bcrypt"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
	"github.com/pilacorp/go-identity-sdk/keyvault"
)

type entry struct {
	keyType jwk.KeyType
	ed      ed25519.PrivateKey
	secp    *secp256k1.PrivateKey
}

// Vault is an in-memory key vault.
type Vault struct {
	mu           sync.RWMutex
	passwordHash []byte
	locked       bool
	keys         map[keyvault.KeyHandle]entry
}

// Option configures a Vault.
type Option func(*options)

type options struct {
	cost     int
	unlocked bool
}

// WithCost sets the bcrypt cost used to hash the password.
func WithCost(cost int) Option {
	return func(o *options) { o.cost = cost }
}

// WithUnlocked creates the vault already unlocked.
func WithUnlocked() Option {
	return func(o *options) { o.unlocked = true }
}

// New creates a locked vault protected by password.
func New(password string, opts ...Option) (*Vault, error) {
	o := options{cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&o)
	}

	if password == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "vault password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), o.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash vault password: %w", err)
	}

	return &Vault{
		passwordHash: hash,
		locked:       !o.unlocked,
		keys:         make(map[keyvault.KeyHandle]entry),
	}, nil
}

// Unlock opens the vault when password matches.
func (v *Vault) Unlock(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := bcrypt.CompareHashAndPassword(v.passwordHash, []byte(password)); err != nil {
		return &domainerrors.Error{Code: domainerrors.CodeVaultLocked, Message: "invalid vault password", Err: err}
	}
	v.locked = false
	return nil
}

// Lock closes the vault. Stored keys are kept.
func (v *Vault) Lock() {
	v.mu.Lock()
	v.locked = true
	v.mu.Unlock()
}

// Locked reports whether the vault is locked.
func (v *Vault) Locked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.locked
}

// GenerateKey implements keyvault.KeyVault.
func (v *Vault) GenerateKey(_ context.Context, keyType jwk.KeyType) (keyvault.KeyHandle, jwk.Key, error) {
	var (
		e   = entry{keyType: keyType}
		pub jwk.Key
	)

	if v.Locked() {
		return "", jwk.Key{}, domainerrors.New(domainerrors.CodeVaultLocked, "vault is locked")
	}

	switch keyType {
	case jwk.KeyTypeEd25519:
		pk, sk, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return "", jwk.Key{}, fmt.Errorf("failed to generate Ed25519 key: %w", err)
		}
		e.ed = sk
		pub = jwk.FromEd25519(pk)
	case jwk.KeyTypeSecp256k1:
		sk, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return "", jwk.Key{}, fmt.Errorf("failed to generate secp256k1 key: %w", err)
		}
		e.secp = sk
		pub = jwk.FromSecp256k1(sk.PubKey())
	default:
		return "", jwk.Key{}, domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "unsupported key type %q", keyType)
	}

	handle, err := keyvault.HandleFor(pub)
	if err != nil {
		return "", jwk.Key{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.locked {
		return "", jwk.Key{}, domainerrors.New(domainerrors.CodeVaultLocked, "vault is locked")
	}
	v.keys[handle] = e

	return handle, pub, nil
}

// Sign implements keyvault.KeyVault.
func (v *Vault) Sign(_ context.Context, handle keyvault.KeyHandle, payload []byte) ([]byte, error) {
	v.mu.RLock()
	locked := v.locked
	e, ok := v.keys[handle]
	v.mu.RUnlock()

	if locked {
		return nil, domainerrors.New(domainerrors.CodeVaultLocked, "vault is locked")
	}
	if !ok {
		return nil, domainerrors.Newf(domainerrors.CodeUnknownKey, "no key for handle %s", handle)
	}

	switch e.keyType {
	case jwk.KeyTypeEd25519:
		return ed25519.Sign(e.ed, payload), nil
	case jwk.KeyTypeSecp256k1:
		priv, err := crypto.ToECDSA(e.secp.Serialize())
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		hash := sha256.Sum256(payload)
		sig, err := crypto.Sign(hash[:], priv)
		if err != nil {
			return nil, fmt.Errorf("signing failed: %w", err)
		}
		return sig[:64], nil // R || S, recovery id dropped
	default:
		return nil, domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "unsupported key type %q", e.keyType)
	}
}

// Has reports whether the vault stores a key for handle.
func (v *Vault) Has(handle keyvault.KeyHandle) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.keys[handle]
	return ok
}

var _ keyvault.KeyVault = (*Vault)(nil)
