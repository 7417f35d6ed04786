package jwt

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-identity-sdk/common/jwk"
	"github.com/pilacorp/go-identity-sdk/keyvault"
)

// VaultKey is the key argument of a VaultSigningMethod: the private key
// stays in the vault and only its handle travels with the token.
type VaultKey struct {
	Ctx    context.Context
	Vault  keyvault.KeyVault
	Handle keyvault.KeyHandle
}

// VaultSigningMethod signs through a key vault and verifies with the
// standard method of the same algorithm.
type VaultSigningMethod struct {
	alg    jwk.Algorithm
	verify jwt.SigningMethod
}

// NewVaultSigningMethod returns a vault-backed signing method for alg.
func NewVaultSigningMethod(alg jwk.Algorithm) (*VaultSigningMethod, error) {
	m, err := MethodFor(alg)
	if err != nil {
		return nil, err
	}
	return &VaultSigningMethod{alg: alg, verify: m}, nil
}

// Alg returns the algorithm name
func (m *VaultSigningMethod) Alg() string {
	return string(m.alg)
}

// Sign asks the vault to sign the signing input.
func (m *VaultSigningMethod) Sign(signingString string, key interface{}) ([]byte, error) {
	vk, ok := key.(VaultKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	if vk.Vault == nil {
		return nil, fmt.Errorf("vault is required")
	}

	ctx := vk.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return vk.Vault.Sign(ctx, vk.Handle, []byte(signingString))
}

// Verify delegates to the standard method of the algorithm.
func (m *VaultSigningMethod) Verify(signingString string, signature []byte, key interface{}) error {
	return m.verify.Verify(signingString, signature, key)
}

// SignToken signs token with the vault key, returning the compact form.
func SignToken(ctx context.Context, token *jwt.Token, vault keyvault.KeyVault, handle keyvault.KeyHandle) (string, error) {
	return token.SignedString(VaultKey{Ctx: ctx, Vault: vault, Handle: handle})
}
