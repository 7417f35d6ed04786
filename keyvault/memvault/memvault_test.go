package memvault

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
	"github.com/pilacorp/go-identity-sdk/keyvault"
)

func newUnlocked(t *testing.T) *Vault {
	t.Helper()
	v, err := New("secure_password", WithCost(bcrypt.MinCost))
	require.NoError(t, err)
	require.NoError(t, v.Unlock("secure_password"))
	return v
}

func TestNewRequiresPassword(t *testing.T) {
	_, err := New("")
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidConfig))
}

func TestLockedVault(t *testing.T) {
	ctx := context.Background()
	v, err := New("secure_password", WithCost(bcrypt.MinCost))
	require.NoError(t, err)
	assert.True(t, v.Locked())

	_, _, err = v.GenerateKey(ctx, jwk.KeyTypeEd25519)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeVaultLocked))

	err = v.Unlock("wrong")
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeVaultLocked))
	assert.True(t, v.Locked())

	require.NoError(t, v.Unlock("secure_password"))
	handle, _, err := v.GenerateKey(ctx, jwk.KeyTypeEd25519)
	require.NoError(t, err)

	v.Lock()
	_, err = v.Sign(ctx, handle, []byte("payload"))
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeVaultLocked))
	assert.Equal(t, domainerrors.KindAuthentication, domainerrors.KindOf(err))
	assert.True(t, v.Has(handle), "locking keeps keys")
}

func TestSignEd25519(t *testing.T) {
	ctx := context.Background()
	v := newUnlocked(t)

	handle, pub, err := v.GenerateKey(ctx, jwk.KeyTypeEd25519)
	require.NoError(t, err)

	want, err := keyvault.HandleFor(pub)
	require.NoError(t, err)
	assert.Equal(t, want, handle)

	payload := []byte("header.payload")
	sig, err := v.Sign(ctx, handle, payload)
	require.NoError(t, err)

	pk, err := pub.Ed25519()
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pk, payload, sig))
}

func TestSignSecp256k1(t *testing.T) {
	ctx := context.Background()
	v := newUnlocked(t)

	handle, pub, err := v.GenerateKey(ctx, jwk.KeyTypeSecp256k1)
	require.NoError(t, err)

	payload := []byte("header.payload")
	sig, err := v.Sign(ctx, handle, payload)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	raw, err := pub.Secp256k1Bytes()
	require.NoError(t, err)
	hash := sha256.Sum256(payload)
	assert.True(t, crypto.VerifySignature(raw, hash[:], sig))
}

func TestSignUnknownHandle(t *testing.T) {
	v := newUnlocked(t)

	_, err := v.Sign(context.Background(), keyvault.KeyHandle("missing"), []byte("x"))
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeUnknownKey))
}

func TestUnsupportedKeyType(t *testing.T) {
	v := newUnlocked(t)

	_, _, err := v.GenerateKey(context.Background(), jwk.KeyType("RSA"))
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeUnsupportedAlgorithm))
}

func TestConcurrentSigning(t *testing.T) {
	ctx := context.Background()
	v := newUnlocked(t)

	handles := make([]keyvault.KeyHandle, 4)
	for i := range handles {
		h, _, err := v.GenerateKey(ctx, jwk.KeyTypeEd25519)
		require.NoError(t, err)
		handles[i] = h
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(handles)*10)
	for _, h := range handles {
		for range 10 {
			wg.Add(1)
			go func(h keyvault.KeyHandle) {
				defer wg.Done()
				_, err := v.Sign(ctx, h, []byte("payload"))
				errs <- err
			}(h)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
