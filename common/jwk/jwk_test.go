package jwk

import (
	"crypto/ed25519"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlgorithmKeyType(t *testing.T) {
	tests := []struct {
		alg    Algorithm
		want   KeyType
		wantOK bool
	}{
		{alg: AlgEdDSA, want: KeyTypeEd25519, wantOK: true},
		{alg: AlgES256K, want: KeyTypeSecp256k1, wantOK: true},
		{alg: Algorithm("HS256"), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			kt, ok := tt.alg.KeyType()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, kt)
			assert.Equal(t, tt.wantOK, tt.alg.Supported())
		})
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	key := FromEd25519(pub)
	assert.Equal(t, "OKP", key.Kty)
	assert.Empty(t, key.Y)

	kt, err := key.KeyType()
	require.NoError(t, err)
	assert.Equal(t, KeyTypeEd25519, kt)

	decoded, err := key.Ed25519()
	require.NoError(t, err)
	assert.Equal(t, pub, decoded)

	_, err = key.Secp256k1Bytes()
	assert.Error(t, err)
}

func TestSecp256k1RoundTrip(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	key := FromSecp256k1(priv.PubKey())
	assert.Equal(t, "EC", key.Kty)
	assert.Equal(t, "secp256k1", key.Crv)

	raw, err := key.Secp256k1Bytes()
	require.NoError(t, err)
	assert.Equal(t, priv.PubKey().SerializeUncompressed(), raw)
}

func TestThumbprint(t *testing.T) {
	// RFC 8037 appendix A.3 test vector.
	key := Key{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   "11qYAYKxCrfVS_7TyWQHOg7hcvPapiMlrwIaaPcHURo",
	}

	tp, err := key.Thumbprint()
	require.NoError(t, err)
	assert.Equal(t, "kPrK_qmxVWaYVA9wwBF6Iuo3vVzz7TxHCTwXBygrS4k", tp)

	withAlg := key
	withAlg.Alg = string(AlgEdDSA)
	tp2, err := withAlg.Thumbprint()
	require.NoError(t, err)
	assert.Equal(t, tp, tp2, "optional members must not change the thumbprint")
}
