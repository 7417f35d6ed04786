package jwt

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
)

func init() {
	jwt.RegisterSigningMethod(ES256K.Alg(), func() jwt.SigningMethod {
		return ES256K
	})
}

// SigningMethodES256K implements ES256K signing
type SigningMethodES256K struct{}

// ES256K is the ES256K signing method instance
var ES256K = &SigningMethodES256K{}

// Alg returns the algorithm name
func (m *SigningMethodES256K) Alg() string {
	return string(jwk.AlgES256K)
}

// Sign signs a string with an *ecdsa.PrivateKey on secp256k1.
func (m *SigningMethodES256K) Sign(signingString string, key interface{}) ([]byte, error) {
	privKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}

	hash := sha256.Sum256([]byte(signingString))
	sig, err := crypto.Sign(hash[:], privKey)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	return sig[:64], nil // Return R and S, excluding recovery ID
}

// Verify verifies an R||S signature against a SEC1 encoded public key
// ([]byte) or a *btcec.PublicKey.
func (m *SigningMethodES256K) Verify(signingString string, signature []byte, key interface{}) error {
	var pub *btcec.PublicKey
	switch k := key.(type) {
	case *btcec.PublicKey:
		pub = k
	case []byte:
		parsed, err := btcec.ParsePubKey(k)
		if err != nil {
			return fmt.Errorf("invalid public key: %w", err)
		}
		pub = parsed
	default:
		return jwt.ErrInvalidKeyType
	}

	if len(signature) != 64 {
		return jwt.ErrSignatureInvalid
	}

	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(signature[:32]); overflow {
		return jwt.ErrSignatureInvalid
	}
	if overflow := s.SetByteSlice(signature[32:]); overflow {
		return jwt.ErrSignatureInvalid
	}

	hash := sha256.Sum256([]byte(signingString))
	if !btcecdsa.NewSignature(&r, &s).Verify(hash[:], pub) {
		return jwt.ErrSignatureInvalid
	}

	return nil
}

// MethodFor returns the signing method implementing alg.
func MethodFor(alg jwk.Algorithm) (jwt.SigningMethod, error) {
	switch alg {
	case jwk.AlgEdDSA:
		return jwt.SigningMethodEdDSA, nil
	case jwk.AlgES256K:
		return ES256K, nil
	default:
		return nil, domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "unsupported algorithm %q", alg)
	}
}

// VerificationKey converts a public JWK into the key type the signing
// method for its algorithm expects.
func VerificationKey(key jwk.Key) (interface{}, error) {
	kt, err := key.KeyType()
	if err != nil {
		return nil, err
	}

	switch kt {
	case jwk.KeyTypeEd25519:
		pub, err := key.Ed25519()
		if err != nil {
			return nil, err
		}
		return ed25519.PublicKey(pub), nil
	default:
		return key.Secp256k1Bytes()
	}
}
