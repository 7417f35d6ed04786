// Package jwk holds the public key representation shared by the key vault,
// DID documents and the credential engine.
package jwk

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gowebpki/jcs"
)

// KeyType is the kind of key pair a vault can generate.
type KeyType string

const (
	KeyTypeEd25519   KeyType = "Ed25519"
	KeyTypeSecp256k1 KeyType = "secp256k1"
)

// Algorithm is a JWS signing algorithm.
type Algorithm string

const (
	AlgEdDSA  Algorithm = "EdDSA"
	AlgES256K Algorithm = "ES256K"
)

// KeyType returns the key type the algorithm signs with, or false when the
// algorithm is not supported.
func (a Algorithm) KeyType() (KeyType, bool) {
	switch a {
	case AlgEdDSA:
		return KeyTypeEd25519, true
	case AlgES256K:
		return KeyTypeSecp256k1, true
	default:
		return "", false
	}
}

// Supported reports whether the SDK can sign and verify with the algorithm.
func (a Algorithm) Supported() bool {
	_, ok := a.KeyType()
	return ok
}

// Valid reports whether the key type is known.
func (k KeyType) Valid() bool {
	return k == KeyTypeEd25519 || k == KeyTypeSecp256k1
}

// Key represents a public JSON Web Key.
type Key struct {
	Kty string `json:"kty"`           // Key type
	Crv string `json:"crv"`           // Curve
	X   string `json:"x"`             // X coordinate
	Y   string `json:"y,omitempty"`   // Y coordinate
	Alg string `json:"alg,omitempty"` // Intended algorithm
}

// FromEd25519 builds the OKP key for an Ed25519 public key.
func FromEd25519(pub ed25519.PublicKey) Key {
	return Key{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}
}

// FromSecp256k1 builds the EC key for a secp256k1 public key.
func FromSecp256k1(pub *secp256k1.PublicKey) Key {
	raw := pub.SerializeUncompressed() // 0x04 || X || Y
	return Key{
		Kty: "EC",
		Crv: "secp256k1",
		X:   base64.RawURLEncoding.EncodeToString(raw[1:33]),
		Y:   base64.RawURLEncoding.EncodeToString(raw[33:65]),
	}
}

// KeyType returns the key type described by the JWK.
func (k Key) KeyType() (KeyType, error) {
	switch {
	case k.Kty == "OKP" && k.Crv == "Ed25519":
		return KeyTypeEd25519, nil
	case k.Kty == "EC" && k.Crv == "secp256k1":
		return KeyTypeSecp256k1, nil
	default:
		return "", fmt.Errorf("unsupported key: kty=%q crv=%q", k.Kty, k.Crv)
	}
}

// Ed25519 decodes the key as an Ed25519 public key.
func (k Key) Ed25519() (ed25519.PublicKey, error) {
	if kt, err := k.KeyType(); err != nil || kt != KeyTypeEd25519 {
		return nil, fmt.Errorf("not an Ed25519 key")
	}

	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("invalid x coordinate: %w", err)
	}
	if len(x) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid Ed25519 key length: %d", len(x))
	}
	return ed25519.PublicKey(x), nil
}

// Secp256k1Bytes returns the uncompressed SEC1 encoding of a secp256k1 key.
func (k Key) Secp256k1Bytes() ([]byte, error) {
	if kt, err := k.KeyType(); err != nil || kt != KeyTypeSecp256k1 {
		return nil, fmt.Errorf("not a secp256k1 key")
	}

	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("invalid x coordinate: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("invalid y coordinate: %w", err)
	}
	if len(x) != 32 || len(y) != 32 {
		return nil, fmt.Errorf("invalid secp256k1 coordinate length")
	}

	out := make([]byte, 0, 65)
	out = append(out, 0x04)
	out = append(out, x...)
	out = append(out, y...)

	if _, err := secp256k1.ParsePubKey(out); err != nil {
		return nil, fmt.Errorf("point not on curve: %w", err)
	}
	return out, nil
}

// Thumbprint computes the RFC 7638 thumbprint of the key: the base64url
// SHA-256 of the canonical JSON of its required members.
func (k Key) Thumbprint() (string, error) {
	members := map[string]string{
		"kty": k.Kty,
		"crv": k.Crv,
		"x":   k.X,
	}
	if k.Kty == "EC" {
		members["y"] = k.Y
	}

	raw, err := json.Marshal(members)
	if err != nil {
		return "", fmt.Errorf("failed to marshal key members: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize key members: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
