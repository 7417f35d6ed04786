package jwt

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
)

// Token segment names used in error context.
const (
	SegmentHeader    = "header"
	SegmentPayload   = "payload"
	SegmentSignature = "signature"
)

// Header is the protected header of a compact token.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// Compact is a token split into its decoded segments.
type Compact struct {
	Header       Header
	Payload      []byte
	Signature    []byte
	SigningInput string
}

var (
	parser  = jwt.NewParser(jwt.WithStrictDecoding())
	lenient = jwt.NewParser()
)

// Split decodes the three base64url segments of a compact token. It fails
// with MalformedToken naming the offending segment. A segment that only
// decodes when its unused trailing bits are ignored is not the encoding
// that was signed and fails with SignatureInvalid.
func Split(token string) (*Compact, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, domainerrors.Newf(domainerrors.CodeMalformedToken, "token has %d segments, expected 3", len(parts))
	}

	names := [3]string{SegmentHeader, SegmentPayload, SegmentSignature}
	var decoded [3][]byte
	for i, part := range parts {
		b, err := parser.DecodeSegment(part)
		if err != nil {
			if _, lerr := lenient.DecodeSegment(part); lerr == nil {
				return nil, &domainerrors.Error{Code: domainerrors.CodeSignatureInvalid, Message: "non-canonical base64url segment", Segment: names[i], Err: err}
			}
			return nil, &domainerrors.Error{Code: domainerrors.CodeMalformedToken, Message: "invalid base64url segment", Segment: names[i], Err: err}
		}
		decoded[i] = b
	}

	var header Header
	if err := json.Unmarshal(decoded[0], &header); err != nil {
		return nil, &domainerrors.Error{Code: domainerrors.CodeMalformedToken, Message: "invalid header JSON", Segment: SegmentHeader, Err: err}
	}
	if header.Alg == "" {
		return nil, domainerrors.New(domainerrors.CodeMalformedToken, "header has no alg").WithSegment(SegmentHeader)
	}
	if !json.Valid(decoded[1]) {
		return nil, domainerrors.New(domainerrors.CodeMalformedToken, "invalid payload JSON").WithSegment(SegmentPayload)
	}

	return &Compact{
		Header:       header,
		Payload:      decoded[1],
		Signature:    decoded[2],
		SigningInput: parts[0] + "." + parts[1],
	}, nil
}

// Verify checks the token signature with key, using the algorithm named in
// the header. It fails with UnsupportedAlgorithm or SignatureInvalid.
func (c *Compact) Verify(key jwk.Key) error {
	method, err := MethodFor(jwk.Algorithm(c.Header.Alg))
	if err != nil {
		return err
	}

	alg := jwk.Algorithm(c.Header.Alg)
	wantKT, _ := alg.KeyType()
	if kt, err := key.KeyType(); err != nil || kt != wantKT {
		return domainerrors.Newf(domainerrors.CodeSignatureInvalid, "key cannot verify %s signatures", alg).WithSegment(SegmentSignature)
	}

	pub, err := VerificationKey(key)
	if err != nil {
		return &domainerrors.Error{Code: domainerrors.CodeSignatureInvalid, Message: "invalid verification key", Err: err}
	}

	if err := method.Verify(c.SigningInput, c.Signature, pub); err != nil {
		code := domainerrors.CodeSignatureInvalid
		if errors.Is(err, jwt.ErrInvalidKeyType) {
			code = domainerrors.CodeUnsupportedAlgorithm
		}
		return &domainerrors.Error{Code: code, Message: "signature verification failed", Segment: SegmentSignature, Err: err}
	}

	return nil
}
