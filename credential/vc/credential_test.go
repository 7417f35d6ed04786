package vc

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
	jwtutil "github.com/pilacorp/go-identity-sdk/credential/common/jwt"
	"github.com/pilacorp/go-identity-sdk/credential/common/schema"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keyvault/memvault"
)

var fixedNow = time.Date(2024, 1, 18, 8, 13, 9, 0, time.UTC)

const subjectDID = did.DID("did:example:123")

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type fixture struct {
	vault  *memvault.Vault
	doc    *did.Document
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	vault, err := memvault.New("secure_password", memvault.WithCost(bcrypt.MinCost), memvault.WithUnlocked())
	require.NoError(t, err)

	doc, err := did.NewDocument("test", did.WithClock(clockAt(fixedNow)))
	require.NoError(t, err)
	_, err = doc.GenerateMethod(ctx, vault, jwk.KeyTypeEd25519, jwk.AlgEdDSA, "key-1", did.ScopeAssertionMethod)
	require.NoError(t, err)
	_, err = doc.GenerateMethod(ctx, vault, jwk.KeyTypeSecp256k1, jwk.AlgES256K, "key-k", did.ScopeAssertionMethod)
	require.NoError(t, err)

	return &fixture{
		vault:  vault,
		doc:    doc,
		engine: NewEngine(vault, WithClock(clockAt(fixedNow))),
	}
}

func (f *fixture) issue(t *testing.T, fragment string, alg jwk.Algorithm, opts ...IssueOpt) string {
	t.Helper()
	token, err := f.engine.Issue(context.Background(), fragment, f.doc, subjectDID, map[string]any{"degree": "BSc"}, alg, opts...)
	require.NoError(t, err)
	return token
}

func TestIssueAndValidate(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		fragment string
		alg      jwk.Algorithm
	}{
		{name: "EdDSA", fragment: "key-1", alg: jwk.AlgEdDSA},
		{name: "ES256K", fragment: "key-k", alg: jwk.AlgES256K},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := f.issue(t, tt.fragment, tt.alg, WithTTL(time.Hour), WithTypes("UniversityDegreeCredential"))
			assert.Len(t, strings.Split(token, "."), 3)

			compact, err := jwtutil.Split(token)
			require.NoError(t, err)
			assert.Equal(t, string(tt.alg), compact.Header.Alg)
			assert.Equal(t, TokenType, compact.Header.Typ)
			assert.Equal(t, f.doc.ID().MethodID(tt.fragment), compact.Header.Kid)

			c, err := f.engine.Validate(token, f.doc)
			require.NoError(t, err)
			assert.Equal(t, f.doc.ID(), c.Issuer)
			assert.Equal(t, subjectDID, c.Subject)
			assert.Equal(t, map[string]any{"degree": "BSc"}, c.Claims)
			assert.Equal(t, []string{DefaultContext}, c.Context)
			assert.Equal(t, []string{DefaultType, "UniversityDegreeCredential"}, c.Types)
			assert.True(t, strings.HasPrefix(c.ID, "urn:uuid:"))
			assert.True(t, fixedNow.Equal(c.IssuedAt))
			assert.True(t, fixedNow.Add(time.Hour).Equal(c.ExpiresAt))
		})
	}
}

func TestIssueFailures(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		fragment string
		alg      jwk.Algorithm
		wantCode domainerrors.Code
	}{
		{name: "unknown fragment", fragment: "key-9", alg: jwk.AlgEdDSA, wantCode: domainerrors.CodeUnknownFragment},
		{name: "unsupported algorithm", fragment: "key-1", alg: jwk.Algorithm("RS256"), wantCode: domainerrors.CodeUnsupportedAlgorithm},
		{name: "algorithm does not match key", fragment: "key-1", alg: jwk.AlgES256K, wantCode: domainerrors.CodeUnsupportedAlgorithm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Issue(context.Background(), tt.fragment, f.doc, subjectDID, nil, tt.alg)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domainerrors.CodeOf(err))
		})
	}
}

func TestIssueRejectsSubjectIDClaim(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		claims map[string]any
	}{
		{name: "other id", claims: map[string]any{"id": "urn:student:7", "degree": "BSc"}},
		{name: "subject id", claims: map[string]any{"id": subjectDID.String(), "degree": "BSc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Issue(context.Background(), "key-1", f.doc, subjectDID, tt.claims, jwk.AlgEdDSA)
			require.Error(t, err)
			assert.Equal(t, domainerrors.CodeInvalidConfig, domainerrors.CodeOf(err))
		})
	}
}

func TestClaimsRoundTrip(t *testing.T) {
	f := newFixture(t)
	claims := map[string]any{
		"degree": map[string]any{"type": "BachelorDegree", "name": "BSc"},
		"gpa":    3.9,
		"tags":   []any{"honours"},
	}

	token, err := f.engine.Issue(context.Background(), "key-1", f.doc, subjectDID, claims, jwk.AlgEdDSA)
	require.NoError(t, err)

	c, err := f.engine.Validate(token, f.doc)
	require.NoError(t, err)
	assert.Equal(t, claims, c.Claims)
	assert.Equal(t, subjectDID, c.Subject)
}

func TestIssueLockedVault(t *testing.T) {
	f := newFixture(t)
	f.vault.Lock()

	_, err := f.engine.Issue(context.Background(), "key-1", f.doc, subjectDID, nil, jwk.AlgEdDSA)
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeVaultLocked))
}

func TestValidateTamperedSignature(t *testing.T) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

	tests := []struct {
		name   string
		alg    jwk.Algorithm
		tamper func(t *testing.T, sig string) string
	}{
		{
			name: "flipped signature byte",
			alg:  jwk.AlgEdDSA,
			tamper: func(t *testing.T, sig string) string {
				b, err := base64.RawURLEncoding.DecodeString(sig)
				require.NoError(t, err)
				b[0] ^= 0x01
				return base64.RawURLEncoding.EncodeToString(b)
			},
		},
		{
			name: "flipped unused bit of the last character",
			alg:  jwk.AlgEdDSA,
			tamper: func(t *testing.T, sig string) string {
				last := strings.IndexByte(alphabet, sig[len(sig)-1])
				require.GreaterOrEqual(t, last, 0)
				return sig[:len(sig)-1] + string(alphabet[last^1])
			},
		},
		{
			name: "flipped first character",
			alg:  jwk.AlgES256K,
			tamper: func(t *testing.T, sig string) string {
				first := strings.IndexByte(alphabet, sig[0])
				require.GreaterOrEqual(t, first, 0)
				return string(alphabet[first^1]) + sig[1:]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			fragment := "key-1"
			if tt.alg == jwk.AlgES256K {
				fragment = "key-k"
			}
			token := f.issue(t, fragment, tt.alg)

			parts := strings.Split(token, ".")
			parts[2] = tt.tamper(t, parts[2])

			_, err := f.engine.Validate(strings.Join(parts, "."), f.doc)
			require.Error(t, err)
			assert.Equal(t, domainerrors.CodeSignatureInvalid, domainerrors.CodeOf(err))
		})
	}
}

func TestValidateTamperedPayload(t *testing.T) {
	f := newFixture(t)
	token := f.issue(t, "key-1", jwk.AlgEdDSA)

	other := f.issue(t, "key-1", jwk.AlgEdDSA, WithID("urn:uuid:other"))
	parts := strings.Split(token, ".")
	parts[1] = strings.Split(other, ".")[1]

	_, err := f.engine.Validate(strings.Join(parts, "."), f.doc)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeSignatureInvalid))
}

func TestValidateExpiration(t *testing.T) {
	f := newFixture(t)
	token := f.issue(t, "key-1", jwk.AlgEdDSA, WithTTL(time.Hour))
	later := clockAt(fixedNow.Add(2 * time.Hour))

	_, err := f.engine.Validate(token, f.doc, WithValidationClock(later))
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeExpired, domainerrors.CodeOf(err))

	_, err = f.engine.Validate(token, f.doc, WithValidationClock(later), WithoutExpirationCheck())
	assert.NoError(t, err)

	_, err = f.engine.Validate(token, f.doc, WithValidationClock(later), WithLeeway(90*time.Minute))
	assert.NoError(t, err)
}

func TestValidateTimeWindow(t *testing.T) {
	f := newFixture(t)
	token := f.issue(t, "key-1", jwk.AlgEdDSA, WithTTL(24*time.Hour))

	tests := []struct {
		name     string
		opts     []ValidateOpt
		wantCode domainerrors.Code
	}{
		{name: "within window"},
		{
			name:     "before issuance",
			opts:     []ValidateOpt{WithValidationClock(clockAt(fixedNow.Add(-time.Hour)))},
			wantCode: domainerrors.CodeNotYetValid,
		},
		{
			name:     "issued before earliest bound",
			opts:     []ValidateOpt{WithIssuanceBounds(fixedNow.Add(time.Minute), time.Time{})},
			wantCode: domainerrors.CodeExpired,
		},
		{
			name:     "issued after latest bound",
			opts:     []ValidateOpt{WithIssuanceBounds(time.Time{}, fixedNow.Add(-time.Minute))},
			wantCode: domainerrors.CodeNotYetValid,
		},
		{
			name: "issued within bounds",
			opts: []ValidateOpt{WithIssuanceBounds(fixedNow.Add(-time.Minute), fixedNow.Add(time.Minute))},
		},
		{
			name:     "expires before earliest expiry date",
			opts:     []ValidateOpt{WithEarliestExpiryDate(fixedNow.Add(48 * time.Hour))},
			wantCode: domainerrors.CodeExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Validate(token, f.doc, tt.opts...)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domainerrors.CodeOf(err))
		})
	}
}

func TestValidateRequiredExpiration(t *testing.T) {
	f := newFixture(t)
	token := f.issue(t, "key-1", jwk.AlgEdDSA)

	_, err := f.engine.Validate(token, f.doc)
	require.NoError(t, err)

	_, err = f.engine.Validate(token, f.doc, WithRequiredExpiration())
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeMalformedToken))
}

func TestValidateUnknownSigningKey(t *testing.T) {
	f := newFixture(t)
	token := f.issue(t, "key-1", jwk.AlgEdDSA)

	// the validating document no longer carries key-1
	doc := f.doc.Clone()
	require.NoError(t, doc.RemoveMethod("key-1"))
	_, err := f.engine.Validate(token, doc)
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeUnknownSigningKey, domainerrors.CodeOf(err))

	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "key-1", derr.Fragment)
}

func TestValidateIssuerMismatch(t *testing.T) {
	f := newFixture(t)
	token := f.issue(t, "key-1", jwk.AlgEdDSA)

	// same keys, different DID: the kid no longer belongs to the document
	anchored, err := f.doc.Anchor("0x"+strings.Repeat("ab", 32), fixedNow)
	require.NoError(t, err)

	_, err = f.engine.Validate(token, anchored, WithFailFast(AllErrors))
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeUnknownSigningKey))
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeIssuerMismatch))
}

func TestValidateFailFast(t *testing.T) {
	f := newFixture(t)
	token := f.issue(t, "key-1", jwk.AlgEdDSA, WithTTL(time.Hour))

	doc := f.doc.Clone()
	require.NoError(t, doc.RemoveMethod("key-1"))
	later := WithValidationClock(clockAt(fixedNow.Add(2 * time.Hour)))

	_, err := f.engine.Validate(token, doc, later)
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeUnknownSigningKey))
	assert.False(t, domainerrors.HasCode(err, domainerrors.CodeExpired))

	_, err = f.engine.Validate(token, doc, later, WithFailFast(AllErrors))
	require.Error(t, err)

	var all *domainerrors.Errors
	require.ErrorAs(t, err, &all)
	assert.Equal(t, []domainerrors.Code{domainerrors.CodeUnknownSigningKey, domainerrors.CodeExpired}, all.Codes())
}

func TestValidateMalformedToken(t *testing.T) {
	f := newFixture(t)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","kid":"key-1"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"iss":"did:nda:test:x"}`))

	tests := []struct {
		name     string
		token    string
		wantCode domainerrors.Code
	}{
		{name: "not a token", token: "garbage", wantCode: domainerrors.CodeMalformedToken},
		{name: "unsupported algorithm", token: header + "." + payload + ".c2ln", wantCode: domainerrors.CodeUnsupportedAlgorithm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Validate(tt.token, f.doc, WithFailFast(AllErrors))
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domainerrors.CodeOf(err))
		})
	}
}

func TestSchema(t *testing.T) {
	f := newFixture(t)
	s, err := schema.Compile("https://example.org/schemas/degree.json", `{
		"type": "object",
		"properties": {"degree": {"enum": ["BSc", "MSc"]}},
		"required": ["degree"]
	}`)
	require.NoError(t, err)

	token := f.issue(t, "key-1", jwk.AlgEdDSA, WithSchema(s))
	c, err := f.engine.Validate(token, f.doc, WithSchemaCheck(s))
	require.NoError(t, err)
	require.NotNil(t, c.Schema)
	assert.Equal(t, s.ID, c.Schema.ID)
	assert.Equal(t, schema.TypeJSONSchema, c.Schema.Type)

	_, err = f.engine.Issue(context.Background(), "key-1", f.doc, subjectDID, map[string]any{"degree": "PhD"}, jwk.AlgEdDSA, WithSchema(s))
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeSchemaViolation))
}

func TestExtractIssuer(t *testing.T) {
	f := newFixture(t)
	token := f.issue(t, "key-1", jwk.AlgEdDSA)

	issuer, err := ExtractIssuer(token)
	require.NoError(t, err)
	assert.Equal(t, f.doc.ID(), issuer)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"EdDSA"}`))
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name    string
		payload string
		want    did.DID
		wantErr bool
	}{
		{name: "vc issuer fallback", payload: `{"vc":{"issuer":"did:example:abc"}}`, want: "did:example:abc"},
		{name: "iss wins", payload: `{"iss":"did:example:iss","vc":{"issuer":"did:example:abc"}}`, want: "did:example:iss"},
		{name: "no issuer", payload: `{"sub":"did:example:123"}`, wantErr: true},
		{name: "issuer not a DID", payload: `{"iss":"https://issuer.example"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractIssuer(header + "." + enc(tt.payload) + ".c2ln")
			if tt.wantErr {
				assert.True(t, domainerrors.HasCode(err, domainerrors.CodeMalformedToken))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIssueBatch(t *testing.T) {
	f := newFixture(t)

	reqs := make([]IssueRequest, 8)
	for i := range reqs {
		reqs[i] = IssueRequest{
			Fragment:  "key-1",
			Subject:   did.DID(fmt.Sprintf("did:example:%d", i)),
			Claims:    map[string]any{"n": i},
			Algorithm: jwk.AlgEdDSA,
		}
	}

	tokens, err := f.engine.IssueBatch(context.Background(), f.doc, reqs, 3)
	require.NoError(t, err)
	require.Len(t, tokens, len(reqs))

	for i, token := range tokens {
		c, err := f.engine.Validate(token, f.doc)
		require.NoError(t, err)
		assert.Equal(t, reqs[i].Subject, c.Subject)
	}

	reqs[5].Fragment = "missing"
	_, err = f.engine.IssueBatch(context.Background(), f.doc, reqs, 3)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeUnknownFragment))
}
