package vc

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	jwtutil "github.com/pilacorp/go-identity-sdk/credential/common/jwt"
	"github.com/pilacorp/go-identity-sdk/credential/common/schema"
	"github.com/pilacorp/go-identity-sdk/did"
)

// credentialJSON is the "vc" claim of a token.
type credentialJSON struct {
	Context           []string          `json:"@context"`
	ID                string            `json:"id,omitempty"`
	Type              []string          `json:"type"`
	Issuer            string            `json:"issuer"`
	IssuanceDate      string            `json:"issuanceDate"`
	ExpirationDate    string            `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any    `json:"credentialSubject"`
	CredentialSchema  *schema.Reference `json:"credentialSchema,omitempty"`
}

// tokenClaims is the payload of a credential token.
type tokenClaims struct {
	VC credentialJSON `json:"vc"`
	jwt.RegisteredClaims
}

// subjectDocument builds the credentialSubject object.
func subjectDocument(subject did.DID, claims map[string]any) map[string]any {
	out := make(map[string]any, len(claims)+1)
	maps.Copy(out, claims)
	out["id"] = subject.String()
	return out
}

// newTokenClaims assembles the payload for a credential.
func newTokenClaims(c *Credential) tokenClaims {
	vc := credentialJSON{
		Context:           c.Context,
		ID:                c.ID,
		Type:              c.Types,
		Issuer:            c.Issuer.String(),
		IssuanceDate:      c.IssuedAt.UTC().Format(time.RFC3339),
		CredentialSubject: subjectDocument(c.Subject, c.Claims),
		CredentialSchema:  c.Schema,
	}

	rc := jwt.RegisteredClaims{
		Issuer:    c.Issuer.String(),
		Subject:   c.Subject.String(),
		IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
		NotBefore: jwt.NewNumericDate(c.NotBefore),
		ID:        c.ID,
	}
	if !c.ExpiresAt.IsZero() {
		vc.ExpirationDate = c.ExpiresAt.UTC().Format(time.RFC3339)
		rc.ExpiresAt = jwt.NewNumericDate(c.ExpiresAt)
	}

	return tokenClaims{VC: vc, RegisteredClaims: rc}
}

// decodeClaims parses a token payload.
func decodeClaims(payload []byte) (*tokenClaims, error) {
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, &domainerrors.Error{Code: domainerrors.CodeMalformedToken, Message: "invalid credential payload", Segment: jwtutil.SegmentPayload, Err: err}
	}
	return &claims, nil
}

// issuer returns the issuer named by the payload, preferring iss.
func (t *tokenClaims) issuer() string {
	if t.Issuer != "" {
		return t.Issuer
	}
	return t.VC.Issuer
}

// credential converts the payload into a Credential.
func (t *tokenClaims) credential() *Credential {
	claims := make(map[string]any, len(t.VC.CredentialSubject))
	maps.Copy(claims, t.VC.CredentialSubject)
	delete(claims, "id")

	subject := t.Subject
	if subject == "" {
		if id, ok := t.VC.CredentialSubject["id"].(string); ok {
			subject = id
		}
	}

	id := t.VC.ID
	if id == "" {
		id = t.ID
	}

	c := &Credential{
		ID:      id,
		Context: t.VC.Context,
		Types:   t.VC.Type,
		Issuer:  did.DID(t.issuer()),
		Subject: did.DID(subject),
		Claims:  claims,
		Schema:  t.VC.CredentialSchema,
	}
	if t.IssuedAt != nil {
		c.IssuedAt = t.IssuedAt.Time
	}
	if t.NotBefore != nil {
		c.NotBefore = t.NotBefore.Time
	}
	if t.ExpiresAt != nil {
		c.ExpiresAt = t.ExpiresAt.Time
	}
	return c
}
