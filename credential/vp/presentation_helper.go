package vp

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	jwtutil "github.com/pilacorp/go-identity-sdk/credential/common/jwt"
	"github.com/pilacorp/go-identity-sdk/did"
)

// presentationJSON is the "vp" member of the token payload.
type presentationJSON struct {
	Context              []string `json:"@context"`
	ID                   string   `json:"id,omitempty"`
	Type                 []string `json:"type"`
	Holder               string   `json:"holder"`
	VerifiableCredential []string `json:"verifiableCredential"`
}

// tokenClaims is the JWT payload of a presentation.
type tokenClaims struct {
	VP    presentationJSON `json:"vp"`
	Nonce string           `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

func newTokenClaims(p *Presentation) tokenClaims {
	holder := p.Holder.String()
	claims := tokenClaims{
		VP: presentationJSON{
			Context:              p.Context,
			ID:                   p.ID,
			Type:                 p.Types,
			Holder:               holder,
			VerifiableCredential: p.Credentials,
		},
		Nonce: p.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    holder,
			Subject:   holder,
			ID:        p.ID,
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			NotBefore: jwt.NewNumericDate(p.IssuedAt),
		},
	}
	if p.Audience != "" {
		claims.Audience = jwt.ClaimStrings{p.Audience}
	}
	if !p.ExpiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(p.ExpiresAt)
	}
	return claims
}

func decodeClaims(payload []byte) (*tokenClaims, error) {
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, &domainerrors.Error{Code: domainerrors.CodeMalformedToken, Message: "invalid presentation claims", Segment: jwtutil.SegmentPayload, Err: err}
	}
	return &claims, nil
}

func (t *tokenClaims) holder() string {
	if t.Issuer != "" {
		return t.Issuer
	}
	return t.VP.Holder
}

func (t *tokenClaims) presentation() *Presentation {
	p := &Presentation{
		ID:          t.VP.ID,
		Context:     t.VP.Context,
		Types:       t.VP.Type,
		Holder:      did.DID(t.holder()),
		Nonce:       t.Nonce,
		Credentials: t.VP.VerifiableCredential,
	}
	if p.ID == "" {
		p.ID = t.ID
	}
	if len(t.Audience) > 0 {
		p.Audience = t.Audience[0]
	}
	if t.IssuedAt != nil {
		p.IssuedAt = t.IssuedAt.Time
	}
	if t.ExpiresAt != nil {
		p.ExpiresAt = t.ExpiresAt.Time
	}
	return p
}
