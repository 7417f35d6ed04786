package vp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
	jwtutil "github.com/pilacorp/go-identity-sdk/credential/common/jwt"
	"github.com/pilacorp/go-identity-sdk/credential/vc"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/ledger"
)

// Present signs a presentation of tokens with the holder key identified by
// holderFragment and returns the compact JWT. Every token must at least be
// a well-formed compact JWT.
func (e *Engine) Present(ctx context.Context, holderFragment string, holderDoc *did.Document, tokens []string, alg jwk.Algorithm, opts ...PresentOpt) (string, error) {
	if e.vault == nil {
		return "", domainerrors.New(domainerrors.CodeInvalidConfig, "presentation engine has no key vault")
	}
	if holderDoc == nil {
		return "", domainerrors.New(domainerrors.CodeInvalidConfig, "holder document is required")
	}
	if len(tokens) == 0 {
		return "", domainerrors.New(domainerrors.CodeInvalidConfig, "a presentation needs at least one credential")
	}
	for _, t := range tokens {
		if _, err := jwtutil.Split(t); err != nil {
			return "", err
		}
	}

	if !alg.Supported() {
		return "", domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "unsupported algorithm %q", alg)
	}
	holder := holderDoc.ID()
	vm, ok := holderDoc.Method(holderFragment)
	if !ok {
		return "", domainerrors.New(domainerrors.CodeUnknownFragment, "holder has no such verification method").
			WithDID(holder.String()).WithFragment(holderFragment)
	}
	wantKT, _ := alg.KeyType()
	if kt, err := vm.KeyType(); err != nil || kt != wantKT {
		return "", domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "method key cannot sign %s", alg).
			WithDID(holder.String()).WithFragment(holderFragment)
	}
	handle, err := vm.KeyHandle()
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeMalformedDocument, "invalid method key").
			WithDID(holder.String()).WithFragment(holderFragment)
	}

	o := &presentOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.ttl < 0 {
		return "", domainerrors.New(domainerrors.CodeInvalidConfig, "presentation TTL must not be negative")
	}
	p := &Presentation{
		ID:          o.id,
		Context:     []string{DefaultContext},
		Types:       []string{DefaultType},
		Holder:      holder,
		Audience:    o.audience,
		Nonce:       o.nonce,
		Credentials: tokens,
		IssuedAt:    e.now().UTC().Truncate(time.Second),
	}
	if p.ID == "" {
		p.ID = "urn:uuid:" + uuid.NewString()
	}
	if o.ttl > 0 {
		p.ExpiresAt = p.IssuedAt.Add(o.ttl)
	}

	method, err := jwtutil.NewVaultSigningMethod(alg)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(method, newTokenClaims(p))
	token.Header["typ"] = vc.TokenType
	token.Header["kid"] = holder.MethodID(holderFragment)

	signed, err := jwtutil.SignToken(ctx, token, e.vault, handle)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeKeyVaultUnavailable, "failed to sign presentation").
			WithDID(holder.String()).WithFragment(holderFragment)
	}
	return signed, nil
}

// Verify checks token against the holder document, then resolves the
// issuer of every embedded credential through issuers and validates it.
// Verification stops at the first failure.
func (e *Engine) Verify(ctx context.Context, token string, holderDoc *did.Document, issuers ledger.Resolver, opts ...VerifyOpt) (*Presentation, []*vc.Credential, error) {
	if holderDoc == nil || issuers == nil {
		return nil, nil, domainerrors.New(domainerrors.CodeInvalidConfig, "holder document and issuer resolver are required")
	}
	o := &verifyOptions{}
	for _, opt := range opts {
		opt(o)
	}

	compact, err := jwtutil.Split(token)
	if err != nil {
		return nil, nil, err
	}
	if !jwk.Algorithm(compact.Header.Alg).Supported() {
		return nil, nil, domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "unsupported algorithm %q", compact.Header.Alg).
			WithSegment(jwtutil.SegmentHeader)
	}
	claims, err := decodeClaims(compact.Payload)
	if err != nil {
		return nil, nil, err
	}

	// 1. Holder signature
	holder := holderDoc.ID()
	if err := vc.VerifySignature(compact, holderDoc); err != nil {
		return nil, nil, err
	}
	if h := claims.holder(); h != holder.String() {
		return nil, nil, domainerrors.Newf(domainerrors.CodeIssuerMismatch, "presentation signed for holder %q", h).WithDID(holder.String())
	}

	// 2. Audience, nonce and lifetime
	vopts := []jwt.ParserOption{jwt.WithTimeFunc(e.now), jwt.WithIssuedAt()}
	if o.audience != "" {
		vopts = append(vopts, jwt.WithAudience(o.audience))
	}
	if err := jwt.NewValidator(vopts...).Validate(claims.RegisteredClaims); err != nil {
		return nil, nil, claimsError(err)
	}
	if o.nonce != "" && claims.Nonce != o.nonce {
		return nil, nil, domainerrors.New(domainerrors.CodeMalformedToken, "presentation nonce does not match the challenge").WithSegment(jwtutil.SegmentPayload)
	}

	// 3. Embedded credentials
	p := claims.presentation()
	if len(p.Credentials) == 0 {
		return nil, nil, domainerrors.New(domainerrors.CodeMalformedToken, "presentation carries no credentials").WithSegment(jwtutil.SegmentPayload)
	}
	credentials := make([]*vc.Credential, 0, len(p.Credentials))
	for i, t := range p.Credentials {
		c, err := e.verifyCredential(ctx, t, issuers, o)
		if err != nil {
			return nil, nil, domainerrors.Wrap(err, domainerrors.CodeMalformedToken, fmt.Sprintf("embedded credential %d rejected", i))
		}
		if o.holderBinding && c.Subject != holder {
			return nil, nil, domainerrors.Newf(domainerrors.CodeIssuerMismatch, "credential %d is about %s, not the holder", i, c.Subject).
				WithDID(holder.String())
		}
		credentials = append(credentials, c)
	}

	return p, credentials, nil
}

func (e *Engine) verifyCredential(ctx context.Context, token string, issuers ledger.Resolver, o *verifyOptions) (*vc.Credential, error) {
	issuer, err := vc.ExtractIssuer(token)
	if err != nil {
		return nil, err
	}
	doc, err := issuers.Resolve(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return e.credentials.Validate(token, doc, o.credentialOps...)
}

func claimsError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &domainerrors.Error{Code: domainerrors.CodeExpired, Message: "presentation has expired", Segment: jwtutil.SegmentPayload, Err: err}
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return &domainerrors.Error{Code: domainerrors.CodeNotYetValid, Message: "presentation is not valid yet", Segment: jwtutil.SegmentPayload, Err: err}
	default:
		return &domainerrors.Error{Code: domainerrors.CodeMalformedToken, Message: "presentation claims rejected", Segment: jwtutil.SegmentPayload, Err: err}
	}
}

// ExtractHolder returns the holder DID named by token without verifying
// its signature.
func ExtractHolder(token string) (did.DID, error) {
	compact, err := jwtutil.Split(token)
	if err != nil {
		return "", err
	}
	claims, err := decodeClaims(compact.Payload)
	if err != nil {
		return "", err
	}
	holder, err := did.Parse(claims.holder())
	if err != nil {
		return "", &domainerrors.Error{Code: domainerrors.CodeMalformedToken, Message: "presentation holder is not a DID", Segment: jwtutil.SegmentPayload, Err: err}
	}
	return holder, nil
}
