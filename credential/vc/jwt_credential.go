package vc

import (
	"context"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
	jwtutil "github.com/pilacorp/go-identity-sdk/credential/common/jwt"
	"github.com/pilacorp/go-identity-sdk/did"
)

// Issue signs a credential about subject with the issuer key identified by
// issuerFragment and returns the compact JWT.
//
// The token header names the signing key as <issuer DID>#<fragment>. The
// payload carries iss, sub, iat, nbf, jti and, when an expiration is set,
// exp, plus the credential itself under "vc". Nothing is signed when the
// fragment is unknown or its key cannot produce alg signatures.
func (e *Engine) Issue(ctx context.Context, issuerFragment string, issuerDoc *did.Document, subject did.DID, claims map[string]any, alg jwk.Algorithm, opts ...IssueOpt) (string, error) {
	if e.vault == nil {
		return "", domainerrors.New(domainerrors.CodeInvalidConfig, "credential engine has no key vault")
	}
	if issuerDoc == nil {
		return "", domainerrors.New(domainerrors.CodeInvalidConfig, "issuer document is required")
	}

	// 1. Resolve the signing method
	if !alg.Supported() {
		return "", domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "unsupported algorithm %q", alg)
	}
	issuer := issuerDoc.ID()
	vm, ok := issuerDoc.Method(issuerFragment)
	if !ok {
		return "", domainerrors.New(domainerrors.CodeUnknownFragment, "issuer has no such verification method").
			WithDID(issuer.String()).WithFragment(issuerFragment)
	}
	wantKT, _ := alg.KeyType()
	if kt, err := vm.KeyType(); err != nil || kt != wantKT {
		return "", domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "method key cannot sign %s", alg).
			WithDID(issuer.String()).WithFragment(issuerFragment)
	}
	handle, err := vm.KeyHandle()
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeMalformedDocument, "invalid method key").
			WithDID(issuer.String()).WithFragment(issuerFragment)
	}

	// 2. Build the credential
	c, err := e.newCredential(issuer, subject, claims, opts)
	if err != nil {
		return "", err
	}

	// 3. Sign through the vault
	method, err := jwtutil.NewVaultSigningMethod(alg)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(method, newTokenClaims(c))
	token.Header["typ"] = TokenType
	token.Header["kid"] = issuer.MethodID(issuerFragment)

	signed, err := jwtutil.SignToken(ctx, token, e.vault, handle)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeKeyVaultUnavailable, "failed to sign credential").
			WithDID(issuer.String()).WithFragment(issuerFragment)
	}

	return signed, nil
}

func (e *Engine) newCredential(issuer, subject did.DID, claims map[string]any, opts []IssueOpt) (*Credential, error) {
	o := &issueOptions{}
	for _, opt := range opts {
		opt(o)
	}

	// credentialSubject.id is the subject DID
	if _, ok := claims["id"]; ok {
		return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "claims must not carry an id member, the subject DID fills it").
			WithDID(subject.String())
	}

	if o.schema != nil {
		if err := o.schema.Validate(subjectDocument(subject, claims)); err != nil {
			return nil, err
		}
	}

	issuedAt := o.issuedAt
	if issuedAt.IsZero() {
		issuedAt = e.now()
	}
	issuedAt = issuedAt.UTC().Truncate(time.Second)

	expiresAt := o.expiresAt
	if expiresAt.IsZero() && o.ttl > 0 {
		expiresAt = issuedAt.Add(o.ttl)
	}
	if !expiresAt.IsZero() {
		expiresAt = expiresAt.UTC().Truncate(time.Second)
		if !expiresAt.After(issuedAt) {
			return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "expiration must be after issuance")
		}
	}

	id := o.id
	if id == "" {
		id = "urn:uuid:" + uuid.NewString()
	}

	c := &Credential{
		ID:        id,
		Context:   append([]string{DefaultContext}, o.context...),
		Types:     append([]string{DefaultType}, o.types...),
		Issuer:    issuer,
		Subject:   subject,
		Claims:    claims,
		IssuedAt:  issuedAt,
		NotBefore: issuedAt,
		ExpiresAt: expiresAt,
	}
	c.Context = slices.Compact(c.Context)
	if o.schema != nil {
		ref := o.schema.Reference()
		c.Schema = &ref
	}
	return c, nil
}

// IssueRequest is one credential of a batch.
type IssueRequest struct {
	Fragment  string
	Subject   did.DID
	Claims    map[string]any
	Algorithm jwk.Algorithm
	Options   []IssueOpt
}

// IssueBatch issues every request with the same issuer document, running
// at most limit signatures at once (limit <= 0 means no limit). Tokens are
// returned in request order. The first failure cancels the remaining
// issuances.
func (e *Engine) IssueBatch(ctx context.Context, issuerDoc *did.Document, reqs []IssueRequest, limit int) ([]string, error) {
	tokens := make([]string, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			token, err := e.Issue(ctx, req.Fragment, issuerDoc, req.Subject, req.Claims, req.Algorithm, req.Options...)
			if err != nil {
				return err
			}
			tokens[i] = token
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return tokens, nil
}
