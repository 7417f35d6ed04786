package vc

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
	jwtutil "github.com/pilacorp/go-identity-sdk/credential/common/jwt"
	"github.com/pilacorp/go-identity-sdk/did"
)

// failures collects validation errors according to the fail-fast mode.
type failures struct {
	mode FailFast
	errs []error
}

// add records err and reports whether validation must stop.
func (f *failures) add(err error) bool {
	if err == nil {
		return false
	}
	f.errs = append(f.errs, err)
	return f.mode == FirstError
}

func (f *failures) err() error {
	return domainerrors.Join(f.errs...)
}

// Validate verifies token against the issuer document and returns the
// decoded credential.
//
// A token that cannot be split or decoded, or that names an unsupported
// algorithm, fails immediately. The remaining checks (signing key,
// signature, issuer, time window, schema) either stop at the first failure
// or are all reported together, depending on WithFailFast.
func (e *Engine) Validate(token string, issuerDoc *did.Document, opts ...ValidateOpt) (*Credential, error) {
	if issuerDoc == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "issuer document is required")
	}
	o := e.validateOptions(opts)

	compact, err := jwtutil.Split(token)
	if err != nil {
		return nil, err
	}
	if !jwk.Algorithm(compact.Header.Alg).Supported() {
		return nil, domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "unsupported algorithm %q", compact.Header.Alg).
			WithSegment(jwtutil.SegmentHeader)
	}
	claims, err := decodeClaims(compact.Payload)
	if err != nil {
		return nil, err
	}

	f := &failures{mode: o.failFast}
	issuer := issuerDoc.ID()

	// 1. Signature, with the key the header names
	if f.add(VerifySignature(compact, issuerDoc)) {
		return nil, f.err()
	}

	// 2. Issuer
	if iss := claims.issuer(); iss != issuer.String() {
		err := domainerrors.Newf(domainerrors.CodeIssuerMismatch, "token issued by %q", iss).WithDID(issuer.String())
		if f.add(err) {
			return nil, f.err()
		}
	}

	// 3. Time window
	for _, err := range checkTimes(claims, o) {
		if f.add(err) {
			return nil, f.err()
		}
	}

	// 4. Schema
	if o.schema != nil {
		if f.add(o.schema.Validate(claims.VC.CredentialSubject)) {
			return nil, f.err()
		}
	}

	if err := f.err(); err != nil {
		return nil, err
	}
	return claims.credential(), nil
}

// VerifySignature checks the compact token signature with the method of doc
// named by the kid header. A kid naming another DID or an absent fragment
// fails with UnknownSigningKey.
func VerifySignature(compact *jwtutil.Compact, issuerDoc *did.Document) error {
	issuer := issuerDoc.ID()
	kid := compact.Header.Kid

	ref, fragment := did.SplitMethodID(kid)
	if fragment == "" {
		return domainerrors.New(domainerrors.CodeUnknownSigningKey, "token header names no signing key").
			WithDID(issuer.String()).WithSegment(jwtutil.SegmentHeader)
	}
	if ref != "" && ref != issuer {
		return domainerrors.Newf(domainerrors.CodeUnknownSigningKey, "signing key %q belongs to another DID", kid).
			WithDID(issuer.String()).WithFragment(fragment).WithSegment(jwtutil.SegmentHeader)
	}
	vm, ok := issuerDoc.Method(fragment)
	if !ok {
		return domainerrors.New(domainerrors.CodeUnknownSigningKey, "issuer has no such signing key").
			WithDID(issuer.String()).WithFragment(fragment).WithSegment(jwtutil.SegmentHeader)
	}

	if err := compact.Verify(vm.PublicKey); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeSignatureInvalid, "invalid credential signature").
			WithDID(issuer.String()).WithFragment(fragment)
	}
	return nil
}

// checkTimes returns every time-window violation of claims.
func checkTimes(claims *tokenClaims, o *validateOptions) []error {
	now := o.now()
	var errs []error

	rc := claims.RegisteredClaims
	if !o.checkExpiration {
		rc.ExpiresAt = nil
	}
	if o.requireExpiration && claims.ExpiresAt == nil {
		errs = append(errs, domainerrors.New(domainerrors.CodeMalformedToken, "token has no expiration").WithSegment(jwtutil.SegmentPayload))
	}

	validator := jwt.NewValidator(jwt.WithTimeFunc(func() time.Time { return now }), jwt.WithLeeway(o.leeway), jwt.WithIssuedAt())
	if err := validator.Validate(rc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			errs = append(errs, &domainerrors.Error{Code: domainerrors.CodeExpired, Message: "credential has expired", Segment: jwtutil.SegmentPayload, Err: jwt.ErrTokenExpired})
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) || errors.Is(err, jwt.ErrTokenUsedBeforeIssued) {
			errs = append(errs, &domainerrors.Error{Code: domainerrors.CodeNotYetValid, Message: "credential is not valid yet", Segment: jwtutil.SegmentPayload, Err: err})
		}
	}

	if claims.IssuedAt != nil {
		iat := claims.IssuedAt.Time
		if !o.earliestIssuance.IsZero() && iat.Add(o.leeway).Before(o.earliestIssuance) {
			errs = append(errs, domainerrors.Newf(domainerrors.CodeExpired, "credential issued before %s", o.earliestIssuance.UTC().Format(time.RFC3339)))
		}
		if !o.latestIssuance.IsZero() && iat.Add(-o.leeway).After(o.latestIssuance) {
			errs = append(errs, domainerrors.Newf(domainerrors.CodeNotYetValid, "credential issued after %s", o.latestIssuance.UTC().Format(time.RFC3339)))
		}
	}
	if !o.earliestExpiry.IsZero() && claims.ExpiresAt != nil && claims.ExpiresAt.Add(o.leeway).Before(o.earliestExpiry) {
		errs = append(errs, domainerrors.Newf(domainerrors.CodeExpired, "credential expires before %s", o.earliestExpiry.UTC().Format(time.RFC3339)))
	}

	return errs
}

// ExtractIssuer returns the issuer DID named by token without verifying its
// signature. The iss claim takes precedence over vc.issuer.
func ExtractIssuer(token string) (did.DID, error) {
	compact, err := jwtutil.Split(token)
	if err != nil {
		return "", err
	}
	claims, err := decodeClaims(compact.Payload)
	if err != nil {
		return "", err
	}

	iss := claims.issuer()
	if iss == "" {
		return "", domainerrors.New(domainerrors.CodeMalformedToken, "token names no issuer").WithSegment(jwtutil.SegmentPayload)
	}
	issuer, err := did.Parse(iss)
	if err != nil {
		return "", &domainerrors.Error{Code: domainerrors.CodeMalformedToken, Message: "token issuer is not a DID", Segment: jwtutil.SegmentPayload, Err: err}
	}
	return issuer, nil
}
