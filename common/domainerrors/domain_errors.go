// Package domainerrors defines the typed failures returned by every public
// operation of the SDK.
//
// Each error carries a stable Code. The Kind of an error is derived from its
// code and tells the caller whether the failure is worth retrying.
package domainerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups codes by how a caller is expected to react.
type Kind string

const (
	KindConfiguration  Kind = "configuration_error"
	KindIntegrity      Kind = "integrity_error"
	KindAuthentication Kind = "authentication_error"
	KindTransport      Kind = "transport_error"
	KindUnknown        Kind = "unknown"
)

// Code identifies exactly one failure condition.
type Code string

const (
	// Configuration
	CodeInvalidNetworkName   Code = "invalid_network_name"
	CodeUnsupportedAlgorithm Code = "unsupported_algorithm"
	CodeInvalidConfig        Code = "invalid_config"

	// Integrity
	CodeDuplicateFragment Code = "duplicate_fragment"
	CodeUnknownFragment   Code = "unknown_fragment"
	CodeMalformedToken    Code = "malformed_token"
	CodeUnknownSigningKey Code = "unknown_signing_key"
	CodeIssuerMismatch    Code = "issuer_mismatch"
	CodeSchemaViolation   Code = "schema_violation"
	CodeImmutableDocument Code = "immutable_document"
	CodeMalformedDocument Code = "malformed_document"
	CodeInvalidDID        Code = "invalid_did"
	CodeInvalidFragment   Code = "invalid_fragment"

	// Authentication
	CodeSignatureInvalid Code = "signature_invalid"
	CodeExpired          Code = "expired"
	CodeNotYetValid      Code = "not_yet_valid"
	CodeVaultLocked      Code = "vault_locked"
	CodeUnknownKey       Code = "unknown_key"

	// Transport
	CodeNetworkUnavailable  Code = "network_unavailable"
	CodeTimeout             Code = "timeout"
	CodeNotFound            Code = "not_found"
	CodeLedgerRejected      Code = "ledger_rejected"
	CodeKeyVaultUnavailable Code = "key_vault_unavailable"
)

var kinds = map[Code]Kind{
	CodeInvalidNetworkName:   KindConfiguration,
	CodeUnsupportedAlgorithm: KindConfiguration,
	CodeInvalidConfig:        KindConfiguration,

	CodeDuplicateFragment: KindIntegrity,
	CodeUnknownFragment:   KindIntegrity,
	CodeMalformedToken:    KindIntegrity,
	CodeUnknownSigningKey: KindIntegrity,
	CodeIssuerMismatch:    KindIntegrity,
	CodeSchemaViolation:   KindIntegrity,
	CodeImmutableDocument: KindIntegrity,
	CodeMalformedDocument: KindIntegrity,
	CodeInvalidDID:        KindIntegrity,
	CodeInvalidFragment:   KindIntegrity,

	CodeSignatureInvalid: KindAuthentication,
	CodeExpired:          KindAuthentication,
	CodeNotYetValid:      KindAuthentication,
	CodeVaultLocked:      KindAuthentication,
	CodeUnknownKey:       KindAuthentication,

	CodeNetworkUnavailable:  KindTransport,
	CodeTimeout:             KindTransport,
	CodeNotFound:            KindTransport,
	CodeLedgerRejected:      KindTransport,
	CodeKeyVaultUnavailable: KindTransport,
}

// Kind returns the kind the code belongs to.
func (c Code) Kind() Kind {
	if k, ok := kinds[c]; ok {
		return k
	}
	return KindUnknown
}

// Error is a coded failure with enough context to diagnose it without
// re-parsing the input.
type Error struct {
	Code    Code
	Message string
	// Fragment is the verification method fragment involved, if any.
	Fragment string
	// DID is the identifier involved, if any.
	DID string
	// Segment names the token segment involved (header, payload, signature).
	Segment string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Code))
	}

	var ctx []string
	if e.DID != "" {
		ctx = append(ctx, "did="+e.DID)
	}
	if e.Fragment != "" {
		ctx = append(ctx, "fragment="+e.Fragment)
	}
	if e.Segment != "" {
		ctx = append(ctx, "segment="+e.Segment)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Kind returns the kind of the error's code.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// WithFragment returns a copy of the error carrying the given fragment.
func (e *Error) WithFragment(fragment string) *Error {
	c := *e
	c.Fragment = fragment
	return &c
}

// WithDID returns a copy of the error carrying the given DID.
func (e *Error) WithDID(did string) *Error {
	c := *e
	c.DID = did
	return &c
}

// WithSegment returns a copy of the error carrying the given token segment.
func (e *Error) WithSegment(segment string) *Error {
	c := *e
	c.Segment = segment
	return &c
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a new domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) *Error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Code:     existing.Code,
			Message:  msg,
			Fragment: existing.Fragment,
			DID:      existing.DID,
			Segment:  existing.Segment,
			Err:      err,
		}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in err's tree carries the given code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}

// KindOf returns the kind of the first domain error in err's tree.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindUnknown
}

// CodeOf returns the code of the first domain error in err's tree.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Retryable reports whether a caller may retry the failed operation
// unchanged. Only transport failures qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindTransport
}
