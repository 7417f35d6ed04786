// Package vp wraps credential tokens into presentations: JWTs signed by the
// holder that carry one or more credential tokens, optionally bound to an
// audience and a nonce.
package vp

import (
	"time"

	"github.com/pilacorp/go-identity-sdk/credential/vc"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keyvault"
)

const (
	DefaultContext = "https://www.w3.org/2018/credentials/v1"
	DefaultType    = "VerifiablePresentation"
)

// Presentation is the decoded content of a signed presentation token.
type Presentation struct {
	ID       string
	Context  []string
	Types    []string
	Holder   did.DID
	Audience string
	Nonce    string
	// Credentials are the embedded credential tokens, in order.
	Credentials []string
	IssuedAt    time.Time
	// ExpiresAt is zero when the presentation does not expire.
	ExpiresAt time.Time
}

// Engine signs and verifies presentations.
type Engine struct {
	vault       keyvault.KeyVault
	credentials *vc.Engine
	now         func() time.Time
}

// EngineOpt configures an Engine.
type EngineOpt func(*Engine)

// WithClock sets the time source for signing and verification.
func WithClock(now func() time.Time) EngineOpt {
	return func(e *Engine) { e.now = now }
}

// WithCredentialEngine validates embedded credentials with credentials.
func WithCredentialEngine(credentials *vc.Engine) EngineOpt {
	return func(e *Engine) { e.credentials = credentials }
}

// NewEngine creates a presentation engine signing through vault.
func NewEngine(vault keyvault.KeyVault, opts ...EngineOpt) *Engine {
	e := &Engine{vault: vault, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.credentials == nil {
		e.credentials = vc.NewEngine(vault, vc.WithClock(e.now))
	}
	return e
}

// PresentOpt configures a single presentation.
type PresentOpt func(*presentOptions)

type presentOptions struct {
	id       string
	audience string
	nonce    string
	ttl      time.Duration
}

// WithID sets the presentation id. Defaults to a urn:uuid.
func WithID(id string) PresentOpt {
	return func(o *presentOptions) { o.id = id }
}

// WithAudience binds the presentation to a verifier.
func WithAudience(aud string) PresentOpt {
	return func(o *presentOptions) { o.audience = aud }
}

// WithNonce binds the presentation to a verifier challenge.
func WithNonce(nonce string) PresentOpt {
	return func(o *presentOptions) { o.nonce = nonce }
}

// WithTTL sets the lifetime of the presentation.
func WithTTL(d time.Duration) PresentOpt {
	return func(o *presentOptions) { o.ttl = d }
}

// VerifyOpt configures a single verification.
type VerifyOpt func(*verifyOptions)

type verifyOptions struct {
	audience      string
	nonce         string
	holderBinding bool
	credentialOps []vc.ValidateOpt
}

// WithExpectedAudience requires the aud claim to equal aud.
func WithExpectedAudience(aud string) VerifyOpt {
	return func(o *verifyOptions) { o.audience = aud }
}

// WithExpectedNonce requires the nonce claim to equal nonce.
func WithExpectedNonce(nonce string) VerifyOpt {
	return func(o *verifyOptions) { o.nonce = nonce }
}

// WithHolderBinding requires every embedded credential to be about the
// holder.
func WithHolderBinding() VerifyOpt {
	return func(o *verifyOptions) { o.holderBinding = true }
}

// WithCredentialOptions applies opts to every embedded credential.
func WithCredentialOptions(opts ...vc.ValidateOpt) VerifyOpt {
	return func(o *verifyOptions) { o.credentialOps = append(o.credentialOps, opts...) }
}
