// Package vc is the Credential Engine: it issues Verifiable Credentials as
// compact JWTs signed through a key vault, validates them against the
// issuer's DID document and extracts the issuer of a token without
// verifying it.
//
// The engine holds no mutable state; one Engine may serve concurrent
// callers.
package vc

import (
	"time"

	"github.com/pilacorp/go-identity-sdk/credential/common/schema"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keyvault"
)

// Default credential framing values.
const (
	DefaultContext = "https://www.w3.org/2018/credentials/v1"
	DefaultType    = "VerifiableCredential"
	// TokenType is the typ header of every issued token.
	TokenType = "JWT"
)

// Credential is the decoded content of a signed credential token.
type Credential struct {
	ID      string
	Context []string
	Types   []string
	Issuer  did.DID
	// Subject is the DID the claims are about.
	Subject did.DID
	// Claims are the credentialSubject members other than "id", decoded
	// as generic JSON values.
	Claims    map[string]any
	IssuedAt  time.Time
	NotBefore time.Time
	// ExpiresAt is zero when the credential does not expire.
	ExpiresAt time.Time
	Schema    *schema.Reference
}

// Engine issues and validates credentials.
type Engine struct {
	vault keyvault.KeyVault
	now   func() time.Time
}

// EngineOpt configures an Engine.
type EngineOpt func(*Engine)

// WithClock sets the time source for issuance and validation.
func WithClock(now func() time.Time) EngineOpt {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a credential engine signing through vault. A nil vault
// is allowed for engines that only validate.
func NewEngine(vault keyvault.KeyVault, opts ...EngineOpt) *Engine {
	e := &Engine{vault: vault, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IssueOpt configures a single issuance.
type IssueOpt func(*issueOptions)

type issueOptions struct {
	id        string
	context   []string
	types     []string
	issuedAt  time.Time
	expiresAt time.Time
	ttl       time.Duration
	schema    *schema.Schema
}

// WithID sets the credential id (default: urn:uuid:<random>).
func WithID(id string) IssueOpt {
	return func(o *issueOptions) { o.id = id }
}

// WithContext appends JSON-LD contexts after the default one.
func WithContext(contexts ...string) IssueOpt {
	return func(o *issueOptions) { o.context = append(o.context, contexts...) }
}

// WithTypes appends credential types after VerifiableCredential.
func WithTypes(types ...string) IssueOpt {
	return func(o *issueOptions) { o.types = append(o.types, types...) }
}

// WithIssuedAt overrides the issuance time.
func WithIssuedAt(t time.Time) IssueOpt {
	return func(o *issueOptions) { o.issuedAt = t }
}

// WithExpiration sets an absolute expiration time.
func WithExpiration(t time.Time) IssueOpt {
	return func(o *issueOptions) { o.expiresAt = t }
}

// WithTTL sets the expiration relative to the issuance time.
func WithTTL(d time.Duration) IssueOpt {
	return func(o *issueOptions) { o.ttl = d }
}

// WithSchema validates the claims against s before signing and records
// it as the credentialSchema.
func WithSchema(s *schema.Schema) IssueOpt {
	return func(o *issueOptions) { o.schema = s }
}

// FailFast selects how many validation failures Validate reports.
type FailFast int

const (
	// FirstError stops at the first failure.
	FirstError FailFast = iota
	// AllErrors runs every check and reports all failures together.
	AllErrors
)

// ValidateOpt configures a single validation.
type ValidateOpt func(*validateOptions)

type validateOptions struct {
	failFast          FailFast
	checkExpiration   bool
	leeway            time.Duration
	now               func() time.Time
	earliestIssuance  time.Time
	latestIssuance    time.Time
	earliestExpiry    time.Time
	schema            *schema.Schema
	requireExpiration bool
}

// WithFailFast selects FirstError (default) or AllErrors.
func WithFailFast(mode FailFast) ValidateOpt {
	return func(o *validateOptions) { o.failFast = mode }
}

// WithoutExpirationCheck accepts tokens past their exp claim.
func WithoutExpirationCheck() ValidateOpt {
	return func(o *validateOptions) { o.checkExpiration = false }
}

// WithRequiredExpiration rejects tokens that carry no exp claim.
func WithRequiredExpiration() ValidateOpt {
	return func(o *validateOptions) { o.requireExpiration = true }
}

// WithLeeway tolerates clock skew in every time comparison.
func WithLeeway(d time.Duration) ValidateOpt {
	return func(o *validateOptions) { o.leeway = d }
}

// WithValidationClock sets the time validation is performed at.
func WithValidationClock(now func() time.Time) ValidateOpt {
	return func(o *validateOptions) { o.now = now }
}

// WithIssuanceBounds rejects credentials issued before earliest (Expired)
// or after latest (NotYetValid). Zero bounds are ignored.
func WithIssuanceBounds(earliest, latest time.Time) ValidateOpt {
	return func(o *validateOptions) {
		o.earliestIssuance = earliest
		o.latestIssuance = latest
	}
}

// WithEarliestExpiryDate rejects credentials that expire before t.
func WithEarliestExpiryDate(t time.Time) ValidateOpt {
	return func(o *validateOptions) { o.earliestExpiry = t }
}

// WithSchemaCheck validates the credential subject against s.
func WithSchemaCheck(s *schema.Schema) ValidateOpt {
	return func(o *validateOptions) { o.schema = s }
}

func (e *Engine) validateOptions(opts []ValidateOpt) *validateOptions {
	o := &validateOptions{
		failFast:        FirstError,
		checkExpiration: true,
		now:             e.now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
