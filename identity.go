// Package identity composes the DID Document Engine, the Credential Engine,
// a key vault and a ledger client into the end-to-end flows of the SDK:
// creating a published identity, issuing credentials, verifying them
// against the issuer's resolved document and anchoring them on the ledger.
//
// Ledger calls that fail with a transient transport error are retried with
// exponential backoff. Other failures, NotFound included, are returned
// unchanged.
package identity

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
	"github.com/pilacorp/go-identity-sdk/config"
	"github.com/pilacorp/go-identity-sdk/credential/status"
	"github.com/pilacorp/go-identity-sdk/credential/vc"
	"github.com/pilacorp/go-identity-sdk/credential/vp"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keyvault"
	"github.com/pilacorp/go-identity-sdk/ledger"
)

// CredentialTag is the tag of data blocks holding credential tokens.
const CredentialTag = "vc+jwt"

// SDK runs the identity flows. It is safe for concurrent use as long as
// its collaborators are.
type SDK struct {
	vault    keyvault.KeyVault
	ledger   ledger.Client
	resolver ledger.Resolver
	engine   *vc.Engine
	vps      *vp.Engine
	method   string
	network  string
	now      func() time.Time
	retry    retryPolicy
	logger   *slog.Logger
}

// Option configures an SDK.
type Option func(*SDK)

// WithConfig applies the DID method, network and retry budget of cfg.
func WithConfig(cfg config.Config) Option {
	return func(s *SDK) {
		if cfg.Method != "" {
			s.method = cfg.Method
		}
		if cfg.Network != "" {
			s.network = cfg.Network
		}
		s.retry.maxElapsed = cfg.RetryMaxElapsed
	}
}

// WithNetwork sets the network of created identities.
func WithNetwork(network string) Option {
	return func(s *SDK) { s.network = network }
}

// WithResolver resolves issuer documents with r instead of the ledger
// client.
func WithResolver(r ledger.Resolver) Option {
	return func(s *SDK) { s.resolver = r }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SDK) { s.logger = logger }
}

// WithClock sets the time source of documents and credentials.
func WithClock(now func() time.Time) Option {
	return func(s *SDK) { s.now = now }
}

// WithRetry sets the first backoff interval and the total retry budget of
// ledger calls. A zero budget disables retries.
func WithRetry(initial, maxElapsed time.Duration) Option {
	return func(s *SDK) {
		s.retry.initial = initial
		s.retry.maxElapsed = maxElapsed
	}
}

// New creates an SDK signing with vault and publishing to ledgerClient.
func New(vault keyvault.KeyVault, ledgerClient ledger.Client, opts ...Option) (*SDK, error) {
	if vault == nil || ledgerClient == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "key vault and ledger client are required")
	}

	s := &SDK{
		vault:   vault,
		ledger:  ledgerClient,
		method:  did.DefaultMethod,
		network: config.DefaultNetwork,
		now:     time.Now,
		retry:   retryPolicy{initial: defaultInitialInterval, maxElapsed: config.DefaultRetryMaxElapsed},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := did.ValidateNetwork(s.network); err != nil {
		return nil, err
	}
	if s.resolver == nil {
		s.resolver = ledgerClient
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.retry.logger = s.logger
	s.engine = vc.NewEngine(vault, vc.WithClock(s.now))
	s.vps = vp.NewEngine(vault, vp.WithClock(s.now), vp.WithCredentialEngine(s.engine))

	return s, nil
}

// Engine returns the credential engine used by the SDK.
func (s *SDK) Engine() *vc.Engine {
	return s.engine
}

var _ ledger.Resolver = (*SDK)(nil)

// Identity is a published DID document and the fragment of its first
// signing key.
type Identity struct {
	Document *did.Document
	Fragment string
	Alg      jwk.Algorithm
}

// DID returns the published DID.
func (i *Identity) DID() did.DID {
	return i.Document.ID()
}

// CreateIdentity creates a document with one verification method of the
// given algorithm under scope and publishes it. An empty fragment is
// derived from the key thumbprint.
func (s *SDK) CreateIdentity(ctx context.Context, alg jwk.Algorithm, fragment string, scope did.MethodScope) (*Identity, error) {
	keyType, ok := alg.KeyType()
	if !ok {
		return nil, domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "unsupported algorithm %q", alg)
	}

	doc, err := did.NewDocument(s.network, did.WithMethod(s.method), did.WithClock(s.now))
	if err != nil {
		return nil, err
	}
	fragment, err = doc.GenerateMethod(ctx, s.vault, keyType, alg, fragment, scope)
	if err != nil {
		return nil, err
	}

	published, err := retry(ctx, s.retry, "publish", func() (*did.Document, error) {
		return s.ledger.Publish(ctx, doc)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "identity published",
		slog.String("did", published.ID().String()),
		slog.String("fragment", fragment),
		slog.String("alg", string(alg)),
	)

	return &Identity{Document: published, Fragment: fragment, Alg: alg}, nil
}

// PublishVersion publishes an edited version of a published document.
func (s *SDK) PublishVersion(ctx context.Context, doc *did.Document) (*did.Document, error) {
	return retry(ctx, s.retry, "publish", func() (*did.Document, error) {
		return s.ledger.Publish(ctx, doc)
	})
}

// IssueCredential signs a credential about subject with the identity's
// signing key.
func (s *SDK) IssueCredential(ctx context.Context, issuer *Identity, subject did.DID, claims map[string]any, opts ...vc.IssueOpt) (string, error) {
	if issuer == nil {
		return "", domainerrors.New(domainerrors.CodeInvalidConfig, "issuer identity is required")
	}
	return s.engine.Issue(ctx, issuer.Fragment, issuer.Document, subject, claims, issuer.Alg, opts...)
}

// VerifyCredential resolves the issuer named by token and validates the
// token against the resolved document.
func (s *SDK) VerifyCredential(ctx context.Context, token string, opts ...vc.ValidateOpt) (*vc.Credential, error) {
	issuer, err := vc.ExtractIssuer(token)
	if err != nil {
		return nil, err
	}

	doc, err := s.Resolve(ctx, issuer)
	if err != nil {
		return nil, err
	}

	c, err := s.engine.Validate(token, doc, opts...)
	if err != nil {
		s.logger.DebugContext(ctx, "credential rejected", slog.String("issuer", issuer.String()), slog.Any("error", err))
		return nil, err
	}
	return c, nil
}

// AnchorCredential posts token to the ledger as a tagged data block.
func (s *SDK) AnchorCredential(ctx context.Context, token string) (ledger.BlockID, error) {
	if _, err := vc.ExtractIssuer(token); err != nil {
		return "", err
	}

	id, err := retry(ctx, s.retry, "post", func() (ledger.BlockID, error) {
		return s.ledger.PostData(ctx, CredentialTag, []byte(token))
	})
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "credential anchored", slog.String("block_id", id.String()))
	return id, nil
}

// RetrieveCredential reads the token stored in block id and verifies it.
// The token is returned with the credential.
func (s *SDK) RetrieveCredential(ctx context.Context, id ledger.BlockID, opts ...vc.ValidateOpt) (*vc.Credential, string, error) {
	block, err := retry(ctx, s.retry, "get", func() (*ledger.Block, error) {
		return s.ledger.GetData(ctx, id)
	})
	if err != nil {
		return nil, "", err
	}
	if block.Tag != CredentialTag {
		return nil, "", domainerrors.Newf(domainerrors.CodeMalformedToken, "block %s holds %q data, not a credential", id, block.Tag)
	}

	token := string(block.Data)
	c, err := s.VerifyCredential(ctx, token, opts...)
	if err != nil {
		return nil, token, err
	}
	return c, token, nil
}

// PublishStatusList anchors a revocation list and returns its block id.
func (s *SDK) PublishStatusList(ctx context.Context, list *status.List) (ledger.BlockID, error) {
	return retry(ctx, s.retry, "post", func() (ledger.BlockID, error) {
		return status.Publish(ctx, s.ledger, list)
	})
}

// CredentialRevoked reports whether entry index of the status list stored
// in block listID is revoked.
func (s *SDK) CredentialRevoked(ctx context.Context, listID ledger.BlockID, index int) (bool, error) {
	list, err := retry(ctx, s.retry, "get", func() (*status.List, error) {
		return status.Fetch(ctx, s.ledger, listID)
	})
	if err != nil {
		return false, err
	}
	return list.Revoked(index)
}

// Resolve resolves id, retrying transport failures.
func (s *SDK) Resolve(ctx context.Context, id did.DID) (*did.Document, error) {
	return retry(ctx, s.retry, "resolve", func() (*did.Document, error) {
		return s.resolver.Resolve(ctx, id)
	})
}

// PresentCredentials wraps tokens into a presentation signed by holder.
func (s *SDK) PresentCredentials(ctx context.Context, holder *Identity, tokens []string, opts ...vp.PresentOpt) (string, error) {
	if holder == nil {
		return "", domainerrors.New(domainerrors.CodeInvalidConfig, "holder identity is required")
	}
	return s.vps.Present(ctx, holder.Fragment, holder.Document, tokens, holder.Alg, opts...)
}

// VerifyPresentation resolves the holder named by token and verifies the
// presentation and every credential it carries.
func (s *SDK) VerifyPresentation(ctx context.Context, token string, opts ...vp.VerifyOpt) (*vp.Presentation, []*vc.Credential, error) {
	holder, err := vp.ExtractHolder(token)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.Resolve(ctx, holder)
	if err != nil {
		return nil, nil, err
	}
	return s.vps.Verify(ctx, token, doc, s, opts...)
}
