// Package resolver resolves published DID documents through an HTTP
// resolver endpoint (GET {base}/{did}), as exposed by universal-resolver
// style services and ledger gateways.
package resolver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/ledger"
)

// DefaultTimeout bounds every resolution request.
const DefaultTimeout = 10 * time.Second

// maxDocumentSize caps the response body read from the resolver.
const maxDocumentSize = 1 << 20

// Config holds configuration for the HTTP resolver.
type Config struct {
	// BaseURL is the resolver endpoint the DID is appended to. Required.
	BaseURL string
	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return domainerrors.Newf(domainerrors.CodeInvalidConfig, "invalid resolver base URL %q", c.BaseURL)
	}
	return nil
}

// Standardize fills in defaults for optional fields.
func (c *Config) Standardize() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout:   c.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Resolver is a ledger.Resolver reaching documents over HTTP.
type Resolver struct {
	cfg Config
}

var _ ledger.Resolver = (*Resolver)(nil)

// New creates an HTTP resolver.
func New(cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Standardize()

	return &Resolver{cfg: cfg}, nil
}

// resolution is the universal-resolver envelope. Plain documents are
// accepted as well.
type resolution struct {
	Document json.RawMessage `json:"didDocument"`
}

// Resolve fetches the document of id.
func (r *Resolver) Resolve(ctx context.Context, id did.DID) (*did.Document, error) {
	// 1. Construct and encode API URL
	apiURL := r.cfg.BaseURL + "/" + url.PathEscape(id.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInvalidConfig, "failed to build resolver request")
	}
	req.Header.Set("Accept", "application/did+json, application/json")

	// 2. Perform HTTP GET request
	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		r.cfg.Logger.WarnContext(ctx, "DID resolution failed", slog.String("did", id.String()), slog.Any("error", err))
		return nil, ledger.TransportError(err, "failed to reach DID resolver")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ledger.NotFound(id)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, domainerrors.Newf(domainerrors.CodeTimeout, "DID resolver returned %s", resp.Status).WithDID(id.String())
	case resp.StatusCode != http.StatusOK:
		return nil, domainerrors.Newf(domainerrors.CodeNetworkUnavailable, "DID resolver returned %s", resp.Status).WithDID(id.String())
	}

	// 3. Read and parse response
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, ledger.TransportError(err, "failed to read DID resolver response")
	}

	var env resolution
	if err := json.Unmarshal(body, &env); err == nil && len(env.Document) > 0 {
		body = env.Document
	}

	doc, err := did.ParseDocument(body)
	if err != nil {
		return nil, err
	}
	if doc.ID() != id {
		return nil, domainerrors.Newf(domainerrors.CodeMalformedDocument, "resolver returned document %s", doc.ID()).WithDID(id.String())
	}

	return doc, nil
}
