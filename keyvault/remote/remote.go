// Package remote implements keyvault.KeyVault on top of a remote KMS
// reached over HTTP.
//
// The KMS exposes two endpoints:
//
//	POST {endpoint}/keys {"key_type": "Ed25519"}            -> {"public_key": JWK}
//	POST {endpoint}/sign {"key_id": handle, "payload_hex": } -> {"signature_hex": ...}
//
// Keys are addressed by the RFC 7638 thumbprint of their public key, the
// same handle the local vaults use.
package remote

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
	"github.com/pilacorp/go-identity-sdk/keyvault"
)

// DefaultTimeout bounds every request to the KMS.
const DefaultTimeout = 10 * time.Second

// Config holds configuration for the remote vault client.
type Config struct {
	// Endpoint is the base URL of the KMS. Required.
	Endpoint string
	// APIKey is sent in the x-api-key header when set.
	APIKey string
	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
	// Logger receives request failures. Defaults to a discarding logger.
	Logger *slog.Logger
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return domainerrors.New(domainerrors.CodeInvalidConfig, "remote vault endpoint is required")
	}
	return nil
}

// Standardize fills in defaults for optional fields.
func (c *Config) Standardize() {
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
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

// Vault is a KeyVault backed by a remote KMS.
type Vault struct {
	cfg Config
}

// New creates a remote vault client.
func New(cfg Config) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Standardize()

	return &Vault{cfg: cfg}, nil
}

type generateRequest struct {
	KeyType jwk.KeyType `json:"key_type"`
}

type generateResponse struct {
	PublicKey jwk.Key `json:"public_key"`
}

type signRequest struct {
	KeyID      keyvault.KeyHandle `json:"key_id"`
	PayloadHex string             `json:"payload_hex"`
}

type signResponse struct {
	SignatureHex string `json:"signature_hex"`
}

// GenerateKey implements keyvault.KeyVault.
func (v *Vault) GenerateKey(ctx context.Context, keyType jwk.KeyType) (keyvault.KeyHandle, jwk.Key, error) {
	if !keyType.Valid() {
		return "", jwk.Key{}, domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "unsupported key type %q", keyType)
	}

	var out generateResponse
	if err := v.post(ctx, "/keys", generateRequest{KeyType: keyType}, &out); err != nil {
		return "", jwk.Key{}, err
	}

	if kt, err := out.PublicKey.KeyType(); err != nil || kt != keyType {
		return "", jwk.Key{}, domainerrors.Newf(domainerrors.CodeKeyVaultUnavailable, "remote vault returned a %s key for a %s request", kt, keyType)
	}

	handle, err := keyvault.HandleFor(out.PublicKey)
	if err != nil {
		return "", jwk.Key{}, err
	}

	return handle, out.PublicKey, nil
}

// Sign implements keyvault.KeyVault.
func (v *Vault) Sign(ctx context.Context, handle keyvault.KeyHandle, payload []byte) ([]byte, error) {
	var out signResponse
	req := signRequest{KeyID: handle, PayloadHex: hex.EncodeToString(payload)}
	if err := v.post(ctx, "/sign", req, &out); err != nil {
		return nil, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.SignatureHex, "0x"))
	if err != nil {
		return nil, &domainerrors.Error{Code: domainerrors.CodeKeyVaultUnavailable, Message: "invalid signature encoding", Err: err}
	}
	if len(sig) != 64 {
		return nil, domainerrors.Newf(domainerrors.CodeKeyVaultUnavailable, "invalid signature length %d", len(sig))
	}

	return sig, nil
}

func (v *Vault) post(ctx context.Context, path string, in, out any) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.Endpoint+path, bytes.NewReader(reqBody))
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInvalidConfig, "failed to build vault request")
	}

	req.Header.Set("Content-Type", "application/json")
	if v.cfg.APIKey != "" {
		req.Header.Set("x-api-key", v.cfg.APIKey)
	}

	resp, err := v.cfg.HTTPClient.Do(req)
	if err != nil {
		v.cfg.Logger.WarnContext(ctx, "remote vault request failed", "path", path, "error", err)
		code := domainerrors.CodeKeyVaultUnavailable
		if isTimeout(err) {
			code = domainerrors.CodeTimeout
		}
		return &domainerrors.Error{Code: code, Message: "remote vault unreachable", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusLocked:
		return domainerrors.New(domainerrors.CodeVaultLocked, "remote vault is locked")
	case http.StatusNotFound:
		return domainerrors.New(domainerrors.CodeUnknownKey, "remote vault has no such key")
	default:
		v.cfg.Logger.WarnContext(ctx, "remote vault returned an error", "path", path, "status", resp.StatusCode)
		return domainerrors.Newf(domainerrors.CodeKeyVaultUnavailable, "remote vault http %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domainerrors.Error{Code: domainerrors.CodeKeyVaultUnavailable, Message: "invalid vault response", Err: err}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var _ keyvault.KeyVault = (*Vault)(nil)
