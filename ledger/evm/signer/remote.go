package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
)

// RemoteProvider signs transaction hashes through a remote signing API:
//
//	POST {endpoint} {"payload_hex": ...} -> {"signature_hex": ...}
type RemoteProvider struct {
	endpoint string
	apiKey   string
	address  common.Address
	client   *http.Client
}

// NewRemoteProvider creates a signer for the account address whose key
// is held behind endpoint.
func NewRemoteProvider(endpoint, apiKey, address string) (*RemoteProvider, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "remote signer endpoint is required")
	}
	if !common.IsHexAddress(address) {
		return nil, domainerrors.Newf(domainerrors.CodeInvalidConfig, "invalid signer address %q", address)
	}

	return &RemoteProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		address:  common.HexToAddress(address),
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Sign asks the remote API to sign the 32-byte hash.
func (s *RemoteProvider) Sign(ctx context.Context, hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("payload must be 32 bytes, got %d", len(hash))
	}

	reqBody, err := json.Marshal(map[string]any{"payload_hex": hex.EncodeToString(hash)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &domainerrors.Error{Code: domainerrors.CodeTimeout, Message: "remote signer call abandoned", Err: err}
		}
		return nil, &domainerrors.Error{Code: domainerrors.CodeNetworkUnavailable, Message: "remote signer unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domainerrors.Newf(domainerrors.CodeNetworkUnavailable, "remote signer http %d", resp.StatusCode)
	}

	var out struct {
		SignatureHex string `json:"signature_hex"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode remote signer response: %w", err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.SignatureHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("invalid signature length: expected %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	return sig, nil
}

// Address returns the account address.
func (s *RemoteProvider) Address() common.Address {
	return s.address
}
