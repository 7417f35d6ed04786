package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
)

func TestDefault(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "nda", cfg.Method)
	assert.Equal(t, DefaultNetwork, cfg.Network)
	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, DefaultRegistryAddress, cfg.EVM().RegistryAddress)
	assert.Equal(t, DefaultHTTPTimeout, cfg.Resolver().Timeout)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvNetwork, "smr")
	t.Setenv(EnvChainID, "704")
	t.Setenv(EnvRPC, "https://rpc.example")
	t.Setenv(EnvCacheTTL, "90s")
	t.Setenv(EnvVaultEndpoint, "https://kms.example")
	t.Setenv(EnvVaultAPIKey, "secret")

	cfg, err := FromEnv(WithResolverURL("https://resolver.example/1.0/identifiers"))
	require.NoError(t, err)
	assert.Equal(t, "smr", cfg.Network)
	assert.Equal(t, int64(704), cfg.EVM().ChainID)
	assert.Equal(t, "https://rpc.example", cfg.EVM().RPCURL)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, "https://resolver.example/1.0/identifiers", cfg.Resolver().BaseURL)
	assert.Equal(t, "secret", cfg.RemoteVault().APIKey)
}

func TestRemoteSigner(t *testing.T) {
	t.Setenv(EnvSignerAPIKey, "signer-secret")

	cfg, err := FromEnv(WithRemoteSigner("https://signer.example/sign", "0x75e7b09a24bce5a921babe27b62ec7bfe2230d6a"))
	require.NoError(t, err)
	assert.Equal(t, "signer-secret", cfg.SignerAPIKey)

	p, err := cfg.RemoteSigner()
	require.NoError(t, err)
	assert.True(t, strings.EqualFold("0x75e7b09a24bce5a921babe27b62ec7bfe2230d6a", p.Address().Hex()))

	_, err = Config{}.RemoteSigner()
	assert.Equal(t, domainerrors.CodeInvalidConfig, domainerrors.CodeOf(err))
}

func TestFromEnvOptionsWin(t *testing.T) {
	t.Setenv(EnvNetwork, "smr")

	cfg, err := FromEnv(WithNetwork("main"))
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.Network)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		opts     []Option
		wantCode domainerrors.Code
	}{
		{name: "bad chain id", env: map[string]string{EnvChainID: "x"}, wantCode: domainerrors.CodeInvalidConfig},
		{name: "bad duration", env: map[string]string{EnvHTTPTimeout: "soon"}, wantCode: domainerrors.CodeInvalidConfig},
		{name: "bad network", opts: []Option{WithNetwork("Main-Net")}, wantCode: domainerrors.CodeInvalidNetworkName},
		{name: "bad method", opts: []Option{WithMethod("N D A")}, wantCode: domainerrors.CodeInvalidConfig},
		{name: "negative retry", opts: []Option{WithRetryMaxElapsed(-time.Second)}, wantCode: domainerrors.CodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv(tt.opts...)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domainerrors.CodeOf(err))
		})
	}
}
