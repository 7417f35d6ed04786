// Package config holds the SDK-wide settings shared by the ledger, cache
// and key vault adapters. Values come from defaults, IDENTITY_* environment
// variables and functional options, in that order.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keyvault/remote"
	"github.com/pilacorp/go-identity-sdk/ledger/evm"
	"github.com/pilacorp/go-identity-sdk/ledger/evm/signer"
	"github.com/pilacorp/go-identity-sdk/ledger/resolver"
)

// Default values
const (
	DefaultNetwork         = "test"
	DefaultRPC             = "https://rpc-testnet.pila.vn"
	DefaultChainID         = 6789
	DefaultRegistryAddress = "0x0000000000000000000000000000000000018888"
	DefaultCacheTTL        = 5 * time.Minute
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultRetryMaxElapsed = 30 * time.Second
)

// Environment variable names
const (
	EnvMethod          = "IDENTITY_DID_METHOD"
	EnvNetwork         = "IDENTITY_NETWORK"
	EnvRPC             = "IDENTITY_RPC_URL"
	EnvChainID         = "IDENTITY_CHAIN_ID"
	EnvRegistryAddress = "IDENTITY_REGISTRY_ADDRESS"
	EnvGasLimit        = "IDENTITY_GAS_LIMIT"
	EnvResolverURL     = "IDENTITY_RESOLVER_URL"
	EnvRedisAddr       = "IDENTITY_REDIS_ADDR"
	EnvCacheTTL        = "IDENTITY_CACHE_TTL"
	EnvVaultEndpoint   = "IDENTITY_VAULT_ENDPOINT"
	EnvVaultAPIKey     = "IDENTITY_VAULT_API_KEY"
	EnvSignerEndpoint  = "IDENTITY_SIGNER_ENDPOINT"
	EnvSignerAddress   = "IDENTITY_SIGNER_ADDRESS"
	EnvSignerAPIKey    = "IDENTITY_SIGNER_API_KEY"
	EnvHTTPTimeout     = "IDENTITY_HTTP_TIMEOUT"
	EnvRetryMaxElapsed = "IDENTITY_RETRY_MAX_ELAPSED"
)

// Config holds the SDK settings.
type Config struct {
	// Method is the DID method name.
	Method string
	// Network is the network segment of new DIDs.
	Network string

	RPCURL          string
	ChainID         int64
	RegistryAddress string
	GasLimit        uint64

	// ResolverURL is the HTTP resolver endpoint. Empty resolves through
	// the ledger client.
	ResolverURL string

	// RedisAddr enables the resolution cache when set.
	RedisAddr string
	CacheTTL  time.Duration

	// VaultEndpoint selects the remote key vault when set.
	VaultEndpoint string
	VaultAPIKey   string

	// SignerEndpoint selects the remote transaction signer when set.
	SignerEndpoint string
	SignerAddress  string
	SignerAPIKey   string

	HTTPTimeout time.Duration
	// RetryMaxElapsed bounds the caller-side retries of transport failures.
	RetryMaxElapsed time.Duration
}

// Option overrides a setting.
type Option func(*Config)

// WithNetwork sets the network segment of new DIDs.
func WithNetwork(network string) Option {
	return func(c *Config) { c.Network = network }
}

// WithMethod sets the DID method name.
func WithMethod(method string) Option {
	return func(c *Config) { c.Method = method }
}

// WithLedger sets the ledger RPC endpoint, chain id and registry address.
func WithLedger(rpcURL string, chainID int64, registryAddress string) Option {
	return func(c *Config) {
		c.RPCURL = rpcURL
		c.ChainID = chainID
		c.RegistryAddress = registryAddress
	}
}

// WithResolverURL sets the HTTP resolver endpoint.
func WithResolverURL(url string) Option {
	return func(c *Config) { c.ResolverURL = url }
}

// WithRedis enables the resolution cache.
func WithRedis(addr string, ttl time.Duration) Option {
	return func(c *Config) {
		c.RedisAddr = addr
		c.CacheTTL = ttl
	}
}

// WithRemoteVault selects the remote key vault.
func WithRemoteVault(endpoint, apiKey string) Option {
	return func(c *Config) {
		c.VaultEndpoint = endpoint
		c.VaultAPIKey = apiKey
	}
}

// WithRemoteSigner selects the remote transaction signer for the account
// address. The API key is read from IDENTITY_SIGNER_API_KEY.
func WithRemoteSigner(endpoint, address string) Option {
	return func(c *Config) {
		c.SignerEndpoint = endpoint
		c.SignerAddress = address
	}
}

// WithRetryMaxElapsed bounds caller-side retries. Zero disables them.
func WithRetryMaxElapsed(d time.Duration) Option {
	return func(c *Config) { c.RetryMaxElapsed = d }
}

// Default returns the default settings.
func Default() Config {
	return Config{
		Method:          did.DefaultMethod,
		Network:         DefaultNetwork,
		RPCURL:          DefaultRPC,
		ChainID:         DefaultChainID,
		RegistryAddress: DefaultRegistryAddress,
		GasLimit:        evm.DefaultGasLimit,
		CacheTTL:        DefaultCacheTTL,
		HTTPTimeout:     DefaultHTTPTimeout,
		RetryMaxElapsed: DefaultRetryMaxElapsed,
	}
}

// New returns the defaults with opts applied.
func New(opts ...Option) (Config, error) {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, cfg.Validate()
}

// FromEnv returns the defaults overridden by the environment, then by opts.
func FromEnv(opts ...Option) (Config, error) {
	cfg := Default()

	stringVar(&cfg.Method, EnvMethod)
	stringVar(&cfg.Network, EnvNetwork)
	stringVar(&cfg.RPCURL, EnvRPC)
	stringVar(&cfg.RegistryAddress, EnvRegistryAddress)
	stringVar(&cfg.ResolverURL, EnvResolverURL)
	stringVar(&cfg.RedisAddr, EnvRedisAddr)
	stringVar(&cfg.VaultEndpoint, EnvVaultEndpoint)
	stringVar(&cfg.VaultAPIKey, EnvVaultAPIKey)
	stringVar(&cfg.SignerEndpoint, EnvSignerEndpoint)
	stringVar(&cfg.SignerAddress, EnvSignerAddress)
	stringVar(&cfg.SignerAPIKey, EnvSignerAPIKey)

	if v := os.Getenv(EnvChainID); v != "" {
		chainID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, envError(EnvChainID, err)
		}
		cfg.ChainID = chainID
	}
	if v := os.Getenv(EnvGasLimit); v != "" {
		gasLimit, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, envError(EnvGasLimit, err)
		}
		cfg.GasLimit = gasLimit
	}
	for name, dst := range map[string]*time.Duration{
		EnvCacheTTL:        &cfg.CacheTTL,
		EnvHTTPTimeout:     &cfg.HTTPTimeout,
		EnvRetryMaxElapsed: &cfg.RetryMaxElapsed,
	} {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, envError(name, err)
			}
			*dst = d
		}
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, cfg.Validate()
}

func stringVar(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envError(name string, err error) error {
	return &domainerrors.Error{Code: domainerrors.CodeInvalidConfig, Message: "invalid " + name, Err: err}
}

// Validate checks the settings that do not depend on an adapter.
func (c Config) Validate() error {
	if err := did.ValidateNetwork(c.Network); err != nil {
		return err
	}
	if _, err := did.Parse(did.Placeholder(c.Method, c.Network).String()); err != nil {
		return &domainerrors.Error{Code: domainerrors.CodeInvalidConfig, Message: "invalid DID method " + c.Method, Err: err}
	}
	if c.CacheTTL < 0 || c.HTTPTimeout < 0 || c.RetryMaxElapsed < 0 {
		return domainerrors.New(domainerrors.CodeInvalidConfig, "durations must not be negative")
	}
	return nil
}

// EVM returns the anchor registry client configuration.
func (c Config) EVM() *evm.Config {
	return &evm.Config{
		RPCURL:          c.RPCURL,
		RegistryAddress: c.RegistryAddress,
		ChainID:         c.ChainID,
		GasLimit:        c.GasLimit,
	}
}

// Resolver returns the HTTP resolver configuration.
func (c Config) Resolver() resolver.Config {
	return resolver.Config{BaseURL: c.ResolverURL, Timeout: c.HTTPTimeout}
}

// RemoteVault returns the remote key vault configuration.
func (c Config) RemoteVault() remote.Config {
	return remote.Config{Endpoint: c.VaultEndpoint, APIKey: c.VaultAPIKey, Timeout: c.HTTPTimeout}
}

// RemoteSigner returns the remote transaction signer.
func (c Config) RemoteSigner() (*signer.RemoteProvider, error) {
	return signer.NewRemoteProvider(c.SignerEndpoint, c.SignerAPIKey, c.SignerAddress)
}
