package evm

import (
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
)

// DefaultGasLimit is the gas limit of anchor and data transactions.
const DefaultGasLimit = 3_000_000

// DefaultReceiptTimeout bounds the wait for a transaction receipt when the
// caller's context has no deadline.
const DefaultReceiptTimeout = 2 * time.Minute

// defaultGasPrice is 0 for gas-free chains.
var defaultGasPrice = big.NewInt(0)

// Config holds configuration for the anchor registry client.
type Config struct {
	// RPCURL is the JSON-RPC endpoint. Required unless a backend is
	// supplied with WithBackend.
	RPCURL string
	// RegistryAddress is the address of the anchor registry contract.
	RegistryAddress string
	// ChainID is the EIP-155 chain id.
	ChainID int64
	// GasPrice is the gas price in wei. Defaults to 0 for gas-free chains.
	GasPrice *big.Int
	// GasLimit defaults to DefaultGasLimit.
	GasLimit uint64
	// ReceiptTimeout defaults to DefaultReceiptTimeout.
	ReceiptTimeout time.Duration
	// Logger defaults to a logger that discards everything.
	Logger *slog.Logger
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.RegistryAddress) {
		return domainerrors.Newf(domainerrors.CodeInvalidConfig, "invalid registry address %q", c.RegistryAddress)
	}

	if c.ChainID <= 0 {
		return domainerrors.New(domainerrors.CodeInvalidConfig, "chain ID must be greater than 0")
	}

	if c.GasPrice != nil && c.GasPrice.Sign() < 0 {
		return domainerrors.New(domainerrors.CodeInvalidConfig, "gas price must not be negative")
	}

	return nil
}

// Standardize sets default values for optional fields.
func (c *Config) Standardize() {
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}

	if c.GasPrice == nil {
		c.GasPrice = defaultGasPrice
	}

	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = DefaultReceiptTimeout
	}

	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}
