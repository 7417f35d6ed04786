// Package evm anchors DID documents and data blocks in an EVM anchor
// registry contract.
//
// Documents are stored under a 32-byte id. A new document's id is
// Keccak256(sender || nonce) of the publishing transaction, and the DID
// identifier is that id in 0x-prefixed hex. Data blocks are the calldata of
// postData transactions, identified by the transaction hash.
package evm

import (
	"context"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/ledger"
	"github.com/pilacorp/go-identity-sdk/ledger/evm/signer"
)

//go:embed anchor_registry_abi.json
var registryABIJSON []byte

var (
	parsedABI    abi.ABI
	parseABIOnce sync.Once
	errParseABI  error
)

// loadABI parses the embedded anchor registry ABI exactly once.
func loadABI() (abi.ABI, error) {
	parseABIOnce.Do(func() {
		type hardhatArtifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		var artifact hardhatArtifact
		if err := json.Unmarshal(registryABIJSON, &artifact); err != nil {
			errParseABI = fmt.Errorf("failed to unmarshal artifact JSON: %w", err)
			return
		}
		parsedABI, errParseABI = abi.JSON(strings.NewReader(string(artifact.ABI)))
	})

	return parsedABI, errParseABI
}

// Backend is the chain access the client needs. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// Client is a ledger.Client backed by the anchor registry contract.
type Client struct {
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	backend  Backend
	signer   signer.SignerProvider
	cfg      *Config
	now      func() time.Time

	// txMu serializes nonce allocation and submission.
	txMu sync.Mutex
}

var _ ledger.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBackend uses b instead of dialing Config.RPCURL.
func WithBackend(b Backend) Option {
	return func(c *Client) { c.backend = b }
}

// WithClock sets the time recorded as the update time of published
// documents.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates an anchor registry client signing transactions with
// txSigner.
func NewClient(cfg *Config, txSigner signer.SignerProvider, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Standardize()

	if txSigner == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "tx signer is required")
	}

	c := &Client{
		address: common.HexToAddress(cfg.RegistryAddress),
		signer:  txSigner,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.backend == nil {
		if cfg.RPCURL == "" {
			return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "RPC URL is required without a backend")
		}
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, &domainerrors.Error{Code: domainerrors.CodeNetworkUnavailable, Message: "failed to init RPC client", Err: err}
		}
		c.backend = client
	}

	contractABI, err := loadABI()
	if err != nil {
		return nil, err
	}
	c.abi = contractABI
	c.contract = bind.NewBoundContract(c.address, contractABI, c.backend, c.backend, c.backend)

	return c, nil
}

// Publish anchors doc in the registry and waits for the receipt.
func (c *Client) Publish(ctx context.Context, doc *did.Document) (*did.Document, error) {
	if err := ledger.CheckPublishable(doc); err != nil {
		return nil, err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return nil, transportError(err, "failed to get nonce")
	}

	// 1. Resolve the registry id of the document
	var id [32]byte
	if doc.ID().IsPlaceholder() {
		id = anchorID(c.signer.Address(), nonce)
	} else {
		if id, err = registryID(doc.ID()); err != nil {
			return nil, err
		}
		latest, err := c.Resolve(ctx, doc.ID())
		if err != nil {
			return nil, err
		}
		if doc.Metadata().Version != latest.Metadata().Version {
			return nil, domainerrors.Newf(domainerrors.CodeLedgerRejected, "stale document version %d, latest is %d",
				doc.Metadata().Version, latest.Metadata().Version).WithDID(doc.ID().String())
		}
	}

	// 2. Anchor the document under its final DID
	anchored, err := doc.Anchor(hexutil.Encode(id[:]), c.now())
	if err != nil {
		return nil, err
	}
	data, err := anchored.Serialize()
	if err != nil {
		return nil, err
	}

	// 3. Submit and wait for the receipt
	tx, err := c.transact(ctx, nonce, "anchorDocument", id, data)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeLedgerRejected, "anchorDocument failed").WithDID(anchored.ID().String())
	}

	c.cfg.Logger.DebugContext(ctx, "document anchored",
		slog.String("did", anchored.ID().String()),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.Uint64("version", anchored.Metadata().Version),
	)

	return anchored, nil
}

// Resolve reads the latest document anchored under id.
func (c *Client) Resolve(ctx context.Context, id did.DID) (*did.Document, error) {
	rid, err := registryID(id)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "documentOf", rid); err != nil {
		return nil, transportError(err, "documentOf call failed")
	}
	if len(out) == 0 {
		return nil, ledger.NotFound(id)
	}
	data, ok := out[0].([]byte)
	if !ok {
		return nil, domainerrors.Newf(domainerrors.CodeMalformedDocument, "unexpected output type: %T", out[0])
	}
	if len(data) == 0 {
		return nil, ledger.NotFound(id)
	}

	doc, err := did.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	if doc.ID() != id {
		return nil, domainerrors.Newf(domainerrors.CodeMalformedDocument, "registry returned document %s", doc.ID()).WithDID(id.String())
	}
	return doc, nil
}

// PostData stores a tagged data block as postData calldata. The block id
// is the transaction hash.
func (c *Client) PostData(ctx context.Context, tag string, data []byte) (ledger.BlockID, error) {
	if err := ledger.CheckTag(tag); err != nil {
		return "", err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return "", transportError(err, "failed to get nonce")
	}

	tx, err := c.transact(ctx, nonce, "postData", tag, data)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeLedgerRejected, "postData failed")
	}

	c.cfg.Logger.DebugContext(ctx, "data posted", slog.String("tag", tag), slog.String("tx_hash", tx.Hash().Hex()))

	return ledger.BlockID(tx.Hash().Hex()), nil
}

// GetData decodes the block posted by transaction id.
func (c *Client) GetData(ctx context.Context, id ledger.BlockID) (*ledger.Block, error) {
	if !isHash(string(id)) {
		return nil, domainerrors.Newf(domainerrors.CodeNotFound, "invalid block id %q", id)
	}

	tx, pending, err := c.backend.TransactionByHash(ctx, common.HexToHash(string(id)))
	if err != nil {
		return nil, transportError(err, "failed to get transaction")
	}
	if pending {
		return nil, domainerrors.Newf(domainerrors.CodeNotFound, "block %s is not mined yet", id)
	}
	if tx.To() == nil || *tx.To() != c.address {
		return nil, domainerrors.Newf(domainerrors.CodeNotFound, "transaction %s is not a registry call", id)
	}

	input := tx.Data()
	if len(input) < 4 {
		return nil, domainerrors.Newf(domainerrors.CodeNotFound, "transaction %s is not a postData call", id)
	}
	method, err := c.abi.MethodById(input[:4])
	if err != nil || method.Name != "postData" {
		return nil, domainerrors.Newf(domainerrors.CodeNotFound, "transaction %s is not a postData call", id)
	}

	args, err := method.Inputs.Unpack(input[4:])
	if err != nil || len(args) != 2 {
		return nil, &domainerrors.Error{Code: domainerrors.CodeLedgerRejected, Message: "invalid postData calldata", Err: err}
	}
	tag, _ := args[0].(string)
	data, _ := args[1].([]byte)

	return &ledger.Block{ID: id, Tag: tag, Data: data}, nil
}

// transact signs method(args...) with the given nonce, submits it and
// waits for a successful receipt. Callers hold txMu.
func (c *Client) transact(ctx context.Context, nonce uint64, method string, args ...interface{}) (*types.Transaction, error) {
	tx, err := c.contract.Transact(c.transactOpts(ctx, nonce), method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s tx: %w", method, err)
	}

	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return nil, transportError(err, "failed to send transaction")
	}

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		return nil, transportError(errors.Join(ledger.ErrSubmitted, err),
			fmt.Sprintf("no receipt for %s transaction %s", method, tx.Hash().Hex()))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		c.cfg.Logger.WarnContext(ctx, "transaction reverted", slog.String("method", method), slog.String("tx_hash", tx.Hash().Hex()))
		return nil, domainerrors.Newf(domainerrors.CodeLedgerRejected, "%s transaction %s reverted", method, tx.Hash().Hex())
	}

	return tx, nil
}

// transactOpts builds EIP-155 signing options for a legacy transaction
// that is returned unsent.
func (c *Client) transactOpts(ctx context.Context, nonce uint64) *bind.TransactOpts {
	chainSigner := types.NewEIP155Signer(big.NewInt(c.cfg.ChainID))
	signerFn := func(_ common.Address, tx *types.Transaction) (*types.Transaction, error) {
		h := chainSigner.Hash(tx)
		sig, err := c.signer.Sign(ctx, h.Bytes())
		if err != nil {
			return nil, err
		}
		return tx.WithSignature(chainSigner, sig)
	}

	return &bind.TransactOpts{
		From:     c.signer.Address(),
		Nonce:    new(big.Int).SetUint64(nonce),
		Value:    big.NewInt(0),
		GasLimit: c.cfg.GasLimit,
		GasPrice: c.cfg.GasPrice,
		Context:  ctx,
		Signer:   signerFn,
		NoSend:   true,
	}
}

// anchorID derives the registry id of a new document.
func anchorID(sender common.Address, nonce uint64) [32]byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return [32]byte(crypto.Keccak256Hash(sender.Bytes(), n[:]))
}

// registryID recovers the registry id from a published DID.
func registryID(id did.DID) ([32]byte, error) {
	b, err := hexutil.Decode(id.Identifier())
	if err != nil || len(b) != 32 {
		return [32]byte{}, domainerrors.New(domainerrors.CodeInvalidDID, "identifier is not a registry id").WithDID(id.String())
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

func isHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

// transportError maps chain errors onto ledger transport codes.
func transportError(err error, msg string) error {
	if errors.Is(err, ethereum.NotFound) {
		return &domainerrors.Error{Code: domainerrors.CodeNotFound, Message: msg, Err: err}
	}
	return ledger.TransportError(err, msg)
}
