// Package ledger defines the Ledger Anchor Client consumed by the SDK: the
// distributed ledger that publishes DID documents, resolves them and stores
// tagged data blocks.
//
// Implementations report failures with the transport codes of
// domainerrors (NetworkUnavailable, NotFound, Timeout, LedgerRejected) and
// honour the deadline of the context they are given.
package ledger

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/did"
)

// ErrSubmitted marks a failure observed after the transaction reached the
// ledger. The write may still land, so it must not be resubmitted.
var ErrSubmitted = errors.New("transaction submitted")

// BlockID identifies a data block posted to the ledger.
type BlockID string

// String returns the block id as a string.
func (b BlockID) String() string {
	return string(b)
}

// Block is a tagged data block read back from the ledger.
type Block struct {
	ID   BlockID
	Tag  string
	Data []byte
}

// Publisher publishes DID documents.
type Publisher interface {
	// Publish anchors doc and returns the anchored, immutable document. A
	// document with a placeholder DID receives a ledger-assigned
	// identifier; an already identified document is published as its next
	// version.
	Publish(ctx context.Context, doc *did.Document) (*did.Document, error)
}

// Resolver resolves published DID documents.
type Resolver interface {
	// Resolve returns the latest published version of the document.
	Resolve(ctx context.Context, id did.DID) (*did.Document, error)
}

// DataStore stores tagged data blocks.
type DataStore interface {
	PostData(ctx context.Context, tag string, data []byte) (BlockID, error)
	GetData(ctx context.Context, id BlockID) (*Block, error)
}

// Client is a full ledger anchor client.
type Client interface {
	Publisher
	Resolver
	DataStore
}

// CheckPublishable verifies a document can be handed to Publish: it must
// be present and not anchored already.
func CheckPublishable(doc *did.Document) error {
	if doc == nil {
		return domainerrors.New(domainerrors.CodeInvalidConfig, "document is required")
	}
	if doc.Anchored() {
		return domainerrors.New(domainerrors.CodeImmutableDocument, "document is already anchored, publish a NewVersion").
			WithDID(doc.ID().String())
	}
	return nil
}

// CheckTag validates a data block tag.
func CheckTag(tag string) error {
	if strings.TrimSpace(tag) == "" {
		return domainerrors.New(domainerrors.CodeInvalidConfig, "block tag is required")
	}
	return nil
}

// NotFound returns the NotFound error for a DID.
func NotFound(id did.DID) error {
	return domainerrors.New(domainerrors.CodeNotFound, "document not found").WithDID(id.String())
}

// TransportError converts a failed ledger call into a transport error.
// Domain errors keep their code, deadlines become Timeout and everything
// else NetworkUnavailable.
func TransportError(err error, msg string) error {
	var derr *domainerrors.Error
	if errors.As(err, &derr) {
		return domainerrors.Wrap(err, derr.Code, msg)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domainerrors.Error{Code: domainerrors.CodeTimeout, Message: msg, Err: err}
	}
	return &domainerrors.Error{Code: domainerrors.CodeNetworkUnavailable, Message: msg, Err: err}
}
