// Package memledger is an in-memory ledger.Client for tests, examples and
// local development.
package memledger

import (
	"context"
	"encoding/binary"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/ledger"
)

// Ledger keeps every published document version and data block in memory.
// It is safe for concurrent use.
type Ledger struct {
	mu     sync.RWMutex
	seq    uint64
	docs   map[did.DID][][]byte
	blocks map[ledger.BlockID]ledger.Block
	now    func() time.Time
}

var _ ledger.Client = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time recorded as the update time of published
// documents.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		docs:   make(map[did.DID][][]byte),
		blocks: make(map[ledger.BlockID]ledger.Block),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// next returns Keccak256(seq || parts...) and advances the sequence.
// Callers hold mu.
func (l *Ledger) next(parts ...[]byte) string {
	l.seq++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.seq)
	return hexutil.Encode(crypto.Keccak256(append([][]byte{seq[:]}, parts...)...))
}

// Publish anchors doc. A placeholder document receives an identifier
// derived from the ledger sequence and its content; an identified document
// must extend the latest published version.
func (l *Ledger) Publish(ctx context.Context, doc *did.Document) (*did.Document, error) {
	if err := ledger.CheckPublishable(doc); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, ledger.TransportError(err, "publish aborted")
	}

	data, err := doc.Serialize()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := doc.ID()
	identifier := id.Identifier()
	if id.IsPlaceholder() {
		identifier = l.next(data)
	} else {
		versions, ok := l.docs[id]
		if !ok {
			return nil, ledger.NotFound(id)
		}
		latest, err := did.ParseDocument(versions[len(versions)-1])
		if err != nil {
			return nil, err
		}
		if doc.Metadata().Version != latest.Metadata().Version {
			return nil, domainerrors.Newf(domainerrors.CodeLedgerRejected, "stale document version %d, latest is %d",
				doc.Metadata().Version, latest.Metadata().Version).WithDID(id.String())
		}
	}

	anchored, err := doc.Anchor(identifier, l.now())
	if err != nil {
		return nil, err
	}
	stored, err := anchored.Serialize()
	if err != nil {
		return nil, err
	}
	l.docs[anchored.ID()] = append(l.docs[anchored.ID()], stored)

	return anchored, nil
}

// Resolve returns the latest version of a published document.
func (l *Ledger) Resolve(ctx context.Context, id did.DID) (*did.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.TransportError(err, "resolve aborted")
	}

	l.mu.RLock()
	versions, ok := l.docs[id]
	l.mu.RUnlock()
	if !ok {
		return nil, ledger.NotFound(id)
	}

	return did.ParseDocument(versions[len(versions)-1])
}

// Versions returns every published version of a document, oldest first.
func (l *Ledger) Versions(ctx context.Context, id did.DID) ([]*did.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.TransportError(err, "resolve aborted")
	}

	l.mu.RLock()
	versions := slices.Clone(l.docs[id])
	l.mu.RUnlock()
	if len(versions) == 0 {
		return nil, ledger.NotFound(id)
	}

	docs := make([]*did.Document, 0, len(versions))
	for _, v := range versions {
		doc, err := did.ParseDocument(v)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// PostData stores a tagged data block.
func (l *Ledger) PostData(ctx context.Context, tag string, data []byte) (ledger.BlockID, error) {
	if err := ledger.CheckTag(tag); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", ledger.TransportError(err, "post aborted")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := ledger.BlockID(l.next([]byte(tag), data))
	l.blocks[id] = ledger.Block{ID: id, Tag: tag, Data: slices.Clone(data)}

	return id, nil
}

// GetData returns a stored data block.
func (l *Ledger) GetData(ctx context.Context, id ledger.BlockID) (*ledger.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.TransportError(err, "get aborted")
	}

	l.mu.RLock()
	b, ok := l.blocks[id]
	l.mu.RUnlock()
	if !ok {
		return nil, domainerrors.Newf(domainerrors.CodeNotFound, "block %s not found", id)
	}

	b.Data = slices.Clone(b.Data)
	return &b, nil
}
