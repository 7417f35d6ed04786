// Package status implements revocation status lists: a bitstring with one
// bit per issued credential, gzip-compressed and base64url-encoded, that
// issuers anchor on the ledger as a tagged data block.
package status

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/ledger"
)

const (
	// Tag is the ledger data tag of status list blocks.
	Tag = "status-list"
	// PurposeRevocation marks a list whose set bits are revoked credentials.
	PurposeRevocation = "revocation"
	// DefaultSize is the number of entries of a new list.
	DefaultSize = 131072
)

// List is a revocation bitstring. Bit i is stored LSB-first in byte i/8.
type List struct {
	purpose string
	size    int
	bits    []byte
}

// New creates an empty revocation list with room for size entries.
func New(size int) (*List, error) {
	if size <= 0 {
		return nil, domainerrors.Newf(domainerrors.CodeInvalidConfig, "status list size must be positive, got %d", size)
	}
	return &List{purpose: PurposeRevocation, size: size, bits: make([]byte, (size+7)/8)}, nil
}

// Size returns the number of entries.
func (l *List) Size() int {
	return l.size
}

// Purpose returns the status purpose of the list.
func (l *List) Purpose() string {
	return l.purpose
}

func (l *List) checkIndex(index int) error {
	if index < 0 || index >= l.size {
		return domainerrors.Newf(domainerrors.CodeInvalidConfig, "status index %d outside list of %d entries", index, l.size)
	}
	return nil
}

// Revoke sets the bit of index.
func (l *List) Revoke(index int) error {
	if err := l.checkIndex(index); err != nil {
		return err
	}
	l.bits[index/8] |= 1 << (index % 8)
	return nil
}

// Revoked reports whether the bit of index is set. Lists with another
// purpose never report a revocation.
func (l *List) Revoked(index int) (bool, error) {
	if err := l.checkIndex(index); err != nil {
		return false, err
	}
	if l.purpose != PurposeRevocation {
		return false, nil
	}
	return (l.bits[index/8]>>(index%8))&1 == 1, nil
}

// Encode returns the gzip-compressed bitstring in base64url without
// padding.
func (l *List) Encode() (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(l.bits); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode rebuilds a list from its encoded bitstring. Decompression stops
// one byte past the length size entries need.
func Decode(purpose, encoded string, size int) (*List, error) {
	if size <= 0 {
		return nil, domainerrors.Newf(domainerrors.CodeMalformedToken, "invalid status list size %d", size)
	}
	want := (size + 7) / 8

	compressed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, malformed(err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, malformed(err)
	}
	defer gz.Close()

	bits, err := io.ReadAll(io.LimitReader(gz, int64(want)+1))
	if err != nil {
		return nil, malformed(err)
	}
	if len(bits) != want {
		return nil, domainerrors.Newf(domainerrors.CodeMalformedToken, "status list does not hold %d bytes for %d entries", want, size)
	}

	return &List{purpose: purpose, size: size, bits: bits}, nil
}

func malformed(err error) error {
	return domainerrors.Wrap(err, domainerrors.CodeMalformedToken, "undecodable status list")
}

// block is the JSON body of a status list data block.
type block struct {
	StatusPurpose string `json:"statusPurpose"`
	Size          int    `json:"size"`
	EncodedList   string `json:"encodedList"`
}

// Publish posts l to the ledger and returns its block id.
func Publish(ctx context.Context, store ledger.DataStore, l *List) (ledger.BlockID, error) {
	encoded, err := l.Encode()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(block{StatusPurpose: l.purpose, Size: l.size, EncodedList: encoded})
	if err != nil {
		return "", err
	}
	return store.PostData(ctx, Tag, data)
}

// Fetch reads the status list stored in block id.
func Fetch(ctx context.Context, store ledger.DataStore, id ledger.BlockID) (*List, error) {
	b, err := store.GetData(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Tag != Tag {
		return nil, domainerrors.Newf(domainerrors.CodeMalformedToken, "block %s holds %q data, not a status list", id, b.Tag)
	}

	var body block
	if err := json.Unmarshal(b.Data, &body); err != nil {
		return nil, malformed(err)
	}
	return Decode(body.StatusPurpose, body.EncodedList, body.Size)
}
