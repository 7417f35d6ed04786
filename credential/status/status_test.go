package status

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/ledger/memledger"
)

func TestRevoke(t *testing.T) {
	l, err := New(16)
	require.NoError(t, err)

	require.NoError(t, l.Revoke(0))
	require.NoError(t, l.Revoke(9))
	assert.Equal(t, []byte{0x01, 0x02}, l.bits)

	tests := []struct {
		index int
		want  bool
	}{
		{index: 0, want: true},
		{index: 1, want: false},
		{index: 9, want: true},
		{index: 15, want: false},
	}
	for _, tt := range tests {
		got, err := l.Revoked(tt.index)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "index %d", tt.index)
	}

	_, err = l.Revoked(16)
	assert.Equal(t, domainerrors.CodeInvalidConfig, domainerrors.CodeOf(err))
	assert.Equal(t, domainerrors.CodeInvalidConfig, domainerrors.CodeOf(l.Revoke(-1)))

	_, err = New(0)
	assert.Equal(t, domainerrors.CodeInvalidConfig, domainerrors.CodeOf(err))
}

func TestEncodeDecode(t *testing.T) {
	l, err := New(DefaultSize)
	require.NoError(t, err)
	require.NoError(t, l.Revoke(4242))

	encoded, err := l.Encode()
	require.NoError(t, err)
	assert.Less(t, len(encoded), DefaultSize/8)

	decoded, err := Decode(PurposeRevocation, encoded, DefaultSize)
	require.NoError(t, err)
	revoked, err := decoded.Revoked(4242)
	require.NoError(t, err)
	assert.True(t, revoked)

	other, err := Decode("suspension", encoded, DefaultSize)
	require.NoError(t, err)
	revoked, err = other.Revoked(4242)
	require.NoError(t, err)
	assert.False(t, revoked)

	_, err = Decode(PurposeRevocation, encoded, 8)
	assert.Equal(t, domainerrors.CodeMalformedToken, domainerrors.CodeOf(err))

	_, err = Decode(PurposeRevocation, "!!", DefaultSize)
	assert.Equal(t, domainerrors.CodeMalformedToken, domainerrors.CodeOf(err))
}

func encodeRaw(t *testing.T, raw []byte) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return base64.RawURLEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		size    int
	}{
		{name: "oversized inflated list", encoded: encodeRaw(t, make([]byte, 8<<20)), size: 64},
		{name: "short list", encoded: encodeRaw(t, make([]byte, 4)), size: 64},
		{name: "zero size", encoded: encodeRaw(t, make([]byte, 8)), size: 0},
		{name: "not gzip", encoded: base64.RawURLEncoding.EncodeToString([]byte("plain")), size: 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(PurposeRevocation, tt.encoded, tt.size)
			assert.Equal(t, domainerrors.CodeMalformedToken, domainerrors.CodeOf(err))
		})
	}
}

func TestPublishAndFetch(t *testing.T) {
	ctx := context.Background()
	store := memledger.New()

	l, err := New(64)
	require.NoError(t, err)
	require.NoError(t, l.Revoke(3))

	id, err := Publish(ctx, store, l)
	require.NoError(t, err)

	fetched, err := Fetch(ctx, store, id)
	require.NoError(t, err)
	assert.Equal(t, 64, fetched.Size())
	revoked, err := fetched.Revoked(3)
	require.NoError(t, err)
	assert.True(t, revoked)

	other, err := store.PostData(ctx, "vc+jwt", []byte("a.b.c"))
	require.NoError(t, err)
	_, err = Fetch(ctx, store, other)
	assert.Equal(t, domainerrors.CodeMalformedToken, domainerrors.CodeOf(err))
}
