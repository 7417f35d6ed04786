package did

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input      string
		wantErr    bool
		method     string
		network    string
		identifier string
	}{
		{input: "did:nda:test:0xab12", method: "nda", network: "test", identifier: "0xab12"},
		{input: "did:example:123", method: "example", network: "", identifier: "123"},
		{input: "nda:test:0xab12", wantErr: true},
		{input: "did:nda", wantErr: true},
		{input: "did:NDA:test:1", wantErr: true},
		{input: "did:nda:test:a b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := Parse(tt.input)
			if tt.wantErr {
				assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidDID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.method, d.Method())
			assert.Equal(t, tt.network, d.Network())
			assert.Equal(t, tt.identifier, d.Identifier())
		})
	}
}

func TestMethodID(t *testing.T) {
	d := New("did:nda", "test", "0xab12")
	assert.Equal(t, DID("did:nda:test:0xab12"), d)
	assert.Equal(t, "did:nda:test:0xab12#key-1", d.MethodID("key-1"))

	gotDID, frag := SplitMethodID("did:nda:test:0xab12#key-1")
	assert.Equal(t, d, gotDID)
	assert.Equal(t, "key-1", frag)

	gotDID, frag = SplitMethodID("#key-1")
	assert.Empty(t, gotDID)
	assert.Equal(t, "key-1", frag)

	gotDID, frag = SplitMethodID("key-1")
	assert.Empty(t, gotDID)
	assert.Equal(t, "key-1", frag)
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder("nda", "test")
	assert.True(t, p.IsPlaceholder())
	assert.False(t, New("nda", "test", "0x01").IsPlaceholder())
}
