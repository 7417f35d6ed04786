// Package did provides the DID Document Engine: DID syntax, verification
// methods and their scopes, and the canonical serialized form used for
// publication and hashing.
//
// A Document is exclusively owned by its caller while it is being edited;
// no two goroutines may mutate the same instance. Once a ledger client
// anchors a document the returned instance is immutable and further edits
// go through NewVersion.
package did

import (
	"regexp"
	"strings"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
)

// Default configuration constants for DID creation.
const (
	// DefaultMethod is the DID method name used when none is configured.
	DefaultMethod = "nda"
	// Prefix is the scheme every DID starts with.
	Prefix = "did:"
	// PlaceholderIdentifier stands in for the ledger-assigned identifier
	// until the document is published.
	PlaceholderIdentifier = "0x0000000000000000000000000000000000000000000000000000000000000000"
)

var (
	networkPattern = regexp.MustCompile(`^[a-z0-9]{1,6}$`)
	methodPattern  = regexp.MustCompile(`^[a-z0-9]+$`)
	idCharPattern  = regexp.MustCompile(`^[A-Za-z0-9._%-]+$`)
)

// DID is a decentralized identifier of the form
// did:<method>:<network>:<identifier>. Generic DIDs with a single
// method-specific segment, such as did:example:123, are also accepted.
type DID string

// New builds a DID from its parts.
func New(method, network, identifier string) DID {
	method = strings.TrimPrefix(method, Prefix)
	if network == "" {
		return DID(Prefix + method + ":" + identifier)
	}
	return DID(Prefix + method + ":" + network + ":" + identifier)
}

// Placeholder returns the DID of an unpublished document on network.
func Placeholder(method, network string) DID {
	return New(method, network, PlaceholderIdentifier)
}

// Parse checks the syntax of s and returns it as a DID.
func Parse(s string) (DID, error) {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return "", domainerrors.Newf(domainerrors.CodeInvalidDID, "%q does not start with %q", s, Prefix)
	}

	parts := strings.Split(rest, ":")
	if len(parts) < 2 {
		return "", domainerrors.Newf(domainerrors.CodeInvalidDID, "%q has no method-specific identifier", s)
	}
	if !methodPattern.MatchString(parts[0]) {
		return "", domainerrors.Newf(domainerrors.CodeInvalidDID, "%q has an invalid method name", s)
	}
	for _, p := range parts[1:] {
		if !idCharPattern.MatchString(p) {
			return "", domainerrors.Newf(domainerrors.CodeInvalidDID, "%q has an invalid identifier segment", s)
		}
	}

	return DID(s), nil
}

// ValidateNetwork checks that name is 1-6 lowercase alphanumerics.
func ValidateNetwork(name string) error {
	if !networkPattern.MatchString(name) {
		return domainerrors.Newf(domainerrors.CodeInvalidNetworkName, "invalid network name %q", name)
	}
	return nil
}

func (d DID) segments() []string {
	return strings.Split(strings.TrimPrefix(string(d), Prefix), ":")
}

// String returns the DID as a string.
func (d DID) String() string {
	return string(d)
}

// Method returns the method name.
func (d DID) Method() string {
	return d.segments()[0]
}

// Network returns the network segment, or "" for generic DIDs.
func (d DID) Network() string {
	s := d.segments()
	if len(s) < 3 {
		return ""
	}
	return s[1]
}

// Identifier returns the last segment of the DID.
func (d DID) Identifier() string {
	s := d.segments()
	return s[len(s)-1]
}

// IsPlaceholder reports whether the DID belongs to an unpublished document.
func (d DID) IsPlaceholder() bool {
	return d.Identifier() == PlaceholderIdentifier
}

// MethodID returns the DID URL referencing fragment.
func (d DID) MethodID(fragment string) string {
	return string(d) + "#" + fragment
}

// SplitMethodID splits a DID URL into its DID and fragment. A bare
// fragment ("key-1" or "#key-1") yields an empty DID.
func SplitMethodID(ref string) (DID, string) {
	didPart, fragment, found := strings.Cut(ref, "#")
	if !found {
		return "", ref
	}
	return DID(didPart), fragment
}
