package did

import (
	"time"

	"github.com/pilacorp/go-identity-sdk/common/jwk"
	"github.com/pilacorp/go-identity-sdk/keyvault"
)

// MethodType is the verification method type written for JWK keys.
const MethodType = "JsonWebKey2020"

// DefaultContext is the JSON-LD context of every document.
var DefaultContext = []string{
	"https://www.w3.org/ns/did/v1",
	"https://w3id.org/security/suites/jws-2020/v1",
}

// MethodScope is the verification relationship a method is used for.
type MethodScope string

// MethodScope constants.
const (
	ScopeVerificationMethod   MethodScope = "verificationMethod"
	ScopeAuthentication       MethodScope = "authentication"
	ScopeAssertionMethod      MethodScope = "assertionMethod"
	ScopeKeyAgreement         MethodScope = "keyAgreement"
	ScopeCapabilityInvocation MethodScope = "capabilityInvocation"
	ScopeCapabilityDelegation MethodScope = "capabilityDelegation"
)

// relationships lists the scopes that reference methods, in serialization order.
var relationships = []MethodScope{
	ScopeAuthentication,
	ScopeAssertionMethod,
	ScopeKeyAgreement,
	ScopeCapabilityInvocation,
	ScopeCapabilityDelegation,
}

// Valid reports whether the scope is known.
func (s MethodScope) Valid() bool {
	if s == ScopeVerificationMethod {
		return true
	}
	for _, r := range relationships {
		if r == s {
			return true
		}
	}
	return false
}

// VerificationMethod is a public key owned by a document.
type VerificationMethod struct {
	// Fragment names the method within its document.
	Fragment string
	// Type is the method type, MethodType for keys created by the SDK.
	Type string
	// Controller is the DID controlling the key.
	Controller DID
	// PublicKey is the public key as a JWK.
	PublicKey jwk.Key
	// Scope is the relationship the method was inserted for.
	Scope MethodScope
}

// KeyType returns the type of the method's key.
func (vm VerificationMethod) KeyType() (jwk.KeyType, error) {
	return vm.PublicKey.KeyType()
}

// KeyHandle returns the vault handle of the method's key.
func (vm VerificationMethod) KeyHandle() (keyvault.KeyHandle, error) {
	return keyvault.HandleFor(vm.PublicKey)
}

// Metadata is the document metadata.
type Metadata struct {
	Created time.Time
	Updated time.Time
	// Version counts publications: 0 before the first one.
	Version     uint64
	Deactivated bool
}

type methodJSON struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Controller   string  `json:"controller"`
	PublicKeyJwk jwk.Key `json:"publicKeyJwk"`
}

type metadataJSON struct {
	Created     string `json:"created"`
	Updated     string `json:"updated"`
	Version     uint64 `json:"version"`
	Deactivated bool   `json:"deactivated,omitempty"`
}

// documentJSON is the wire form of a Document.
type documentJSON struct {
	Context              []string     `json:"@context"`
	ID                   string       `json:"id"`
	Controller           string       `json:"controller,omitempty"`
	VerificationMethod   []methodJSON `json:"verificationMethod"`
	Authentication       []string     `json:"authentication,omitempty"`
	AssertionMethod      []string     `json:"assertionMethod,omitempty"`
	KeyAgreement         []string     `json:"keyAgreement,omitempty"`
	CapabilityInvocation []string     `json:"capabilityInvocation,omitempty"`
	CapabilityDelegation []string     `json:"capabilityDelegation,omitempty"`
	Metadata             metadataJSON `json:"didDocumentMetadata"`
}

func (d *documentJSON) relationship(scope MethodScope) *[]string {
	switch scope {
	case ScopeAuthentication:
		return &d.Authentication
	case ScopeAssertionMethod:
		return &d.AssertionMethod
	case ScopeKeyAgreement:
		return &d.KeyAgreement
	case ScopeCapabilityInvocation:
		return &d.CapabilityInvocation
	case ScopeCapabilityDelegation:
		return &d.CapabilityDelegation
	default:
		return nil
	}
}
