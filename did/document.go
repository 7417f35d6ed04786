package did

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/common/jwk"
	"github.com/pilacorp/go-identity-sdk/keyvault"
)

// Document is a DID document under construction or as read from a ledger.
type Document struct {
	id         DID
	controller DID
	methods    []VerificationMethod
	// refs holds the fragments referenced by each relationship, in order.
	refs     map[MethodScope][]string
	metadata Metadata
	anchored bool
	now      func() time.Time
}

// DocumentOption configures NewDocument.
type DocumentOption func(*documentConfig)

type documentConfig struct {
	method     string
	controller DID
	now        func() time.Time
}

// WithMethod sets the DID method name (e.g. "nda" or "did:nda").
func WithMethod(method string) DocumentOption {
	return func(c *documentConfig) { c.method = strings.TrimPrefix(method, Prefix) }
}

// WithController sets the document controller.
func WithController(controller DID) DocumentOption {
	return func(c *documentConfig) { c.controller = controller }
}

// WithClock sets the time source used for metadata timestamps.
func WithClock(now func() time.Time) DocumentOption {
	return func(c *documentConfig) { c.now = now }
}

// NewDocument creates a document with a placeholder DID scoped to network
// and no verification methods.
func NewDocument(network string, opts ...DocumentOption) (*Document, error) {
	cfg := documentConfig{method: DefaultMethod, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := ValidateNetwork(network); err != nil {
		return nil, err
	}
	if !methodPattern.MatchString(cfg.method) {
		return nil, domainerrors.Newf(domainerrors.CodeInvalidConfig, "invalid DID method %q", cfg.method)
	}

	created := cfg.now().UTC().Truncate(time.Second)
	return &Document{
		id:         Placeholder(cfg.method, network),
		controller: cfg.controller,
		refs:       make(map[MethodScope][]string),
		metadata:   Metadata{Created: created, Updated: created},
		now:        cfg.now,
	}, nil
}

// ID returns the document's DID.
func (d *Document) ID() DID {
	return d.id
}

// Controller returns the document controller, if any.
func (d *Document) Controller() DID {
	return d.controller
}

// Metadata returns the document metadata.
func (d *Document) Metadata() Metadata {
	return d.metadata
}

// Anchored reports whether the instance was anchored on a ledger and is
// therefore immutable.
func (d *Document) Anchored() bool {
	return d.anchored
}

// Methods returns a copy of the verification methods in insertion order.
func (d *Document) Methods() []VerificationMethod {
	return slices.Clone(d.methods)
}

// Method returns the verification method with the given fragment.
func (d *Document) Method(fragment string) (VerificationMethod, bool) {
	i := d.indexOf(fragment)
	if i < 0 {
		return VerificationMethod{}, false
	}
	return d.methods[i], true
}

// References returns the fragments referenced by a relationship scope.
func (d *Document) References(scope MethodScope) []string {
	return slices.Clone(d.refs[scope])
}

func (d *Document) indexOf(fragment string) int {
	return slices.IndexFunc(d.methods, func(vm VerificationMethod) bool {
		return vm.Fragment == fragment
	})
}

func (d *Document) checkMutable() error {
	if d.anchored {
		return domainerrors.New(domainerrors.CodeImmutableDocument, "anchored document cannot be modified, use NewVersion").
			WithDID(d.id.String())
	}
	return nil
}

// GenerateMethod asks the vault for a new key pair and inserts a
// verification method for it under scope.
//
// When fragment is empty it is derived from the public key thumbprint.
// A fragment already present in the document fails with DuplicateFragment
// before any key is generated. Vault failures are propagated with their
// original code; untyped vault errors become KeyVaultUnavailable.
func (d *Document) GenerateMethod(ctx context.Context, vault keyvault.KeyVault, keyType jwk.KeyType, alg jwk.Algorithm, fragment string, scope MethodScope) (string, error) {
	if err := d.checkMutable(); err != nil {
		return "", err
	}

	// 1. Check the algorithm matches the key type
	algKeyType, ok := alg.KeyType()
	if !ok {
		return "", domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "unsupported algorithm %q", alg)
	}
	if algKeyType != keyType {
		return "", domainerrors.Newf(domainerrors.CodeUnsupportedAlgorithm, "algorithm %s cannot sign with %s keys", alg, keyType)
	}
	if !scope.Valid() {
		return "", domainerrors.Newf(domainerrors.CodeInvalidConfig, "unknown method scope %q", scope)
	}

	// 2. Reject caller-supplied fragments that collide
	if fragment != "" {
		if err := d.checkFragment(fragment); err != nil {
			return "", err
		}
	}

	// 3. Generate the key pair in the vault
	_, pub, err := vault.GenerateKey(ctx, keyType)
	if err != nil {
		e := domainerrors.Wrap(err, domainerrors.CodeKeyVaultUnavailable, "key vault failed to generate key").WithDID(d.id.String())
		if fragment != "" {
			e = e.WithFragment(fragment)
		}
		return "", e
	}
	pub.Alg = string(alg)

	// 4. Derive the fragment from the public key if needed
	if fragment == "" {
		fragment, err = pub.Thumbprint()
		if err != nil {
			return "", err
		}
	}

	vm := VerificationMethod{
		Fragment:   fragment,
		Type:       MethodType,
		Controller: d.id,
		PublicKey:  pub,
	}
	if err := d.InsertMethod(vm, scope); err != nil {
		return "", err
	}

	return fragment, nil
}

// InsertMethod adds vm to the document under scope.
func (d *Document) InsertMethod(vm VerificationMethod, scope MethodScope) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	if !scope.Valid() {
		return domainerrors.Newf(domainerrors.CodeInvalidConfig, "unknown method scope %q", scope)
	}
	if err := d.checkFragment(vm.Fragment); err != nil {
		return err
	}
	if _, err := vm.PublicKey.KeyType(); err != nil {
		return &domainerrors.Error{Code: domainerrors.CodeUnsupportedAlgorithm, Message: "unsupported public key", Fragment: vm.Fragment, Err: err}
	}

	if vm.Type == "" {
		vm.Type = MethodType
	}
	if vm.Controller == "" {
		vm.Controller = d.id
	}
	vm.Scope = scope

	d.methods = append(d.methods, vm)
	if scope != ScopeVerificationMethod {
		d.refs[scope] = append(d.refs[scope], vm.Fragment)
	}
	d.touch()

	return nil
}

// AttachScope adds an existing method to another relationship.
func (d *Document) AttachScope(fragment string, scope MethodScope) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	if d.indexOf(fragment) < 0 {
		return d.unknownFragment(fragment)
	}
	if scope == ScopeVerificationMethod || !scope.Valid() {
		return domainerrors.Newf(domainerrors.CodeInvalidConfig, "cannot attach method to scope %q", scope)
	}
	if slices.Contains(d.refs[scope], fragment) {
		return nil
	}

	d.refs[scope] = append(d.refs[scope], fragment)
	d.touch()
	return nil
}

// RemoveMethod deletes the method with the given fragment and every
// relationship reference to it.
func (d *Document) RemoveMethod(fragment string) error {
	if err := d.checkMutable(); err != nil {
		return err
	}

	i := d.indexOf(fragment)
	if i < 0 {
		return d.unknownFragment(fragment)
	}

	d.methods = slices.Delete(d.methods, i, i+1)
	for scope, frags := range d.refs {
		d.refs[scope] = slices.DeleteFunc(frags, func(f string) bool { return f == fragment })
		if len(d.refs[scope]) == 0 {
			delete(d.refs, scope)
		}
	}
	d.touch()

	return nil
}

// Deactivate marks the document as deactivated.
func (d *Document) Deactivate() error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	d.metadata.Deactivated = true
	d.touch()
	return nil
}

func (d *Document) checkFragment(fragment string) error {
	if fragment == "" || strings.ContainsAny(fragment, "# \t\r\n") {
		return domainerrors.Newf(domainerrors.CodeInvalidFragment, "invalid fragment %q", fragment).
			WithDID(d.id.String())
	}
	if d.indexOf(fragment) >= 0 {
		return domainerrors.New(domainerrors.CodeDuplicateFragment, "fragment already present in document").
			WithDID(d.id.String()).WithFragment(fragment)
	}
	return nil
}

func (d *Document) unknownFragment(fragment string) error {
	return domainerrors.New(domainerrors.CodeUnknownFragment, "no verification method with this fragment").
		WithDID(d.id.String()).WithFragment(fragment)
}

func (d *Document) touch() {
	d.metadata.Updated = d.clock().UTC().Truncate(time.Second)
}

func (d *Document) clock() time.Time {
	if d.now == nil {
		return time.Now()
	}
	return d.now()
}

// Clone returns a deep copy of the document, preserving its anchored state.
func (d *Document) Clone() *Document {
	c := *d
	c.methods = slices.Clone(d.methods)
	c.refs = make(map[MethodScope][]string, len(d.refs))
	for scope, frags := range d.refs {
		c.refs[scope] = slices.Clone(frags)
	}
	return &c
}

// NewVersion returns a mutable copy of an anchored document. Publishing the
// copy produces the next document version.
func (d *Document) NewVersion() *Document {
	c := d.Clone()
	c.anchored = false
	return c
}

// Anchor returns an immutable copy of the document as published under
// identifier at the given time. It is called by ledger clients: the
// placeholder DID is replaced, controllers pointing at the old DID follow
// it, and the version is incremented.
func (d *Document) Anchor(identifier string, at time.Time) (*Document, error) {
	if identifier == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidDID, "empty ledger identifier")
	}

	c := d.Clone()
	newID := New(d.id.Method(), d.id.Network(), identifier)
	if _, err := Parse(newID.String()); err != nil {
		return nil, err
	}

	for i := range c.methods {
		if c.methods[i].Controller == d.id {
			c.methods[i].Controller = newID
		}
	}
	c.id = newID
	c.metadata.Version++
	c.metadata.Updated = at.UTC().Truncate(time.Second)
	c.anchored = true

	return c, nil
}

// Serialize returns the canonical JSON form of the document (RFC 8785).
// Method and relationship order is preserved.
func (d *Document) Serialize() ([]byte, error) {
	raw, err := json.Marshal(d.toJSON())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DID document: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize DID document: %w", err)
	}
	return canonical, nil
}

// Hash calculates the Keccak256 hash of the canonical document.
func (d *Document) Hash() (string, error) {
	data, err := d.Serialize()
	if err != nil {
		return "", err
	}
	return strings.ToLower(crypto.Keccak256Hash(data).Hex()), nil
}

// MarshalJSON implements json.Marshaler with the canonical form.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.Serialize()
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDocument(data)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

func (d *Document) toJSON() documentJSON {
	out := documentJSON{
		Context:            DefaultContext,
		ID:                 d.id.String(),
		Controller:         d.controller.String(),
		VerificationMethod: make([]methodJSON, 0, len(d.methods)),
		Metadata: metadataJSON{
			Created:     d.metadata.Created.UTC().Format(time.RFC3339),
			Updated:     d.metadata.Updated.UTC().Format(time.RFC3339),
			Version:     d.metadata.Version,
			Deactivated: d.metadata.Deactivated,
		},
	}

	for _, vm := range d.methods {
		out.VerificationMethod = append(out.VerificationMethod, methodJSON{
			ID:           d.id.MethodID(vm.Fragment),
			Type:         vm.Type,
			Controller:   vm.Controller.String(),
			PublicKeyJwk: vm.PublicKey,
		})
	}

	for _, scope := range relationships {
		frags := d.refs[scope]
		if len(frags) == 0 {
			continue
		}
		ids := make([]string, 0, len(frags))
		for _, f := range frags {
			ids = append(ids, d.id.MethodID(f))
		}
		*out.relationship(scope) = ids
	}

	return out
}

// ParseDocument decodes a serialized document. Documents with a published
// DID come back anchored, and therefore read-only.
func ParseDocument(data []byte) (*Document, error) {
	var in documentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, &domainerrors.Error{Code: domainerrors.CodeMalformedDocument, Message: "invalid DID document JSON", Err: err}
	}

	id, err := Parse(in.ID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeMalformedDocument, "invalid document id")
	}

	doc := &Document{
		id:   id,
		refs: make(map[MethodScope][]string),
		now:  time.Now,
	}
	if in.Controller != "" {
		doc.controller = DID(in.Controller)
	}

	if doc.metadata, err = parseMetadata(in.Metadata); err != nil {
		return nil, &domainerrors.Error{Code: domainerrors.CodeMalformedDocument, Message: "invalid document metadata", DID: id.String(), Err: err}
	}

	scopeOf := make(map[string]MethodScope)
	for _, scope := range relationships {
		for _, ref := range *in.relationship(scope) {
			refDID, fragment := SplitMethodID(ref)
			if refDID != "" && refDID != id {
				return nil, domainerrors.Newf(domainerrors.CodeMalformedDocument, "relationship %s references foreign method %s", scope, ref).WithDID(id.String())
			}
			doc.refs[scope] = append(doc.refs[scope], fragment)
			if _, seen := scopeOf[fragment]; !seen {
				scopeOf[fragment] = scope
			}
		}
	}

	for _, m := range in.VerificationMethod {
		methodDID, fragment := SplitMethodID(m.ID)
		if methodDID != id || fragment == "" {
			return nil, domainerrors.Newf(domainerrors.CodeMalformedDocument, "method id %s does not belong to document", m.ID).WithDID(id.String())
		}
		if doc.indexOf(fragment) >= 0 {
			return nil, domainerrors.New(domainerrors.CodeDuplicateFragment, "fragment listed twice").WithDID(id.String()).WithFragment(fragment)
		}

		scope, ok := scopeOf[fragment]
		if !ok {
			scope = ScopeVerificationMethod
		}
		doc.methods = append(doc.methods, VerificationMethod{
			Fragment:   fragment,
			Type:       m.Type,
			Controller: DID(m.Controller),
			PublicKey:  m.PublicKeyJwk,
			Scope:      scope,
		})
	}

	for scope, frags := range doc.refs {
		for _, f := range frags {
			if doc.indexOf(f) < 0 {
				return nil, domainerrors.Newf(domainerrors.CodeMalformedDocument, "relationship %s references missing method", scope).WithDID(id.String()).WithFragment(f)
			}
		}
	}

	doc.anchored = !id.IsPlaceholder()
	return doc, nil
}

func parseMetadata(in metadataJSON) (Metadata, error) {
	var (
		md  = Metadata{Version: in.Version, Deactivated: in.Deactivated}
		err error
	)
	if in.Created != "" {
		if md.Created, err = time.Parse(time.RFC3339, in.Created); err != nil {
			return Metadata{}, err
		}
	}
	if in.Updated != "" {
		if md.Updated, err = time.Parse(time.RFC3339, in.Updated); err != nil {
			return Metadata{}, err
		}
	}
	return md, nil
}
