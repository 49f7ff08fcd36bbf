// Package collections defines the logical collections content is indexed
// into and maps each one to its physical vector store collection.
package collections

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/semindex/internal/pointid"
	"github.com/fyrsmithlabs/semindex/internal/sanitize"
)

// Kind is a logical collection, e.g. "products" or "bot-faqs". The kind
// name, qualified by tenant, is the namespace for deterministic record ids.
type Kind string

const (
	// Products stores catalog products. Re-indexing a product deletes the
	// prior record first, and product search over-fetches for rerank.
	Products Kind = "products"

	// FAQs stores merchant FAQ entries.
	FAQs Kind = "faqs"

	// Documents stores uploaded knowledge documents.
	Documents Kind = "documents"

	// Web stores crawled web snippets.
	Web Kind = "web"

	// BotFAQs stores chatbot-specific FAQ entries.
	BotFAQs Kind = "bot-faqs"

	// Offers stores promotional offers.
	Offers Kind = "offers"
)

// ErrUnknownCollection is returned for a name that is not a Kind.
var ErrUnknownCollection = errors.New("unknown collection")

// ErrInvalidBatchSize is returned for a batch size below one.
var ErrInvalidBatchSize = errors.New("invalid batch size")

// Kinds returns every kind in registration order.
func Kinds() []Kind {
	return []Kind{Products, FAQs, Documents, Web, BotFAQs, Offers}
}

// ParseKind validates a collection name.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCollection, name)
}

// Spec describes how one logical collection is stored and indexed.
type Spec struct {
	Kind Kind

	// Physical is the vector store collection name, <prefix>_<kind>.
	Physical string

	// BatchSize bounds how many items one upsert chunk holds.
	BatchSize int

	// PurgeBeforeUpsert deletes existing records before they are rebuilt.
	PurgeBeforeUpsert bool

	// Amplify multiplies the requested topK during search.
	Amplify bool
}

// Namespace returns the namespace used for a tenant's deterministic record
// ids, <kind>/<tenant>. Two tenants indexing the same source id get
// distinct records.
func (s Spec) Namespace(tenantID string) string {
	return string(s.Kind) + "/" + tenantID
}

// RecordID returns the record id of a tenant's source item.
func (s Spec) RecordID(tenantID, sourceID string) string {
	return pointid.For(s.Namespace(tenantID), sourceID)
}

// RecordIDs maps source ids through RecordID.
func (s Spec) RecordIDs(tenantID string, sourceIDs []string) []string {
	return pointid.ForAll(s.Namespace(tenantID), sourceIDs)
}

// Registry resolves kinds to specs.
type Registry struct {
	specs map[Kind]Spec
}

// NewRegistry builds the registry. batchSizes overrides defaultBatch per
// kind; unknown kinds in batchSizes are rejected.
func NewRegistry(prefix string, defaultBatch int, batchSizes map[string]int) (*Registry, error) {
	if defaultBatch < 1 {
		return nil, fmt.Errorf("%w: default batch size %d", ErrInvalidBatchSize, defaultBatch)
	}

	names := make([]string, 0, len(batchSizes))
	for name := range batchSizes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := ParseKind(name); err != nil {
			return nil, fmt.Errorf("batch size for %s: %w", name, err)
		}
		if batchSizes[name] < 1 {
			return nil, fmt.Errorf("%w: %s has batch size %d", ErrInvalidBatchSize, name, batchSizes[name])
		}
	}

	r := &Registry{specs: make(map[Kind]Spec, len(Kinds()))}
	for _, k := range Kinds() {
		size := defaultBatch
		if n, ok := batchSizes[string(k)]; ok {
			size = n
		}
		r.specs[k] = Spec{
			Kind:              k,
			Physical:          sanitize.CollectionName(prefix, string(k)),
			BatchSize:         size,
			PurgeBeforeUpsert: k == Products,
			Amplify:           k == Products,
		}
	}
	return r, nil
}

// Lookup returns the spec for a kind name.
func (r *Registry) Lookup(name string) (Spec, error) {
	k, err := ParseKind(name)
	if err != nil {
		return Spec{}, err
	}
	return r.specs[k], nil
}

// Resolve looks up several kind names, dropping duplicates.
func (r *Registry) Resolve(names []string) ([]Spec, error) {
	seen := make(map[Kind]bool, len(names))
	specs := make([]Spec, 0, len(names))
	for _, name := range names {
		spec, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		if seen[spec.Kind] {
			continue
		}
		seen[spec.Kind] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

// All returns every spec in registration order.
func (r *Registry) All() []Spec {
	specs := make([]Spec, 0, len(r.specs))
	for _, k := range Kinds() {
		specs = append(specs, r.specs[k])
	}
	return specs
}

// PhysicalNames returns every physical collection name in registration order.
func (r *Registry) PhysicalNames() []string {
	names := make([]string, 0, len(r.specs))
	for _, s := range r.All() {
		names = append(names, s.Physical)
	}
	return names
}
