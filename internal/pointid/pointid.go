// Package pointid derives stable vector record ids from source identifiers.
//
// An id is a version 5 UUID computed in two steps: the namespace name is
// hashed under the RFC 4122 URL namespace as "urn:semindex:<namespace>",
// then the source id is hashed under that derived namespace. Any
// implementation that follows the same two steps yields the same ids, so a
// record can be overwritten or deleted knowing only (namespace, sourceID).
package pointid

import (
	"sync"

	"github.com/google/uuid"
)

const namespacePrefix = "urn:semindex:"

var namespaces sync.Map // string -> uuid.UUID

// For returns the record id for sourceID within namespace.
func For(namespace, sourceID string) string {
	return uuid.NewSHA1(Namespace(namespace), []byte(sourceID)).String()
}

// ForAll maps every source id through For.
func ForAll(namespace string, sourceIDs []string) []string {
	ids := make([]string, len(sourceIDs))
	for i, s := range sourceIDs {
		ids[i] = For(namespace, s)
	}
	return ids
}

// Namespace returns the derived UUID namespace for a logical namespace name.
func Namespace(namespace string) uuid.UUID {
	if v, ok := namespaces.Load(namespace); ok {
		return v.(uuid.UUID)
	}
	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespacePrefix+namespace))
	namespaces.Store(namespace, ns)
	return ns
}
