// Package sanitize normalizes values before they reach the vector store.
//
// Identifier cleans names for collections, which must match
// ^[a-z0-9_]{1,64}$ in every supported backend. Flatten converts loosely
// typed item metadata into the flat value shapes vector stores accept.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length of a collection name.
	MaxIdentifierLength = 64

	// hashSuffixLength is len("_") + 8 hex chars.
	hashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"
)

// Identifier sanitizes a string for use in collection names.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores and trims them from both ends
//   - Truncates to MaxIdentifierLength with a hash suffix if too long
//   - Returns DefaultIdentifier if the result would be empty
//
// Examples:
//
//	"bot-faqs"    -> "bot_faqs"
//	"Acme Store!" -> "acme_store"
//	"" or "!!!"   -> "default"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	sanitized := b.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}
	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized)
	}
	return sanitized
}

// truncateWithHash shortens s to MaxIdentifierLength, keeping it unique
// with an 8-char sha256 suffix.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(hash[:])[:8]
	truncated := strings.TrimRight(s[:MaxIdentifierLength-hashSuffixLength], "_")
	return truncated + suffix
}

// CollectionName builds a physical collection name from a deployment
// prefix and a logical collection kind.
//
//	CollectionName("semindex", "bot-faqs") -> "semindex_bot_faqs"
func CollectionName(prefix, kind string) string {
	name := Identifier(kind)
	if prefix != "" {
		name = Identifier(prefix) + "_" + name
	}
	if len(name) > MaxIdentifierLength {
		name = truncateWithHash(name)
	}
	return name
}
