package sanitize

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var collectionPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bot-faqs", "bot_faqs"},
		{"Acme Store!", "acme_store"},
		{"__products__", "products"},
		{"a--b..c", "a_b_c"},
		{"", DefaultIdentifier},
		{"!!!", DefaultIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Identifier(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Regexp(t, collectionPattern, got)
		})
	}
}

func TestIdentifier_TruncatesWithStableHash(t *testing.T) {
	long := strings.Repeat("catalog", 20)

	got := Identifier(long)
	assert.Len(t, got, MaxIdentifierLength)
	assert.Regexp(t, collectionPattern, got)
	assert.Equal(t, got, Identifier(long))
	assert.NotEqual(t, got, Identifier(long+"x"))
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "semindex_bot_faqs", CollectionName("semindex", "bot-faqs"))
	assert.Equal(t, "products", CollectionName("", "products"))
	assert.Regexp(t, collectionPattern, CollectionName(strings.Repeat("p", 60), "documents"))
}
