package collections

// Reserved payload keys written on every record. They override caller
// metadata with the same name. The tenant key is vectorstore.TenantKey.
const (
	// KeySourceID holds the caller's item id before id derivation.
	KeySourceID = "source_id"

	// KeyType holds the collection kind.
	KeyType = "type"

	// KeyContent holds the normalized text that was embedded.
	KeyContent = "content"
)
