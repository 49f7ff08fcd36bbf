package http

import (
	"github.com/fyrsmithlabs/semindex/internal/indexer"
	"github.com/fyrsmithlabs/semindex/internal/search"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// UpsertRequest is the request body for POST /v1/items.
type UpsertRequest struct {
	Items []indexer.Item `json:"items"`
}

// UpsertResponse is the response body for POST /v1/items.
type UpsertResponse struct {
	Total   int               `json:"total"`
	Indexed int               `json:"indexed"`
	Failed  []indexer.Failure `json:"failed"`
}

// DeleteRequest is the request body for POST /v1/collections/:collection/delete.
// Exactly one of IDs or Filter must be set. TenantID is always required.
type DeleteRequest struct {
	TenantID string         `json:"tenant_id"`
	IDs      []string       `json:"ids,omitempty"`
	Filter   map[string]any `json:"filter,omitempty"`
}

// SearchRequest is the request body for POST /v1/search.
type SearchRequest struct {
	Query      string `json:"query"`
	TenantID   string `json:"tenant_id"`
	TopK       int    `json:"top_k"`
	Collection string `json:"collection,omitempty"`
}

// SearchResponse is the response body for POST /v1/search.
type SearchResponse struct {
	Results []search.Result `json:"results"`
}

// EnqueueResponse is the response body for POST /v1/commands.
type EnqueueResponse struct {
	ID string `json:"id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
