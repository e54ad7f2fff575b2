package http

import (
	"github.com/fyrsmithlabs/uniguide/internal/catalog"
	"github.com/fyrsmithlabs/uniguide/internal/profile"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string         `json:"status"`
	Catalog *CatalogStatus `json:"catalog,omitempty"`
}

// CatalogStatus describes the active catalog index.
type CatalogStatus struct {
	Collection string `json:"collection"`
	Generation int    `json:"generation"`
	Records    int    `json:"records"`
}

// ProfileResponse is the response body for the profile endpoints.
type ProfileResponse struct {
	Profile profile.Profile `json:"profile"`

	// Warning is set when the profile changed but could not be saved.
	Warning string `json:"warning,omitempty"`
}

// ErrorResponse carries a failure with optional detail.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Field   string         `json:"field,omitempty"`
	Catalog *CatalogStatus `json:"catalog,omitempty"`
}

// SearchResponse is the response body for GET /api/v1/catalog/search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// SearchResult is one matching programme.
type SearchResult struct {
	ID       string          `json:"id"`
	Program  catalog.Program `json:"program"`
	Distance float32         `json:"distance"`
}
