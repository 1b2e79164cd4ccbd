// Package search keeps a Meilisearch index of documents. When Meilisearch is
// not configured or unhealthy, callers fall back to SQL matching.
package search

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	Archived       bool     `json:"archived"`
}

// Query narrows a document search. Empty fields do not filter.
type Query struct {
	Text           string
	OrganizationID string
	Category       string
	Archived       *bool
	Limit          int
	Offset         int
}

// Searcher returns the ids of matching documents in relevance order plus the
// estimated total.
type Searcher interface {
	SearchDocuments(q Query) ([]string, int, error)
	Healthy() bool
}

// Indexer pushes documents into the index.
type Indexer interface {
	IndexDocuments(docs []DocumentRecord) error
	DeleteDocument(id string) error
}
