package models

import (
	"fmt"
	"time"
)

// QueryIntent is the classified intent of a search query.
type QueryIntent string

const (
	IntentFindFile    QueryIntent = "find-file"
	IntentFindContent QueryIntent = "find-content"
	IntentAmbiguous   QueryIntent = "ambiguous"
)

// SearchFilters narrow a search to matching files. Every active predicate
// must hold for a result to be returned.
type SearchFilters struct {
	FileTypes      []FileType `json:"file_types,omitempty"`
	IncludeTags    []string   `json:"include_tags,omitempty"`
	ExcludeTags    []string   `json:"exclude_tags,omitempty"`
	ModifiedAfter  time.Time  `json:"modified_after,omitempty"`
	ModifiedBefore time.Time  `json:"modified_before,omitempty"`
	PathPrefix     string     `json:"path_prefix,omitempty"`
	MinScore       float64    `json:"min_score,omitempty"`
	ExcludePrivate bool       `json:"exclude_private,omitempty"`
}

// SearchRequest is a query from the shell.
type SearchRequest struct {
	RequestID    string        `json:"request_id,omitempty"`
	Query        string        `json:"query"`
	Intent       QueryIntent   `json:"intent,omitempty"` // optional caller hint
	Filters      SearchFilters `json:"filters,omitempty"`
	Offset       int           `json:"offset,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	EnableRemote bool          `json:"enable_remote,omitempty"`
	Timestamp    time.Time     `json:"timestamp,omitempty"`
}

// Validate normalizes the request and rejects empty queries.
func (r *SearchRequest) Validate() error {
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.RequestID == "" {
		r.RequestID = NewID()
	}
	if r.Limit <= 0 {
		r.Limit = 10
	}
	if r.Limit > 100 {
		r.Limit = 100
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return nil
}

// SearchStatus is the outcome class of a search.
type SearchStatus string

const (
	SearchSuccess        SearchStatus = "success"
	SearchPartialSuccess SearchStatus = "partial-success"
	SearchNeedsClarity   SearchStatus = "needs-clarity"
	SearchNoResults      SearchStatus = "no-results"
	SearchError          SearchStatus = "error"
)

// ResultSource tags which retrieval path produced a result.
type ResultSource string

const (
	SourceVector ResultSource = "vector"
	SourceBM25   ResultSource = "bm25"
	SourceRemote ResultSource = "remote"
)

// SearchResult is one scored hit. Scores are non-increasing within a
// response; ties break by FileID ascending.
type SearchResult struct {
	FileID   string         `json:"file_id"`
	Path     string         `json:"path"`
	Name     string         `json:"name"`
	FileType FileType       `json:"file_type"`
	Score    float64        `json:"score"`
	Snippet  string         `json:"snippet,omitempty"`
	ChunkID  string         `json:"chunk_id,omitempty"`
	Sources  []ResultSource `json:"sources"`
}

// Clarification is one disambiguation option returned with needs-clarity.
type Clarification struct {
	Label          string      `json:"label"`
	Intent         QueryIntent `json:"intent,omitempty"`
	FileType       FileType    `json:"file_type,omitempty"`
	ModifiedWithin string      `json:"modified_within,omitempty"` // e.g. "7d", "30d"
	EstimatedCount int         `json:"estimated_count"`
}

// SearchResponse is the engine's answer to a SearchRequest.
type SearchResponse struct {
	RequestID      string           `json:"request_id"`
	Status         SearchStatus     `json:"status"`
	Results        []*SearchResult  `json:"results"`
	Total          int              `json:"total"`
	HasMore        bool             `json:"has_more"`
	DurationMs     int64            `json:"duration_ms"`
	Sources        []ResultSource   `json:"sources"`
	Clarifications []*Clarification `json:"clarifications,omitempty"`
}
