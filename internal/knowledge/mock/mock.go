// Package mock provides a test double for the knowledge.Searcher interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sensai/internal/knowledge"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	Query   string
	TopK    int
	Filters knowledge.Filters
}

// Searcher is a mock implementation of [knowledge.Searcher].
type Searcher struct {
	mu sync.Mutex

	// SearchResult is returned by every Search call. When ResultsByQuery
	// has an entry for the exact query it takes precedence.
	SearchResult []knowledge.Result

	// ResultsByQuery maps exact query strings to results.
	ResultsByQuery map[string][]knowledge.Result

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// SearchCalls records every call in order.
	SearchCalls []SearchCall
}

var _ knowledge.Searcher = (*Searcher)(nil)

// Search records the call and returns the configured results.
func (s *Searcher) Search(_ context.Context, query string, topK int, filters knowledge.Filters) ([]knowledge.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls = append(s.SearchCalls, SearchCall{Query: query, TopK: topK, Filters: filters})
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if r, ok := s.ResultsByQuery[query]; ok {
		return r, nil
	}
	return s.SearchResult, nil
}

// Calls returns a snapshot of recorded calls.
func (s *Searcher) Calls() []SearchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SearchCall(nil), s.SearchCalls...)
}
