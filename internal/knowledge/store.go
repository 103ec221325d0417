// Package knowledge defines the world-knowledge retrieval interface used to
// ground tutor prompts in game lore, plus a pgvector-backed implementation.
//
// The interface is deliberately opaque: any store with a nearest-neighbour
// search over (document, metadata) pairs satisfies it. [ContextualSearch]
// layers request-aware retrieval on top of the plain search operation, so
// every backend gets it for free.
package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sensai/pkg/types"
)

// Result is one retrieved document with its metadata and similarity score.
type Result struct {
	// Doc is the document text.
	Doc string

	// Metadata carries arbitrary document attributes. The well-known
	// "importance" key (a float64) drives contextual-search ordering.
	Metadata map[string]any

	// Score is the similarity of the document to the query; higher is
	// more similar.
	Score float64
}

// Importance extracts the metadata importance value, defaulting to zero.
func (r Result) Importance() float64 {
	if v, ok := r.Metadata["importance"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}

// Filters narrows a search to documents whose metadata matches every entry.
type Filters map[string]string

// Searcher is the narrow retrieval capability every backend provides.
type Searcher interface {
	// Search returns up to topK documents most similar to query, most
	// similar first. A nil filters map applies no filtering.
	Search(ctx context.Context, query string, topK int, filters Filters) ([]Result, error)
}

// ContextualSearch enhances retrieval with the request's game situation: the
// base query, a location-tagged variant, and an objective-tagged variant run
// concurrently, their results are merged and de-duplicated, and the union is
// ordered by metadata importance, then by score.
func ContextualSearch(ctx context.Context, s Searcher, req types.ClassifiedRequest, topK int) ([]Result, error) {
	queries := contextualQueries(req)

	var (
		mu     sync.Mutex
		merged []Result
		seen   = map[string]bool{}
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, q := range queries {
		eg.Go(func() error {
			results, err := s.Search(egCtx, q, topK, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range results {
				if seen[r.Doc] {
					continue
				}
				seen[r.Doc] = true
				merged = append(merged, r)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(merged, func(i, j int) bool {
		ii, ij := merged[i].Importance(), merged[j].Importance()
		if ii != ij {
			return ii > ij
		}
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// contextualQueries derives the query variants for a request: always the
// raw input tagged with the intent, plus location- and objective-scoped
// variants when the game context provides them.
func contextualQueries(req types.ClassifiedRequest) []string {
	base := strings.TrimSpace(req.PlayerInput)
	queries := []string{base + " " + string(req.Intent)}
	if gc := req.GameContext; gc != nil {
		if gc.Location != "" {
			queries = append(queries, base+" at "+gc.Location)
		}
		if gc.Objective != "" {
			queries = append(queries, base+" for "+gc.Objective)
		}
	}
	return queries
}
