package knowledge_test

import (
	"context"
	"testing"

	"github.com/MrWong99/sensai/internal/knowledge"
	"github.com/MrWong99/sensai/internal/knowledge/mock"
	"github.com/MrWong99/sensai/pkg/types"
)

func classified(input, location, objective string) types.ClassifiedRequest {
	req := types.ClassifiedRequest{
		Request: types.Request{PlayerInput: input},
		Intent:  types.IntentDirectionGuidance,
	}
	if location != "" || objective != "" {
		req.GameContext = &types.GameContext{Location: location, Objective: objective}
	}
	return req
}

func TestContextualSearch_MergesAndDedupes(t *testing.T) {
	s := &mock.Searcher{
		SearchResult: []knowledge.Result{
			{Doc: "shared", Score: 0.5},
			{Doc: "unique-base", Score: 0.4},
		},
	}
	got, err := knowledge.ContextualSearch(context.Background(), s, classified("where is the station", "Odawara", "buy a ticket"), 10)
	if err != nil {
		t.Fatalf("ContextualSearch: %v", err)
	}
	// Three query variants all return the same docs; duplicates collapse.
	if len(got) != 2 {
		t.Fatalf("len(results) = %d, want 2 after dedupe", len(got))
	}
	if calls := s.Calls(); len(calls) != 3 {
		t.Errorf("search calls = %d, want 3 (base, location, objective)", len(calls))
	}
}

func TestContextualSearch_ImportanceOrdersBeforeScore(t *testing.T) {
	s := &mock.Searcher{
		SearchResult: []knowledge.Result{
			{Doc: "high-score", Score: 0.9},
			{Doc: "important", Score: 0.2, Metadata: map[string]any{"importance": 5.0}},
		},
	}
	got, err := knowledge.ContextualSearch(context.Background(), s, classified("kippu", "", ""), 10)
	if err != nil {
		t.Fatalf("ContextualSearch: %v", err)
	}
	if got[0].Doc != "important" {
		t.Errorf("first result = %q, want important doc first", got[0].Doc)
	}
	if got[1].Doc != "high-score" {
		t.Errorf("second result = %q, want high-score", got[1].Doc)
	}
}

func TestContextualSearch_TruncatesToTopK(t *testing.T) {
	s := &mock.Searcher{
		SearchResult: []knowledge.Result{
			{Doc: "a", Score: 0.9},
			{Doc: "b", Score: 0.8},
			{Doc: "c", Score: 0.7},
		},
	}
	got, err := knowledge.ContextualSearch(context.Background(), s, classified("trains", "", ""), 2)
	if err != nil {
		t.Fatalf("ContextualSearch: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len(results) = %d, want 2", len(got))
	}
}

func TestContextualSearch_NoGameContextSingleQuery(t *testing.T) {
	s := &mock.Searcher{}
	_, err := knowledge.ContextualSearch(context.Background(), s, classified("kippu", "", ""), 3)
	if err != nil {
		t.Fatalf("ContextualSearch: %v", err)
	}
	if calls := s.Calls(); len(calls) != 1 {
		t.Errorf("search calls = %d, want 1 without game context", len(calls))
	}
}
