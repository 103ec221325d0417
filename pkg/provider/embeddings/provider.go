// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// The world-knowledge store embeds player questions and indexed lore
// documents into the same vector space so that retrieval can rank documents
// by semantic similarity. Any service that maps text to dense float32
// vectors can back the interface (OpenAI text-embedding-3, a local sentence
// transformer, etc.).
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider instance share the same
// dimensionality (see Dimensions). Vectors from different providers or
// models must never be mixed in a single similarity computation.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The
	// result has length Dimensions(). Text is passed through verbatim; any
	// model-specific formatting (e.g., "query: " prefixes) is the caller's
	// concern.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for several texts in one provider call.
	// The i-th result corresponds to texts[i]. On error no partial results
	// are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider,
	// constant for the provider's lifetime.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging
	// and for asserting consistent model usage across an index.
	ModelID() string
}
