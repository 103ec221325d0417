package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/sensai/pkg/provider/embeddings"
)

// PostgresStore is a [Searcher] backed by a PostgreSQL lore_docs table with a
// pgvector column. Queries are embedded through the injected embeddings
// provider, then matched by cosine distance.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

var _ Searcher = (*PostgresStore)(nil)

// loreSchema creates the lore_docs table. The vector dimension is bound at
// store construction from the embeddings provider.
const loreSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS lore_docs (
    id        TEXT PRIMARY KEY,
    content   TEXT        NOT NULL,
    metadata  JSONB       NOT NULL DEFAULT '{}'::jsonb,
    embedding vector(%d)  NOT NULL
);
CREATE INDEX IF NOT EXISTS lore_docs_embedding_idx
    ON lore_docs USING hnsw (embedding vector_cosine_ops);
`

// NewPostgresStore connects to dsn, applies the schema sized for embedder's
// dimensionality, and returns a ready store.
func NewPostgresStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge: connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(loreSchema, embedder.Dimensions())); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge: apply schema: %w", err)
	}
	return &PostgresStore{pool: pool, embedder: embedder}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Index upserts a document with its metadata, embedding the content through
// the store's provider. Re-indexing an existing ID replaces the document.
func (s *PostgresStore) Index(ctx context.Context, id, content string, metadata map[string]any) error {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("knowledge: embed document %q: %w", id, err)
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("knowledge: marshal metadata for %q: %w", id, err)
	}

	const q = `
		INSERT INTO lore_docs (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    content   = EXCLUDED.content,
		    metadata  = EXCLUDED.metadata,
		    embedding = EXCLUDED.embedding`
	if _, err := s.pool.Exec(ctx, q, id, content, meta, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("knowledge: index %q: %w", id, err)
	}
	return nil
}

// Search implements [Searcher]. Similarity is 1 - cosine distance, so the
// returned scores are higher for closer documents.
func (s *PostgresStore) Search(ctx context.Context, query string, topK int, filters Filters) ([]Result, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}

	args := []any{pgvector.NewVector(vec)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	for k, v := range filters {
		conditions = append(conditions, fmt.Sprintf("metadata->>%s = %s", next(k), next(v)))
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, topK)
	q := fmt.Sprintf(`
		SELECT content, metadata, 1 - (embedding <=> $1) AS score
		FROM   lore_docs
		%s
		ORDER  BY embedding <=> $1
		LIMIT  $%d`, whereClause, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Result, error) {
		var (
			r   Result
			raw []byte
		)
		if err := row.Scan(&r.Doc, &raw, &r.Score); err != nil {
			return Result{}, err
		}
		if err := json.Unmarshal(raw, &r.Metadata); err != nil {
			return Result{}, fmt.Errorf("decode metadata: %w", err)
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: collect results: %w", err)
	}
	return results, nil
}
