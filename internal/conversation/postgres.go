package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/sensai/pkg/types"
)

// PostgresStore is a durable [Store] backed by a single conversations table
// with a JSONB entries column.
//
// Per-conversation update serialisation is provided by a SELECT … FOR UPDATE
// row lock inside the append transaction, so concurrent appends to the same
// conversation are totally ordered and a subsequent Get observes them.
type PostgresStore struct {
	pool       *pgxpool.Pool
	maxHistory int
}

var _ Store = (*PostgresStore)(nil)

// conversationsSchema creates the conversations table. Idempotent.
const conversationsSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    conversation_id TEXT PRIMARY KEY,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    entries         JSONB       NOT NULL DEFAULT '[]'::jsonb
);
CREATE INDEX IF NOT EXISTS conversations_updated_at_idx ON conversations (updated_at);
`

// NewPostgresStore connects to the database at dsn, applies the schema, and
// returns a ready store. Negative maxHistory selects [DefaultMaxHistory].
func NewPostgresStore(ctx context.Context, dsn string, maxHistory int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("conversation: connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, conversationsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("conversation: apply schema: %w", err)
	}
	if maxHistory < 0 {
		maxHistory = DefaultMaxHistory
	}
	return &PostgresStore{pool: pool, maxHistory: maxHistory}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Context, error) {
	const q = `
		SELECT conversation_id, created_at, updated_at, entries
		FROM   conversations
		WHERE  conversation_id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	c, err := scanContext(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get %q: %w", id, err)
	}
	return c, nil
}

// Put implements [Store].
func (s *PostgresStore) Put(ctx context.Context, id string, c *Context) error {
	entries := trimEntries(c.Entries, s.maxHistory)
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("conversation: marshal entries for %q: %w", id, err)
	}

	const q = `
		INSERT INTO conversations (conversation_id, created_at, updated_at, entries)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE
		SET created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at,
		    entries    = EXCLUDED.entries`

	if _, err := s.pool.Exec(ctx, q, id, c.CreatedAt, c.UpdatedAt, raw); err != nil {
		return fmt.Errorf("conversation: put %q: %w", id, err)
	}
	return nil
}

// AppendEntry implements [Store]. The read-modify-write runs in a
// transaction holding a row lock, so appends to one conversation serialize.
func (s *PostgresStore) AppendEntry(ctx context.Context, id string, entry types.Entry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("conversation: begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	var (
		createdAt time.Time
		raw       []byte
	)
	const sel = `
		SELECT created_at, entries
		FROM   conversations
		WHERE  conversation_id = $1
		FOR UPDATE`
	err = tx.QueryRow(ctx, sel, id).Scan(&createdAt, &raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		createdAt = now
		raw = []byte("[]")
	case err != nil:
		return fmt.Errorf("conversation: lock %q: %w", id, err)
	}

	var entries []types.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("conversation: decode entries for %q: %w", id, err)
	}
	entries = trimEntries(append(entries, entry), s.maxHistory)

	out, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("conversation: marshal entries for %q: %w", id, err)
	}

	const upsert = `
		INSERT INTO conversations (conversation_id, created_at, updated_at, entries)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE
		SET updated_at = EXCLUDED.updated_at,
		    entries    = EXCLUDED.entries`
	if _, err := tx.Exec(ctx, upsert, id, createdAt, now, out); err != nil {
		return fmt.Errorf("conversation: append to %q: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conversation: commit append to %q: %w", id, err)
	}
	return nil
}

// GC implements [Store].
func (s *PostgresStore) GC(ctx context.Context, maxAge time.Duration) (int, error) {
	const q = `
		DELETE FROM conversations
		WHERE  updated_at < now() - ($1::bigint * interval '1 microsecond')`

	tag, err := s.pool.Exec(ctx, q, maxAge.Microseconds())
	if err != nil {
		return 0, fmt.Errorf("conversation: gc: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanContext scans a single conversations row.
func scanContext(row pgx.Row) (*Context, error) {
	var (
		c   Context
		raw []byte
	)
	if err := row.Scan(&c.ConversationID, &c.CreatedAt, &c.UpdatedAt, &raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &c.Entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return &c, nil
}
