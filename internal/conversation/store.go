// Package conversation implements the multi-turn conversation layer: the
// persistent per-conversation history store, the conversation state detector,
// and the contextual prompt helpers built on top of them.
//
// A [Context] is exclusively owned by its [Store]; callers receive deep
// copies and never share memory with the store. Appends to the same
// conversation are totally ordered and a Get issued after an AppendEntry
// observes the appended entry (read-after-write on the same ID).
//
// Two backends are provided: [MemoryStore] for tests and single-process
// deployments, and [PostgresStore] for durable production storage.
package conversation

import (
	"context"
	"time"

	"github.com/MrWong99/sensai/pkg/types"
)

// DefaultMaxHistory is the entry cap applied when a store is constructed
// with a negative max history. Zero is honoured as a real cap.
const DefaultMaxHistory = 10

// Context is the stored history of one conversation.
type Context struct {
	// ConversationID identifies the conversation.
	ConversationID string `json:"conversation_id"`

	// CreatedAt is when the conversation was first referenced.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the last entry was appended.
	UpdatedAt time.Time `json:"updated_at"`

	// Entries is the ordered history, oldest first, capped at the store's
	// max history. Treat as read-only — the store returns copies.
	Entries []types.Entry `json:"entries"`
}

// Clone returns a deep copy of c.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Entries = make([]types.Entry, len(c.Entries))
	copy(out.Entries, c.Entries)
	for i := range out.Entries {
		if src := c.Entries[i].Entities; src != nil {
			m := make(map[string]string, len(src))
			for k, v := range src {
				m[k] = v
			}
			out.Entries[i].Entities = m
		}
	}
	return &out
}

// Store persists conversation contexts. All operations are idempotent with
// respect to the conversation ID and must be safe for concurrent use; a
// single conversation must observe serialized updates.
type Store interface {
	// Get returns a snapshot of the context, or (nil, nil) when the
	// conversation does not exist.
	Get(ctx context.Context, id string) (*Context, error)

	// Put stores c under id, replacing any existing context.
	Put(ctx context.Context, id string, c *Context) error

	// AppendEntry appends entry to the conversation, creating the context
	// if absent, trimming the oldest entries beyond the store's max
	// history, and updating UpdatedAt.
	AppendEntry(ctx context.Context, id string, entry types.Entry) error

	// GC deletes every conversation whose UpdatedAt is older than
	// now-maxAge and returns the number of deleted conversations.
	GC(ctx context.Context, maxAge time.Duration) (int, error)
}

// trimEntries caps entries at max, dropping the oldest. A max of zero keeps
// the history empty while still allowing appends to succeed.
func trimEntries(entries []types.Entry, max int) []types.Entry {
	if max < 0 {
		max = 0
	}
	if len(entries) <= max {
		return entries
	}
	return append([]types.Entry(nil), entries[len(entries)-max:]...)
}
