package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/sensai/pkg/types"
)

// State classifies how a new player input relates to the conversation so far.
type State string

const (
	// StateNewTopic means the input opens a fresh subject.
	StateNewTopic State = "new_topic"

	// StateFollowUp means the input continues the current subject.
	StateFollowUp State = "follow_up"

	// StateClarification means the player did not understand the previous
	// answer and wants it re-explained.
	StateClarification State = "clarification"
)

// historyWindow is the number of trailing entries rendered into contextual
// prompts for follow-ups and clarifications.
const historyWindow = 6

// clarificationPhrases trigger [StateClarification] when contained in the
// lowercased input.
var clarificationPhrases = []string{
	"i don't understand",
	"i dont understand",
	"i'm confused",
	"can you clarify",
	"can you explain that again",
	"what do you mean",
	"say that again",
	"come again",
	"huh?",
}

// followUpPhrases trigger [StateFollowUp] when the lowercased input starts
// with or contains them.
var followUpPhrases = []string{
	"tell me more about",
	"what about",
	"how about",
	"and what if",
	"what else",
	"also",
	"another example",
}

// Manager builds multi-turn behaviour on top of a [Store]: it detects the
// conversation state of a new input, renders history into model prompts, and
// records completed exchanges.
//
// Manager holds no mutable state of its own and is safe for concurrent use.
type Manager struct {
	store Store

	// now is swappable for tests.
	now func() time.Time
}

// NewManager returns a Manager over store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Store exposes the underlying store for callers that need direct access
// (e.g., the GC loop).
func (m *Manager) Store() Store { return m.store }

// History returns a snapshot of the conversation's entries, or nil when the
// conversation does not exist.
func (m *Manager) History(ctx context.Context, conversationID string) ([]types.Entry, error) {
	c, err := m.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return c.Entries, nil
}

// DetectState classifies input against history. It is pure and deterministic:
//
//  1. Empty history → NewTopic.
//  2. A clarification phrase in the input → Clarification.
//  3. A follow-up phrase in the input → FollowUp.
//  4. The input mentions an entity value from the history → FollowUp.
//  5. Otherwise → NewTopic.
func DetectState(input string, history []types.Entry) State {
	if len(history) == 0 {
		return StateNewTopic
	}
	in := strings.ToLower(strings.TrimSpace(input))
	for _, p := range clarificationPhrases {
		if strings.Contains(in, p) {
			return StateClarification
		}
	}
	for _, p := range followUpPhrases {
		if strings.Contains(in, p) {
			return StateFollowUp
		}
	}
	for _, e := range history {
		for _, v := range e.Entities {
			v = strings.ToLower(strings.TrimSpace(v))
			if v != "" && strings.Contains(in, v) {
				return StateFollowUp
			}
		}
	}
	return StateNewTopic
}

// HistoryMessages renders the last entries of history (at most
// [historyWindow]) as OpenAI-style role/content records.
func HistoryMessages(history []types.Entry) []types.Message {
	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	out := make([]types.Message, 0, len(history)-start)
	for _, e := range history[start:] {
		out = append(out, types.Message{Role: e.Kind.Role(), Content: e.Text})
	}
	return out
}

// BuildPrompt extends base with conversation context. For a NewTopic state it
// returns base unchanged. For FollowUp and Clarification it appends the
// recent history as a JSON array of role/content records plus a directive
// sentence explaining the state to the model.
func BuildPrompt(base string, history []types.Entry, state State) string {
	if state == StateNewTopic {
		return base
	}
	msgs := HistoryMessages(history)
	rendered, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		// Message structs cannot fail to marshal; guard anyway.
		return base
	}

	var directive string
	switch state {
	case StateClarification:
		directive = "The player did not understand your previous answer; re-explain it more simply instead of introducing new material."
	default:
		directive = "This is a follow-up question; answer in the context of the conversation above."
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\nRecent conversation:\n")
	sb.Write(rendered)
	sb.WriteString("\n")
	sb.WriteString(directive)
	return sb.String()
}

// Record appends a completed exchange — the player's request and the
// assistant's response — to the conversation. The user entry carries the
// classified intent and extracted entities; both entries are stamped with
// the current time.
func (m *Manager) Record(ctx context.Context, conversationID string, req types.ClassifiedRequest, responseText string) error {
	now := m.now()
	userEntry := types.Entry{
		Kind:      types.EntryUser,
		Text:      req.PlayerInput,
		Timestamp: now,
		Intent:    req.Intent,
		Entities:  req.Entities,
	}
	if err := m.store.AppendEntry(ctx, conversationID, userEntry); err != nil {
		return fmt.Errorf("conversation: record user entry: %w", err)
	}
	assistantEntry := types.Entry{
		Kind:      types.EntryAssistant,
		Text:      responseText,
		Timestamp: now,
	}
	if err := m.store.AppendEntry(ctx, conversationID, assistantEntry); err != nil {
		return fmt.Errorf("conversation: record assistant entry: %w", err)
	}
	return nil
}
