package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/sensai/pkg/types"
)

func historyFor(t *testing.T) []types.Entry {
	t.Helper()
	return []types.Entry{
		{
			Kind: types.EntryUser, Text: "What does 'kippu' mean?",
			Intent:   types.IntentVocabularyHelp,
			Entities: map[string]string{"word": "kippu"},
		},
		{Kind: types.EntryAssistant, Text: "'Kippu' means 'ticket'."},
	}
}

func TestDetectState_EmptyHistory(t *testing.T) {
	if got := DetectState("anything at all", nil); got != StateNewTopic {
		t.Errorf("state = %v, want new_topic", got)
	}
}

func TestDetectState_Clarification(t *testing.T) {
	for _, input := range []string{
		"I don't understand",
		"can you clarify that?",
		"What do you mean by that",
	} {
		if got := DetectState(input, historyFor(t)); got != StateClarification {
			t.Errorf("DetectState(%q) = %v, want clarification", input, got)
		}
	}
}

func TestDetectState_FollowUpPhrase(t *testing.T) {
	for _, input := range []string{
		"Tell me more about particles",
		"what about the polite form?",
		"How about at the airport?",
	} {
		if got := DetectState(input, historyFor(t)); got != StateFollowUp {
			t.Errorf("DetectState(%q) = %v, want follow_up", input, got)
		}
	}
}

func TestDetectState_EntityMention(t *testing.T) {
	got := DetectState("Can I use kippu for bus tickets too?", historyFor(t))
	if got != StateFollowUp {
		t.Errorf("state = %v, want follow_up on entity mention", got)
	}
}

func TestDetectState_NewTopicOtherwise(t *testing.T) {
	got := DetectState("Where is the castle?", historyFor(t))
	if got != StateNewTopic {
		t.Errorf("state = %v, want new_topic", got)
	}
}

func TestDetectState_Deterministic(t *testing.T) {
	h := historyFor(t)
	a := DetectState("what about trains?", h)
	b := DetectState("what about trains?", h)
	if a != b {
		t.Errorf("DetectState not deterministic: %v vs %v", a, b)
	}
}

func TestBuildPrompt_NewTopicReturnsBase(t *testing.T) {
	base := "You are a tutor."
	got := BuildPrompt(base, historyFor(t), StateNewTopic)
	if got != base {
		t.Errorf("BuildPrompt = %q, want base unchanged", got)
	}
}

func TestBuildPrompt_FollowUpAppendsHistoryAndDirective(t *testing.T) {
	got := BuildPrompt("You are a tutor.", historyFor(t), StateFollowUp)
	if !strings.Contains(got, `"role": "user"`) || !strings.Contains(got, `"role": "assistant"`) {
		t.Errorf("prompt missing role/content records:\n%s", got)
	}
	if !strings.Contains(got, "'Kippu' means 'ticket'.") {
		t.Errorf("prompt missing history content:\n%s", got)
	}
	if !strings.Contains(got, "follow-up") {
		t.Errorf("prompt missing follow-up directive:\n%s", got)
	}
}

func TestBuildPrompt_ClarificationDirective(t *testing.T) {
	got := BuildPrompt("base", historyFor(t), StateClarification)
	if !strings.Contains(got, "did not understand") {
		t.Errorf("prompt missing clarification directive:\n%s", got)
	}
}

func TestHistoryMessages_Window(t *testing.T) {
	var h []types.Entry
	for i := 0; i < 10; i++ {
		h = append(h, types.Entry{Kind: types.EntryUser, Text: string(rune('a' + i))})
	}
	msgs := HistoryMessages(h)
	if len(msgs) != 6 {
		t.Fatalf("len(msgs) = %d, want 6", len(msgs))
	}
	if msgs[0].Content != "e" || msgs[5].Content != "j" {
		t.Errorf("window = %+v, want last six entries", msgs)
	}
}

func TestRecord_AppendsBothEntries(t *testing.T) {
	store := NewMemoryStore(10)
	m := NewManager(store)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	req := types.ClassifiedRequest{
		Request:  types.Request{PlayerInput: "What does 'kippu' mean?", ConversationID: "c1"},
		Intent:   types.IntentVocabularyHelp,
		Entities: map[string]string{"word": "kippu"},
	}
	if err := m.Record(context.Background(), "c1", req, "'Kippu' means 'ticket'."); err != nil {
		t.Fatalf("Record: %v", err)
	}

	c, _ := store.Get(context.Background(), "c1")
	if len(c.Entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(c.Entries))
	}
	u, a := c.Entries[0], c.Entries[1]
	if u.Kind != types.EntryUser || a.Kind != types.EntryAssistant {
		t.Errorf("entry kinds = %v, %v", u.Kind, a.Kind)
	}
	if u.Intent != types.IntentVocabularyHelp || u.Entities["word"] != "kippu" {
		t.Errorf("user entry missing intent/entities: %+v", u)
	}
	if !u.Timestamp.Equal(fixed) || !a.Timestamp.Equal(fixed) {
		t.Errorf("timestamps = %v, %v, want %v", u.Timestamp, a.Timestamp, fixed)
	}
}
