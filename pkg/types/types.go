// Package types defines the shared types used across all Sensai packages.
//
// These types form the lingua franca between the classifier, the tier
// processors, the conversation layer, and the router. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// Intent is the recognised purpose of a player request.
type Intent string

const (
	IntentVocabularyHelp          Intent = "vocabulary_help"
	IntentGrammarExplanation      Intent = "grammar_explanation"
	IntentDirectionGuidance       Intent = "direction_guidance"
	IntentTranslationConfirmation Intent = "translation_confirmation"
	IntentGeneralHint             Intent = "general_hint"
)

// IsValid reports whether i is a recognised intent.
func (i Intent) IsValid() bool {
	switch i {
	case IntentVocabularyHelp, IntentGrammarExplanation, IntentDirectionGuidance,
		IntentTranslationConfirmation, IntentGeneralHint:
		return true
	}
	return false
}

// Complexity estimates how much model capability a request needs.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// IsValid reports whether c is a recognised complexity level.
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	}
	return false
}

// Downgrade returns the next-simpler complexity level. Simple stays Simple.
func (c Complexity) Downgrade() Complexity {
	switch c {
	case ComplexityComplex:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// Tier identifies a processing strategy in the cost/quality cascade:
// rule-based (Tier1), local model (Tier2), remote model (Tier3).
type Tier string

const (
	Tier1 Tier = "tier1"
	Tier2 Tier = "tier2"
	Tier3 Tier = "tier3"
)

// IsValid reports whether t is a recognised tier.
func (t Tier) IsValid() bool {
	return t == Tier1 || t == Tier2 || t == Tier3
}

// GameContext carries the player's in-world situation. All fields are
// optional; an empty GameContext contributes nothing to prompt assembly.
type GameContext struct {
	// Location is the player's current in-game location (e.g., "Odawara Station").
	Location string `json:"location,omitempty"`

	// Objective is the active quest or task description.
	Objective string `json:"objective,omitempty"`

	// NearbyEntities lists NPCs and objects near the player.
	NearbyEntities []string `json:"nearby_entities,omitempty"`

	// Inventory lists items the player currently carries.
	Inventory []string `json:"inventory,omitempty"`

	// Proficiency maps skill areas (e.g., "vocabulary", "grammar") to a
	// tracked level such as "beginner" or "JLPT N4".
	Proficiency map[string]string `json:"proficiency,omitempty"`
}

// Request is a single player question handed to the router.
type Request struct {
	// RequestID is an opaque unique identifier assigned by the caller.
	RequestID string `json:"request_id"`

	// PlayerInput is the player's free-text question.
	PlayerInput string `json:"player_input"`

	// RequestType is a free-form tag supplied by the caller, e.g.
	// "vocabulary", "grammar", "directions", "translation".
	RequestType string `json:"request_type"`

	// Timestamp is when the caller created the request.
	Timestamp time.Time `json:"timestamp"`

	// ConversationID links this request to a multi-turn conversation.
	// Empty means single-shot.
	ConversationID string `json:"conversation_id,omitempty"`

	// GameContext is the player's in-world situation, if known.
	GameContext *GameContext `json:"game_context,omitempty"`

	// ProfileID selects the NPC profile used to style the response.
	// Empty selects the default profile.
	ProfileID string `json:"profile_id,omitempty"`

	// SessionState is opaque per-conversation state returned by a
	// previous response. Callers pass it back unchanged on the next turn;
	// it seeds [ClassifiedRequest.AdditionalParams].
	SessionState map[string]string `json:"session_state,omitempty"`
}

// ClassifiedRequest is a [Request] enriched by the intent classifier.
type ClassifiedRequest struct {
	Request

	// Intent is the recognised purpose of the request.
	Intent Intent `json:"intent"`

	// Complexity estimates how capable a model the request needs.
	Complexity Complexity `json:"complexity"`

	// PreferredTier is the tier the cascade tries first.
	PreferredTier Tier `json:"preferred_tier"`

	// Confidence is the classifier's confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Entities holds values parsed out of the input, keyed by entity name
	// (e.g., "word" → "kippu", "destination" → "Odawara").
	Entities map[string]string `json:"entities,omitempty"`

	// AdditionalParams carries tier-private state across calls within one
	// conversation, e.g. a serialized decision-tree navigator state under
	// the "conversation_state" key. Mutated only by the owning tier.
	AdditionalParams map[string]string `json:"additional_params,omitempty"`
}

// EntryKind distinguishes who produced a conversation entry.
type EntryKind string

const (
	EntryUser      EntryKind = "user"
	EntryAssistant EntryKind = "assistant"
)

// IsValid reports whether k is a recognised entry kind.
func (k EntryKind) IsValid() bool {
	return k == EntryUser || k == EntryAssistant
}

// Role returns the OpenAI-style role string for entries of this kind.
func (k EntryKind) Role() string {
	if k == EntryAssistant {
		return "assistant"
	}
	return "user"
}

// Entry is a single message in a conversation history.
type Entry struct {
	// Kind identifies the author: player ("user") or tutor ("assistant").
	Kind EntryKind `json:"kind"`

	// Text is the message content.
	Text string `json:"text"`

	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Intent is the classified intent of a user entry. Empty for
	// assistant entries.
	Intent Intent `json:"intent,omitempty"`

	// Entities holds the entities extracted from a user entry.
	Entities map[string]string `json:"entities,omitempty"`
}

// Message is a single role/content pair in OpenAI-style conversation framing,
// used when rendering history into model prompts.
type Message struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// UsageRecord is one remote-model call as accounted by the usage ledger.
// Failed calls are recorded too: they carry the error kind, count their
// input tokens, and report zero output tokens.
type UsageRecord struct {
	// Timestamp is when the call completed.
	Timestamp time.Time `json:"timestamp"`

	// RequestID links the record back to the originating player request.
	RequestID string `json:"request_id,omitempty"`

	// ModelID is the remote model the call targeted.
	ModelID string `json:"model_id"`

	// InputTokens is the observed (or estimated) prompt token count.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the observed completion token count. Zero on failure.
	OutputTokens int `json:"output_tokens"`

	// Duration is the wall-clock time of the call.
	Duration time.Duration `json:"duration"`

	// Success reports whether the call returned a usable response.
	Success bool `json:"success"`

	// ErrorKind names the failure class for unsuccessful calls.
	ErrorKind string `json:"error_kind,omitempty"`
}
