// Package tier implements the three processing strategies of the cascade:
// rule-based (Tier1), local model (Tier2), and remote model (Tier3).
//
// All processors expose the same [Processor] interface. Tier1 is pure
// computation and never fails; Tier2 and Tier3 suspend only at their model
// call and degrade gracefully where the error taxonomy allows it. A
// processor returns an error only when the router should cascade to the
// next tier.
package tier

import (
	"context"

	"github.com/MrWong99/sensai/internal/observe"
	"github.com/MrWong99/sensai/pkg/types"
)

// User-visible fallback messages. One of these, not a raw error, is what a
// player sees when a tier cannot answer properly.
const (
	// MsgApology covers generic model failure.
	MsgApology = "I'm sorry, I'm having trouble thinking right now. Could you ask me again?"

	// MsgLimitReached covers quota exhaustion on the remote tier.
	MsgLimitReached = "I've reached my thinking limit for now. Let's practice with what we've covered, and ask me again in a little while."

	// MsgContentRestricted covers policy rejections of the input.
	MsgContentRestricted = "Let's keep our conversation about the journey and your Japanese practice."
)

// conversationStateKey is the AdditionalParams key carrying serialized
// decision-tree navigator state between turns.
const conversationStateKey = "conversation_state"

// withQuestion appends the player question to an assembled prompt. The
// prompt builder produces instructions and context only; the question itself
// is attached here so conversational history blocks always precede it.
func withQuestion(built, input string) string {
	return built + "\n\nPlayer question: " + input
}

// Processor handles one classified request. Process may mutate req's
// Entities and AdditionalParams; those mutations are how tier-private state
// (e.g. decision-tree position) survives across turns.
type Processor interface {
	// Name identifies the tier for logging and metrics.
	Name() types.Tier

	// Process produces the response text. A returned error means this
	// tier cannot serve the request and the cascade should continue.
	Process(ctx context.Context, req *types.ClassifiedRequest) (string, error)
}

// Observer fans tier events out to the in-process counters and the OTel
// instruments. The zero value is a no-op.
type Observer struct {
	Stats   *observe.Stats
	Metrics *observe.Metrics
}

func (o Observer) retry(ctx context.Context, tier string, attempt int) {
	if o.Stats != nil {
		o.Stats.Retry(tier, attempt)
	}
	if o.Metrics != nil {
		o.Metrics.RecordTierRetry(ctx, tier, attempt)
	}
}

func (o Observer) fallback(ctx context.Context, from, to string) {
	if o.Stats != nil {
		o.Stats.Fallback(from, to)
	}
	if o.Metrics != nil {
		o.Metrics.RecordTierFallback(ctx, from, to)
	}
}
