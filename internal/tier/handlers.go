package tier

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/sensai/pkg/types"
)

// Handler customises remote-tier processing for one intent: a bespoke prompt
// going in, and domain-specific cleanup coming out. Requests without a
// matching handler use the generic prompt builder unchanged.
type Handler interface {
	// CanHandle reports whether this handler wants the request. A false
	// return falls back to generic processing even when the handler is
	// registered for the request's intent.
	CanHandle(req types.ClassifiedRequest) bool

	// BuildPrompt assembles the full model prompt.
	BuildPrompt(ctx context.Context, req types.ClassifiedRequest) string

	// PostProcess cleans up the raw model output.
	PostProcess(text string, req types.ClassifiedRequest) string
}

// DefaultHandlers returns the built-in intent handlers for the remote tier.
func DefaultHandlers() map[types.Intent]Handler {
	return map[types.Intent]Handler{
		types.IntentGrammarExplanation:      GrammarHandler{},
		types.IntentTranslationConfirmation: TranslationHandler{},
	}
}

// GrammarHandler specialises prompts for grammar explanations: it pins the
// response to the player's tracked proficiency and asks for exactly one
// example sentence.
type GrammarHandler struct{}

var _ Handler = GrammarHandler{}

func (GrammarHandler) CanHandle(req types.ClassifiedRequest) bool {
	return strings.TrimSpace(req.PlayerInput) != ""
}

func (GrammarHandler) BuildPrompt(_ context.Context, req types.ClassifiedRequest) string {
	var b strings.Builder
	b.WriteString("You are a Japanese tutor inside a travel game. ")
	b.WriteString("Explain the grammar point the player asks about in at most three short sentences, ")
	b.WriteString("then give exactly one example sentence with its English translation.\n")
	if req.GameContext != nil {
		if level, ok := req.GameContext.Proficiency["grammar"]; ok {
			fmt.Fprintf(&b, "The player's grammar level is %s; keep the explanation at that level.\n", level)
		}
	}
	fmt.Fprintf(&b, "Player question: %s", req.PlayerInput)
	return b.String()
}

func (GrammarHandler) PostProcess(text string, _ types.ClassifiedRequest) string {
	return strings.TrimSpace(text)
}

// TranslationHandler specialises prompts for translation checks: the model is
// asked for a verdict plus a corrected phrase, and the output is stripped of
// the quoting models tend to wrap verdicts in.
type TranslationHandler struct{}

var _ Handler = TranslationHandler{}

func (TranslationHandler) CanHandle(req types.ClassifiedRequest) bool {
	return strings.TrimSpace(req.PlayerInput) != ""
}

func (TranslationHandler) BuildPrompt(_ context.Context, req types.ClassifiedRequest) string {
	var b strings.Builder
	b.WriteString("You are a Japanese tutor inside a travel game. ")
	b.WriteString("The player proposes a Japanese phrase. Say whether it is natural, ")
	b.WriteString("and if not, give the corrected phrase with a one-line explanation.\n")
	if attempt, ok := req.Entities["attempt"]; ok {
		fmt.Fprintf(&b, "Proposed phrase: %s\n", attempt)
	}
	fmt.Fprintf(&b, "Player question: %s", req.PlayerInput)
	return b.String()
}

func (TranslationHandler) PostProcess(text string, _ types.ClassifiedRequest) string {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	return strings.TrimSpace(text)
}
