package tier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/sensai/internal/dialog"
	"github.com/MrWong99/sensai/internal/template"
	"github.com/MrWong99/sensai/pkg/types"
)

// reaskTemplateID is rendered when the player input is empty or unusable.
const reaskTemplateID = "reask"

// reaskFallback is used when the pattern set carries no reask template.
const reaskFallback = "Sorry, I didn't catch that. Could you say it again?"

// intentStubs are the last-resort canned answers, keyed by intent. They are
// deliberately generic: anything better comes from a template or a model tier.
var intentStubs = map[types.Intent]string{
	types.IntentVocabularyHelp:          "That's a good word to ask about! I don't have it in my notes, but try asking about common travel words like 'kippu' or 'eki'.",
	types.IntentGrammarExplanation:      "Grammar takes practice! Keep your sentences short: topic first, verb last, and you'll usually be understood.",
	types.IntentDirectionGuidance:       "Watch for the signs with arrows. 'Migi' is right, 'hidari' is left, and 'massugu' means straight ahead.",
	types.IntentTranslationConfirmation: "Say it slowly and politely, and people will usually understand. Starting with 'sumimasen' always helps!",
	types.IntentGeneralHint:             "Try talking to the people nearby. Someone usually points you toward your next step.",
}

// Tier1 is the rule-based processor: decision-tree navigation for scripted
// multi-step dialogues, pattern-matched templates for common questions, and
// fixed per-intent stubs as the floor. It performs no I/O and never fails, so
// it doubles as the degradation target for the model tiers.
type Tier1 struct {
	templates *template.Engine
	trees     *dialog.Engine
}

var _ Processor = (*Tier1)(nil)

// NewTier1 builds the rule tier. Either engine may be nil; the corresponding
// stage is then skipped.
func NewTier1(templates *template.Engine, trees *dialog.Engine) *Tier1 {
	return &Tier1{templates: templates, trees: trees}
}

// Name implements [Processor].
func (t *Tier1) Name() types.Tier { return types.Tier1 }

// Process tries, in order: an in-flight decision tree, a template match, and
// an intent stub. The error result is always nil.
func (t *Tier1) Process(_ context.Context, req *types.ClassifiedRequest) (string, error) {
	if strings.TrimSpace(req.PlayerInput) == "" {
		return t.reask(), nil
	}

	if out, ok := t.stepTree(req); ok {
		return out, nil
	}
	if out, ok := t.renderTemplate(req); ok {
		return out, nil
	}
	if stub, ok := intentStubs[req.Intent]; ok {
		return stub, nil
	}
	return intentStubs[types.IntentGeneralHint], nil
}

// stepTree advances a decision tree when the request carries serialized
// navigator state. The updated state is written back into AdditionalParams;
// on a terminal node the key is removed so the next turn starts fresh.
func (t *Tier1) stepTree(req *types.ClassifiedRequest) (string, bool) {
	raw := req.AdditionalParams[conversationStateKey]
	if raw == "" || t.trees == nil {
		return "", false
	}

	state, err := dialog.DecodeState(raw)
	if err != nil {
		slog.Warn("discarding corrupt conversation state",
			"request_id", req.RequestID, "error", err)
		delete(req.AdditionalParams, conversationStateKey)
		return "", false
	}

	output, next, terminal, err := t.trees.Step(state, req.PlayerInput)
	if err != nil {
		slog.Warn("decision tree step failed",
			"request_id", req.RequestID, "tree", state.TreeID, "error", err)
		delete(req.AdditionalParams, conversationStateKey)
		return "", false
	}

	if terminal {
		delete(req.AdditionalParams, conversationStateKey)
	} else if enc, err := next.Encode(); err == nil {
		req.AdditionalParams[conversationStateKey] = enc
	} else {
		slog.Warn("encoding navigator state failed",
			"request_id", req.RequestID, "tree", state.TreeID, "error", err)
		delete(req.AdditionalParams, conversationStateKey)
	}
	return output, true
}

// renderTemplate answers via the pattern set. Captured entities are merged
// into the request (classifier-extracted values win), the glossary fills in
// variables like {meaning}, and a render that still carries unresolved
// placeholders is discarded in favour of the stub stage.
func (t *Tier1) renderTemplate(req *types.ClassifiedRequest) (string, bool) {
	if t.templates == nil {
		return "", false
	}
	m := t.templates.Match(req.PlayerInput)
	if !m.Matched {
		return "", false
	}

	if req.Entities == nil && len(m.Entities) > 0 {
		req.Entities = make(map[string]string, len(m.Entities))
	}
	for k, v := range m.Entities {
		if _, exists := req.Entities[k]; !exists {
			req.Entities[k] = v
		}
	}

	vars := make(map[string]string, len(req.Entities)+2)
	for k, v := range req.Entities {
		vars[k] = v
	}
	if word, ok := vars["word"]; ok {
		if extra, ok := t.templates.Lookup(word); ok {
			for k, v := range extra {
				if _, exists := vars[k]; !exists {
					vars[k] = v
				}
			}
		}
	}

	out, err := t.templates.Render(m.TemplateID, vars)
	if err != nil {
		slog.Warn("template render failed",
			"request_id", req.RequestID, "template", m.TemplateID, "error", err)
		return "", false
	}
	if missing := template.Unresolved(out); len(missing) > 0 {
		slog.Debug("template left placeholders unresolved, falling back to stub",
			"template", m.TemplateID, "missing", missing)
		return "", false
	}
	return out, true
}

func (t *Tier1) reask() string {
	if t.templates != nil {
		if out, err := t.templates.Render(reaskTemplateID, nil); err == nil {
			return out
		}
	}
	return reaskFallback
}
