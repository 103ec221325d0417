package persona

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/MrWong99/sensai/pkg/types"
)

// DefaultMaxLength is the response length cap in characters before
// sentence-boundary truncation.
const DefaultMaxLength = 500

// reaskText replaces responses too short to be useful.
const reaskText = "Hmm, I didn't quite catch that. Could you ask me again in a few more words?"

// minResponseWords is the shortest body accepted as a real answer.
const minResponseWords = 3

// FormatOptions carries per-response styling inputs.
type FormatOptions struct {
	// Emotion selects an expression pool from the profile, e.g. "happy".
	// Empty skips the emotion decoration.
	Emotion string

	// IncludeLearningCue permits a study encouragement after the body.
	IncludeLearningCue bool

	// SuggestedActions lists next steps offered to the player verbatim.
	SuggestedActions []string
}

// Formatter styles raw tier output in an NPC's voice. Decorations are
// sampled by trait weight from a seeded source, so two formatters with the
// same seed produce identical output for the same call sequence.
//
// Safe for concurrent use; sampling is serialized.
type Formatter struct {
	registry  *Registry
	maxLength int

	mu  sync.Mutex
	rng *rand.Rand
}

// FormatterOption customizes a Formatter.
type FormatterOption func(*Formatter)

// WithMaxLength replaces [DefaultMaxLength].
func WithMaxLength(n int) FormatterOption {
	return func(f *Formatter) { f.maxLength = n }
}

// NewFormatter creates a formatter over registry with a deterministic
// sampling source derived from seed.
func NewFormatter(registry *Registry, seed uint64, opts ...FormatterOption) *Formatter {
	f := &Formatter{
		registry:  registry,
		maxLength: DefaultMaxLength,
		rng:       rand.New(rand.NewPCG(seed, seed)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format validates text and composes the styled response:
// opening, body, learning cue, emotion, suggested actions, closing — each
// optional piece sampled by the matching personality trait — prefixed with
// the NPC's name.
func (f *Formatter) Format(text string, req types.ClassifiedRequest, opts FormatOptions) string {
	profile := f.registry.Get(req.ProfileID)

	body := strings.TrimSpace(text)
	if len(strings.Fields(body)) < minResponseWords {
		body = reaskText
	}
	body = truncateAtSentence(body, f.maxLength)

	f.mu.Lock()
	defer f.mu.Unlock()

	parts := make([]string, 0, 6)
	if p := f.sample(profile.Traits.Friendliness, profile.Speech.Openings); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, body)
	if opts.IncludeLearningCue {
		if p := f.sample(profile.Traits.Patience, profile.Speech.LearningCues); p != "" {
			parts = append(parts, p)
		}
	}
	if opts.Emotion != "" {
		if p := f.sample(profile.Traits.Enthusiasm, profile.EmotionExpressions[opts.Emotion]); p != "" {
			parts = append(parts, p)
		}
	}
	if len(opts.SuggestedActions) > 0 {
		parts = append(parts, "You could try: "+strings.Join(opts.SuggestedActions, ", or ")+".")
	}
	if p := f.sample(profile.Traits.Formality, profile.Speech.Closings); p != "" {
		parts = append(parts, p)
	}

	return profile.Name + ": " + strings.Join(parts, " ")
}

// sample returns a phrase from pool with probability weight, or "".
// Callers must hold f.mu.
func (f *Formatter) sample(weight float64, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	if f.rng.Float64() >= weight {
		return ""
	}
	return pool[f.rng.IntN(len(pool))]
}

// truncateAtSentence cuts text to at most max characters, preferring the
// last sentence boundary, then the last word boundary, then a hard cut.
func truncateAtSentence(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndexAny(cut, ".!?"); i > 0 {
		return strings.TrimSpace(cut[:i+1])
	}
	if i := strings.LastIndex(cut, " "); i > 0 {
		return strings.TrimSpace(cut[:i])
	}
	return cut
}
