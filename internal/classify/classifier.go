// Package classify implements the deterministic intent classifier that maps a
// raw player request to an intent, a complexity estimate, and a preferred
// processing tier.
//
// Classification is a cascade of weighted pattern rules applied to the
// lowercased input. It performs no I/O, holds no mutable state after
// construction, and is safe for concurrent use. The same rule set always
// produces the same classification for the same input.
package classify

import (
	"regexp"
	"strings"

	"github.com/MrWong99/sensai/pkg/types"
)

// rule pairs a compiled pattern list with the intent it signals and a weight
// used for confidence scoring. Rules are evaluated in declaration order; the
// first matching rule wins the intent.
type rule struct {
	intent   types.Intent
	patterns []*regexp.Regexp
	weight   float64

	// entityGroups maps named capture groups of the patterns onto entity keys.
	entityGroups map[string]string
}

// Classifier maps raw requests to [types.ClassifiedRequest] values.
// The zero value is not usable; construct with [New].
type Classifier struct {
	rules     []rule
	maxWeight float64

	complexWords  []string
	moderateWords []string
}

// confidenceFloor is the confidence below which the classifier downgrades the
// complexity estimate by one step. Confidence is matched weight relative to
// the heaviest single rule, so one clean match clears the floor; only inputs
// matching nothing, or only low-weight rules, are downgraded.
const confidenceFloor = 0.3

// New returns a Classifier with the built-in rule set for the
// language-learning domain.
func New() *Classifier {
	c := &Classifier{
		rules: []rule{
			{
				intent: types.IntentVocabularyHelp,
				weight: 1.0,
				patterns: compile(
					`what (?:does|do) ['"]?(?P<word>[\p{L}\p{N}']+)['"]? mean`,
					`meaning of ['"]?(?P<word>[\p{L}\p{N}']+)['"]?`,
					`(?:^|\s)define ['"]?(?P<word>[\p{L}\p{N}']+)['"]?`,
					`how (?:do i|to) say (?P<phrase>.+?)(?: in \p{L}+)?[?.!]?$`,
					`what is ['"]?(?P<word>[\p{L}\p{N}']+)['"]? in`,
					`\bword for\b`,
					`\bvocab(?:ulary)?\b`,
				),
				entityGroups: map[string]string{"word": "word", "phrase": "phrase"},
			},
			{
				intent: types.IntentGrammarExplanation,
				weight: 1.0,
				patterns: compile(
					`\bgrammar\b`,
					`\bparticle\b`,
					`\bconjugat`,
					`\btense\b`,
					`explain (?P<topic>.+?) (?:vs\.?|versus|or) (?P<topic2>.+?)[?.!]?$`,
					`difference between`,
					`why (?:do you|is it|does)\b.*\b(?:use|used)\b`,
					`\bpolite form\b`,
					`\bcasual form\b`,
				),
				entityGroups: map[string]string{"topic": "topic", "topic2": "contrast_topic"},
			},
			{
				intent: types.IntentDirectionGuidance,
				weight: 1.0,
				patterns: compile(
					`(?:how do i|how to) (?:get|go) to (?P<destination>.+?)[?.!]?$`,
					`where (?:is|are) (?:the )?(?P<destination>.+?)[?.!]?$`,
					`\bdirections?\b`,
					`which way\b`,
					`\btake me to\b`,
					`\blost\b`,
				),
				entityGroups: map[string]string{"destination": "destination"},
			},
			{
				intent: types.IntentTranslationConfirmation,
				weight: 1.0,
				patterns: compile(
					`is ['"]?(?P<attempt>.+?)['"]? (?:correct|right)`,
					`did i say (?:that|it) (?:correctly|right)`,
					`\btranslat`,
					`does ['"]?(?P<attempt>.+?)['"]? mean (?P<expected>.+?)[?.!]?$`,
					`check my\b`,
				),
				entityGroups: map[string]string{"attempt": "attempt", "expected": "expected"},
			},
		},
		complexWords: []string{
			"nuance", "formal", "keigo", "honorific", "politeness",
			"difference between", "compare", "when should", "why",
			"explain in detail", "etymology",
		},
		moderateWords: []string{
			"example", "sentence", "use", "context", "explain",
			"how do i", "what about",
		},
	}
	for _, r := range c.rules {
		c.maxWeight = max(c.maxWeight, r.weight)
	}
	return c
}

// Classify maps req to a [types.ClassifiedRequest]. It is deterministic and
// never fails: unmatched input classifies as a simple general hint.
//
// Tier selection follows complexity (Simple→Tier1, Moderate→Tier2,
// Complex→Tier3) with one override: vocabulary help about a single word is
// always Tier1, whatever the estimated complexity.
func (c *Classifier) Classify(req types.Request) types.ClassifiedRequest {
	input := strings.ToLower(strings.TrimSpace(req.PlayerInput))

	out := types.ClassifiedRequest{
		Request:    req,
		Intent:     types.IntentGeneralHint,
		Complexity: types.ComplexitySimple,
		Entities:   map[string]string{},
	}

	if input == "" {
		out.PreferredTier = types.Tier1
		out.Confidence = 1.0
		return out
	}

	matchedWeight := 0.0
	for _, r := range c.rules {
		if ents, ok := r.match(input); ok {
			if matchedWeight == 0 {
				out.Intent = r.intent
				for k, v := range ents {
					out.Entities[k] = v
				}
			}
			matchedWeight += r.weight
		}
	}

	out.Confidence = min(1, matchedWeight/c.maxWeight)
	out.Complexity = c.estimateComplexity(input)

	// Low-confidence classifications get a simpler treatment.
	if out.Confidence < confidenceFloor && out.Complexity != types.ComplexitySimple {
		out.Complexity = out.Complexity.Downgrade()
	}

	out.PreferredTier = tierFor(out.Intent, out.Complexity, out.Entities)
	return out
}

// estimateComplexity scores the input against complexity marker phrases and
// input length. Longer, comparative, or nuance-seeking questions rank higher.
func (c *Classifier) estimateComplexity(input string) types.Complexity {
	for _, w := range c.complexWords {
		if strings.Contains(input, w) {
			return types.ComplexityComplex
		}
	}
	words := len(strings.Fields(input))
	if words > 20 {
		return types.ComplexityComplex
	}
	for _, w := range c.moderateWords {
		if strings.Contains(input, w) {
			return types.ComplexityModerate
		}
	}
	if words > 10 {
		return types.ComplexityModerate
	}
	return types.ComplexitySimple
}

// tierFor applies the (intent, complexity) → tier table plus the single-word
// vocabulary override.
func tierFor(intent types.Intent, complexity types.Complexity, entities map[string]string) types.Tier {
	if intent == types.IntentVocabularyHelp {
		if w, ok := entities["word"]; ok && w != "" && !strings.ContainsAny(w, " \t") {
			return types.Tier1
		}
	}
	switch complexity {
	case types.ComplexityComplex:
		return types.Tier3
	case types.ComplexityModerate:
		return types.Tier2
	}
	return types.Tier1
}

// match tests input against all patterns of the rule, collecting named
// capture groups from the first pattern that hits.
func (r rule) match(input string) (map[string]string, bool) {
	for _, p := range r.patterns {
		m := p.FindStringSubmatch(input)
		if m == nil {
			continue
		}
		ents := map[string]string{}
		for i, name := range p.SubexpNames() {
			if name == "" || i >= len(m) || m[i] == "" {
				continue
			}
			if key, ok := r.entityGroups[name]; ok {
				ents[key] = strings.TrimSpace(m[i])
			}
		}
		return ents, true
	}
	return nil, false
}

// compile builds the pattern list, panicking on malformed expressions.
// The rule set is static so a bad pattern is a programming error.
func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}
