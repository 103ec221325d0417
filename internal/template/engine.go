// Package template implements the deterministic rule tier's pattern matching
// and template rendering.
//
// A [PatternSet] is an ordered list of regex patterns with named entity
// captures and a JLPT difficulty tag, plus a map of response templates with
// {name} placeholders. Pattern sets are declarative configuration: load them
// from YAML with [LoadPatternSet] or use [DefaultPatternSet].
//
// Matching tolerates typos: input tokens of four or more characters are
// corrected to a pattern keyword when within Levenshtein distance 1, so
// "grammer" still triggers grammar patterns.
//
// The engine is immutable after construction and safe for concurrent use.
// Rendering is pure.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// minFuzzyTokenLen is the minimum token length eligible for fuzzy correction.
// Shorter tokens (particles, romaji fragments) are matched exactly only.
const minFuzzyTokenLen = 4

// maxEditDistance is the Levenshtein distance tolerated during fuzzy token
// correction.
const maxEditDistance = 1

// fuzzyScore is the match score reported when fuzzy correction was needed to
// make the pattern hit. Exact hits score 1.0.
const fuzzyScore = 0.8

// Pattern is one declarative matching rule.
type Pattern struct {
	// ID uniquely identifies the pattern within its set.
	ID string `yaml:"id"`

	// Regex is the matching expression, applied to the lowercased input.
	// Named capture groups become extracted entities.
	Regex string `yaml:"regex"`

	// TemplateID names the response template rendered on a hit.
	TemplateID string `yaml:"template_id"`

	// JLPT tags the difficulty level this pattern serves (e.g., "N5").
	JLPT string `yaml:"jlpt"`

	// Keywords are the literal trigger words eligible for fuzzy correction.
	Keywords []string `yaml:"keywords"`
}

// PatternSet is an ordered pattern list plus the templates they reference.
type PatternSet struct {
	Patterns  []Pattern         `yaml:"patterns"`
	Templates map[string]string `yaml:"templates"`

	// Glossary maps known vocabulary words to extra template variables
	// (typically just "meaning"). It lets the rule tier answer dictionary
	// questions without a model call.
	Glossary map[string]map[string]string `yaml:"glossary"`
}

// MatchResult reports the outcome of [Engine.Match].
type MatchResult struct {
	// Matched is true when some pattern hit.
	Matched bool

	// PatternID identifies the winning pattern.
	PatternID string

	// TemplateID is the response template associated with the winning pattern.
	TemplateID string

	// Entities holds values captured by the pattern's named groups.
	Entities map[string]string

	// Score is 1.0 for an exact hit, lower when fuzzy correction was applied.
	Score float64
}

// Engine matches player input against a fixed pattern set and renders
// response templates. Immutable after construction.
type Engine struct {
	patterns []compiledPattern
	tmpl     map[string]string
	keywords []string
	glossary map[string]map[string]string
}

type compiledPattern struct {
	Pattern
	re *regexp.Regexp
}

// NewEngine compiles set into a ready-to-use Engine. Returns an error when a
// pattern's regex fails to compile or references a missing template.
func NewEngine(set PatternSet) (*Engine, error) {
	e := &Engine{
		tmpl:     make(map[string]string, len(set.Templates)),
		glossary: make(map[string]map[string]string, len(set.Glossary)),
	}
	for id, text := range set.Templates {
		e.tmpl[id] = text
	}
	for word, vars := range set.Glossary {
		e.glossary[strings.ToLower(word)] = vars
	}

	seenKeywords := map[string]bool{}
	for _, p := range set.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("template: pattern %q: compile regex: %w", p.ID, err)
		}
		if p.TemplateID != "" {
			if _, ok := e.tmpl[p.TemplateID]; !ok {
				return nil, fmt.Errorf("template: pattern %q references unknown template %q", p.ID, p.TemplateID)
			}
		}
		e.patterns = append(e.patterns, compiledPattern{Pattern: p, re: re})
		for _, kw := range p.Keywords {
			kw = strings.ToLower(kw)
			if !seenKeywords[kw] {
				seenKeywords[kw] = true
				e.keywords = append(e.keywords, kw)
			}
		}
	}
	return e, nil
}

// Match tests input against the pattern set in declaration order and returns
// the first hit. When no pattern matches the raw input, a second pass runs
// with fuzzy-corrected tokens; a hit found that way carries a reduced score.
func (e *Engine) Match(input string) MatchResult {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return MatchResult{}
	}

	if res, ok := e.matchExact(normalized, 1.0); ok {
		return res
	}

	corrected, changed := e.correctTokens(normalized)
	if !changed {
		return MatchResult{}
	}
	if res, ok := e.matchExact(corrected, fuzzyScore); ok {
		return res
	}
	return MatchResult{}
}

// Render substitutes vars into the template identified by templateID.
// Placeholders without a matching var are left verbatim; extra vars are
// ignored. Unknown template IDs yield an error.
func (e *Engine) Render(templateID string, vars map[string]string) (string, error) {
	text, ok := e.tmpl[templateID]
	if !ok {
		return "", fmt.Errorf("template: unknown template %q", templateID)
	}
	for k, v := range vars {
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}
	return text, nil
}

// Lookup returns the glossary variables for word (case-insensitive), or
// (nil, false) when the word is unknown.
func (e *Engine) Lookup(word string) (map[string]string, bool) {
	vars, ok := e.glossary[strings.ToLower(word)]
	return vars, ok
}

// Unresolved lists placeholder names still present in rendered text. Callers
// that need a fully substituted response (e.g., the rule tier) can use it to
// decide whether to fall back to a stub answer.
func Unresolved(text string) []string {
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

// placeholderRe matches {name} placeholders in template text.
var placeholderRe = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

// Templates returns the IDs of all loaded templates. Primarily for
// diagnostics and tests.
func (e *Engine) Templates() []string {
	out := make([]string, 0, len(e.tmpl))
	for id := range e.tmpl {
		out = append(out, id)
	}
	return out
}

func (e *Engine) matchExact(input string, score float64) (MatchResult, bool) {
	for _, p := range e.patterns {
		m := p.re.FindStringSubmatch(input)
		if m == nil {
			continue
		}
		ents := map[string]string{}
		for i, name := range p.re.SubexpNames() {
			if name != "" && i < len(m) && m[i] != "" {
				ents[name] = strings.TrimSpace(m[i])
			}
		}
		return MatchResult{
			Matched:    true,
			PatternID:  p.ID,
			TemplateID: p.TemplateID,
			Entities:   ents,
			Score:      score,
		}, true
	}
	return MatchResult{}, false
}

// correctTokens replaces input tokens that are one edit away from a known
// pattern keyword with that keyword. Returns the corrected string and whether
// any token changed.
func (e *Engine) correctTokens(input string) (string, bool) {
	tokens := strings.Fields(input)
	changed := false
	for i, tok := range tokens {
		bare := strings.Trim(tok, `?!.,'"`)
		if len(bare) < minFuzzyTokenLen {
			continue
		}
		for _, kw := range e.keywords {
			if bare == kw {
				break
			}
			if len(kw) < minFuzzyTokenLen {
				continue
			}
			if matchr.Levenshtein(bare, kw) <= maxEditDistance {
				tokens[i] = strings.Replace(tok, bare, kw, 1)
				changed = true
				break
			}
		}
	}
	if !changed {
		return input, false
	}
	return strings.Join(tokens, " "), true
}
