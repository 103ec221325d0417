package template

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPatternSet reads a YAML pattern set from path. The file layout mirrors
// [PatternSet]: an ordered `patterns` list and a `templates` map.
func LoadPatternSet(path string) (PatternSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return PatternSet{}, fmt.Errorf("template: open pattern set %q: %w", path, err)
	}
	defer f.Close()

	set, err := LoadPatternSetFromReader(f)
	if err != nil {
		return PatternSet{}, fmt.Errorf("template: parse pattern set %q: %w", path, err)
	}
	return set, nil
}

// LoadPatternSetFromReader decodes a YAML pattern set from r. Useful in tests
// where sets are constructed from string literals.
func LoadPatternSetFromReader(r io.Reader) (PatternSet, error) {
	var set PatternSet
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&set); err != nil {
		return PatternSet{}, fmt.Errorf("template: decode yaml: %w", err)
	}
	return set, nil
}

// DefaultPatternSet returns the built-in pattern set covering the most common
// beginner (JLPT N5/N4) question shapes. Game deployments typically extend it
// from a YAML file instead of editing this table.
func DefaultPatternSet() PatternSet {
	return PatternSet{
		Patterns: []Pattern{
			{
				ID:         "vocab-meaning",
				Regex:      `what (?:does|do) ['"]?(?P<word>[\p{L}\p{N}']+)['"]? mean`,
				TemplateID: "vocab-meaning",
				JLPT:       "N5",
				Keywords:   []string{"what", "does", "mean"},
			},
			{
				ID:         "vocab-say",
				Regex:      `how (?:do i|to) say ['"]?(?P<phrase>.+?)['"]?(?: in (?P<language>\p{L}+))?[?.!]?$`,
				TemplateID: "vocab-say",
				JLPT:       "N5",
				Keywords:   []string{"say"},
			},
			{
				ID:         "direction-where",
				Regex:      `where (?:is|are) (?:the )?(?P<destination>.+?)[?.!]?$`,
				TemplateID: "direction-where",
				JLPT:       "N5",
				Keywords:   []string{"where"},
			},
			{
				ID:         "direction-getto",
				Regex:      `how (?:do i|to) (?:get|go) to (?:the )?(?P<destination>.+?)[?.!]?$`,
				TemplateID: "direction-where",
				JLPT:       "N5",
				Keywords:   []string{"get", "go"},
			},
			{
				ID:         "translation-check",
				Regex:      `is ['"]?(?P<attempt>.+?)['"]? (?:correct|right)[?.!]?$`,
				TemplateID: "translation-check",
				JLPT:       "N4",
				Keywords:   []string{"correct", "right"},
			},
			{
				ID:         "grammar-particle",
				Regex:      `(?:what|which) particle\b.*?(?P<context>for .+?)?[?.!]?$`,
				TemplateID: "grammar-particle",
				JLPT:       "N4",
				Keywords:   []string{"particle", "grammar"},
			},
		},
		Templates: map[string]string{
			"vocab-meaning":     "'{word}' means \"{meaning}\". Try using it in a sentence!",
			"vocab-say":         "You can say that like this: \"{translation}\". Give it a try!",
			"direction-where":   "Ah, {destination}? You can ask locals with \"{destination} wa doko desu ka?\" — that means \"where is {destination}?\"",
			"translation-check": "\"{attempt}\" — close! Say it slowly and a local will understand you. Want me to double-check a specific word?",
			"grammar-particle":  "Particles are tricky! As a rule of thumb: を marks the object, に marks a destination or time, で marks where an action happens.",
			"reask":             "Hmm, I didn't quite catch that. Could you ask me again in a few more words?",
			"greeting":          "Hello, traveler! Ask me about words, grammar, or directions whenever you're stuck.",
		},
		Glossary: map[string]map[string]string{
			"kippu":    {"meaning": "ticket"},
			"eki":      {"meaning": "station"},
			"densha":   {"meaning": "train"},
			"migi":     {"meaning": "right"},
			"hidari":   {"meaning": "left"},
			"massugu":  {"meaning": "straight ahead"},
			"arigatou": {"meaning": "thank you"},
			"sumimasen": {"meaning": "excuse me"},
			"kudasai":  {"meaning": "please (give me)"},
			"doko":     {"meaning": "where"},
		},
	}
}
