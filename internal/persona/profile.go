// Package persona styles raw tier output in the voice of an NPC.
//
// An [NPCProfile] couples five personality traits with speech patterns and
// emotion expressions; the [Formatter] samples those by trait weight to
// decorate responses. Profiles are loaded once into an immutable [Registry]
// and read lock-free afterwards.
package persona

import "fmt"

// PersonalityTraits are the five dimensions steering response decoration.
// Each is a sampling weight in [0,1]; higher means the matching flourish
// appears more often.
type PersonalityTraits struct {
	// Friendliness weights conversational openings.
	Friendliness float64 `yaml:"friendliness"`

	// Formality weights polite closings.
	Formality float64 `yaml:"formality"`

	// Patience weights learning cues (study encouragements).
	Patience float64 `yaml:"patience"`

	// Enthusiasm weights emotion expressions.
	Enthusiasm float64 `yaml:"enthusiasm"`

	// Humor weights playful phrasing inside openings and closings.
	Humor float64 `yaml:"humor"`
}

// SpeechPatterns are the phrase pools a profile draws from.
type SpeechPatterns struct {
	// Openings start a response, e.g. "Ah, good question!".
	Openings []string `yaml:"openings"`

	// Closings end a response, e.g. "Good luck out there.".
	Closings []string `yaml:"closings"`

	// LearningCues encourage study, e.g. "Try using it in a sentence!".
	LearningCues []string `yaml:"learning_cues"`
}

// NPCProfile describes one styled character.
type NPCProfile struct {
	// ProfileID is the lookup key callers put in Request.ProfileID.
	ProfileID string `yaml:"profile_id"`

	// Name prefixes every formatted response ("Name: ...").
	Name string `yaml:"name"`

	// Role is a short character description, e.g. "station attendant".
	Role string `yaml:"role"`

	// Traits weight the optional response decorations.
	Traits PersonalityTraits `yaml:"personality_traits"`

	// Speech holds the profile's phrase pools.
	Speech SpeechPatterns `yaml:"speech_patterns"`

	// KnowledgeAreas names the topics this character speaks on.
	KnowledgeAreas []string `yaml:"knowledge_areas"`

	// EmotionExpressions maps an emotion label (e.g. "happy") to candidate
	// expressions ("*smiles*").
	EmotionExpressions map[string][]string `yaml:"emotion_expressions"`
}

// Validate checks structural soundness: non-empty identity and all traits
// within [0,1].
func (p *NPCProfile) Validate() error {
	if p.ProfileID == "" {
		return fmt.Errorf("persona: profile_id must not be empty")
	}
	if p.Name == "" {
		return fmt.Errorf("persona: profile %q: name must not be empty", p.ProfileID)
	}
	for name, v := range map[string]float64{
		"friendliness": p.Traits.Friendliness,
		"formality":    p.Traits.Formality,
		"patience":     p.Traits.Patience,
		"enthusiasm":   p.Traits.Enthusiasm,
		"humor":        p.Traits.Humor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("persona: profile %q: trait %s = %v outside [0,1]", p.ProfileID, name, v)
		}
	}
	return nil
}
