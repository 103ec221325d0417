package persona

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Registry is the load-once profile lookup. It is immutable after
// construction and therefore safe for lock-free concurrent reads.
type Registry struct {
	profiles  map[string]*NPCProfile
	defaultID string
}

// registryFile is the YAML document shape.
type registryFile struct {
	DefaultProfile string       `yaml:"default_profile"`
	Profiles       []NPCProfile `yaml:"profiles"`
}

// NewRegistry builds a registry from profiles. defaultID must name one of
// them; it styles requests that carry no profile_id.
func NewRegistry(profiles []NPCProfile, defaultID string) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("persona: at least one profile required")
	}
	m := make(map[string]*NPCProfile, len(profiles))
	for i := range profiles {
		p := profiles[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m[p.ProfileID]; dup {
			return nil, fmt.Errorf("persona: duplicate profile_id %q", p.ProfileID)
		}
		m[p.ProfileID] = &p
	}
	if _, ok := m[defaultID]; !ok {
		return nil, fmt.Errorf("persona: default profile %q not defined", defaultID)
	}
	return &Registry{profiles: m, defaultID: defaultID}, nil
}

// LoadRegistry reads a profile registry from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open registry file: %w", err)
	}
	defer f.Close()
	return LoadRegistryFromReader(f)
}

// LoadRegistryFromReader reads a profile registry from YAML content.
func LoadRegistryFromReader(r io.Reader) (*Registry, error) {
	var file registryFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("persona: decode registry: %w", err)
	}
	return NewRegistry(file.Profiles, file.DefaultProfile)
}

// Get returns the profile for id, falling back to the default profile for
// an empty or unknown id.
func (r *Registry) Get(id string) *NPCProfile {
	if p, ok := r.profiles[id]; ok {
		return p
	}
	return r.profiles[r.defaultID]
}

// Default returns the default profile.
func (r *Registry) Default() *NPCProfile {
	return r.profiles[r.defaultID]
}

// DefaultRegistry returns the built-in cast: Hana, the patient station
// attendant (default), and Kenji, a gruff shopkeeper.
func DefaultRegistry() *Registry {
	r, err := NewRegistry([]NPCProfile{
		{
			ProfileID: "hana",
			Name:      "Hana",
			Role:      "station attendant",
			Traits: PersonalityTraits{
				Friendliness: 0.9,
				Formality:    0.7,
				Patience:     0.9,
				Enthusiasm:   0.6,
				Humor:        0.3,
			},
			Speech: SpeechPatterns{
				Openings:     []string{"Ah, good question!", "Of course!", "Let me help you with that."},
				Closings:     []string{"Good luck!", "You're doing great.", "Safe travels!"},
				LearningCues: []string{"Try saying it out loud once!", "Write it down so you remember.", "Listen for it on the platform announcements."},
			},
			KnowledgeAreas: []string{"train travel", "tickets", "polite Japanese"},
			EmotionExpressions: map[string][]string{
				"happy":       {"*smiles warmly*", "*beams*"},
				"encouraging": {"*nods encouragingly*"},
				"thinking":    {"*tilts head thoughtfully*"},
			},
		},
		{
			ProfileID: "kenji",
			Name:      "Kenji",
			Role:      "shopkeeper",
			Traits: PersonalityTraits{
				Friendliness: 0.3,
				Formality:    0.2,
				Patience:     0.4,
				Enthusiasm:   0.3,
				Humor:        0.6,
			},
			Speech: SpeechPatterns{
				Openings:     []string{"Hm.", "Again with the questions?"},
				Closings:     []string{"Now buy something.", "Off you go."},
				LearningCues: []string{"Remember it this time."},
			},
			KnowledgeAreas: []string{"shopping", "counting", "casual Japanese"},
			EmotionExpressions: map[string][]string{
				"amused":  {"*smirks*"},
				"annoyed": {"*grunts*"},
			},
		},
	}, "hana")
	if err != nil {
		// The built-in cast is static; a validation failure is a programming error.
		panic(err)
	}
	return r
}
