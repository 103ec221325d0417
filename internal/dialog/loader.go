package dialog

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTrees reads a YAML file containing a `trees` list and returns the
// parsed definitions. Validation happens in [NewEngine], not here.
func LoadTrees(path string) ([]Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dialog: open trees %q: %w", path, err)
	}
	defer f.Close()

	trees, err := LoadTreesFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("dialog: parse trees %q: %w", path, err)
	}
	return trees, nil
}

// LoadTreesFromReader decodes tree definitions from r.
func LoadTreesFromReader(r io.Reader) ([]Tree, error) {
	var doc struct {
		Trees []Tree `yaml:"trees"`
	}
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("dialog: decode yaml: %w", err)
	}
	return doc.Trees, nil
}

// DefaultTrees returns the built-in guided flows. Deployments extend or
// replace them from a YAML file.
func DefaultTrees() []Tree {
	return []Tree{
		{
			ID:         "buy-ticket",
			RootNodeID: "ask-destination",
			Nodes: map[string]Node{
				"ask-destination": {
					Kind:    NodeQuestion,
					Message: "Let's practice buying a ticket! Where would you like to go?",
					Transitions: map[string]string{
						DefaultTransition: "capture-destination",
					},
				},
				"capture-destination": {
					Kind:    NodeProcess,
					Process: "capture:destination",
					Transitions: map[string]string{
						DefaultTransition: "teach-phrase",
					},
				},
				"teach-phrase": {
					Kind:    NodeResponse,
					Message: "To {destination}? You can say: \"{destination} made no kippu o kudasai.\"",
					Transitions: map[string]string{
						DefaultTransition: "confirm-practice",
					},
				},
				"confirm-practice": {
					Kind:    NodeQuestion,
					Message: "Try saying it back to me!",
					Transitions: map[string]string{
						"kippu":           "praise",
						DefaultTransition: "encourage",
					},
				},
				"praise": {
					Kind:    NodeExit,
					Message: "Perfect! The attendant hands you a ticket to {destination}. Well done!",
				},
				"encourage": {
					Kind:    NodeExit,
					Message: "Almost! Remember: \"{destination} made no kippu o kudasai.\" Practice it and come back!",
				},
			},
		},
	}
}
