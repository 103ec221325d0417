// Package dialog implements finite-state decision trees for multi-turn
// rule-based flows — guided exercises like "buy a ticket" that walk the
// player through a scripted exchange without any model call.
//
// A [Tree] is static configuration: a node map with typed nodes and labelled
// transitions, loadable from YAML via [LoadTrees]. The [Engine] validates
// trees at construction and navigates them with an explicit, serialisable
// [NavigatorState], so the caller owns all per-conversation state.
//
// Navigation is fail-soft: an input that matches no transition label follows
// the mandatory "default" transition. A structurally broken tree (missing
// node references, missing defaults) is fatal and reported as an
// [InvalidTreeError] at construction time, never during a step.
package dialog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultTransition is the label every non-exit node must provide; it is the
// fallback for unmatched input and the auto-advance edge of response and
// process nodes.
const DefaultTransition = "default"

// NodeKind distinguishes the four node behaviours.
type NodeKind string

const (
	// NodeQuestion emits its message and waits for player input; the input
	// selects the next node via transition labels.
	NodeQuestion NodeKind = "question"

	// NodeResponse emits its message and advances along "default" immediately.
	NodeResponse NodeKind = "response"

	// NodeProcess applies a named side-effect to the navigator variables and
	// advances along "default" without emitting output.
	NodeProcess NodeKind = "process"

	// NodeExit emits its message and terminates the flow.
	NodeExit NodeKind = "exit"
)

// IsValid reports whether k is a recognised node kind.
func (k NodeKind) IsValid() bool {
	switch k {
	case NodeQuestion, NodeResponse, NodeProcess, NodeExit:
		return true
	}
	return false
}

// Node is one state of a decision tree.
type Node struct {
	// Kind selects the node behaviour.
	Kind NodeKind `yaml:"kind"`

	// Message is the text emitted when the node is entered. May contain
	// {name} placeholders resolved from the navigator variables.
	Message string `yaml:"message"`

	// Process names the side-effect applied by process nodes, e.g.
	// "capture:destination" stores the player input under "destination".
	Process string `yaml:"process"`

	// Transitions maps lowercased input labels to the next node ID.
	// Non-exit nodes must include the "default" label.
	Transitions map[string]string `yaml:"transitions"`
}

// Tree is a complete decision tree definition.
type Tree struct {
	// ID uniquely identifies the tree.
	ID string `yaml:"id"`

	// RootNodeID is the entry node.
	RootNodeID string `yaml:"root"`

	// Nodes maps node IDs to definitions.
	Nodes map[string]Node `yaml:"nodes"`
}

// InvalidTreeError reports a structural integrity violation in a tree
// definition. It is fatal: trees are static configuration, so a broken tree
// is a deployment error, not a runtime condition.
type InvalidTreeError struct {
	TreeID string
	Reason string
}

func (e *InvalidTreeError) Error() string {
	return fmt.Sprintf("dialog: invalid tree %q: %s", e.TreeID, e.Reason)
}

// NavigatorState is the full per-conversation navigation state. It is plain
// data and JSON-serialisable so callers can persist it between turns.
type NavigatorState struct {
	// TreeID identifies the tree being navigated.
	TreeID string `json:"tree_id"`

	// CurrentNodeID is the node the navigator is positioned at.
	CurrentNodeID string `json:"current_node_id"`

	// Variables accumulates values captured by process nodes.
	Variables map[string]string `json:"variables,omitempty"`

	// History lists visited node IDs in order.
	History []string `json:"history,omitempty"`

	// Terminal is set once an exit node has been reached; further steps
	// are no-ops.
	Terminal bool `json:"terminal,omitempty"`
}

// Encode serialises the state to a compact JSON string suitable for stashing
// in a request's additional parameters.
func (s NavigatorState) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("dialog: encode navigator state: %w", err)
	}
	return string(b), nil
}

// DecodeState parses a JSON navigator state produced by [NavigatorState.Encode].
func DecodeState(raw string) (NavigatorState, error) {
	var s NavigatorState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return NavigatorState{}, fmt.Errorf("dialog: decode navigator state: %w", err)
	}
	return s, nil
}

// Engine navigates a fixed set of validated decision trees. Immutable after
// construction and safe for concurrent use — all mutable state lives in the
// [NavigatorState] values owned by callers.
type Engine struct {
	trees map[string]Tree
}

// NewEngine validates all trees and returns a ready Engine. Any structural
// problem — unknown root, dangling transition target, missing default on a
// non-exit node, invalid node kind — yields an [InvalidTreeError].
func NewEngine(trees []Tree) (*Engine, error) {
	e := &Engine{trees: make(map[string]Tree, len(trees))}
	for _, t := range trees {
		if err := validateTree(t); err != nil {
			return nil, err
		}
		if _, dup := e.trees[t.ID]; dup {
			return nil, &InvalidTreeError{TreeID: t.ID, Reason: "duplicate tree id"}
		}
		e.trees[t.ID] = t
	}
	return e, nil
}

// Trees returns the IDs of all loaded trees.
func (e *Engine) Trees() []string {
	out := make([]string, 0, len(e.trees))
	for id := range e.trees {
		out = append(out, id)
	}
	return out
}

// Has reports whether a tree with the given ID is loaded.
func (e *Engine) Has(treeID string) bool {
	_, ok := e.trees[treeID]
	return ok
}

// Start returns a fresh [NavigatorState] positioned at the root of treeID.
func (e *Engine) Start(treeID string) (NavigatorState, error) {
	t, ok := e.trees[treeID]
	if !ok {
		return NavigatorState{}, &InvalidTreeError{TreeID: treeID, Reason: "unknown tree"}
	}
	return NavigatorState{
		TreeID:        t.ID,
		CurrentNodeID: t.RootNodeID,
		Variables:     map[string]string{},
	}, nil
}

// Step advances the navigation by one player input.
//
// The returned output is the concatenation of all messages emitted while
// advancing: question and exit nodes stop the walk, response nodes emit and
// auto-advance, process nodes apply their side-effect silently and
// auto-advance. terminal reports whether an exit node was reached.
//
// Stepping a terminal state is a no-op: it returns the unchanged state with
// empty output and terminal=true.
func (e *Engine) Step(state NavigatorState, input string) (output string, next NavigatorState, terminal bool, err error) {
	t, ok := e.trees[state.TreeID]
	if !ok {
		return "", state, false, &InvalidTreeError{TreeID: state.TreeID, Reason: "unknown tree"}
	}
	if state.Terminal {
		return "", state, true, nil
	}

	next = cloneState(state)
	node, ok := t.Nodes[next.CurrentNodeID]
	if !ok {
		// Unreachable on validated trees; guarded anyway because states
		// arrive serialized from callers.
		return "", state, false, &InvalidTreeError{TreeID: t.ID, Reason: fmt.Sprintf("node %q not found", next.CurrentNodeID)}
	}

	// Consume the player input once, at the node the navigator rests on.
	if node.Kind == NodeQuestion {
		target := resolveTransition(node, input)
		next.History = append(next.History, next.CurrentNodeID)
		next.CurrentNodeID = target
	}

	var parts []string
	// Walk forward through auto-advancing nodes until we rest on a question
	// or reach an exit.
	for {
		node, ok = t.Nodes[next.CurrentNodeID]
		if !ok {
			return "", state, false, &InvalidTreeError{TreeID: t.ID, Reason: fmt.Sprintf("node %q not found", next.CurrentNodeID)}
		}

		switch node.Kind {
		case NodeQuestion:
			parts = append(parts, renderMessage(node.Message, next.Variables))
			return strings.Join(parts, " "), next, false, nil

		case NodeExit:
			if msg := renderMessage(node.Message, next.Variables); msg != "" {
				parts = append(parts, msg)
			}
			next.History = append(next.History, next.CurrentNodeID)
			next.Terminal = true
			return strings.Join(parts, " "), next, true, nil

		case NodeResponse:
			if msg := renderMessage(node.Message, next.Variables); msg != "" {
				parts = append(parts, msg)
			}
			next.History = append(next.History, next.CurrentNodeID)
			next.CurrentNodeID = node.Transitions[DefaultTransition]

		case NodeProcess:
			applyProcess(node.Process, input, next.Variables)
			next.History = append(next.History, next.CurrentNodeID)
			next.CurrentNodeID = node.Transitions[DefaultTransition]
		}
	}
}

// resolveTransition matches input against the node's transition labels,
// falling back to "default". Matching is case-insensitive on whole labels
// first, then on label containment, so "yes please" matches a "yes" edge.
func resolveTransition(node Node, input string) string {
	in := strings.ToLower(strings.TrimSpace(input))
	if target, ok := node.Transitions[in]; ok {
		return target
	}
	for label, target := range node.Transitions {
		if label == DefaultTransition {
			continue
		}
		if strings.Contains(in, label) {
			return target
		}
	}
	return node.Transitions[DefaultTransition]
}

// applyProcess executes a named side-effect. The only built-in is
// "capture:<key>", which stores the trimmed player input under <key>.
// Unknown process names are ignored — fail-soft, like transitions.
func applyProcess(name, input string, vars map[string]string) {
	if key, ok := strings.CutPrefix(name, "capture:"); ok && key != "" {
		vars[key] = strings.TrimSpace(input)
	}
}

// renderMessage substitutes {name} placeholders from vars. Unknown
// placeholders are left verbatim, matching template rendering semantics.
func renderMessage(msg string, vars map[string]string) string {
	for k, v := range vars {
		msg = strings.ReplaceAll(msg, "{"+k+"}", v)
	}
	return msg
}

func cloneState(s NavigatorState) NavigatorState {
	out := s
	out.Variables = make(map[string]string, len(s.Variables))
	for k, v := range s.Variables {
		out.Variables[k] = v
	}
	out.History = append([]string(nil), s.History...)
	return out
}

func validateTree(t Tree) error {
	if t.ID == "" {
		return &InvalidTreeError{TreeID: t.ID, Reason: "empty tree id"}
	}
	if _, ok := t.Nodes[t.RootNodeID]; !ok {
		return &InvalidTreeError{TreeID: t.ID, Reason: fmt.Sprintf("root node %q not found", t.RootNodeID)}
	}
	for id, n := range t.Nodes {
		if !n.Kind.IsValid() {
			return &InvalidTreeError{TreeID: t.ID, Reason: fmt.Sprintf("node %q: invalid kind %q", id, n.Kind)}
		}
		if n.Kind != NodeExit {
			if _, ok := n.Transitions[DefaultTransition]; !ok {
				return &InvalidTreeError{TreeID: t.ID, Reason: fmt.Sprintf("node %q: missing %q transition", id, DefaultTransition)}
			}
		}
		for label, target := range n.Transitions {
			if _, ok := t.Nodes[target]; !ok {
				return &InvalidTreeError{TreeID: t.ID, Reason: fmt.Sprintf("node %q: transition %q references unknown node %q", id, label, target)}
			}
		}
	}
	return nil
}
