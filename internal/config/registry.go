package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/sensai/pkg/provider/llm"
	"github.com/MrWong99/sensai/pkg/provider/llm/anyllm"
)

// ErrProviderNotRegistered is returned by [Registry.CreateLocalModel] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LocalModelFactory builds a local model backend from the tier2 section.
type LocalModelFactory func(cfg Tier2Config) (llm.Provider, error)

// Registry maps local-model provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	backend map[string]LocalModelFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{backend: make(map[string]LocalModelFactory)}
}

// DefaultRegistry returns a registry with the built-in backends registered:
// "ollama", "llamacpp", and "openai" (covering any OpenAI-compatible server).
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, name := range []string{"ollama", "llamacpp", "openai"} {
		name := name
		r.RegisterLocalModel(name, func(cfg Tier2Config) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if cfg.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
			}
			if cfg.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
			}
			return anyllm.New(name, cfg.SmallModel, opts...)
		})
	}
	return r
}

// RegisterLocalModel registers a local-model factory under name. Subsequent
// calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLocalModel(name string, factory LocalModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend[name] = factory
}

// CreateLocalModel instantiates a local model backend using the factory
// registered under cfg.Provider. Returns [ErrProviderNotRegistered] when no
// factory has been registered for that name.
func (r *Registry) CreateLocalModel(cfg Tier2Config) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.backend[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: local model %q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backend))
	for name := range r.backend {
		out = append(out, name)
	}
	return out
}
