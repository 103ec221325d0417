package modelclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/sensai/pkg/provider/llm"
	"github.com/MrWong99/sensai/pkg/types"
)

// LocalClient generates text through a local inference backend (Ollama or a
// llama.cpp server) with an optional two-layer response cache in front.
//
// Safe for concurrent use.
type LocalClient struct {
	provider llm.Provider
	model    string
	cache    *responseCache
	apiCalls atomic.Int64
}

var _ Generator = (*LocalClient)(nil)

// LocalOption customizes a LocalClient.
type LocalOption func(*LocalClient) error

// WithCache enables the response cache. Without this option every call hits
// the backend.
func WithCache(cfg CacheConfig) LocalOption {
	return func(c *LocalClient) error {
		cache, err := newResponseCache(cfg)
		if err != nil {
			return err
		}
		c.cache = cache
		return nil
	}
}

// NewLocalClient creates a client over provider, generating with
// defaultModel unless a request overrides it.
func NewLocalClient(provider llm.Provider, defaultModel string, opts ...LocalOption) (*LocalClient, error) {
	if provider == nil {
		return nil, fmt.Errorf("modelclient: provider must not be nil")
	}
	if defaultModel == "" {
		return nil, fmt.Errorf("modelclient: default model must not be empty")
	}
	c := &LocalClient{provider: provider, model: defaultModel}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Generate implements [Generator]. Cache lookups run before the backend
// call; a hit never touches the model.
func (c *LocalClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var key string
	if c.cache != nil {
		key = cacheKey(req.Input, req.RequestType, model)
		if text, ok := c.cache.get(key); ok {
			return text, nil
		}
	}

	c.apiCalls.Add(1)
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: req.prompt()}},
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", &Error{Client: "local", Kind: classifyLocalError(err), Model: model, Err: err}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", &Error{Client: "local", Kind: KindModel, Model: model, Err: errors.New("empty completion")}
	}

	if c.cache != nil {
		c.cache.put(key, model, resp.Content)
	}
	return resp.Content, nil
}

// CacheInfo returns cache statistics. A client without a cache reports only
// its backend call count.
func (c *LocalClient) CacheInfo() CacheInfo {
	var info CacheInfo
	if c.cache != nil {
		info = c.cache.info()
	}
	info.APICalls = int(c.apiCalls.Load())
	return info
}

// classifyLocalError maps backend errors onto the local failure kinds. The
// any-llm backends surface plain wrapped errors, so classification falls
// back to message inspection after the typed checks.
func classifyLocalError(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "eof"):
		return KindConnection
	case strings.Contains(msg, "out of memory"),
		strings.Contains(msg, "resource exhausted"):
		return KindMemory
	case strings.Contains(msg, "model") && (strings.Contains(msg, "not found") ||
		strings.Contains(msg, "unknown") || strings.Contains(msg, "unsupported")):
		return KindModel
	case strings.Contains(msg, "content"), strings.Contains(msg, "safety"),
		strings.Contains(msg, "policy"):
		return KindContent
	}
	return KindUnknown
}
