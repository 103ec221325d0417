package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/sensai/internal/conversation"
	"github.com/MrWong99/sensai/internal/prompt"
	"github.com/MrWong99/sensai/internal/resilience"
	"github.com/MrWong99/sensai/pkg/modelclient"
	"github.com/MrWong99/sensai/pkg/types"
)

// Tier3Config configures the remote-model processor.
type Tier3Config struct {
	// Model is the remote model identifier, e.g. "anthropic.claude-3-haiku".
	Model string

	// Temperature is forwarded to the remote service. Zero uses the
	// service default.
	Temperature float64

	// MaxTokens caps completion length. Zero uses the client default.
	MaxTokens int

	// Retry tunes the backoff around the remote call. ShouldRetry and
	// OnRetry are overwritten; everything else is honoured.
	Retry resilience.RetryConfig

	// Handlers maps intents to specialised prompt/post-process pairs.
	// Nil falls back to [DefaultHandlers].
	Handlers map[types.Intent]Handler

	// Conversation, when set, records successful multi-turn exchanges.
	Conversation *conversation.Manager

	// Breaker, when set, short-circuits calls while the remote endpoint
	// is known to be down.
	Breaker *resilience.CircuitBreaker

	// Observer receives retry events.
	Observer Observer
}

// Tier3 answers with the remote model. Quota exhaustion and content
// rejections resolve to fixed messages here; infrastructure failures surface
// as errors so the router can cascade to a cheaper tier.
type Tier3 struct {
	client  modelclient.Generator
	prompts *prompt.Builder
	cfg     Tier3Config
}

var _ Processor = (*Tier3)(nil)

// NewTier3 builds the remote-model tier around client and prompts.
func NewTier3(client modelclient.Generator, prompts *prompt.Builder, cfg Tier3Config) *Tier3 {
	if cfg.Handlers == nil {
		cfg.Handlers = DefaultHandlers()
	}
	return &Tier3{client: client, prompts: prompts, cfg: cfg}
}

// Name implements [Processor].
func (t *Tier3) Name() types.Tier { return types.Tier3 }

// Process implements [Processor]. Quota conditions return the limit-reached
// message and content rejections the content apology, both with a nil error;
// neither should be re-asked on another tier. Any other persistent failure is
// returned as an error for the cascade.
func (t *Tier3) Process(ctx context.Context, req *types.ClassifiedRequest) (string, error) {
	handler := t.handlerFor(*req)

	genReq := modelclient.GenerateRequest{
		RequestID:   req.RequestID,
		Input:       req.PlayerInput,
		RequestType: req.RequestType,
		Prompt:      t.buildPrompt(ctx, *req, handler),
		Model:       t.cfg.Model,
		Temperature: t.cfg.Temperature,
		MaxTokens:   t.cfg.MaxTokens,
	}

	text, err := t.generate(ctx, genReq)
	if err != nil {
		if modelclient.IsQuota(err) {
			slog.Warn("remote quota exhausted", "request_id", req.RequestID, "error", err)
			return MsgLimitReached, nil
		}
		if modelclient.KindOf(err) == modelclient.KindContent {
			slog.Warn("remote content rejection", "request_id", req.RequestID, "error", err)
			return MsgContentRestricted, nil
		}
		return "", fmt.Errorf("tier3: remote generation: %w", err)
	}

	if handler != nil {
		text = handler.PostProcess(text, *req)
	}
	t.record(ctx, req, text)
	return text, nil
}

// generate runs the remote call under the circuit breaker and the retry
// policy. Connection, timeout and rate-limit failures earn another attempt;
// quota denials and content rejections fail fast.
func (t *Tier3) generate(ctx context.Context, genReq modelclient.GenerateRequest) (string, error) {
	cfg := t.cfg.Retry
	cfg.Name = "tier3 remote model"
	cfg.ShouldRetry = func(err error) bool {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return false
		}
		switch modelclient.KindOf(err) {
		case modelclient.KindConnection, modelclient.KindTimeout, modelclient.KindRateLimit:
			return true
		}
		return false
	}
	cfg.OnRetry = func(attempt int, _ error) {
		t.cfg.Observer.retry(ctx, string(types.Tier3), attempt)
	}

	return resilience.Retry(ctx, cfg, func(ctx context.Context) (string, error) {
		if t.cfg.Breaker == nil {
			return t.client.Generate(ctx, genReq)
		}
		var text string
		err := t.cfg.Breaker.Execute(func() error {
			var genErr error
			text, genErr = t.client.Generate(ctx, genReq)
			return genErr
		})
		return text, err
	})
}

func (t *Tier3) handlerFor(req types.ClassifiedRequest) Handler {
	h, ok := t.cfg.Handlers[req.Intent]
	if !ok || !h.CanHandle(req) {
		return nil
	}
	return h
}

func (t *Tier3) buildPrompt(ctx context.Context, req types.ClassifiedRequest, handler Handler) string {
	if handler != nil {
		return handler.BuildPrompt(ctx, req)
	}
	if req.ConversationID != "" {
		return withQuestion(t.prompts.BuildContextual(ctx, req), req.PlayerInput)
	}
	return withQuestion(t.prompts.Build(ctx, req), req.PlayerInput)
}

func (t *Tier3) record(ctx context.Context, req *types.ClassifiedRequest, text string) {
	if t.cfg.Conversation == nil || req.ConversationID == "" {
		return
	}
	if err := t.cfg.Conversation.Record(ctx, req.ConversationID, *req, text); err != nil {
		slog.Warn("recording conversation exchange failed",
			"request_id", req.RequestID, "conversation_id", req.ConversationID, "error", err)
	}
}
