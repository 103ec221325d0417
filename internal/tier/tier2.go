package tier

import (
	"context"
	"log/slog"

	"github.com/MrWong99/sensai/internal/conversation"
	"github.com/MrWong99/sensai/internal/prompt"
	"github.com/MrWong99/sensai/internal/resilience"
	"github.com/MrWong99/sensai/pkg/modelclient"
	"github.com/MrWong99/sensai/pkg/types"
)

// Tier2Config configures the local-model processor.
type Tier2Config struct {
	// SmallModel serves simple and moderate requests.
	SmallModel string

	// LargeModel serves complex requests. Empty means SmallModel handles
	// everything.
	LargeModel string

	// Temperature is forwarded to the model backend. Zero uses the
	// backend default.
	Temperature float64

	// MaxTokens caps completion length. Zero uses the client default.
	MaxTokens int

	// Retry tunes the backoff around the model call. ShouldRetry and
	// OnRetry are overwritten; everything else is honoured.
	Retry resilience.RetryConfig

	// Fallback is the rule tier that absorbs infrastructure failures.
	// Nil degrades to a generic apology instead.
	Fallback *Tier1

	// Conversation, when set, records successful multi-turn exchanges.
	Conversation *conversation.Manager

	// Observer receives retry and fallback events.
	Observer Observer
}

// Tier2 answers with the local model: prompt assembly, cached generation, and
// graceful degradation. Connection, timeout, memory and model failures hand
// the request to the rule tier; a content rejection is answered with a fixed
// apology and never re-asked elsewhere.
type Tier2 struct {
	client  modelclient.Generator
	prompts *prompt.Builder
	cfg     Tier2Config
}

var _ Processor = (*Tier2)(nil)

// NewTier2 builds the local-model tier around client and prompts.
func NewTier2(client modelclient.Generator, prompts *prompt.Builder, cfg Tier2Config) *Tier2 {
	return &Tier2{client: client, prompts: prompts, cfg: cfg}
}

// Name implements [Processor].
func (t *Tier2) Name() types.Tier { return types.Tier2 }

// Process implements [Processor]. The error result is always nil: every
// failure mode resolves to either a delegated Tier1 answer or a fixed
// fallback message.
func (t *Tier2) Process(ctx context.Context, req *types.ClassifiedRequest) (string, error) {
	genReq := modelclient.GenerateRequest{
		RequestID:   req.RequestID,
		Input:       req.PlayerInput,
		RequestType: req.RequestType,
		Prompt:      t.buildPrompt(ctx, *req),
		Model:       t.modelFor(req.Complexity),
		Temperature: t.cfg.Temperature,
		MaxTokens:   t.cfg.MaxTokens,
	}

	text, err := t.generate(ctx, genReq)
	if err != nil && modelclient.KindOf(err) == modelclient.KindModel &&
		genReq.Model == t.cfg.LargeModel && t.cfg.SmallModel != "" && t.cfg.SmallModel != genReq.Model {
		// The larger model is missing or broken; one shot with the
		// smaller one before degrading.
		slog.Info("large local model unavailable, trying small model",
			"request_id", req.RequestID, "large", t.cfg.LargeModel, "small", t.cfg.SmallModel)
		genReq.Model = t.cfg.SmallModel
		text, err = t.client.Generate(ctx, genReq)
	}
	if err == nil {
		t.record(ctx, req, text)
		return text, nil
	}

	switch modelclient.KindOf(err) {
	case modelclient.KindConnection, modelclient.KindTimeout,
		modelclient.KindMemory, modelclient.KindModel:
		if t.cfg.Fallback != nil {
			slog.Warn("local model unavailable, degrading to rule tier",
				"request_id", req.RequestID, "error", err)
			t.cfg.Observer.fallback(ctx, string(types.Tier2), string(types.Tier1))
			return t.cfg.Fallback.Process(ctx, req)
		}
	}
	slog.Warn("local generation failed", "request_id", req.RequestID, "error", err)
	return MsgApology, nil
}

// generate runs the model call under the retry policy. Only connection and
// timeout failures are worth another attempt; everything else fails fast.
func (t *Tier2) generate(ctx context.Context, genReq modelclient.GenerateRequest) (string, error) {
	cfg := t.cfg.Retry
	cfg.Name = "tier2 local model"
	cfg.ShouldRetry = func(err error) bool {
		k := modelclient.KindOf(err)
		return k == modelclient.KindConnection || k == modelclient.KindTimeout
	}
	cfg.OnRetry = func(attempt int, _ error) {
		t.cfg.Observer.retry(ctx, string(types.Tier2), attempt)
	}
	return resilience.Retry(ctx, cfg, func(ctx context.Context) (string, error) {
		return t.client.Generate(ctx, genReq)
	})
}

func (t *Tier2) modelFor(c types.Complexity) string {
	if c == types.ComplexityComplex && t.cfg.LargeModel != "" {
		return t.cfg.LargeModel
	}
	return t.cfg.SmallModel
}

func (t *Tier2) buildPrompt(ctx context.Context, req types.ClassifiedRequest) string {
	if req.ConversationID != "" {
		return withQuestion(t.prompts.BuildContextual(ctx, req), req.PlayerInput)
	}
	return withQuestion(t.prompts.Build(ctx, req), req.PlayerInput)
}

// record appends the exchange to the conversation, when one is in progress.
// Persistence failures are logged, never surfaced: the player already has
// their answer.
func (t *Tier2) record(ctx context.Context, req *types.ClassifiedRequest, text string) {
	if t.cfg.Conversation == nil || req.ConversationID == "" {
		return
	}
	if err := t.cfg.Conversation.Record(ctx, req.ConversationID, *req, text); err != nil {
		slog.Warn("recording conversation exchange failed",
			"request_id", req.RequestID, "conversation_id", req.ConversationID, "error", err)
	}
}
