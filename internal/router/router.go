// Package router ties the cascade together: it classifies incoming requests,
// walks the tier order derived from the preferred tier, and styles the
// winning answer through the persona formatter.
//
// Handle never returns an error and never panics outward. Whatever goes
// wrong, the player receives a non-empty in-character reply.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/sensai/internal/classify"
	"github.com/MrWong99/sensai/internal/observe"
	"github.com/MrWong99/sensai/internal/persona"
	"github.com/MrWong99/sensai/internal/tier"
	"github.com/MrWong99/sensai/pkg/modelclient"
	"github.com/MrWong99/sensai/pkg/types"
)

// MsgServiceUnavailable is the reply of last resort, used when every
// registered tier failed.
const MsgServiceUnavailable = "I'm sorry, I can't help right now. Please try again in a moment!"

// cascadeOrders maps the preferred tier to the full attempt order. Cheaper
// tiers are never skipped entirely: they close out every order.
var cascadeOrders = map[types.Tier][]types.Tier{
	types.Tier1: {types.Tier1, types.Tier2, types.Tier3},
	types.Tier2: {types.Tier2, types.Tier3, types.Tier1},
	types.Tier3: {types.Tier3, types.Tier2, types.Tier1},
}

// Response is the router's answer to one request.
type Response struct {
	// RequestID echoes the request identifier.
	RequestID string `json:"request_id"`

	// Text is the formatted, player-facing reply. Never empty.
	Text string `json:"text"`

	// ServedBy names the tier that produced the reply. Empty when every
	// tier failed and the service-unavailable fallback was used.
	ServedBy types.Tier `json:"served_by,omitempty"`

	// Intent is the classified intent, echoed for callers that track it.
	Intent types.Intent `json:"intent"`

	// Complexity is the classified complexity.
	Complexity types.Complexity `json:"complexity"`

	// ConversationID echoes the conversation identifier, if any.
	ConversationID string `json:"conversation_id,omitempty"`

	// SessionState is opaque state to pass back on the next turn, e.g. an
	// in-flight guided dialogue position. Nil when there is none.
	SessionState map[string]string `json:"session_state,omitempty"`
}

// Transcript is an optional, caller-owned record of exchanges, accumulated in
// memory for the scope the caller chooses (one request, one UI dialogue).
// Distinct from the persistent conversation store: nothing here survives the
// process, and the tiers never read it. Safe for concurrent use.
type Transcript struct {
	mu        sync.Mutex
	exchanges []Exchange
}

// Exchange pairs one player question with the formatted reply that answered
// it.
type Exchange struct {
	Question string
	Answer   string
}

func (t *Transcript) append(question, answer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exchanges = append(t.exchanges, Exchange{Question: question, Answer: answer})
}

// Exchanges returns a copy of the recorded exchanges in arrival order.
func (t *Transcript) Exchanges() []Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Exchange, len(t.exchanges))
	copy(out, t.exchanges)
	return out
}

// HandleOption adjusts a single [Router.Handle] call.
type HandleOption func(*handleOptions)

type handleOptions struct {
	transcript *Transcript
}

// WithTranscript records the player input and the formatted reply of the call
// into t. Every reply is recorded, the service-unavailable fallback included.
func WithTranscript(t *Transcript) HandleOption {
	return func(o *handleOptions) { o.transcript = t }
}

// Config wires a [Router].
type Config struct {
	// Classifier maps raw requests to classified ones. Nil uses
	// [classify.New].
	Classifier *classify.Classifier

	// Processors are the available tiers. A tier that is disabled by
	// configuration is simply not registered; the cascade skips it.
	Processors []tier.Processor

	// Formatter styles responses in an NPC voice. Nil returns tier output
	// unstyled.
	Formatter *persona.Formatter

	// Stats receives the in-process counters. Nil allocates a fresh set.
	Stats *observe.Stats

	// Metrics receives the OTel instruments. Nil skips them.
	Metrics *observe.Metrics
}

// Router is the single entry point of the assistant.
type Router struct {
	classifier *classify.Classifier
	formatter  *persona.Formatter
	stats      *observe.Stats
	metrics    *observe.Metrics

	mu         sync.RWMutex
	processors map[types.Tier]tier.Processor
	disabled   map[types.Tier]bool
}

// New builds a Router from cfg.
func New(cfg Config) *Router {
	if cfg.Classifier == nil {
		cfg.Classifier = classify.New()
	}
	if cfg.Stats == nil {
		cfg.Stats = observe.NewStats()
	}
	r := &Router{
		classifier: cfg.Classifier,
		processors: make(map[types.Tier]tier.Processor, len(cfg.Processors)),
		disabled:   make(map[types.Tier]bool),
		formatter:  cfg.Formatter,
		stats:      cfg.Stats,
		metrics:    cfg.Metrics,
	}
	for _, p := range cfg.Processors {
		r.processors[p.Name()] = p
	}
	return r
}

// SetTierEnabled disables or re-enables a registered tier at runtime, for
// example on a config reload. Disabling an unregistered tier is a no-op; a
// disabled tier is skipped by the cascade exactly like an unregistered one.
func (r *Router) SetTierEnabled(name types.Tier, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		delete(r.disabled, name)
		return
	}
	r.disabled[name] = true
}

// processor returns the usable processor for name, if any.
func (r *Router) processor(name types.Tier) (tier.Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.disabled[name] {
		return nil, false
	}
	p, ok := r.processors[name]
	return p, ok
}

// Handle answers one player request. It classifies, walks the cascade order,
// formats the first successful answer, and falls back to a fixed unavailable
// message when no tier can serve. It never panics and never returns an empty
// reply.
func (r *Router) Handle(ctx context.Context, req types.Request, opts ...HandleOption) Response {
	var opt handleOptions
	for _, o := range opts {
		o(&opt)
	}

	resp := r.handle(ctx, req)
	if opt.transcript != nil {
		opt.transcript.append(req.PlayerInput, resp.Text)
	}
	return resp
}

func (r *Router) handle(ctx context.Context, req types.Request) Response {
	creq := r.classifier.Classify(req)
	if len(req.SessionState) > 0 {
		if creq.AdditionalParams == nil {
			creq.AdditionalParams = make(map[string]string, len(req.SessionState))
		}
		for k, v := range req.SessionState {
			creq.AdditionalParams[k] = v
		}
	}

	order, ok := cascadeOrders[creq.PreferredTier]
	if !ok {
		order = cascadeOrders[types.Tier1]
	}

	var lastFailed types.Tier
	for _, name := range order {
		p, registered := r.processor(name)
		if !registered {
			slog.Debug("tier not registered, skipping",
				"request_id", req.RequestID, "tier", name)
			continue
		}
		if lastFailed != "" {
			r.stats.Fallback(string(lastFailed), string(name))
			if r.metrics != nil {
				r.metrics.RecordTierFallback(ctx, string(lastFailed), string(name))
			}
		}

		r.stats.Request(string(name))
		start := time.Now()
		text, err := r.process(ctx, p, &creq)
		elapsed := time.Since(start)

		if err != nil {
			kind := string(modelclient.KindOf(err))
			slog.Warn("tier failed, cascading",
				"request_id", req.RequestID, "tier", name, "kind", kind, "error", err)
			r.stats.Failure(string(name), kind)
			if r.metrics != nil {
				r.metrics.RecordTierRequest(ctx, string(name), "failure", elapsed)
				r.metrics.RecordTierFailure(ctx, string(name), kind)
			}
			lastFailed = name
			continue
		}

		r.stats.Success(string(name), elapsed)
		if r.metrics != nil {
			r.metrics.RecordTierRequest(ctx, string(name), "success", elapsed)
		}
		return r.respond(creq, name, text)
	}

	slog.Error("no tier could serve request",
		"request_id", req.RequestID, "preferred", creq.PreferredTier)
	return r.respond(creq, "", MsgServiceUnavailable)
}

// process invokes one tier with a panic guard: a panicking tier reports an
// error and the cascade moves on.
func (r *Router) process(ctx context.Context, p tier.Processor, creq *types.ClassifiedRequest) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("router: tier %s panicked: %v", p.Name(), rec)
		}
	}()
	return p.Process(ctx, creq)
}

// respond styles text and assembles the final Response.
func (r *Router) respond(creq types.ClassifiedRequest, servedBy types.Tier, text string) Response {
	if r.formatter != nil {
		text = r.formatter.Format(text, creq, persona.FormatOptions{})
	}
	resp := Response{
		RequestID:      creq.RequestID,
		Text:           text,
		ServedBy:       servedBy,
		Intent:         creq.Intent,
		Complexity:     creq.Complexity,
		ConversationID: creq.ConversationID,
	}
	if len(creq.AdditionalParams) > 0 {
		resp.SessionState = creq.AdditionalParams
	}
	return resp
}

// Metrics returns a point-in-time copy of the in-process counters.
func (r *Router) Metrics() observe.StatsSnapshot {
	return r.stats.Snapshot()
}
