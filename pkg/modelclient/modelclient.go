// Package modelclient provides the two model-backed text generators of the
// tier cascade: a cached [LocalClient] over an Ollama-style backend, and a
// signed [RemoteClient] over an HTTP model service with usage accounting.
//
// Both clients implement [Generator] and report failures as [*Error] values
// carrying a [Kind], so callers can drive retry and fallback decisions
// without inspecting backend-specific errors.
package modelclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/sensai/pkg/types"
)

// Kind classifies a generation failure. Retry and fallback policy is decided
// on kinds, never on concrete backend errors.
type Kind string

const (
	// KindConnection is a network-level failure reaching the model service.
	KindConnection Kind = "connection"

	// KindTimeout is a deadline or cancellation during the call.
	KindTimeout Kind = "timeout"

	// KindModel is an unsupported or unavailable model.
	KindModel Kind = "model"

	// KindContent is a policy or safety rejection of the input.
	KindContent Kind = "content"

	// KindMemory is resource exhaustion inside the local model service.
	KindMemory Kind = "memory"

	// KindQuota is an admission denial by the usage ledger or a hard
	// quota rejection by the remote service. Not retryable.
	KindQuota Kind = "quota"

	// KindRateLimit is the transient quota variant (HTTP 429). Retryable
	// with backoff, but surfaces to users as a quota condition when it
	// persists.
	KindRateLimit Kind = "rate_limit"

	// KindUnknown covers everything else.
	KindUnknown Kind = "unknown"
)

// Error is a classified generation failure.
type Error struct {
	// Client names the failing side, "local" or "remote".
	Client string

	// Kind classifies the failure.
	Kind Kind

	// Model is the model the call targeted.
	Model string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("modelclient: %s %s: %s: %v", e.Client, e.Model, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err. Errors that are not [*Error]
// report [KindUnknown].
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindUnknown
}

// IsQuota reports whether err is a quota condition in either flavour, the
// hard [KindQuota] denial or the transient [KindRateLimit].
func IsQuota(err error) bool {
	k := KindOf(err)
	return k == KindQuota || k == KindRateLimit
}

// GenerateRequest carries one generation call.
type GenerateRequest struct {
	// RequestID links the call to the originating player request.
	RequestID string

	// Input is the raw player input. Together with RequestType and the
	// resolved model it forms the local cache key.
	Input string

	// RequestType is the caller-supplied request tag, e.g. "vocabulary".
	RequestType string

	// Prompt is the full prompt sent to the model. Empty means send
	// Input unchanged.
	Prompt string

	// Model overrides the client's default model when non-empty.
	Model string

	// Temperature controls output randomness. Zero uses the backend
	// default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the client default.
	MaxTokens int
}

// prompt returns the effective prompt text.
func (r GenerateRequest) prompt() string {
	if r.Prompt != "" {
		return r.Prompt
	}
	return r.Input
}

// Generator produces text for a request. Implemented by [LocalClient] and
// [RemoteClient]; tier processors depend only on this.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// UsageLedger is the admission and accounting seam the remote client calls
// into. Implemented by the usage ledger; kept narrow so tests can fake it
// without the real quota machinery.
type UsageLedger interface {
	// CheckQuota reports whether a call to model with estimatedTokens
	// prompt tokens may be admitted, with a human-readable reason on
	// rejection.
	CheckQuota(model string, estimatedTokens int) (allowed bool, reason string)

	// Record appends one completed call to the ledger.
	Record(rec types.UsageRecord)
}

// EstimateTokens approximates the token count of text at ~4 characters per
// token. Good enough for quota admission; never used for billing.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
