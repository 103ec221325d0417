// Package mock provides a test double for the modelclient.Generator
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sensai/pkg/modelclient"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Req is the request passed to Generate.
	Req modelclient.GenerateRequest
}

// Generator is a mock implementation of [modelclient.Generator].
// Zero values cause Generate to return ("", nil).
type Generator struct {
	mu sync.Mutex

	// GenerateFunc, if non-nil, handles Generate calls instead of the
	// static fields below. The call is still recorded. Use it to script
	// per-call behaviour, e.g. fail twice then succeed.
	GenerateFunc func(ctx context.Context, req modelclient.GenerateRequest) (string, error)

	// GenerateResult is returned by Generate.
	GenerateResult string

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// GenerateCalls records every invocation in order.
	GenerateCalls []GenerateCall
}

var _ modelclient.Generator = (*Generator)(nil)

// Generate records the call and returns the configured result.
func (g *Generator) Generate(ctx context.Context, req modelclient.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.GenerateCalls = append(g.GenerateCalls, GenerateCall{Req: req})
	fn := g.GenerateFunc
	result, err := g.GenerateResult, g.GenerateErr
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return result, err
}

// Calls returns a snapshot of recorded calls.
func (g *Generator) Calls() []GenerateCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GenerateCall(nil), g.GenerateCalls...)
}
