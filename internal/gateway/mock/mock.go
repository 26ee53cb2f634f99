// Package mock provides a test double for the gateway.Gateway interface.
//
// Use Gateway in unit tests to verify that the dialogue state machine issues
// the expected commit requests and to feed controlled results without a
// database. Set response fields before use; reading call records while a
// concurrent Execute is in flight is the caller's responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/Gymmando/gymmando/internal/gateway"
)

// ExecuteCall records a single invocation of Execute.
type ExecuteCall struct {
	// Ctx is the context passed to Execute.
	Ctx context.Context
	// Req is the request passed to Execute.
	Req gateway.Request
}

// Gateway is a mock implementation of gateway.Gateway. Zero values for the
// response fields cause Execute to return an empty Result and nil error.
type Gateway struct {
	mu sync.Mutex

	// Result is returned by Execute when Err is nil.
	Result *gateway.Result

	// Err, if non-nil, is returned by Execute.
	Err error

	// Errs, if non-empty, overrides Err per call: call i returns Errs[i]
	// (nil entries mean success). Calls beyond the slice fall back to Err.
	Errs []error

	// ExecuteCalls records every invocation in order.
	ExecuteCalls []ExecuteCall
}

// Compile-time interface check.
var _ gateway.Gateway = (*Gateway)(nil)

// Execute implements gateway.Gateway.
func (g *Gateway) Execute(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	call := len(g.ExecuteCalls)
	g.ExecuteCalls = append(g.ExecuteCalls, ExecuteCall{Ctx: ctx, Req: req})

	err := g.Err
	if call < len(g.Errs) {
		err = g.Errs[call]
	}
	if err != nil {
		return nil, err
	}
	if g.Result != nil {
		return g.Result, nil
	}
	return &gateway.Result{}, nil
}

// Calls returns a snapshot of recorded invocations.
func (g *Gateway) Calls() []ExecuteCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ExecuteCall, len(g.ExecuteCalls))
	copy(out, g.ExecuteCalls)
	return out
}
