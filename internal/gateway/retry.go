package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default retry parameters for commit operations.
const (
	defaultAttempts   = 3
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

// Retry wraps a [Gateway] with bounded retries on transient faults. Backoff
// doubles per attempt up to MaxBackoff. Non-transient errors and context
// cancellation abort immediately.
type Retry struct {
	next       Gateway
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// RetryConfig configures a [Retry].
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	// Defaults to 3 if zero.
	Attempts int

	// Backoff is the initial delay between attempts. Doubles each retry up to
	// MaxBackoff. Defaults to 500ms if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the delay. Defaults to 5s if zero.
	MaxBackoff time.Duration
}

// Compile-time interface check.
var _ Gateway = (*Retry)(nil)

// NewRetry wraps next with the given retry policy.
func NewRetry(next Gateway, cfg RetryConfig) *Retry {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Retry{
		next:       next,
		attempts:   attempts,
		backoff:    backoff,
		maxBackoff: maxBackoff,
		sleep:      sleepCtx,
	}
}

// Execute implements [Gateway]. It forwards to the wrapped gateway and
// retries transient faults until the attempt budget is spent.
func (r *Retry) Execute(ctx context.Context, req Request) (*Result, error) {
	delay := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.attempts; attempt++ {
		res, err := r.next.Execute(ctx, req)
		if err == nil {
			return res, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err

		if attempt == r.attempts {
			break
		}
		slog.Warn("gateway: transient fault, retrying",
			"intent", req.Intent,
			"attempt", attempt,
			"delay", delay,
			"err", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = min(delay*2, r.maxBackoff)
	}

	return nil, fmt.Errorf("gateway: %d attempts exhausted: %w", r.attempts, lastErr)
}

// sleepCtx sleeps for d or until ctx is done, whichever first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
