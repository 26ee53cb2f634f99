package dialogue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Gymmando/gymmando/internal/gateway"
	"github.com/Gymmando/gymmando/internal/observe"
)

const (
	defaultIdleTimeout  = 5 * time.Minute
	defaultSweepEvery   = 30 * time.Second
	defaultRetainClosed = 10 * time.Minute
)

// Manager owns all live sessions and serializes turns per session.
type Manager struct {
	extractor  Extractor
	classifier Classifier
	gw         gateway.Gateway
	metrics    *observe.Metrics

	idleTimeout  time.Duration
	sweepEvery   time.Duration
	retainClosed time.Duration

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout overrides how long a session may sit without an
// utterance before the janitor cancels it.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithMetrics attaches instrument recording to the manager.
func WithMetrics(mx *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a dialogue manager. The gateway should already be
// wrapped with retry handling; the manager calls it exactly once per
// session.
func NewManager(extractor Extractor, classifier Classifier, gw gateway.Gateway, opts ...Option) *Manager {
	m := &Manager{
		extractor:    extractor,
		classifier:   classifier,
		gw:           gw,
		metrics:      observe.DefaultMetrics(),
		idleTimeout:  defaultIdleTimeout,
		sweepEvery:   defaultSweepEvery,
		retainClosed: defaultRetainClosed,
		now:          time.Now,
		newID:        uuid.NewString,
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSession opens a new conversation for ownerID and returns it in
// its initial state.
func (m *Manager) StartSession(ctx context.Context, ownerID string) *Session {
	now := m.now()
	s := &Session{
		ID:           m.newID(),
		OwnerID:      ownerID,
		State:        StateInit,
		StartedAt:    now,
		LastActivity: now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.metrics.SessionStarted(ctx)
	slog.Info("dialogue: session started", "session", s.ID, "owner", ownerID)
	return s
}

// SubmitUtterance feeds one user utterance into a session and returns
// the assistant's reply. Utterances for the same session serialize;
// different sessions proceed in parallel.
func (m *Manager) SubmitUtterance(ctx context.Context, sessionID, utterance string) (Reply, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return Reply{}, ErrSessionNotFound
	}

	ctx, span := observe.StartSpan(ctx, "dialogue.turn",
		trace.WithAttributes(attribute.String("session", sessionID)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State.Terminal() {
		return Reply{}, ErrSessionClosed
	}

	start := m.now()
	s.Turn++
	s.LastActivity = start

	reply := m.advance(ctx, s, utterance)

	m.metrics.TurnProcessed(ctx, string(s.Intent), string(s.State), m.now().Sub(start))
	if s.State.Terminal() {
		m.metrics.SessionEnded(ctx, string(s.State))
		slog.Info("dialogue: session finished",
			"session", s.ID, "state", s.State, "turns", s.Turn)
	}
	return reply, nil
}

// Tune applies hot-reloaded timing settings. Non-positive values leave
// the current setting untouched. Takes effect on the next sweep.
func (m *Manager) Tune(idleTimeout, retainClosed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idleTimeout > 0 {
		m.idleTimeout = idleTimeout
	}
	if retainClosed > 0 {
		m.retainClosed = retainClosed
	}
	slog.Info("dialogue: timing updated",
		"idle_timeout", m.idleTimeout, "retain_closed", m.retainClosed)
}

// Lookup returns the session with the given id, if it is still held.
func (m *Manager) Lookup(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Run sweeps idle and finished sessions until ctx is cancelled. Idle
// sessions are cancelled in place; terminal sessions are dropped after
// a retention window so clients can still read the final state.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	idle, retain := m.idleTimeout, m.retainClosed
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.mu.Lock()
		switch {
		case !s.State.Terminal() && now.Sub(s.LastActivity) > idle:
			s.State = StateCancelled
			m.metrics.SessionEnded(ctx, "idle_timeout")
			slog.Info("dialogue: session timed out", "session", s.ID, "turns", s.Turn)
		case s.State.Terminal() && now.Sub(s.LastActivity) > retain:
			m.mu.Lock()
			delete(m.sessions, s.ID)
			m.mu.Unlock()
		}
		s.mu.Unlock()
	}
}
