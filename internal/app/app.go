// Package app wires all Gymmando subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the serving loops, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithGateway,
// WithClassifier). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/Gymmando/gymmando/internal/config"
	"github.com/Gymmando/gymmando/internal/dialogue"
	"github.com/Gymmando/gymmando/internal/extract"
	"github.com/Gymmando/gymmando/internal/gateway"
	"github.com/Gymmando/gymmando/internal/health"
	"github.com/Gymmando/gymmando/internal/server"
	"github.com/Gymmando/gymmando/pkg/provider/llm"
)

// App owns all subsystem lifetimes: the storage pool, the dialogue manager
// and its janitor, and the HTTP/WebSocket server.
type App struct {
	cfg *config.Config

	pool       *pgxpool.Pool
	gw         gateway.Gateway
	extractor  dialogue.Extractor
	classifier dialogue.Classifier
	mgr        *dialogue.Manager
	srv        *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGateway injects a storage gateway instead of connecting to PostgreSQL.
func WithGateway(gw gateway.Gateway) Option {
	return func(a *App) { a.gw = gw }
}

// WithExtractor injects a field extractor instead of building one from the
// LLM provider.
func WithExtractor(e dialogue.Extractor) Option {
	return func(a *App) { a.extractor = e }
}

// WithClassifier injects an intent classifier instead of the rule-based one.
func WithClassifier(c dialogue.Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// New creates an App by wiring all subsystems together. The provider comes
// from main (populated via the config registry); it may be nil only when an
// extractor is injected.
func New(ctx context.Context, cfg *config.Config, provider llm.Provider, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	if err := a.initDialogue(provider); err != nil {
		return nil, fmt.Errorf("app: init dialogue: %w", err)
	}
	a.initServer()

	return a, nil
}

// initStorage connects the PostgreSQL pool and builds the retry-wrapped
// commit gateway, unless a gateway was injected.
func (a *App) initStorage(ctx context.Context) error {
	if a.gw != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("storage.postgres_dsn is required when no gateway is injected")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	if a.cfg.Storage.MaxConns > 0 {
		poolCfg.MaxConns = int32(a.cfg.Storage.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	pg := gateway.NewPostgres(pool)
	if a.cfg.Storage.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		slog.Info("storage schema migrated")
	}

	a.gw = gateway.NewRetry(pg, gateway.RetryConfig{
		Attempts: a.cfg.Dialogue.CommitAttempts,
	})
	return nil
}

// initDialogue builds the extractor, classifier, and session manager.
func (a *App) initDialogue(provider llm.Provider) error {
	if a.extractor == nil {
		if provider == nil {
			return fmt.Errorf("an LLM provider is required when no extractor is injected")
		}
		opts := []extract.Option{
			extract.WithProviderName(a.cfg.Providers.LLM.Name),
		}
		if n := a.cfg.Dialogue.MaxExtractTokens; n > 0 {
			opts = append(opts, extract.WithMaxTokens(n))
		}
		a.extractor = extract.NewExtractor(provider, opts...)
	}
	if a.classifier == nil {
		a.classifier = extract.NewRuleClassifier()
	}

	a.mgr = dialogue.NewManager(a.extractor, a.classifier, a.gw,
		dialogue.WithIdleTimeout(a.cfg.Dialogue.IdleTimeout),
	)
	return nil
}

// initServer builds the HTTP server with readiness checks for the
// dependencies the app owns.
func (a *App) initServer() {
	var checkers []health.Checker
	if a.pool != nil {
		pool := a.pool
		checkers = append(checkers, health.Checker{
			Name:  "database",
			Check: func(ctx context.Context) error { return pool.Ping(ctx) },
		})
	}

	opts := []server.Option{
		server.WithAddr(a.cfg.Server.ListenAddr),
		server.WithHealthCheckers(checkers...),
	}
	if tls := a.cfg.Server.TLS; tls != nil {
		opts = append(opts, server.WithTLS(tls.CertFile, tls.KeyFile))
	}
	a.srv = server.New(a.mgr, opts...)
}

// Manager exposes the dialogue manager, for embedding the app behind other
// transports.
func (a *App) Manager() *dialogue.Manager {
	return a.mgr
}

// Run starts the session janitor and the HTTP server, blocking until ctx is
// cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.mgr.Run(ctx)
	})
	g.Go(func() error {
		return a.srv.ListenAndServe(ctx)
	})

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	return g.Wait()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting requests first.
		if a.srv != nil {
			if err := a.srv.Shutdown(); err != nil {
				slog.Warn("server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
