// Package server exposes the dialogue manager over HTTP and WebSocket.
//
// Voice frontends are external collaborators; they speak to this boundary
// with plain text utterances and receive the assistant's replies. Two
// surfaces are offered:
//
//   - POST /v1/sessions and POST /v1/sessions/{sessionID}/utterances for
//     request/response clients.
//   - GET /v1/stream for WebSocket clients that want to hold one connection
//     per conversation.
//
// Operational endpoints (/healthz, /readyz, /metrics) ride on the same mux.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Gymmando/gymmando/internal/dialogue"
	"github.com/Gymmando/gymmando/internal/health"
	"github.com/Gymmando/gymmando/internal/observe"
)

const (
	defaultAddr         = ":8080"
	readHeaderTimeout   = 5 * time.Second
	maxUtteranceLength  = 4096
	shutdownGracePeriod = 10 * time.Second
)

// Server serves the session API. Construct with [New], start with
// [Server.ListenAndServe], stop with [Server.Shutdown].
type Server struct {
	mgr     *dialogue.Manager
	metrics *observe.Metrics
	health  *health.Handler

	addr     string
	certFile string
	keyFile  string

	httpSrv *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. The default is ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithTLS enables HTTPS with the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithMetrics attaches instrument recording to the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheckers registers readiness checks served under /readyz.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.health = health.New(checkers...) }
}

// New builds a Server around the given dialogue manager.
func New(mgr *dialogue.Manager, opts ...Option) *Server {
	s := &Server{
		mgr:     mgr,
		metrics: observe.DefaultMetrics(),
		health:  health.New(),
		addr:    defaultAddr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the full route tree wrapped in the observability
// middleware. Exposed for tests and for embedding under another mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleStartSession)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/utterances", s.handleUtterance)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe blocks serving requests until ctx is cancelled or the
// listener fails. On cancellation the server drains in-flight requests
// for a grace period before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" {
			err = s.httpSrv.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("server: listening", "addr", s.addr, "tls", s.certFile != "")

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen on %s: %w", s.addr, err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains the HTTP server. Safe to call when the server never
// started.
func (s *Server) Shutdown() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

type startSessionRequest struct {
	OwnerID string `json:"owner_id"`
	Text    string `json:"text"`
}

type utteranceRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	sess := s.mgr.StartSession(r.Context(), req.OwnerID)
	if req.Text == "" {
		// Without an opening utterance the reply just names the session.
		writeJSON(w, http.StatusCreated, dialogue.Reply{
			SessionID: sess.ID,
			State:     sess.State,
			Text:      "Hi! Tell me about your workout.",
		})
		return
	}

	reply, err := s.mgr.SubmitUtterance(r.Context(), sess.ID, req.Text)
	if err != nil {
		writeDialogueError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	var req utteranceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	reply, err := s.mgr.SubmitUtterance(r.Context(), sessionID, req.Text)
	if err != nil {
		writeDialogueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// decodeBody reads a small JSON body, rejecting unknown fields and
// oversized payloads.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUtteranceLength))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeDialogueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dialogue.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, dialogue.ErrSessionClosed):
		writeError(w, http.StatusConflict, "session is finished")
	default:
		slog.Error("server: utterance failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: encode response", "err", err)
	}
}
