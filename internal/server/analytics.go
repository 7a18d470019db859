// Package server provides a lightweight HTTP status server exposing the
// EventSub manager's connectivity state, subscribed topics, and health for
// an operator or a load balancer probe.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tduva/eventsub-go/internal/constants"
	"github.com/tduva/eventsub-go/internal/logger"
)

// StatusFunc returns a short connectivity summary (e.g. "sessions=2 welcomed=true").
type StatusFunc func() string

// TopicsFunc returns a human-readable list of currently known subscriptions.
type TopicsFunc func() string

// AuditFunc runs a server-side audit and returns the ids of orphaned
// subscriptions, mirroring eventsub.Manager.AuditSubscriptions.
type AuditFunc func(ctx context.Context) ([]string, error)

// StatusServer serves /health and a small JSON status API.
type StatusServer struct {
	addr string
	log  *logger.Logger
	srv  *http.Server

	mu         sync.RWMutex
	statusFunc StatusFunc
	topicsFunc TopicsFunc
	auditFunc  AuditFunc
}

// NewStatusServer creates a StatusServer bound to the given address.
func NewStatusServer(addr string, log *logger.Logger) *StatusServer {
	s := &StatusServer{
		addr: addr,
		log:  log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/topics", s.handleTopics)
	mux.HandleFunc("GET /api/audit", s.handleAudit)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           withLogging(log, mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	return s
}

// SetStatusFunc sets the function used to report connectivity state.
func (s *StatusServer) SetStatusFunc(fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFunc = fn
}

// SetTopicsFunc sets the function used to report the subscribed topic set.
func (s *StatusServer) SetTopicsFunc(fn TopicsFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topicsFunc = fn
}

// SetAuditFunc sets the function used to run a server-side subscription audit.
func (s *StatusServer) SetAuditFunc(fn AuditFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditFunc = fn
}

func (s *StatusServer) status() string {
	s.mu.RLock()
	fn := s.statusFunc
	s.mu.RUnlock()
	if fn == nil {
		return ""
	}
	return fn()
}

func (s *StatusServer) topics() string {
	s.mu.RLock()
	fn := s.topicsFunc
	s.mu.RUnlock()
	if fn == nil {
		return ""
	}
	return fn()
}

func (s *StatusServer) audit(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	fn := s.auditFunc
	s.mu.RUnlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// performing a graceful shutdown when it is.
func (s *StatusServer) Run(ctx context.Context) error {
	s.log.Info("Status server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("status server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func withLogging(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration", time.Since(start).String(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
