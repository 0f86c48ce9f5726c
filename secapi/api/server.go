// Package api exposes the scan service over HTTP: scan submission and
// retrieval, account registration, API key reset, and health.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/secapi/go-api/secapi/config"
	"github.com/secapi/go-api/secapi/queue"
	"github.com/secapi/go-api/secapi/scanjob"
	"github.com/secapi/go-api/secapi/scanner"
	"github.com/secapi/go-api/secapi/user"
)

// Server binds the HTTP surface to the job repository, account service, and
// queue publisher.
type Server struct {
	cfg   *config.Config
	jobs  *scanjob.Repository
	users *user.Service
	pub   queue.Publisher
	mux   *http.ServeMux

	// newScanner builds per-request scanner instances for submit-time
	// validation. Swappable in tests.
	newScanner func(kind string) (scanner.Scanner, error)
}

func New(cfg *config.Config, jobs *scanjob.Repository, users *user.Service, pub queue.Publisher) *Server {
	s := &Server{
		cfg:   cfg,
		jobs:  jobs,
		users: users,
		pub:   pub,
		mux:   http.NewServeMux(),
	}
	s.newScanner = func(kind string) (scanner.Scanner, error) {
		sc, err := scanner.New(kind, cfg.Scan.Timeout)
		if err != nil {
			return nil, err
		}
		if t, ok := sc.(*scanner.Trivy); ok && len(cfg.Scan.AllowedRegistries) > 0 {
			t.WithAllowedRegistries(cfg.Scan.AllowedRegistries)
		}
		return sc, nil
	}
	s.registerRoutes()
	return s
}

// Handler returns the full middleware-wrapped handler chain.
func (s *Server) Handler() http.Handler {
	return recoveryMiddleware(securityHeaders(loggingMiddleware(s.mux)))
}

func (s *Server) ListenAndServe() error {
	addr := s.cfg.Addr()
	slog.Info("starting server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes() {
	// Scans
	s.mux.HandleFunc("POST /api/v1/scan", s.requireAuth(s.handleSubmitScan))
	s.mux.HandleFunc("GET /api/v1/scan", s.requireAuth(s.handleListScans))
	s.mux.HandleFunc("GET /api/v1/scan/{id}", s.requireAuth(s.handleGetScan))
	s.mux.HandleFunc("GET /api/v1/scan/{id}/events", s.requireAuth(s.handleScanEvents))
	s.mux.HandleFunc("DELETE /api/v1/scan/{id}", s.requireAuth(s.handleDeleteScan))

	// Accounts
	s.mux.HandleFunc("POST /api/v1/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/v1/auth/reset-request", s.handleResetRequest)
	s.mux.HandleFunc("POST /api/v1/auth/reset-confirm", s.handleResetConfirm)

	// Health
	s.mux.HandleFunc("GET /health", s.handleHealth)
}
