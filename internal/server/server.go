// Package server exposes the vault to collaborating users over HTTP: a JSON
// API guarded by bearer tokens, a websocket event stream, and Prometheus
// metrics. The server trusts the identity in a valid token; it performs no
// further identity verification.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pdm-project/pdm/internal/vault"
	"github.com/pdm-project/pdm/pkg/config"
	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/pdm-project/pdm/pkg/logging"
	"github.com/pdm-project/pdm/pkg/metrics"
)

var (
	errInvalidCredentials = errors.New("invalid username or password")
	errInvalidToken       = errors.New("invalid token")
)

// Server is the PDM HTTP API over one vault.
type Server struct {
	vault   *vault.Vault
	auth    *authenticator
	hub     *Hub
	metrics *metrics.Registry
	cfg     *config.Config
	logger  *logging.Logger

	httpServer *http.Server
}

// New wires the API over an opened vault. The hub should be the same
// notifier the vault publishes to, so websocket clients see every mutation.
func New(cfg *config.Config, v *vault.Vault, hub *Hub, reg *metrics.Registry) *Server {
	s := &Server{
		vault:   v,
		auth:    newAuthenticator(cfg.Server),
		hub:     hub,
		metrics: reg,
		cfg:     cfg,
		logger:  logging.WithFields(map[string]any{"component": "server"}),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Router builds the route tree. Exposed for httptest use.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Post("/api/login", s.handleLogin)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			s.metrics.Prometheus(), promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.auth.middleware)

		r.Get("/api/files", s.handleListFiles)
		r.Post("/api/files", s.handleUpload)
		r.Get("/api/locks", s.handleListLocks)
		r.Get("/api/history", s.handleVaultHistory)
		r.Get("/api/audit", s.handleAudit)

		r.Route("/api/files/{name}", func(r chi.Router) {
			r.Put("/", s.handleUpdate)
			r.Delete("/", s.handleDelete)
			r.Post("/checkout", s.handleCheckout)
			r.Post("/checkin", s.handleCheckin)
			r.Get("/history", s.handleFileHistory)
			r.Get("/diff", s.handleDiff)
			r.Get("/blame", s.handleBlame)
			r.Get("/content", s.handleContent)
		})

		r.Get("/ws", s.hub.ServeWS)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", map[string]any{"addr": s.httpServer.Addr})
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.Close()
	return s.httpServer.Shutdown(shutdownCtx)
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// writeError maps the stable error classes onto HTTP status codes. The
// machine-readable code and any detail (such as the current lock owner)
// travel in the body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Code: "E_INTERNAL", Message: "internal error"}

	var pe *errclass.PDMError
	if errors.As(err, &pe) {
		body = errorBody{Code: pe.Code, Message: pe.Message, Detail: pe.Detail}
		switch {
		case errors.Is(pe, errclass.ErrLockConflict),
			errors.Is(pe, errclass.ErrLockNotHeld),
			errors.Is(pe, errclass.ErrResourceExists):
			status = http.StatusConflict
		case errors.Is(pe, errclass.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(pe, errclass.ErrNotAuthorized):
			status = http.StatusForbidden
		case errors.Is(pe, errclass.ErrNameInvalid), errors.Is(pe, errclass.ErrPathEscape):
			status = http.StatusBadRequest
		case errors.Is(pe, errclass.ErrContentTooLarge):
			status = http.StatusRequestEntityTooLarge
		}
	} else {
		s.logger.ErrorErr("request failed", err)
	}

	writeJSON(w, status, map[string]any{"error": body})
}
