// Package server exposes the dispatch gateway over HTTP.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	waLog "go.mau.fi/whatsmeow/util/log"

	"dispatch-gateway/internal/data/store"
	"dispatch-gateway/internal/dispatch"
	"dispatch-gateway/internal/infra/config"
	"dispatch-gateway/internal/session"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Gateway is the dispatch facade the handlers call.
type Gateway interface {
	Dispatch(ctx context.Context, req dispatch.Request, kind dispatch.Kind) *dispatch.Response
	Status(ctx context.Context) *dispatch.StatusResponse
}

// SessionView reports session state without side effects.
type SessionView interface {
	Status() session.Status
}

// DispatchLister lists recent dispatch log entries.
type DispatchLister interface {
	Recent(ctx context.Context, limit int) ([]store.Dispatch, error)
}

// Server is the gateway's HTTP server.
type Server struct {
	cfg        config.HTTPConfig
	router     *chi.Mux
	http       *http.Server
	gateway    Gateway
	session    SessionView    // nil when the session transport is disabled
	dispatches DispatchLister // nil when the dispatch log is unavailable
	log        waLog.Logger
}

// New creates a Server with middleware and routes configured.
func New(cfg config.HTTPConfig, gw Gateway, sess SessionView, dispatches DispatchLister, log waLog.Logger) *Server {
	r := chi.NewRouter()
	s := &Server{
		cfg:        cfg,
		router:     r,
		gateway:    gw,
		session:    sess,
		dispatches: dispatches,
		log:        log.Sub("HTTP"),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/send-whatsapp", s.handleDispatch(dispatch.KindAPIKey))

		r.Route("/whatsapp", func(r chi.Router) {
			r.Post("/", s.handleDispatch(dispatch.KindSession))
			r.Get("/", s.handleStatus)
			r.Get("/qr.png", s.handleQRImage)
		})

		r.Get("/dispatches", s.handleListDispatches)
	})

	return s
}

// Router returns the configured router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start listens on the configured address. It closes ready (when non-nil)
// once the listener is bound, then blocks serving requests. After Shutdown
// it returns nil without serving.
func (s *Server) Start(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.log.Infof("Listening on %s", ln.Addr())
	if ready != nil {
		close(ready)
	}

	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := time.Duration(s.cfg.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.log.Infof("Shutting down (timeout %s)", timeout)
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "disabled"
	if s.session != nil {
		state = s.session.Status().State.String()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "session": state})
}

func (s *Server) handleDispatch(kind dispatch.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dispatch.Request
		if !decodeJSON(w, r, &req) {
			return
		}
		resp := s.gateway.Dispatch(r.Context(), req, kind)
		writeJSON(w, resp.Status, resp)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := s.gateway.Status(r.Context())
	writeJSON(w, resp.Status, resp)
}

func (s *Server) handleQRImage(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		http.NotFound(w, r)
		return
	}
	st := s.session.Status()
	if st.Artifact == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(st.Artifact.Image)
}

func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	if s.dispatches == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dispatch log unavailable"})
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	entries, err := s.dispatches.Recent(r.Context(), limit)
	if err != nil {
		s.log.Errorf("Failed to list dispatches: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list dispatches"})
		return
	}
	if entries == nil {
		entries = []store.Dispatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}
