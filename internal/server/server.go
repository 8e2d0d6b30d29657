// Package server provides the local HTTP surface of storysync: a REST API
// over the repository for UI collaborators, a WebSocket relay of the event
// bus and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/kimhsiao/storysync/internal/errors"
	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/metrics"
	"github.com/kimhsiao/storysync/internal/story"
	"github.com/kimhsiao/storysync/internal/sync/scheduler"
)

// maxUploadBytes bounds a create-story request.
const maxUploadBytes = 10 << 20

// Config configures the server.
type Config struct {
	Addr           string
	Metrics        bool
	AllowedOrigins []string
	Version        string
}

// Server wraps HTTP routes and dependencies.
type Server struct {
	repo      *story.Repository
	scheduler *scheduler.Scheduler
	hub       *Hub
	cfg       Config
	router    chi.Router
}

// New constructs the server. sched may be nil.
func New(repo *story.Repository, sched *scheduler.Scheduler, cfg Config) *Server {
	s := &Server{
		repo:      repo,
		scheduler: sched,
		hub:       NewHub(cfg.AllowedOrigins),
		cfg:       cfg,
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the configured router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.cfg.Metrics {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	r.Method(http.MethodGet, "/ws", s.hub)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/stories", func(r chi.Router) {
			r.Get("/", s.handleListStories)
			r.Post("/", s.handleAddStory)
			r.Get("/{id}", s.handleGetStory)
		})

		r.Route("/favorites", func(r chi.Router) {
			r.Get("/", s.handleListFavorites)
			r.Post("/", s.handleSaveFavorite)
			r.Delete("/", s.handleClearFavorites)
			r.Post("/toggle", s.handleToggleFavorite)
			r.Get("/export", s.handleExportFavorites)
			r.Post("/import", s.handleImportFavorites)
			r.Get("/{id}", s.handleGetFavorite)
			r.Delete("/{id}", s.handleRemoveFavorite)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleListQueue)
			r.Post("/drain", s.handleDrain)
			r.Post("/retry", s.handleRetryFailed)
			r.Delete("/completed", s.handlePurgeCompleted)
			r.Post("/photos/check", s.handleCheckPhotos)
			r.Delete("/{id}", s.handleRemoveQueueItem)
		})

		r.Get("/photos", s.handlePhoto)

		r.Delete("/cache", s.handleClearCache)
		r.Post("/cache/cleanup", s.handleCleanup)

		r.Get("/network", s.handleGetNetwork)
		r.Put("/network", s.handleSetNetwork)

		r.Get("/scheduler", s.handleSchedulerStatus)
	})

	return r
}

// Run serves HTTP and relays events until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	detach := s.hub.Attach(s.repo.Bus())
	defer detach()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP server listening", map[string]interface{}{"addr": s.cfg.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.Info("HTTP server stopped", nil)
	return nil
}

// requestLogger logs every request through the shared logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}

// response mirrors the story service envelope.
type response struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

func respondError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	respondJSON(w, statusFor(err), response{
		Error:   true,
		Message: apperrors.UserMessage(err),
		Code:    string(code),
	})
}

// statusFor maps an error to the HTTP status returned to local clients.
func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrValidation, apperrors.ErrInvalid, apperrors.ErrCorruptedExport:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrQueueFull:
		return http.StatusInsufficientStorage
	case apperrors.ErrConnectivity:
		return http.StatusServiceUnavailable
	case apperrors.ErrServer:
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Status >= 400 && appErr.Status < 500 {
			return appErr.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.repo.Store().HealthCheck(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"online":  s.repo.Monitor().IsOnline(),
		"version": s.cfg.Version,
	})
}
