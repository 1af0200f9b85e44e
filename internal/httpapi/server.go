// Package httpapi exposes the panel's slides and rotation controls to renderers over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johnrirwin/newspanel/internal/ingest"
	"github.com/johnrirwin/newspanel/internal/logging"
	"github.com/johnrirwin/newspanel/internal/models"
)

// SlideSource provides the display set being shown.
type SlideSource interface {
	Snapshot() models.DisplaySet
}

// Rotator is the part of the scheduler a renderer may drive.
type Rotator interface {
	State() models.RotationState
	Interrupt(reason string)
	Restart()
	Pause()
	Resume()
	Select(i int) bool
	RefreshNow(ctx context.Context) error
}

type Options struct {
	// ArtifactDir is served under /qrcodes/ when set.
	ArtifactDir         string
	EnableManualRefresh bool
}

type Server struct {
	slides  SlideSource
	rotator Rotator
	opts    Options
	logger  *logging.Logger
	router  chi.Router

	mu       sync.Mutex
	server   *http.Server
	shutdown bool
}

func New(slides SlideSource, rotator Rotator, opts Options, logger *logging.Logger) *Server {
	s := &Server{
		slides:  slides,
		rotator: rotator,
		opts:    opts,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/slides", s.handleGetSlides)
		r.Get("/slides/current", s.handleGetCurrent)

		r.Route("/rotation", func(r chi.Router) {
			r.Get("/", s.handleGetRotation)
			r.Post("/interrupt", s.handleInterrupt)
			r.Post("/restart", s.handleRestart)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/select/{index}", s.handleSelect)
		})

		if s.opts.EnableManualRefresh {
			r.Post("/refresh", s.handleRefresh)
		}
	})

	if s.opts.ArtifactDir != "" {
		r.Handle("/qrcodes/*", http.StripPrefix("/qrcodes/", http.FileServer(http.Dir(s.opts.ArtifactDir))))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving on addr. After Shutdown it returns http.ErrServerClosed.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("HTTP API server starting", logging.WithField("addr", addr))
	return srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetSlides(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, models.SlidesResponse{
		Set:      s.slides.Snapshot(),
		Rotation: s.rotator.State(),
	})
}

func (s *Server) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	set := s.slides.Snapshot()
	state := s.rotator.State()
	if set.Len() == 0 {
		s.writeError(w, http.StatusNotFound, "no_slides", "no slides available yet")
		return
	}

	index := state.Index
	if index >= set.Len() {
		index = set.Len() - 1
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"item":     set.Items[index],
		"rotation": state,
		"version":  set.Version,
	})
}

func (s *Server) handleGetRotation(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rotator.State())
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = "client"
	}
	s.rotator.Interrupt(reason)
	s.writeJSON(w, http.StatusAccepted, s.rotator.State())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.rotator.Restart()
	s.writeJSON(w, http.StatusOK, s.rotator.State())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.rotator.Pause()
	s.writeJSON(w, http.StatusOK, s.rotator.State())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.rotator.Resume()
	s.writeJSON(w, http.StatusOK, s.rotator.State())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_index", "index must be an integer")
		return
	}
	if !s.rotator.Select(index) {
		s.writeError(w, http.StatusConflict, "no_slides", "no slides available yet")
		return
	}
	s.writeJSON(w, http.StatusOK, s.rotator.State())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	if err := s.rotator.RefreshNow(ctx); err != nil {
		s.logger.Error("Failed to refresh feed", logging.WithField("error", err.Error()))
		status := http.StatusInternalServerError
		if errors.Is(err, ingest.ErrFetch) {
			status = http.StatusBadGateway
		}
		s.writeError(w, status, "refresh_failed", err.Error())
		return
	}

	set := s.slides.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"items":   set.Len(),
		"version": set.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
