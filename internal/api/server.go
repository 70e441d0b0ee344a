// Package api serves the map list and clan snapshots over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/clanmap/clanmap/internal/model"
	"github.com/clanmap/clanmap/internal/registry"
	"github.com/clanmap/clanmap/pkg/core"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 1000
)

// MapProvider is the read side of the map registry.
type MapProvider interface {
	PublicMapInfo() []core.PublicMapInfo
	ClanDetails(id string) (map[int64]core.ClanDetails, error)
}

// RunHistory lists recorded refresh runs.
type RunHistory interface {
	Runs(ctx context.Context, mapID string, limit int) ([]model.RefreshRun, error)
}

// RunView is a refresh run as delivered to clients
type RunView struct {
	Time           time.Time `json:"time"`
	DurationMs     float32   `json:"durationMs"`
	Pieces         int       `json:"pieces"`
	Clans          int       `json:"clans"`
	Players        int       `json:"players"`
	DroppedPlayers int       `json:"droppedPlayers"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server holds the HTTP handlers.
type Server struct {
	maps      MapProvider
	history   RunHistory
	staticDir string
	log       *slog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithStaticDir serves the frontend from dir.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithHistory enables the runs endpoint.
func WithHistory(h RunHistory) Option {
	return func(s *Server) { s.history = h }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates the handlers for maps.
func NewServer(maps MapProvider, opts ...Option) *Server {
	s := &Server{maps: maps, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthcheck", s.healthcheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/maps", s.listMaps)
		r.Get("/clans/{id}", s.clans)
		if s.history != nil {
			r.Get("/maps/{id}/runs", s.runs)
		}
	})

	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

func (s *Server) healthcheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listMaps(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.maps.PublicMapInfo())
}

func (s *Server) clans(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	details, err := s.maps.ClanDetails(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, details)
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.maps.ClanDetails(id); err != nil {
		s.writeError(w, err)
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.history.Runs(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]RunView, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunView{
			Time:           run.Time,
			DurationMs:     run.DurationMs,
			Pieces:         run.Pieces,
			Clans:          run.Clans,
			Players:        run.Players,
			DroppedPlayers: run.DroppedPlayers,
			Success:        run.Success,
			Error:          run.Error,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, registry.ErrNotFound) {
		status = http.StatusNotFound
	} else {
		s.log.Error("Request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.log.Error("Failed to encode response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
