package http

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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cartridge/geese/internal/geese"
	"github.com/cartridge/geese/internal/metrics"
	"github.com/cartridge/geese/internal/middleware"
	"github.com/cartridge/geese/internal/model"
	"github.com/cartridge/geese/internal/storage"
)

const maxObservationBody = 64 * 1024

// Agent is the Kaggle-facing part of an agent.
type Agent interface {
	Act(ctx context.Context, obs geese.KaggleObservation) (string, error)
	Reset()
}

// Reloader is implemented by agents that can swap their model at runtime.
type Reloader interface {
	Load(path string) error
}

// ErrReloadUnsupported is returned by Reload for agents without a Load method.
var ErrReloadUnsupported = errors.New("agent does not support model reload")

// Server exposes an agent as a Kaggle HTTP endpoint. Agents keep per-game
// memory and are not concurrency safe, so requests are serialized.
type Server struct {
	mu      sync.Mutex
	agent   Agent
	store   storage.EpisodeStore
	metrics *metrics.Collector
	logger  *zerolog.Logger
}

// NewServer constructs a Server instance. store may be nil, in which case
// the episode endpoints are not mounted.
func NewServer(agent Agent, store storage.EpisodeStore, collector *metrics.Collector, logger *zerolog.Logger) *Server {
	return &Server{agent: agent, store: store, metrics: collector, logger: logger}
}

// ActResponse is the body returned by the act endpoint.
type ActResponse struct {
	Action string `json:"action"`
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(middleware.RequestLogger(*s.logger))
	r.Use(middleware.Metrics(s.metrics))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/act", s.handleAct)
		r.Post("/reset", s.handleReset)
		if s.store != nil {
			r.Get("/episodes", s.handleListEpisodes)
			r.Get("/episodes/{episodeID}", s.handleGetEpisode)
		}
	})
	return r
}

// Reload swaps the agent's model for the one at path. It waits for any
// in-flight act request to finish.
func (s *Server) Reload(path string) error {
	reloader, ok := s.agent.(Reloader)
	if !ok {
		return ErrReloadUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := reloader.Load(path); err != nil {
		return err
	}
	s.agent.Reset()
	s.logger.Info().Str("path", path).Msg("Model reloaded")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		s.writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxObservationBody)
	defer r.Body.Close()

	var obs geese.KaggleObservation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid observation payload")
		return
	}
	if obs.Index < 0 || obs.Index >= len(obs.Geese) || len(obs.Geese) > geese.MaxPlayers {
		s.writeError(w, http.StatusBadRequest, "observation index out of range")
		return
	}

	start := time.Now()
	s.mu.Lock()
	action, err := s.agent.Act(r.Context(), obs)
	s.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.metrics.ActRequest(obs.Step, action, time.Since(start))

	s.writeJSON(w, http.StatusOK, ActResponse{Action: action})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.agent.Reset()
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	episodes, err := s.store.ListEpisodes(r.Context(), r.URL.Query().Get("actor_id"), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if episodes == nil {
		episodes = []storage.EpisodeSummary{}
	}
	s.writeJSON(w, http.StatusOK, episodes)
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	episode, err := s.store.GetEpisode(r.Context(), chi.URLParam(r, "episodeID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, episode)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrObservationSize), errors.Is(err, model.ErrEmptyBatch):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
