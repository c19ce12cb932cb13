package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound indicates the requested episode does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an episode with the same ID was already saved.
	ErrConflict = errors.New("conflict")
)

// EpisodeSummary is the persisted outcome of one self-play episode.
type EpisodeSummary struct {
	ID          string        `json:"id"`
	ActorID     string        `json:"actor_id"`
	Steps       int           `json:"steps"`
	Reward      float64       `json:"reward"`
	Survived    bool          `json:"survived"`
	Transitions int           `json:"transitions"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
}

// EpisodeStore captures the persistence operations self-play relies on.
type EpisodeStore interface {
	SaveEpisode(ctx context.Context, episode EpisodeSummary) error
	GetEpisode(ctx context.Context, id string) (EpisodeSummary, error)
	// ListEpisodes returns the newest episodes first, optionally for one
	// actor. limit <= 0 means no limit.
	ListEpisodes(ctx context.Context, actorID string, limit int) ([]EpisodeSummary, error)
}

// MemoryStore is an in-memory EpisodeStore for development/testing.
type MemoryStore struct {
	mu       sync.RWMutex
	episodes map[string]EpisodeSummary
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		episodes: make(map[string]EpisodeSummary),
	}
}

// SaveEpisode inserts an episode, enforcing uniqueness.
func (m *MemoryStore) SaveEpisode(_ context.Context, episode EpisodeSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.episodes[episode.ID]; exists {
		return ErrConflict
	}
	m.episodes[episode.ID] = episode
	return nil
}

// GetEpisode fetches an episode by ID.
func (m *MemoryStore) GetEpisode(_ context.Context, id string) (EpisodeSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	episode, ok := m.episodes[id]
	if !ok {
		return EpisodeSummary{}, ErrNotFound
	}
	return episode, nil
}

// ListEpisodes implements EpisodeStore.
func (m *MemoryStore) ListEpisodes(_ context.Context, actorID string, limit int) ([]EpisodeSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []EpisodeSummary
	for _, episode := range m.episodes {
		if actorID == "" || episode.ActorID == actorID {
			out = append(out, episode)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndedAt.Equal(out[j].EndedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndedAt.After(out[j].EndedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
