package events

import "context"

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishEpisode(ctx context.Context, payload EpisodeEvent) error
}

// EpisodeEvent is emitted when a self-play episode finishes.
type EpisodeEvent struct {
	ActorID     string  `json:"actor_id"`
	EpisodeID   string  `json:"episode_id"`
	Steps       int     `json:"steps"`
	Reward      float64 `json:"reward"`
	Survived    bool    `json:"survived"`
	TimedOut    bool    `json:"timed_out,omitempty"`
	DurationMS  int64   `json:"duration_ms"`
	Transitions int     `json:"transitions"`
}

// NoopPublisher drops every event; useful for tests.
type NoopPublisher struct{}

// PublishEpisode satisfies Publisher.
func (NoopPublisher) PublishEpisode(context.Context, EpisodeEvent) error { return nil }
