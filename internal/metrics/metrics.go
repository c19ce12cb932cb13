package metrics

import (
	"time"

	"github.com/rs/zerolog"
)

// Collector emits metric events as structured log lines.
type Collector struct {
	logger zerolog.Logger
}

func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// Track finished self-play episodes
func (c *Collector) EpisodeCompleted(actorID, episodeID string, steps int, reward float64, duration time.Duration) {
	c.logger.Info().
		Str("metric", "episode_completed").
		Str("actor_id", actorID).
		Str("episode_id", episodeID).
		Int("steps", steps).
		Float64("reward", reward).
		Dur("duration", duration).
		Msg("Episode metric")
}

// Track model inference batches
func (c *Collector) InferenceBatch(size int, latency time.Duration) {
	c.logger.Debug().
		Str("metric", "inference_batch").
		Int("batch_size", size).
		Dur("latency", latency).
		Msg("Inference metric")
}

// Track Kaggle agent requests
func (c *Collector) ActRequest(step int, action string, latency time.Duration) {
	c.logger.Info().
		Str("metric", "act_request").
		Int("step", step).
		Str("action", action).
		Dur("latency", latency).
		Msg("Act request metric")
}

// Track rollout buffer flushes
func (c *Collector) RolloutFlushed(actorID string, transitions int, total uint64) {
	c.logger.Info().
		Str("metric", "rollout_flushed").
		Str("actor_id", actorID).
		Int("transitions", transitions).
		Uint64("buffer_total", total).
		Msg("Rollout metric")
}

// Track HTTP API requests
func (c *Collector) APIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	c.logger.Info().
		Str("metric", "api_request").
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Dur("duration", duration).
		Msg("API request metric")
}
