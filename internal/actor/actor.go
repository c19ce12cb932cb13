package actor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/geese/internal/agent"
	"github.com/cartridge/geese/internal/config"
	"github.com/cartridge/geese/internal/env"
	"github.com/cartridge/geese/internal/events"
	"github.com/cartridge/geese/internal/geese"
	"github.com/cartridge/geese/internal/metrics"
	"github.com/cartridge/geese/internal/rollout"
	"github.com/cartridge/geese/internal/storage"
)

// ErrEpisodeTimeout is returned when an episode exceeds its time budget.
var ErrEpisodeTimeout = errors.New("episode timed out")

// minPriority keeps transitions with zero advantage sampleable.
const minPriority = 1e-3

// Actor plays self-play episodes: player 0 is driven by a PPO agent and the
// other geese by the rule-based policy. Transitions go to a rollout buffer.
type Actor struct {
	cfg *config.Config

	game  *env.Env
	solo  *env.SoloEnv
	agent *agent.PPOAgent
	buf   *rollout.Buffer

	publisher events.Publisher
	store     storage.EpisodeStore
	metrics   *metrics.Collector
	logger    zerolog.Logger

	// Episode tracking
	episodeCount     int
	transitionBuffer []*rollout.Transition
	// priorDone carries the done flag of the last step into the next one, so
	// the first move of a new episode is not masked against the old one.
	priorDone []bool
}

// Option customizes an Actor.
type Option func(*Actor)

// WithPublisher sets where episode events are sent.
func WithPublisher(p events.Publisher) Option {
	return func(a *Actor) { a.publisher = p }
}

// WithStore sets where episode summaries are persisted.
func WithStore(s storage.EpisodeStore) Option {
	return func(a *Actor) { a.store = s }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(a *Actor) { a.metrics = m }
}

// WithLogger sets the actor's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Actor) { a.logger = logger }
}

// New creates a new actor instance
func New(cfg *config.Config, game *env.Env, ag *agent.PPOAgent, buf *rollout.Buffer, opts ...Option) *Actor {
	a := &Actor{
		cfg:              cfg,
		game:             game,
		solo:             env.NewSolo(game),
		agent:            ag,
		buf:              buf,
		publisher:        events.NoopPublisher{},
		metrics:          metrics.NewCollector(zerolog.Nop()),
		logger:           zerolog.Nop(),
		transitionBuffer: make([]*rollout.Transition, 0, cfg.BatchSize),
		priorDone:        []bool{false},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("actor_id", cfg.ActorID).Logger()
	return a
}

// Episodes returns the number of completed episodes.
func (a *Actor) Episodes() int {
	return a.episodeCount
}

// Close flushes any remaining transitions
func (a *Actor) Close() error {
	if len(a.transitionBuffer) > 0 {
		if err := a.flushBuffer(context.Background()); err != nil {
			a.logger.Error().Err(err).Msg("Failed to flush buffer on close")
			return err
		}
	}
	return nil
}

// Run plays episodes until MaxEpisodes is reached (nil) or ctx is done
// (ctx.Err()). Failed episodes are logged and skipped.
func (a *Actor) Run(ctx context.Context) error {
	a.logger.Info().Msg("Actor starting main loop")

	for {
		if err := ctx.Err(); err != nil {
			a.logger.Info().Msg("Context cancelled, stopping actor")
			return err
		}
		if a.cfg.MaxEpisodes > 0 && a.episodeCount >= a.cfg.MaxEpisodes {
			a.logger.Info().Int("max_episodes", a.cfg.MaxEpisodes).Msg("Reached maximum episodes, stopping")
			return nil
		}

		if _, err := a.RunEpisode(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			a.logger.Warn().Err(err).Int("episode", a.episodeCount+1).Msg("Episode failed")
			continue
		}

		a.episodeCount++
		if a.episodeCount%10 == 0 {
			a.logger.Info().Int("episodes", a.episodeCount).Msg("Completed episodes")
		}
	}
}

// RunEpisode plays one episode, stores its transitions and reports the result.
// A failed episode leaves nothing pending: its unflushed transitions are
// dropped and the next episode starts unmasked.
func (a *Actor) RunEpisode(ctx context.Context) (summary storage.EpisodeSummary, err error) {
	defer func() {
		if err != nil {
			a.abandonEpisode()
		}
	}()

	episodeCtx, cancel := context.WithTimeout(ctx, a.cfg.EpisodeTimeout)
	defer cancel()

	flushTicker := time.NewTicker(a.cfg.FlushInterval)
	defer flushTicker.Stop()

	summary = storage.EpisodeSummary{
		ID:        uuid.New().String(),
		ActorID:   a.cfg.ActorID,
		StartedAt: time.Now().UTC(),
	}

	obs, err := a.solo.Reset()
	if err != nil {
		return summary, fmt.Errorf("failed to reset game: %w", err)
	}

	prevReward := 0.0
	for step := 0; ; step++ {
		if err := episodeCtx.Err(); err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			a.finishTimedOut(ctx, summary, step)
			return summary, ErrEpisodeTimeout
		}

		actions, values, probs, err := a.agent.Step(episodeCtx, []geese.Observation{obs}, a.cfg.Masked, a.priorDone)
		if err != nil {
			return summary, fmt.Errorf("failed to select action: %w", err)
		}

		next, reward, done, err := a.solo.Step(actions[0])
		if err != nil {
			return summary, fmt.Errorf("failed to step environment: %w", err)
		}

		a.transitionBuffer = append(a.transitionBuffer, &rollout.Transition{
			ActorID:     a.cfg.ActorID,
			EpisodeID:   summary.ID,
			Step:        uint32(step),
			Observation: obs,
			Action:      actions[0],
			Reward:      reward - prevReward,
			Done:        done,
			Value:       values[0],
			Probs:       mat.Row(nil, 0, probs),
		})
		a.priorDone[0] = done
		prevReward = reward
		obs = next

		flush := len(a.transitionBuffer) >= a.cfg.BatchSize || done
		select {
		case <-flushTicker.C:
			flush = true
		default:
		}
		if flush {
			if err := a.flushBuffer(episodeCtx); err != nil {
				return summary, fmt.Errorf("failed to flush buffer: %w", err)
			}
		}

		if done {
			summary.Steps = step + 1
			summary.Reward = reward
			summary.Transitions = step + 1
			break
		}
	}

	summary.Survived = a.game.Game().Alive(0)
	summary.EndedAt = time.Now().UTC()
	summary.Duration = summary.EndedAt.Sub(summary.StartedAt)

	if err := a.prioritize(summary.ID); err != nil {
		a.logger.Warn().Err(err).Str("episode_id", summary.ID).Msg("Failed to update priorities")
	}
	a.report(ctx, summary, false)

	a.logger.Debug().
		Str("episode_id", summary.ID).
		Int("steps", summary.Steps).
		Float64("reward", summary.Reward).
		Bool("survived", summary.Survived).
		Msg("Episode completed")

	return summary, nil
}

func (a *Actor) finishTimedOut(ctx context.Context, summary storage.EpisodeSummary, steps int) {
	summary.Steps = steps
	summary.Transitions = steps
	summary.EndedAt = time.Now().UTC()
	summary.Duration = summary.EndedAt.Sub(summary.StartedAt)
	a.report(ctx, summary, true)
}

func (a *Actor) abandonEpisode() {
	a.priorDone[0] = true
	a.transitionBuffer = a.transitionBuffer[:0]
}

// report publishes the episode event, persists completed episodes and
// records the metric. Sink failures are logged, not returned.
func (a *Actor) report(ctx context.Context, summary storage.EpisodeSummary, timedOut bool) {
	event := events.EpisodeEvent{
		ActorID:     summary.ActorID,
		EpisodeID:   summary.ID,
		Steps:       summary.Steps,
		Reward:      summary.Reward,
		Survived:    summary.Survived,
		TimedOut:    timedOut,
		DurationMS:  summary.Duration.Milliseconds(),
		Transitions: summary.Transitions,
	}
	if err := a.publisher.PublishEpisode(ctx, event); err != nil {
		a.logger.Warn().Err(err).Str("episode_id", summary.ID).Msg("Failed to publish episode event")
	}

	if !timedOut && a.store != nil {
		if err := a.store.SaveEpisode(ctx, summary); err != nil {
			a.logger.Warn().Err(err).Str("episode_id", summary.ID).Msg("Failed to save episode summary")
		}
	}

	a.metrics.EpisodeCompleted(summary.ActorID, summary.ID, summary.Steps, summary.Reward, summary.Duration)
}

// prioritize sets each transition's replay priority to its absolute GAE advantage.
func (a *Actor) prioritize(episodeID string) error {
	trajectory, advantages, _, err := a.buf.EpisodeAdvantages(episodeID, a.cfg.Gamma, a.cfg.GAELambda)
	if err != nil {
		// Evicted before we got here.
		if errors.Is(err, rollout.ErrUnknownEpisode) {
			return nil
		}
		return err
	}
	ids := make([]string, len(trajectory))
	priorities := make([]float64, len(trajectory))
	for i, t := range trajectory {
		ids[i] = t.ID
		priorities[i] = math.Max(math.Abs(advantages[i]), minPriority)
	}
	return a.buf.UpdatePriorities(ids, priorities)
}

// flushBuffer moves accumulated transitions into the rollout buffer
func (a *Actor) flushBuffer(ctx context.Context) error {
	if len(a.transitionBuffer) == 0 {
		return nil
	}

	n := len(a.transitionBuffer)
	if _, err := a.buf.StoreBatch(ctx, a.transitionBuffer); err != nil {
		return fmt.Errorf("failed to store batch: %w", err)
	}
	a.metrics.RolloutFlushed(a.cfg.ActorID, n, uint64(a.buf.Len()))

	// The buffer keeps the pointers, so start a fresh slice.
	a.transitionBuffer = make([]*rollout.Transition, 0, a.cfg.BatchSize)
	return nil
}
