package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cartridge/geese/internal/actor"
	"github.com/cartridge/geese/internal/agent"
	"github.com/cartridge/geese/internal/config"
	"github.com/cartridge/geese/internal/env"
	"github.com/cartridge/geese/internal/events"
	"github.com/cartridge/geese/internal/geese"
	"github.com/cartridge/geese/internal/metrics"
	"github.com/cartridge/geese/internal/rollout"
)

var selfplayCmd = &cobra.Command{
	Use:   "selfplay",
	Short: "Play episodes against rule-based geese and collect rollouts",
	RunE:  runSelfplay,
}

func init() {
	d := config.Default()
	f := selfplayCmd.Flags()

	// Actor settings
	f.String("actor-id", d.ActorID, "Actor identifier prefix")
	f.Int("workers", d.Workers, "Number of parallel actors")
	f.Bool("masked", d.Masked, "Forbid reversing the previous move")
	f.Int64("seed", d.Seed, "Random seed (0 for time based)")

	// Game and episode settings
	f.Int("num-players", d.NumPlayers, "Geese per game")
	f.Int("max-steps", d.MaxSteps, "Steps per game")
	f.Int("max-episodes", d.MaxEpisodes, "Episodes per actor (-1 for unlimited)")
	f.Duration("episode-timeout", d.EpisodeTimeout, "Timeout per episode")

	// Rollout settings
	f.Uint64("rollout-capacity", d.RolloutCapacity, "Transitions kept in the rollout buffer")
	f.Int("batch-size", d.BatchSize, "Transitions per flush")
	f.Duration("flush-interval", d.FlushInterval, "Interval to flush partial batches")
	f.Float64("gamma", d.Gamma, "Discount factor")
	f.Float64("gae-lambda", d.GAELambda, "GAE lambda")
	f.String("checkpoint-path", d.CheckpointPath, "Where to save the model when self-play ends")

	// Event stream
	f.String("nats-url", d.NATSURL, "NATS server URL for episode events")
	f.String("nats-subject", d.NATSSubject, "NATS subject for episode events")
}

func runSelfplay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := openModel(cfg)
	if err != nil {
		return fmt.Errorf("failed to open model: %w", err)
	}
	defer closeModel(m)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open episode store: %w", err)
	}
	defer closeStore()

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nats.Close()
		publisher = nats
	}

	collector := metrics.NewCollector(logger)
	buf := rollout.NewBuffer(cfg.RolloutCapacity, newRand(cfg.Seed, -1))

	gameCfg := geese.DefaultGameConfig()
	gameCfg.NumPlayers = cfg.NumPlayers
	gameCfg.MaxSteps = cfg.MaxSteps

	actors := make([]*actor.Actor, cfg.Workers)
	var first *agent.PPOAgent
	for i := range actors {
		workerCfg := *cfg
		if cfg.Workers > 1 {
			workerCfg.ActorID = fmt.Sprintf("%s-%d", cfg.ActorID, i)
		}
		e, err := env.New(gameCfg, newRand(cfg.Seed, 1000+i))
		if err != nil {
			return fmt.Errorf("failed to create environment: %w", err)
		}
		ag := newAgent(cfg, m, i)
		if first == nil {
			first = ag
		}
		actors[i] = actor.New(&workerCfg, e, ag, buf,
			actor.WithPublisher(publisher),
			actor.WithStore(store),
			actor.WithMetrics(collector),
			actor.WithLogger(logger),
		)
	}

	logger.Info().
		Int("workers", cfg.Workers).
		Str("model_backend", cfg.ModelBackend).
		Bool("masked", cfg.Masked).
		Msg("Starting self-play")

	err = actor.NewPool(actors, logger).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("self-play failed: %w", err)
	}

	stats := buf.Stats("")
	logger.Info().
		Uint64("transitions", stats.TotalTransitions).
		Uint64("episodes", stats.TotalEpisodes).
		Msg("Self-play stopped")

	if cfg.CheckpointPath != "" {
		if err := first.Save(cfg.CheckpointPath); err != nil {
			return err
		}
	}
	return nil
}
