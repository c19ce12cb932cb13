package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/cartridge/geese/internal/agent"
	"github.com/cartridge/geese/internal/config"
	"github.com/cartridge/geese/internal/inference"
	"github.com/cartridge/geese/internal/model"
	"github.com/cartridge/geese/internal/storage"
)

func onnxOptions(cfg *config.Config) model.ONNXOptions {
	opts := model.DefaultONNXOptions()
	opts.LibraryPath = cfg.ONNXLibraryPath
	opts.MaxBatch = cfg.MaxBatch
	return opts
}

// openModel builds the configured backend.
func openModel(cfg *config.Config) (model.Model, error) {
	switch cfg.ModelBackend {
	case config.BackendONNX:
		m, err := model.LoadONNX(cfg.ModelPath, onnxOptions(cfg), logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.BackendRemote:
		c, err := inference.Dial(cfg.InferenceAddr)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendUniform:
		return model.NewUniform(), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.ModelBackend)
	}
}

// newAgent wraps m in a PPO agent. seed 0 means time seeded; worker offsets
// the seed so parallel actors do not sample identical streams.
func newAgent(cfg *config.Config, m model.Model, worker int) *agent.PPOAgent {
	return agent.New(m,
		agent.WithRand(newRand(cfg.Seed, worker)),
		agent.WithLoader(model.ONNXLoader(onnxOptions(cfg), logger)),
		agent.WithLogger(logger),
	)
}

func newRand(seed int64, offset int) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed + int64(offset)))
}

// openStore returns the Postgres store when a database URL is configured.
func openStore(ctx context.Context, cfg *config.Config) (storage.EpisodeStore, func(), error) {
	if cfg.DatabaseURL == "" {
		return storage.NewMemoryStore(), func() {}, nil
	}
	store, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database")
		}
	}, nil
}

func closeModel(m model.Model) {
	if closer, ok := m.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close model")
		}
	}
}
