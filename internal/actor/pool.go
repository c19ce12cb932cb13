package actor

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Pool runs independent actors concurrently. Each actor owns its agent and
// environment; they share only the rollout buffer and downstream sinks.
type Pool struct {
	actors []*Actor
	logger zerolog.Logger
}

// NewPool groups actors into a pool.
func NewPool(actors []*Actor, logger zerolog.Logger) *Pool {
	return &Pool{actors: actors, logger: logger}
}

// Run starts every actor and waits for all of them. The first actor to fail
// cancels the rest; its error is returned. Each actor flushes its pending
// transitions when it stops.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range p.actors {
		a := a
		g.Go(func() error {
			defer a.Close()
			return a.Run(gctx)
		})
	}
	err := g.Wait()

	total := 0
	for _, a := range p.actors {
		total += a.Episodes()
	}
	p.logger.Info().Int("actors", len(p.actors)).Int("episodes", total).Msg("Actor pool stopped")
	return err
}
