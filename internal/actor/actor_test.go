package actor

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/geese/internal/agent"
	"github.com/cartridge/geese/internal/config"
	"github.com/cartridge/geese/internal/env"
	"github.com/cartridge/geese/internal/events"
	"github.com/cartridge/geese/internal/geese"
	"github.com/cartridge/geese/internal/model"
	"github.com/cartridge/geese/internal/rollout"
	"github.com/cartridge/geese/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.EpisodeEvent
}

func (r *recordingPublisher) PublishEpisode(_ context.Context, e events.EpisodeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// flakyModel always picks SOUTH until its failAt-th call fails, then
// always picks NORTH.
type flakyModel struct {
	model.UniformModel
	calls  int
	failAt int
}

func (f *flakyModel) Predict(ctx context.Context, batch []geese.Observation) (*mat.Dense, []float64, error) {
	f.calls++
	if f.calls == f.failAt {
		return nil, nil, errors.New("transient inference failure")
	}
	action := geese.South
	if f.calls > f.failAt {
		action = geese.North
	}
	probs := mat.NewDense(len(batch), geese.NumActions, nil)
	for i := range batch {
		probs.Set(i, int(action), 1)
	}
	return probs, make([]float64, len(batch)), nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.BatchSize = 8
	cfg.MaxEpisodes = 2
	cfg.EpisodeTimeout = 10 * time.Second
	return cfg
}

func newTestActor(t *testing.T, cfg *config.Config, seed int64, buf *rollout.Buffer, opts ...Option) *Actor {
	t.Helper()
	e, err := env.New(geese.DefaultGameConfig(), rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	ag := agent.New(model.NewUniform(), agent.WithRand(rand.New(rand.NewSource(seed+100))))
	return New(cfg, e, ag, buf, opts...)
}

func TestActor_RunEpisodeStoresTrajectory(t *testing.T) {
	buf := rollout.NewBuffer(0, rand.New(rand.NewSource(1)))
	pub := &recordingPublisher{}
	store := storage.NewMemoryStore()
	a := newTestActor(t, testConfig(), 7, buf, WithPublisher(pub), WithStore(store))

	summary, err := a.RunEpisode(context.Background())
	require.NoError(t, err)
	require.Greater(t, summary.Steps, 0)
	assert.Equal(t, summary.Steps, buf.Len())

	trajectory, err := buf.Episode(summary.ID)
	require.NoError(t, err)
	require.Len(t, trajectory, summary.Steps)

	total := 0.0
	for i, tr := range trajectory {
		assert.Equal(t, uint32(i), tr.Step)
		assert.Equal(t, "actor-1", tr.ActorID)
		assert.Len(t, tr.Observation, geese.ObservationSize)
		assert.Len(t, tr.Probs, geese.NumActions)
		assert.Equal(t, i == len(trajectory)-1, tr.Done)
		total += tr.Reward
	}
	// Per-step rewards add up to the final environment reward.
	assert.InDelta(t, summary.Reward, total, 1e-9)

	require.Len(t, pub.events, 1)
	assert.Equal(t, summary.ID, pub.events[0].EpisodeID)
	assert.False(t, pub.events[0].TimedOut)

	saved, err := store.GetEpisode(context.Background(), summary.ID)
	require.NoError(t, err)
	assert.Equal(t, summary.Steps, saved.Steps)
}

func TestActor_MaskedEpisodeNeverReverses(t *testing.T) {
	buf := rollout.NewBuffer(0, rand.New(rand.NewSource(1)))
	a := newTestActor(t, testConfig(), 11, buf)

	for i := 0; i < 3; i++ {
		summary, err := a.RunEpisode(context.Background())
		require.NoError(t, err)

		trajectory, err := buf.Episode(summary.ID)
		require.NoError(t, err)
		for j := 1; j < len(trajectory); j++ {
			reverse, err := geese.Reverse(trajectory[j-1].Action)
			require.NoError(t, err)
			assert.NotEqual(t, reverse, trajectory[j].Action, "step %d reversed", j)
		}
	}
}

func TestActor_PrioritiesFollowAdvantages(t *testing.T) {
	buf := rollout.NewBuffer(0, rand.New(rand.NewSource(1)))
	cfg := testConfig()
	a := newTestActor(t, cfg, 3, buf)

	summary, err := a.RunEpisode(context.Background())
	require.NoError(t, err)

	trajectory, advantages, _, err := buf.EpisodeAdvantages(summary.ID, cfg.Gamma, cfg.GAELambda)
	require.NoError(t, err)
	for i, tr := range trajectory {
		assert.InDelta(t, math.Max(math.Abs(advantages[i]), minPriority), tr.Priority, 1e-12)
	}
}

func TestActor_RunStopsAtMaxEpisodes(t *testing.T) {
	buf := rollout.NewBuffer(0, rand.New(rand.NewSource(1)))
	store := storage.NewMemoryStore()
	a := newTestActor(t, testConfig(), 5, buf, WithStore(store))

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 2, a.Episodes())

	episodes, err := store.ListEpisodes(context.Background(), "actor-1", 0)
	require.NoError(t, err)
	assert.Len(t, episodes, 2)
	require.NoError(t, a.Close())
}

func TestActor_RunCancelled(t *testing.T) {
	buf := rollout.NewBuffer(0, rand.New(rand.NewSource(1)))
	cfg := testConfig()
	cfg.MaxEpisodes = -1
	a := newTestActor(t, cfg, 5, buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Run(ctx), context.Canceled)
	assert.Equal(t, 0, a.Episodes())
}

func TestActor_EpisodeTimeout(t *testing.T) {
	buf := rollout.NewBuffer(0, rand.New(rand.NewSource(1)))
	pub := &recordingPublisher{}
	store := storage.NewMemoryStore()
	cfg := testConfig()
	cfg.EpisodeTimeout = -time.Second
	a := newTestActor(t, cfg, 5, buf, WithPublisher(pub), WithStore(store))

	_, err := a.RunEpisode(context.Background())
	assert.ErrorIs(t, err, ErrEpisodeTimeout)

	require.Len(t, pub.events, 1)
	assert.True(t, pub.events[0].TimedOut)

	episodes, err := store.ListEpisodes(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestActor_FailedEpisodeLeavesNothingPending(t *testing.T) {
	buf := rollout.NewBuffer(0, rand.New(rand.NewSource(1)))
	pub := &recordingPublisher{}
	cfg := testConfig()
	// A lone goose moving in a straight line cannot die within a few steps.
	gameCfg := geese.DefaultGameConfig()
	gameCfg.NumPlayers = 1
	e, err := env.New(gameCfg, rand.New(rand.NewSource(4)))
	require.NoError(t, err)
	m := &flakyModel{failAt: 3}
	ag := agent.New(m, agent.WithRand(rand.New(rand.NewSource(104))))
	a := New(cfg, e, ag, buf, WithPublisher(pub))

	_, err = a.RunEpisode(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient inference failure")
	assert.Equal(t, []geese.Action{geese.South}, ag.LastActions())

	assert.Empty(t, a.transitionBuffer)
	assert.Equal(t, []bool{true}, a.priorDone)
	require.NoError(t, a.Close())
	assert.Equal(t, 0, buf.Len())
	assert.Empty(t, pub.events)

	// The first move of the next episode is not masked against SOUTH.
	summary, err := a.RunEpisode(context.Background())
	require.NoError(t, err)
	trajectory, err := buf.Episode(summary.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trajectory)
	assert.Equal(t, geese.North, trajectory[0].Action)
	assert.True(t, trajectory[len(trajectory)-1].Done)
}

func TestActor_FlushesOnBatchSize(t *testing.T) {
	buf := rollout.NewBuffer(0, rand.New(rand.NewSource(1)))
	cfg := testConfig()
	cfg.BatchSize = 1
	a := newTestActor(t, cfg, 9, buf)

	summary, err := a.RunEpisode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, summary.Steps, buf.Len())
	assert.Empty(t, a.transitionBuffer)
}

func TestPool_RunsAllActors(t *testing.T) {
	buf := rollout.NewBuffer(0, rand.New(rand.NewSource(1)))
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}

	var actors []*Actor
	for i := 0; i < 3; i++ {
		cfg := testConfig()
		cfg.MaxEpisodes = 1
		cfg.ActorID = []string{"actor-a", "actor-b", "actor-c"}[i]
		actors = append(actors, newTestActor(t, cfg, int64(20+i), buf, WithStore(store), WithPublisher(pub)))
	}

	require.NoError(t, NewPool(actors, zerolog.Nop()).Run(context.Background()))

	episodes, err := store.ListEpisodes(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, episodes, 3)
	assert.Len(t, pub.events, 3)

	stats := buf.Stats("")
	assert.Len(t, stats.TransitionsByActor, 3)
}
