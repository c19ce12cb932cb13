package rollout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGAE_MonteCarloWhenLambdaOne(t *testing.T) {
	trajectory := []*Transition{
		{Reward: 1, Value: 0.5},
		{Reward: 0, Value: 0.2},
		{Reward: 2, Value: 0.1, Done: true},
	}

	advantages, returns, err := GAE(trajectory, 99, 0.5, 1.0)
	require.NoError(t, err)

	// Discounted returns: 2, 0 + 0.5*2 = 1, 1 + 0.5*1 = 1.5. Bootstrap is
	// ignored after a terminal transition.
	assert.InDeltaSlice(t, []float64{1.5, 1, 2}, returns, 1e-12)
	assert.InDeltaSlice(t, []float64{1.0, 0.8, 1.9}, advantages, 1e-12)
}

func TestGAE_OneStepWhenLambdaZero(t *testing.T) {
	trajectory := []*Transition{
		{Reward: 1, Value: 0.5},
		{Reward: 1, Value: 0.25},
	}

	advantages, _, err := GAE(trajectory, 1.0, 0.9, 0)
	require.NoError(t, err)

	// delta_t = r + gamma*V(next) - V(t)
	assert.InDeltaSlice(t, []float64{1 + 0.9*0.25 - 0.5, 1 + 0.9*1.0 - 0.25}, advantages, 1e-12)
}

func TestGAE_InvalidDiscount(t *testing.T) {
	_, _, err := GAE(nil, 0, 1.5, 0.9)
	assert.ErrorIs(t, err, ErrDiscount)

	_, _, err = GAE(nil, 0, 0.9, -0.1)
	assert.ErrorIs(t, err, ErrDiscount)
}

func TestBuffer_EpisodeAdvantages(t *testing.T) {
	buf := newTestBuffer(100)
	// Stored out of order; advantages follow step order.
	_, err := buf.StoreBatch(context.Background(), []*Transition{
		{EpisodeID: "ep", Step: 1, Reward: 2, Value: 0, Done: true},
		{EpisodeID: "ep", Step: 0, Reward: 1, Value: 0},
	})
	require.NoError(t, err)

	trajectory, advantages, returns, err := buf.EpisodeAdvantages("ep", 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, trajectory, 2)
	assert.Equal(t, uint32(0), trajectory[0].Step)
	assert.InDeltaSlice(t, []float64{3, 2}, returns, 1e-12)
	assert.InDeltaSlice(t, []float64{3, 2}, advantages, 1e-12)

	_, _, _, err = buf.EpisodeAdvantages("missing", 0.99, 0.95)
	assert.ErrorIs(t, err, ErrUnknownEpisode)
}
