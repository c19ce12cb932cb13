package geese

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cell(obs Observation, plane, pos int) float32 {
	return obs[plane*Cells+pos]
}

func TestEncode_PlayerRelativePlanes(t *testing.T) {
	obs := KaggleObservation{
		Step:  3,
		Geese: [][]int{{10, 11, 12}, {40}, {}, {70, 71}},
		Food:  []int{5, 60},
		Index: 1,
	}

	enc := Encode(obs, nil)
	require.Len(t, enc, ObservationSize)

	// Player 1 observes, so its goose lands in plane group 0.
	assert.Equal(t, float32(1), cell(enc, planeHead+0, 40))
	assert.Equal(t, float32(1), cell(enc, planeTail+0, 40))
	assert.Equal(t, float32(1), cell(enc, planeBody+0, 40))

	// Player 0 is three seats after player 1.
	assert.Equal(t, float32(1), cell(enc, planeHead+3, 10))
	assert.Equal(t, float32(1), cell(enc, planeTail+3, 12))
	for _, pos := range []int{10, 11, 12} {
		assert.Equal(t, float32(1), cell(enc, planeBody+3, pos))
	}

	// Player 3 is two seats after player 1.
	assert.Equal(t, float32(1), cell(enc, planeHead+2, 70))
	assert.Equal(t, float32(1), cell(enc, planeTail+2, 71))

	assert.Equal(t, float32(1), cell(enc, planeFood, 5))
	assert.Equal(t, float32(1), cell(enc, planeFood, 60))

	// No previous observation means no previous-head planes.
	for p := 0; p < MaxPlayers; p++ {
		for pos := 0; pos < Cells; pos++ {
			assert.Zero(t, cell(enc, planePrevHead+p, pos))
		}
	}
}

func TestEncode_PreviousHeads(t *testing.T) {
	prev := KaggleObservation{Geese: [][]int{{9}, {30}}, Index: 0}
	obs := KaggleObservation{Geese: [][]int{{10}, {31}}, Index: 0, Step: 1}

	enc := Encode(obs, &prev)
	assert.Equal(t, float32(1), cell(enc, planePrevHead+0, 9))
	assert.Equal(t, float32(1), cell(enc, planePrevHead+1, 30))
}

func TestEncode_Empty(t *testing.T) {
	enc := Encode(KaggleObservation{}, nil)
	require.Len(t, enc, ObservationSize)
	for _, v := range enc {
		assert.Zero(t, v)
	}
}
