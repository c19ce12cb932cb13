package model

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/geese/internal/geese"
)

func TestCheckBatch(t *testing.T) {
	assert.ErrorIs(t, CheckBatch(nil), ErrEmptyBatch)
	assert.ErrorIs(t, CheckBatch([]geese.Observation{make(geese.Observation, 5)}), ErrObservationSize)
	assert.NoError(t, CheckBatch([]geese.Observation{make(geese.Observation, geese.ObservationSize)}))
}

func TestUniformModel(t *testing.T) {
	m := NewUniform()
	batch := []geese.Observation{
		make(geese.Observation, geese.ObservationSize),
		make(geese.Observation, geese.ObservationSize),
		make(geese.Observation, geese.ObservationSize),
	}

	probs, values, err := m.Predict(context.Background(), batch)
	require.NoError(t, err)

	r, c := probs.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, geese.NumActions, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.Equal(t, 0.25, probs.At(i, j))
		}
	}
	assert.Equal(t, []float64{0, 0, 0}, values)

	assert.False(t, m.Built())
	assert.ErrorIs(t, m.Save("anything"), ErrNotBuilt)
}

func TestLoadONNX_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.onnx")
	_, err := LoadONNX(path, DefaultONNXOptions(), zerolog.Nop())
	assert.Error(t, err)
}

func TestONNXLoader_MissingFile(t *testing.T) {
	load := ONNXLoader(DefaultONNXOptions(), zerolog.Nop())
	_, err := load(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)
}
