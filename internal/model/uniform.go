package model

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/geese/internal/geese"
)

// UniformModel assigns equal probability to every action and a zero value.
// It is never built, so saving it is always skipped.
type UniformModel struct{}

// NewUniform returns a UniformModel.
func NewUniform() *UniformModel {
	return &UniformModel{}
}

// Predict implements Predictor.
func (UniformModel) Predict(ctx context.Context, batch []geese.Observation) (*mat.Dense, []float64, error) {
	if err := CheckBatch(batch); err != nil {
		return nil, nil, err
	}
	probs := mat.NewDense(len(batch), geese.NumActions, nil)
	for i := range batch {
		for a := 0; a < geese.NumActions; a++ {
			probs.Set(i, a, 1.0/geese.NumActions)
		}
	}
	return probs, make([]float64, len(batch)), nil
}

// Built implements Model.
func (UniformModel) Built() bool { return false }

// Save implements Model.
func (UniformModel) Save(path string) error {
	return fmt.Errorf("save %s: %w", path, ErrNotBuilt)
}
