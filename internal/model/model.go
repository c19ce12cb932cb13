// Package model defines the policy/value network contract the agent depends
// on, plus the concrete backends that satisfy it.
package model

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/geese/internal/geese"
)

var (
	// ErrNotBuilt is returned when an operation needs a materialized model.
	ErrNotBuilt = errors.New("model is not built")
	// ErrUnsupported is returned by backends that cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by model backend")
	// ErrEmptyBatch is returned when Predict is called without observations.
	ErrEmptyBatch = errors.New("empty observation batch")
	// ErrObservationSize is returned for observations of the wrong length.
	ErrObservationSize = errors.New("observation has wrong size")
)

// Predictor maps a batch of N observations to an N x NumActions matrix of
// action probabilities (rows sum to 1) and N value estimates.
type Predictor interface {
	Predict(ctx context.Context, batch []geese.Observation) (*mat.Dense, []float64, error)
}

// Model is a Predictor that can be persisted.
type Model interface {
	Predictor

	// Built reports whether the network has been materialized.
	Built() bool

	// Save serializes the network to path.
	Save(path string) error
}

// Loader builds a Model from a serialized file.
type Loader func(path string) (Model, error)

// CheckBatch validates the shape of a batch before inference.
func CheckBatch(batch []geese.Observation) error {
	if len(batch) == 0 {
		return ErrEmptyBatch
	}
	for i, obs := range batch {
		if len(obs) != geese.ObservationSize {
			return errObservationSize(i, len(obs))
		}
	}
	return nil
}

func errObservationSize(index, size int) error {
	return fmt.Errorf("%w: observation %d has %d values, want %d",
		ErrObservationSize, index, size, geese.ObservationSize)
}
