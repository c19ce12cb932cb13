// Package agent turns a policy/value network into an action-selecting agent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/geese/internal/geese"
	"github.com/cartridge/geese/internal/model"
)

// ErrNoLoader is returned by Load when the agent was built without a Loader.
var ErrNoLoader = errors.New("agent has no model loader")

// PPOAgent samples actions from a policy/value network. It remembers the
// actions it chose on the previous Step so the next masked Step can forbid
// reversing them, and the previous Kaggle observation for Act.
//
// A PPOAgent is not safe for concurrent use.
type PPOAgent struct {
	model  model.Model
	loader model.Loader
	rng    *rand.Rand
	logger zerolog.Logger

	lastActions []geese.Action
	lastObs     *geese.KaggleObservation
}

// Option customizes a PPOAgent.
type Option func(*PPOAgent)

// WithRand sets the source used for action sampling.
func WithRand(rng *rand.Rand) Option {
	return func(a *PPOAgent) { a.rng = rng }
}

// WithLoader sets how Load materializes a model from disk.
func WithLoader(loader model.Loader) Option {
	return func(a *PPOAgent) { a.loader = loader }
}

// WithLogger sets the agent's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *PPOAgent) { a.logger = logger }
}

// New creates an agent around m.
func New(m model.Model, opts ...Option) *PPOAgent {
	a := &PPOAgent{
		model:  m,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Step runs the model once on obs and samples one action per observation.
//
// With masked set and a previous action batch available, the reverse of each
// entity's previous action is masked out (see MaskReverse); priorDone must
// then hold one flag per observation. Otherwise actions are sampled from the
// raw rows. The returned probabilities are the raw model output, before
// masking.
//
// The reverse lookup cannot fail for actions this agent produced; an
// ErrInvalidAction from Step means the remembered actions were corrupted.
func (a *PPOAgent) Step(ctx context.Context, obs []geese.Observation, masked bool, priorDone []bool) ([]geese.Action, []float64, *mat.Dense, error) {
	probs, values, err := a.model.Predict(ctx, obs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("model inference failed: %w", err)
	}
	n := len(obs)
	if r, c := probs.Dims(); r != n || c != geese.NumActions {
		return nil, nil, nil, fmt.Errorf("%w: model returned %dx%d probabilities for %d observations",
			ErrBatchMismatch, r, c, n)
	}
	if len(values) != n {
		return nil, nil, nil, fmt.Errorf("%w: model returned %d values for %d observations",
			ErrBatchMismatch, len(values), n)
	}

	dist := probs
	if masked && a.lastActions != nil {
		dist, err = MaskReverse(probs, a.lastActions, priorDone)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	actions := make([]geese.Action, n)
	for i := range actions {
		actions[i] = sampleCategorical(a.rng, dist.RawRowView(i))
	}
	a.lastActions = actions

	return actions, values, probs, nil
}

// GetAction selects an action for a single observation without masking.
func (a *PPOAgent) GetAction(ctx context.Context, obs geese.Observation) (geese.Action, error) {
	actions, _, _, err := a.Step(ctx, []geese.Observation{obs}, false, nil)
	if err != nil {
		return 0, err
	}
	return actions[0], nil
}

// Act is the Kaggle agent entry point: it encodes obs together with the
// observation from the previous call and returns the chosen action's name.
// An observation at step 0 starts a new episode.
func (a *PPOAgent) Act(ctx context.Context, obs geese.KaggleObservation) (string, error) {
	if obs.Step == 0 {
		a.lastObs = nil
	}
	action, err := a.GetAction(ctx, geese.Encode(obs, a.lastObs))
	if err != nil {
		return "", err
	}
	a.lastObs = &obs
	return action.String(), nil
}

// Reset forgets the remembered actions and observation.
func (a *PPOAgent) Reset() {
	a.lastActions = nil
	a.lastObs = nil
}

// LastActions returns a copy of the actions chosen by the previous Step.
func (a *PPOAgent) LastActions() []geese.Action {
	if a.lastActions == nil {
		return nil
	}
	return append([]geese.Action(nil), a.lastActions...)
}

// Model returns the network the agent currently uses.
func (a *PPOAgent) Model() model.Model {
	return a.model
}

// Save persists the model. A model that has not been built yet, or whose
// backend cannot persist it locally, is skipped with a warning.
func (a *PPOAgent) Save(path string) error {
	if !a.model.Built() {
		a.logger.Warn().Str("path", path).Msg("Model is not yet built, skipping save")
		return nil
	}
	if err := a.model.Save(path); err != nil {
		if errors.Is(err, model.ErrUnsupported) {
			a.logger.Warn().Err(err).Str("path", path).Msg("Model backend cannot save, skipping")
			return nil
		}
		return fmt.Errorf("failed to save model: %w", err)
	}
	a.logger.Info().Str("path", path).Msg("Model saved")
	return nil
}

// Load replaces the model with one deserialized from path.
func (a *PPOAgent) Load(path string) error {
	if a.loader == nil {
		return ErrNoLoader
	}
	m, err := a.loader(path)
	if err != nil {
		return fmt.Errorf("failed to load model from %s: %w", path, err)
	}
	if closer, ok := a.model.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close previous model")
		}
	}
	a.model = m
	a.logger.Info().Str("path", path).Msg("Model loaded")
	return nil
}
