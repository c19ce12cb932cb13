// Package env exposes Hungry Geese matches as reinforcement-learning
// environments.
package env

import (
	"fmt"
	"math/rand"

	"github.com/cartridge/geese/internal/geese"
)

// GameEnvironment is a K-player environment with a scripted policy for any
// player.
type GameEnvironment interface {
	// NumPlayers returns K.
	NumPlayers() int

	// Reset starts a new episode and returns one observation per player.
	Reset() ([]geese.Observation, error)

	// Step applies one action per player and returns per-player
	// observations, rewards and done flags.
	Step(actions []geese.Action) ([]geese.Observation, []float64, []bool, error)

	// RuleBasedAction returns the scripted policy's move for player in the
	// current state.
	RuleBasedAction(player int) geese.Action
}

// Env runs a geese.Game and encodes each player's view into feature planes,
// keeping the previous observation per player for the previous-head planes.
type Env struct {
	game *geese.Game
	prev []geese.KaggleObservation
}

// New creates an environment over a fresh game.
func New(cfg geese.GameConfig, rng *rand.Rand) (*Env, error) {
	game, err := geese.NewGame(cfg, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	return &Env{game: game}, nil
}

// NumPlayers implements GameEnvironment.
func (e *Env) NumPlayers() int {
	return e.game.NumPlayers()
}

// Game exposes the underlying match.
func (e *Env) Game() *geese.Game {
	return e.game
}

// Reset implements GameEnvironment.
func (e *Env) Reset() ([]geese.Observation, error) {
	e.game.Reset()
	e.prev = nil
	return e.observe(), nil
}

// Step implements GameEnvironment.
func (e *Env) Step(actions []geese.Action) ([]geese.Observation, []float64, []bool, error) {
	if err := e.game.Step(actions); err != nil {
		return nil, nil, nil, err
	}
	return e.observe(), e.game.Rewards(), e.game.Dones(), nil
}

// RuleBasedAction implements GameEnvironment.
func (e *Env) RuleBasedAction(player int) geese.Action {
	return e.game.RuleBasedAction(player)
}

func (e *Env) observe() []geese.Observation {
	n := e.game.NumPlayers()
	current := make([]geese.KaggleObservation, n)
	out := make([]geese.Observation, n)
	for p := 0; p < n; p++ {
		current[p] = e.game.Observation(p)
		var prev *geese.KaggleObservation
		if e.prev != nil {
			prev = &e.prev[p]
		}
		out[p] = geese.Encode(current[p], prev)
	}
	e.prev = current
	return out
}
