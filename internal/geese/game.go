package geese

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	// ErrActionCount indicates a Step call with one action per player missing or extra.
	ErrActionCount = errors.New("action count does not match player count")
	// ErrGameOver indicates a Step call after the episode has ended.
	ErrGameOver = errors.New("game is over")
)

// GameConfig holds the rule parameters of a Hungry Geese match.
type GameConfig struct {
	NumPlayers int
	MaxSteps   int
	HungerRate int
	MinFood    int
	MaxLength  int
}

// DefaultGameConfig returns the Kaggle competition settings.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		NumPlayers: 4,
		MaxSteps:   200,
		HungerRate: 40,
		MinFood:    2,
		MaxLength:  99,
	}
}

// Validate checks the rule parameters.
func (c GameConfig) Validate() error {
	if c.NumPlayers <= 0 || c.NumPlayers > MaxPlayers {
		return fmt.Errorf("num_players must be in [1, %d]", MaxPlayers)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if c.HungerRate <= 0 {
		return fmt.Errorf("hunger_rate must be positive")
	}
	if c.MinFood < 0 {
		return fmt.Errorf("min_food must not be negative")
	}
	return nil
}

// Game is a single Hungry Geese match on the 7x11 torus. It is not safe for
// concurrent use.
type Game struct {
	cfg GameConfig
	rng *rand.Rand

	step    int
	geese   [][]int // head first
	food    []int
	alive   []bool
	last    []Action
	hasLast []bool
	rewards []float64
}

// NewGame creates a match and resets it.
func NewGame(cfg GameConfig, rng *rand.Rand) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Game{cfg: cfg, rng: rng}
	g.Reset()
	return g, nil
}

// Reset starts a new episode: every goose gets a single segment on a distinct
// free cell and food is placed.
func (g *Game) Reset() {
	n := g.cfg.NumPlayers
	g.step = 0
	g.geese = make([][]int, n)
	g.food = g.food[:0]
	g.alive = make([]bool, n)
	g.last = make([]Action, n)
	g.hasLast = make([]bool, n)
	g.rewards = make([]float64, n)

	cells := g.rng.Perm(Cells)
	for i := 0; i < n; i++ {
		g.geese[i] = []int{cells[i]}
		g.alive[i] = true
	}
	g.replenishFood()
}

// NumPlayers returns the number of geese in the match.
func (g *Game) NumPlayers() int { return g.cfg.NumPlayers }

// StepCount returns the number of steps played in the current episode.
func (g *Game) StepCount() int { return g.step }

// Alive reports whether the goose of player is still in play.
func (g *Game) Alive(player int) bool { return g.alive[player] }

// Goose returns a copy of the segments of player's goose, head first.
func (g *Game) Goose(player int) []int {
	return append([]int(nil), g.geese[player]...)
}

// Over reports whether the episode has ended.
func (g *Game) Over() bool {
	if g.step >= g.cfg.MaxSteps {
		return true
	}
	alive := 0
	for _, a := range g.alive {
		if a {
			alive++
		}
	}
	if g.cfg.NumPlayers == 1 {
		return alive == 0
	}
	return alive <= 1
}

// Dones returns, per player, whether that player's episode has ended.
func (g *Game) Dones() []bool {
	over := g.Over()
	dones := make([]bool, len(g.alive))
	for i, a := range g.alive {
		dones[i] = over || !a
	}
	return dones
}

// Rewards returns the current Kaggle reward of each player.
func (g *Game) Rewards() []float64 {
	return append([]float64(nil), g.rewards...)
}

// Observation builds the Kaggle observation seen by player.
func (g *Game) Observation(player int) KaggleObservation {
	geese := make([][]int, len(g.geese))
	for i, goose := range g.geese {
		geese[i] = append([]int{}, goose...)
	}
	return KaggleObservation{
		Step:  g.step,
		Geese: geese,
		Food:  append([]int{}, g.food...),
		Index: player,
	}
}

// Step advances the match by one move of every goose. Actions of dead geese
// are ignored but still required.
func (g *Game) Step(actions []Action) error {
	if len(actions) != g.cfg.NumPlayers {
		return fmt.Errorf("%w: got %d, want %d", ErrActionCount, len(actions), g.cfg.NumPlayers)
	}
	for _, a := range actions {
		if !a.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidAction, int(a))
		}
	}
	if g.Over() {
		return ErrGameOver
	}

	g.step++
	for i := range g.geese {
		if !g.alive[i] {
			continue
		}
		g.move(i, actions[i])
	}

	occupied := make(map[int]int)
	for _, goose := range g.geese {
		for _, pos := range goose {
			occupied[pos]++
		}
	}
	for i, goose := range g.geese {
		if g.alive[i] && occupied[goose[0]] > 1 {
			g.kill(i)
		}
	}

	g.replenishFood()

	for i, goose := range g.geese {
		if g.alive[i] {
			g.rewards[i] = float64(g.step*(g.cfg.MaxLength+1) + len(goose))
		}
	}
	return nil
}

func (g *Game) move(i int, a Action) {
	goose := g.geese[i]
	if g.hasLast[i] {
		if rev, _ := Reverse(g.last[i]); rev == a {
			g.kill(i)
			return
		}
	}
	g.last[i], g.hasLast[i] = a, true

	head := translate(goose[0], a)
	if idx := indexOf(g.food, head); idx >= 0 {
		g.food = append(g.food[:idx], g.food[idx+1:]...)
	} else {
		goose = goose[:len(goose)-1]
	}
	if indexOf(goose, head) >= 0 {
		g.kill(i)
		return
	}
	goose = append([]int{head}, goose...)

	if g.step%g.cfg.HungerRate == 0 {
		goose = goose[:len(goose)-1]
	}
	if len(goose) == 0 {
		g.kill(i)
		return
	}
	if g.cfg.MaxLength > 0 && len(goose) > g.cfg.MaxLength {
		goose = goose[:g.cfg.MaxLength]
	}
	g.geese[i] = goose
}

func (g *Game) kill(i int) {
	g.alive[i] = false
	g.geese[i] = nil
}

func (g *Game) replenishFood() {
	taken := make([]bool, Cells)
	for _, goose := range g.geese {
		for _, pos := range goose {
			taken[pos] = true
		}
	}
	for _, pos := range g.food {
		taken[pos] = true
	}
	free := make([]int, 0, Cells)
	for pos, t := range taken {
		if !t {
			free = append(free, pos)
		}
	}
	for len(g.food) < g.cfg.MinFood && len(free) > 0 {
		k := g.rng.Intn(len(free))
		g.food = append(g.food, free[k])
		free = append(free[:k], free[k+1:]...)
	}
}

// translate moves pos one cell in direction a, wrapping around the torus.
func translate(pos int, a Action) int {
	dr, dc := a.delta()
	row := (pos/Columns + dr + Rows) % Rows
	col := (pos%Columns + dc + Columns) % Columns
	return row*Columns + col
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
