// Package geese holds the Hungry Geese domain: actions, observations, the
// feature-plane encoding consumed by the policy network, and a game engine
// with a scripted opponent policy.
package geese

import (
	"errors"
	"fmt"
)

// Action is one of the four directional moves a goose can make.
type Action int

const (
	North Action = iota
	South
	West
	East
)

// NumActions is the size of the discrete action space.
const NumActions = 4

// Actions lists every action in index order.
var Actions = [NumActions]Action{North, South, West, East}

// ErrInvalidAction is returned for any action index outside 0..NumActions-1.
var ErrInvalidAction = errors.New("invalid action")

var actionNames = [NumActions]string{"NORTH", "SOUTH", "WEST", "EAST"}

// Valid reports whether a is inside the action domain.
func (a Action) Valid() bool {
	return a >= 0 && a < NumActions
}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Action(%d)", int(a))
	}
	return actionNames[a]
}

// Reverse returns the move opposite to a (NORTH<->SOUTH, WEST<->EAST).
func Reverse(a Action) (Action, error) {
	switch a {
	case North:
		return South, nil
	case South:
		return North, nil
	case West:
		return East, nil
	case East:
		return West, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidAction, int(a))
	}
}

// delta is the (row, column) displacement of a move.
func (a Action) delta() (int, int) {
	switch a {
	case North:
		return -1, 0
	case South:
		return 1, 0
	case West:
		return 0, -1
	default:
		return 0, 1
	}
}
