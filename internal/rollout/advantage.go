package rollout

import (
	"errors"
	"fmt"
)

// ErrDiscount is returned for discount parameters outside [0, 1].
var ErrDiscount = errors.New("discount parameters must be in [0, 1]")

// GAE computes generalized advantage estimates and discounted returns for
// one trajectory ordered by step. bootstrap is the value estimate of the
// state following the last transition; it is ignored when that transition
// is terminal.
func GAE(trajectory []*Transition, bootstrap, gamma, lambda float64) (advantages, returns []float64, err error) {
	if gamma < 0 || gamma > 1 || lambda < 0 || lambda > 1 {
		return nil, nil, fmt.Errorf("%w: gamma=%v lambda=%v", ErrDiscount, gamma, lambda)
	}

	n := len(trajectory)
	advantages = make([]float64, n)
	returns = make([]float64, n)

	next := bootstrap
	gae := 0.0
	for i := n - 1; i >= 0; i-- {
		t := trajectory[i]
		notDone := 1.0
		if t.Done {
			notDone = 0
		}
		delta := t.Reward + gamma*next*notDone - t.Value
		gae = delta + gamma*lambda*notDone*gae
		advantages[i] = gae
		returns[i] = gae + t.Value
		next = t.Value
	}
	return advantages, returns, nil
}

// EpisodeAdvantages runs GAE over a buffered episode. Episodes still in
// progress bootstrap from the value of their last transition.
func (b *Buffer) EpisodeAdvantages(episodeID string, gamma, lambda float64) ([]*Transition, []float64, []float64, error) {
	trajectory, err := b.Episode(episodeID)
	if err != nil {
		return nil, nil, nil, err
	}
	bootstrap := 0.0
	if last := trajectory[len(trajectory)-1]; !last.Done {
		bootstrap = last.Value
	}
	advantages, returns, err := GAE(trajectory, bootstrap, gamma, lambda)
	if err != nil {
		return nil, nil, nil, err
	}
	return trajectory, advantages, returns, nil
}
