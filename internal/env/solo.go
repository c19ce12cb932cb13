package env

import "github.com/cartridge/geese/internal/geese"

// SoloEnv presents a K-player environment as a single-agent one. The caller
// controls player 0; players 1..K-1 follow the environment's rule-based
// policy.
type SoloEnv struct {
	env GameEnvironment
}

// NewSolo wraps env.
func NewSolo(env GameEnvironment) *SoloEnv {
	return &SoloEnv{env: env}
}

// Reset starts a new episode and returns player 0's observation.
func (s *SoloEnv) Reset() (geese.Observation, error) {
	obs, err := s.env.Reset()
	if err != nil {
		return nil, err
	}
	return obs[0], nil
}

// Step plays action for player 0 and the scripted moves for everyone else,
// then returns player 0's observation, reward and done flag.
func (s *SoloEnv) Step(action geese.Action) (geese.Observation, float64, bool, error) {
	actions := make([]geese.Action, s.env.NumPlayers())
	actions[0] = action
	for p := 1; p < len(actions); p++ {
		actions[p] = s.env.RuleBasedAction(p)
	}

	obs, rewards, dones, err := s.env.Step(actions)
	if err != nil {
		return nil, 0, false, err
	}
	return obs[0], rewards[0], dones[0], nil
}
