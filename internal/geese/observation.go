package geese

// Board geometry and plane layout of an encoded observation.
const (
	Rows    = 7
	Columns = 11
	Cells   = Rows * Columns

	// MaxPlayers is the number of player-relative plane groups in an Observation.
	MaxPlayers = 4
	NumPlanes  = 4*MaxPlayers + 1

	// ObservationSize is the number of float32 values in one encoded Observation.
	ObservationSize = NumPlanes * Cells
)

const (
	planeHead     = 0
	planeTail     = MaxPlayers
	planeBody     = 2 * MaxPlayers
	planePrevHead = 3 * MaxPlayers
	planeFood     = 4 * MaxPlayers
)

// KaggleObservation is the per-player observation in the format the Kaggle
// Hungry Geese environment hands to agents.
type KaggleObservation struct {
	RemainingOverageTime float64 `json:"remainingOverageTime"`
	Step                 int     `json:"step"`
	Geese                [][]int `json:"geese"`
	Food                 []int   `json:"food"`
	Index                int     `json:"index"`
}

// Observation is the network input: NumPlanes planes of Rows x Columns,
// flattened plane-major.
type Observation []float32

// Encode converts a Kaggle observation into feature planes relative to the
// observing player. prev supplies the previous heads and may be nil on the
// first step of an episode.
func Encode(obs KaggleObservation, prev *KaggleObservation) Observation {
	out := make(Observation, ObservationSize)
	n := len(obs.Geese)
	if n == 0 {
		return out
	}

	for p, goose := range obs.Geese {
		rel := relativeIndex(p, obs.Index, n)
		if rel < 0 || len(goose) == 0 {
			continue
		}
		setCell(out, planeHead+rel, goose[0])
		setCell(out, planeTail+rel, goose[len(goose)-1])
		for _, pos := range goose {
			setCell(out, planeBody+rel, pos)
		}
	}

	if prev != nil {
		for p, goose := range prev.Geese {
			rel := relativeIndex(p, obs.Index, n)
			if rel < 0 || len(goose) == 0 {
				continue
			}
			setCell(out, planePrevHead+rel, goose[0])
		}
	}

	for _, pos := range obs.Food {
		setCell(out, planeFood, pos)
	}
	return out
}

// relativeIndex places the observing player in plane group 0. Players beyond
// MaxPlayers have no plane group.
func relativeIndex(player, index, n int) int {
	rel := ((player-index)%n + n) % n
	if rel >= MaxPlayers {
		return -1
	}
	return rel
}

func setCell(out Observation, plane, pos int) {
	if pos < 0 || pos >= Cells {
		return
	}
	out[plane*Cells+pos] = 1
}
