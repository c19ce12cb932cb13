package agent

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/geese/internal/geese"
)

// maskEpsilon keeps a masked row from summing to zero when all of its mass
// sat on the reversed action.
const maskEpsilon = 1e-6

// ErrBatchMismatch is returned when per-entity inputs do not line up with the
// observation batch.
var ErrBatchMismatch = errors.New("batch size mismatch")

// MaskReverse returns the distribution the agent samples from in masked mode:
// each row of probs, shifted by maskEpsilon, with the reverse of the entity's
// previous action zeroed and renormalized to sum to 1. Rows whose entity was
// already done before this step are left unmasked.
func MaskReverse(probs *mat.Dense, last []geese.Action, priorDone []bool) (*mat.Dense, error) {
	n, c := probs.Dims()
	if len(last) != n {
		return nil, fmt.Errorf("%w: %d previous actions for %d observations", ErrBatchMismatch, len(last), n)
	}
	if len(priorDone) != n {
		return nil, fmt.Errorf("%w: %d done flags for %d observations", ErrBatchMismatch, len(priorDone), n)
	}

	oneHot := mat.NewDense(n, c, nil)
	for i, action := range last {
		rev, err := geese.Reverse(action)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		if !priorDone[i] {
			oneHot.Set(i, int(rev), 1)
		}
	}
	mask := mat.NewDense(n, c, nil)
	mask.Apply(func(_, _ int, v float64) float64 { return 1 - v }, oneHot)

	shifted := mat.NewDense(n, c, nil)
	shifted.Apply(func(_, _ int, v float64) float64 { return v + maskEpsilon }, probs)

	masked := mat.NewDense(n, c, nil)
	masked.MulElem(shifted, mask)
	for i := 0; i < n; i++ {
		row := masked.RawRowView(i)
		floats.Scale(1/floats.Sum(row), row)
	}
	return masked, nil
}

// sampleCategorical draws an index according to the weights in p. Weights
// need not be normalized.
func sampleCategorical(rng *rand.Rand, p []float64) geese.Action {
	cum := make([]float64, len(p))
	floats.CumSum(cum, p)

	u := rng.Float64() * cum[len(cum)-1]
	for i, c := range cum {
		if u < c {
			return geese.Action(i)
		}
	}
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] > 0 {
			return geese.Action(i)
		}
	}
	return geese.Action(len(p) - 1)
}
