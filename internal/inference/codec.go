// Package inference serves a policy/value network over gRPC and provides the
// matching client, so many actors can share one model process.
package inference

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/geese/internal/geese"
)

// ErrMalformedPayload is returned when a wire payload has an impossible length.
var ErrMalformedPayload = errors.New("malformed inference payload")

const float32Size = 4

// predictionWidth is the number of floats per row in a prediction payload:
// NumActions probabilities followed by one value.
const predictionWidth = geese.NumActions + 1

// EncodeBatch packs observations as consecutive little-endian float32s.
func EncodeBatch(batch []geese.Observation) []byte {
	buf := make([]byte, 0, len(batch)*geese.ObservationSize*float32Size)
	for _, obs := range batch {
		for _, v := range obs {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(data []byte) ([]geese.Observation, error) {
	rowBytes := geese.ObservationSize * float32Size
	if len(data) == 0 || len(data)%rowBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of observations", ErrMalformedPayload, len(data))
	}
	n := len(data) / rowBytes
	batch := make([]geese.Observation, n)
	for i := range batch {
		obs := make(geese.Observation, geese.ObservationSize)
		row := data[i*rowBytes:]
		for j := range obs {
			obs[j] = math.Float32frombits(binary.LittleEndian.Uint32(row[j*float32Size:]))
		}
		batch[i] = obs
	}
	return batch, nil
}

// EncodePrediction packs the probability rows followed by the values.
func EncodePrediction(probs *mat.Dense, values []float64) []byte {
	n, c := probs.Dims()
	buf := make([]byte, 0, n*predictionWidth*float32Size)
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(probs.At(i, j))))
		}
	}
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	}
	return buf
}

// DecodePrediction is the inverse of EncodePrediction.
func DecodePrediction(data []byte) (*mat.Dense, []float64, error) {
	rowBytes := predictionWidth * float32Size
	if len(data) == 0 || len(data)%rowBytes != 0 {
		return nil, nil, fmt.Errorf("%w: %d bytes is not a whole number of predictions", ErrMalformedPayload, len(data))
	}
	n := len(data) / rowBytes
	read := func(k int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[k*float32Size:])))
	}

	probs := mat.NewDense(n, geese.NumActions, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < geese.NumActions; j++ {
			probs.Set(i, j, read(i*geese.NumActions+j))
		}
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = read(n*geese.NumActions + i)
	}
	return probs, values, nil
}
