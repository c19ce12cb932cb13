package model

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/geese/internal/geese"
)

// ONNXOptions configures the ONNX runtime backend.
type ONNXOptions struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// runtime's default lookup.
	LibraryPath string
	MaxBatch    int
	InputName   string
	PolicyName  string
	ValueName   string
}

// DefaultONNXOptions returns the tensor names used by the exported geese network.
func DefaultONNXOptions() ONNXOptions {
	return ONNXOptions{
		MaxBatch:   16,
		InputName:  "observations",
		PolicyName: "policy",
		ValueName:  "value",
	}
}

var runtimeMu sync.Mutex

func initRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	return ort.InitializeEnvironment()
}

// ONNXModel runs the policy/value network through onnxruntime. Input and
// output tensors are allocated once for MaxBatch rows; larger batches are
// split into chunks.
type ONNXModel struct {
	mu     sync.Mutex
	opts   ONNXOptions
	logger zerolog.Logger

	data    []byte
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	policy  *ort.Tensor[float32]
	value   *ort.Tensor[float32]
}

// LoadONNX reads an ONNX file and opens an inference session on it.
func LoadONNX(path string, opts ONNXOptions, logger zerolog.Logger) (*ONNXModel, error) {
	if opts.MaxBatch <= 0 {
		return nil, fmt.Errorf("max batch must be positive")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	if err := initRuntime(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	m := &ONNXModel{opts: opts, logger: logger, data: data}
	if err := m.open(); err != nil {
		m.Close()
		return nil, err
	}

	logger.Info().
		Str("path", path).
		Int("max_batch", opts.MaxBatch).
		Msg("ONNX model loaded")
	return m, nil
}

func (m *ONNXModel) open() error {
	batch := int64(m.opts.MaxBatch)

	var err error
	m.input, err = ort.NewEmptyTensor[float32](ort.NewShape(batch, geese.NumPlanes, geese.Rows, geese.Columns))
	if err != nil {
		return fmt.Errorf("failed to allocate input tensor: %w", err)
	}
	m.policy, err = ort.NewEmptyTensor[float32](ort.NewShape(batch, geese.NumActions))
	if err != nil {
		return fmt.Errorf("failed to allocate policy tensor: %w", err)
	}
	m.value, err = ort.NewEmptyTensor[float32](ort.NewShape(batch, 1))
	if err != nil {
		return fmt.Errorf("failed to allocate value tensor: %w", err)
	}

	m.session, err = ort.NewAdvancedSessionWithONNXData(m.data,
		[]string{m.opts.InputName},
		[]string{m.opts.PolicyName, m.opts.ValueName},
		[]ort.Value{m.input},
		[]ort.Value{m.policy, m.value},
		nil)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Predict implements Predictor.
func (m *ONNXModel) Predict(ctx context.Context, batch []geese.Observation) (*mat.Dense, []float64, error) {
	if err := CheckBatch(batch); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, nil, ErrNotBuilt
	}

	n := len(batch)
	probs := mat.NewDense(n, geese.NumActions, nil)
	values := make([]float64, n)

	in := m.input.GetData()
	pol := m.policy.GetData()
	val := m.value.GetData()

	for start := 0; start < n; start += m.opts.MaxBatch {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		end := min(start+m.opts.MaxBatch, n)

		clear(in)
		for i, obs := range batch[start:end] {
			copy(in[i*geese.ObservationSize:], obs)
		}
		if err := m.session.Run(); err != nil {
			return nil, nil, fmt.Errorf("onnx inference failed: %w", err)
		}

		for i := 0; i < end-start; i++ {
			for a := 0; a < geese.NumActions; a++ {
				probs.Set(start+i, a, float64(pol[i*geese.NumActions+a]))
			}
			values[start+i] = float64(val[i])
		}
	}

	return probs, values, nil
}

// Built implements Model.
func (m *ONNXModel) Built() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Save writes the ONNX graph the session was created from.
func (m *ONNXModel) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrNotBuilt
	}
	if err := os.WriteFile(path, m.data, 0o644); err != nil {
		return fmt.Errorf("failed to save model to %s: %w", path, err)
	}
	return nil
}

// Close releases the session and its tensors.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.session != nil {
		keep(m.session.Destroy())
		m.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{m.input, m.policy, m.value} {
		if t != nil {
			keep(t.Destroy())
		}
	}
	m.input, m.policy, m.value = nil, nil, nil
	return firstErr
}

// ONNXLoader returns a Loader producing ONNX-backed models.
func ONNXLoader(opts ONNXOptions, logger zerolog.Logger) Loader {
	return func(path string) (Model, error) {
		m, err := LoadONNX(path, opts, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
