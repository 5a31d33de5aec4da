package ml

import (
	"fmt"
	"sync"

	onnxruntime "github.com/yalue/onnxruntime_go"
)

// ONNXConfig names the graph inputs and outputs of an exported classifier.
// The export must have zipmap disabled so probabilities are a plain tensor.
type ONNXConfig struct {
	LibraryPath       string `yaml:"-"`
	InputName         string `yaml:"input"`
	LabelOutput       string `yaml:"label_output"`
	ProbabilityOutput string `yaml:"probability_output"`
}

func (c ONNXConfig) withDefaults() ONNXConfig {
	if c.InputName == "" {
		c.InputName = "float_input"
	}
	if c.LabelOutput == "" {
		c.LabelOutput = "label"
	}
	if c.ProbabilityOutput == "" {
		c.ProbabilityOutput = "probabilities"
	}
	return c
}

// ONNXModel wraps an ONNX Runtime session for binary classification.
type ONNXModel struct {
	mu          sync.RWMutex
	session     *onnxruntime.DynamicAdvancedSession
	numFeatures int
}

var onnxInit struct {
	sync.Mutex
	err error
}

func initONNXRuntime(libraryPath string) error {
	onnxInit.Lock()
	defer onnxInit.Unlock()
	if onnxruntime.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		onnxruntime.SetSharedLibraryPath(libraryPath)
	}
	onnxInit.err = onnxruntime.InitializeEnvironment()
	return onnxInit.err
}

// LoadONNX opens an ONNX classifier from path.
func LoadONNX(path string, cfg ONNXConfig) (*ONNXModel, error) {
	cfg = cfg.withDefaults()
	if err := initONNXRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	inputs, _, err := onnxruntime.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect onnx model: %w", err)
	}
	numFeatures := 0
	for _, in := range inputs {
		if in.Name != cfg.InputName {
			continue
		}
		dims := in.Dimensions
		if len(dims) == 0 || dims[len(dims)-1] <= 0 {
			return nil, fmt.Errorf("onnx input %q has no fixed feature dimension: %v", in.Name, dims)
		}
		numFeatures = int(dims[len(dims)-1])
	}
	if numFeatures == 0 {
		return nil, fmt.Errorf("onnx model has no input named %q", cfg.InputName)
	}

	options, err := onnxruntime.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := onnxruntime.NewDynamicAdvancedSession(path,
		[]string{cfg.InputName}, []string{cfg.LabelOutput, cfg.ProbabilityOutput}, options)
	if err != nil {
		return nil, fmt.Errorf("load onnx model: %w", err)
	}

	return &ONNXModel{session: session, numFeatures: numFeatures}, nil
}

// NumFeatures implements Classifier.
func (m *ONNXModel) NumFeatures() int {
	return m.numFeatures
}

// PredictProba implements Classifier.
func (m *ONNXModel) PredictProba(row []float64) ([2]float64, error) {
	var out [2]float64
	if len(row) != m.numFeatures {
		return out, fmt.Errorf("model expects %d features, got %d", m.numFeatures, len(row))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return out, fmt.Errorf("onnx session is closed")
	}

	x := make([]float32, len(row))
	for i, v := range row {
		x[i] = float32(v)
	}
	input, err := onnxruntime.NewTensor(onnxruntime.NewShape(1, int64(len(x))), x)
	if err != nil {
		return out, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	label, err := onnxruntime.NewTensor(onnxruntime.NewShape(1), make([]int64, 1))
	if err != nil {
		return out, fmt.Errorf("create label tensor: %w", err)
	}
	defer label.Destroy()

	probs, err := onnxruntime.NewTensor(onnxruntime.NewShape(1, 2), make([]float32, 2))
	if err != nil {
		return out, fmt.Errorf("create probabilities tensor: %w", err)
	}
	defer probs.Destroy()

	if err := m.session.Run([]onnxruntime.Value{input}, []onnxruntime.Value{label, probs}); err != nil {
		return out, fmt.Errorf("onnx inference: %w", err)
	}

	p := probs.GetData()
	out[0], out[1] = float64(p[0]), float64(p[1])
	return out, nil
}

// Close implements Classifier.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
