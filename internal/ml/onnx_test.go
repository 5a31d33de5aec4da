package ml

import (
	"os"
	"testing"

	"diabetes-risk/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The ONNX path needs the native runtime and an exported model; both are
// supplied by the environment when available.
func onnxFixture(t *testing.T) (lib, model string) {
	t.Helper()
	lib, model = os.Getenv(common.EnvONNXLibrary), os.Getenv("ONNX_TEST_MODEL")
	if lib == "" || model == "" {
		t.Skip("ONNX_LIBRARY_PATH and ONNX_TEST_MODEL not set")
	}
	return lib, model
}

func TestONNX_PredictProba(t *testing.T) {
	lib, path := onnxFixture(t)

	m, err := LoadONNX(path, ONNXConfig{LibraryPath: lib})
	require.NoError(t, err)
	defer m.Close()

	row := make([]float64, m.NumFeatures())
	p, err := m.PredictProba(row)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p[0]+p[1], 1e-3)

	_, err = m.PredictProba(row[:len(row)-1])
	assert.Error(t, err)

	require.NoError(t, m.Close())
	_, err = m.PredictProba(row)
	assert.Error(t, err)
}

func TestONNX_MissingInput(t *testing.T) {
	lib, path := onnxFixture(t)

	_, err := LoadONNX(path, ONNXConfig{LibraryPath: lib, InputName: "no_such_input"})
	assert.Error(t, err)
}
