package common

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvModelsDir       = "MODELS_DIR"
	EnvPort            = "PORT"
	EnvDataPath        = "DATA_PATH"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
	EnvRequestTimeout  = "REQUEST_TIMEOUT"
	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
	EnvRateLimit       = "RATE_LIMIT"
	EnvONNXLibrary     = "ONNX_LIBRARY_PATH"
	EnvStrictRegistry  = "STRICT_REGISTRY"
)

// Configuration defaults
const (
	DefaultModelsDir    = "models"
	DefaultManifestFile = "manifest.yaml"
	DefaultPort         = 7860
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultRateLimit    = 120 // requests per minute per client IP
)

// Validation constants
const (
	MinPort      = 1024
	MaxPort      = 65535
	MaxRateLimit = 100000
)

// Outcome labels, in classifier output order.
const (
	LabelNoDiabetes = "Prediction: No Diabetes"
	LabelDiabetes   = "Prediction: Diabetes"
)

// Disclaimer is shown next to every prediction surface.
const Disclaimer = "This AI prediction is for informational purposes only and is not a substitute for professional medical advice. Please consult a qualified healthcare provider."

// Common error messages
const (
	ErrMsgAssetsNotLoaded = "Model assets not loaded."
	ErrMsgModelsDirEmpty  = "models directory cannot be empty"
)
