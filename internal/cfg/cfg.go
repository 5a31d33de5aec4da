package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"diabetes-risk/internal/common"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelsDir       string
	ManifestFile    string
	Port            int
	DataPath        string
	LogLevel        string
	LogFormat       string
	RequestTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int
	ONNXLibraryPath string
	StrictRegistry  bool
}

type ConfigFile struct {
	Models struct {
		Dir             string `yaml:"dir"`
		Manifest        string `yaml:"manifest"`
		ONNXLibraryPath string `yaml:"onnxLibraryPath"`
	} `yaml:"models"`

	Server struct {
		Port            int    `yaml:"port"`
		RequestTimeout  string `yaml:"requestTimeout"`
		ReadTimeout     string `yaml:"readTimeout"`
		WriteTimeout    string `yaml:"writeTimeout"`
		ShutdownTimeout string `yaml:"shutdownTimeout"`
		RateLimit       *int   `yaml:"rateLimit"`
	} `yaml:"server"`

	Registry struct {
		DataPath string `yaml:"dataPath"`
		Strict   bool   `yaml:"strict"`
	} `yaml:"registry"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	rateLimit := common.DefaultRateLimit
	if config.Server.RateLimit != nil {
		rateLimit = *config.Server.RateLimit
	}

	// Environment variables override the file
	settings := Settings{
		ModelsDir:       getEnvOrDefault(common.EnvModelsDir, orDefault(config.Models.Dir, common.DefaultModelsDir)),
		ManifestFile:    orDefault(config.Models.Manifest, common.DefaultManifestFile),
		Port:            getIntOrDefault(common.EnvPort, intOrDefault(config.Server.Port, common.DefaultPort)),
		DataPath:        getEnvOrDefault(common.EnvDataPath, config.Registry.DataPath),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, orDefault(config.Logging.Level, common.DefaultLogLevel)),
		LogFormat:       getEnvOrDefault(common.EnvLogFormat, orDefault(config.Logging.Format, common.DefaultLogFormat)),
		RequestTimeout:  getDurationOrDefault(common.EnvRequestTimeout, parseDurationOr(config.Server.RequestTimeout, 5*time.Second)),
		ReadTimeout:     getDurationOrDefault(common.EnvReadTimeout, parseDurationOr(config.Server.ReadTimeout, 10*time.Second)),
		WriteTimeout:    getDurationOrDefault(common.EnvWriteTimeout, parseDurationOr(config.Server.WriteTimeout, 10*time.Second)),
		ShutdownTimeout: getDurationOrDefault(common.EnvShutdownTimeout, parseDurationOr(config.Server.ShutdownTimeout, 10*time.Second)),
		RateLimit:       getIntOrDefault(common.EnvRateLimit, rateLimit),
		ONNXLibraryPath: getEnvOrDefault(common.EnvONNXLibrary, config.Models.ONNXLibraryPath),
		StrictRegistry:  getBoolOrDefault(common.EnvStrictRegistry, config.Registry.Strict),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelsDir:       getEnvOrDefault(common.EnvModelsDir, common.DefaultModelsDir),
		ManifestFile:    common.DefaultManifestFile,
		Port:            getIntOrDefault(common.EnvPort, common.DefaultPort),
		DataPath:        os.Getenv(common.EnvDataPath), // optional
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFormat:       getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat),
		RequestTimeout:  getDurationOrDefault(common.EnvRequestTimeout, 5*time.Second),
		ReadTimeout:     getDurationOrDefault(common.EnvReadTimeout, 10*time.Second),
		WriteTimeout:    getDurationOrDefault(common.EnvWriteTimeout, 10*time.Second),
		ShutdownTimeout: getDurationOrDefault(common.EnvShutdownTimeout, 10*time.Second),
		RateLimit:       getIntOrDefault(common.EnvRateLimit, common.DefaultRateLimit),
		ONNXLibraryPath: os.Getenv(common.EnvONNXLibrary),
		StrictRegistry:  getBoolOrDefault(common.EnvStrictRegistry, false),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func intOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func parseDurationOr(v string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if strings.TrimSpace(settings.ModelsDir) == "" {
		return errors.New(common.ErrMsgModelsDirEmpty)
	}
	if settings.ManifestFile == "" {
		return errors.New("manifest file cannot be empty")
	}

	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}

	// Validate time durations
	if settings.RequestTimeout < 100*time.Millisecond || settings.RequestTimeout > time.Minute {
		return fmt.Errorf("request timeout must be between 100ms and 1m, got %v", settings.RequestTimeout)
	}
	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 5m, got %v", settings.WriteTimeout)
	}
	if settings.ShutdownTimeout < time.Second || settings.ShutdownTimeout > 5*time.Minute {
		return fmt.Errorf("shutdown timeout must be between 1s and 5m, got %v", settings.ShutdownTimeout)
	}

	if settings.RateLimit < 0 || settings.RateLimit > common.MaxRateLimit {
		return fmt.Errorf("rate limit must be between 0 and %d requests per minute, got %d", common.MaxRateLimit, settings.RateLimit)
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}
	if settings.LogFormat != "json" && settings.LogFormat != "console" {
		return fmt.Errorf("log format must be json or console, got %q", settings.LogFormat)
	}

	if settings.StrictRegistry && settings.DataPath == "" {
		return fmt.Errorf("strict registry requires %s", common.EnvDataPath)
	}

	return nil
}
