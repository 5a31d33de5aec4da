package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"diabetes-risk/internal/common"
)

var envKeys = []string{
	common.EnvConfigFile, common.EnvModelsDir, common.EnvPort, common.EnvDataPath,
	common.EnvLogLevel, common.EnvLogFormat, common.EnvRequestTimeout, common.EnvReadTimeout,
	common.EnvWriteTimeout, common.EnvShutdownTimeout, common.EnvRateLimit,
	common.EnvONNXLibrary, common.EnvStrictRegistry,
}

func clearTestEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelsDir != "models" {
					t.Errorf("expected default ModelsDir 'models', got %s", settings.ModelsDir)
				}
				if settings.ManifestFile != "manifest.yaml" {
					t.Errorf("expected default manifest, got %s", settings.ManifestFile)
				}
				if settings.Port != 7860 {
					t.Errorf("expected default Port 7860, got %d", settings.Port)
				}
				if settings.RequestTimeout != 5*time.Second {
					t.Errorf("expected default RequestTimeout 5s, got %v", settings.RequestTimeout)
				}
				if settings.RateLimit != 120 {
					t.Errorf("expected default RateLimit 120, got %d", settings.RateLimit)
				}
				if settings.DataPath != "" || settings.StrictRegistry {
					t.Errorf("expected registry disabled by default, got %q strict=%v", settings.DataPath, settings.StrictRegistry)
				}
			},
		},
		{
			name: "custom settings",
			envVars: map[string]string{
				"MODELS_DIR":        "/srv/models",
				"PORT":              "9090",
				"DATA_PATH":         "/var/lib/risk",
				"LOG_LEVEL":         "debug",
				"LOG_FORMAT":        "console",
				"REQUEST_TIMEOUT":   "2s",
				"RATE_LIMIT":        "0",
				"ONNX_LIBRARY_PATH": "/usr/lib/libonnxruntime.so",
				"STRICT_REGISTRY":   "true",
			},
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelsDir != "/srv/models" {
					t.Errorf("expected ModelsDir /srv/models, got %s", settings.ModelsDir)
				}
				if settings.Port != 9090 {
					t.Errorf("expected Port 9090, got %d", settings.Port)
				}
				if settings.LogFormat != "console" {
					t.Errorf("expected console log format, got %s", settings.LogFormat)
				}
				if settings.RequestTimeout != 2*time.Second {
					t.Errorf("expected RequestTimeout 2s, got %v", settings.RequestTimeout)
				}
				if settings.RateLimit != 0 {
					t.Errorf("expected rate limiting disabled, got %d", settings.RateLimit)
				}
				if !settings.StrictRegistry {
					t.Error("expected StrictRegistry to be true")
				}
				if settings.ONNXLibraryPath != "/usr/lib/libonnxruntime.so" {
					t.Errorf("unexpected ONNXLibraryPath %s", settings.ONNXLibraryPath)
				}
			},
		},
		{
			name:    "port out of range",
			envVars: map[string]string{"PORT": "80"},
			wantErr: true,
		},
		{
			name:    "bad log level",
			envVars: map[string]string{"LOG_LEVEL": "loud"},
			wantErr: true,
		},
		{
			name:    "strict registry without data path",
			envVars: map[string]string{"STRICT_REGISTRY": "true"},
			wantErr: true,
		},
		{
			name:    "negative rate limit",
			envVars: map[string]string{"RATE_LIMIT": "-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := loadFromEnv()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	tests := []struct {
		name         string
		yamlContent  string
		envOverrides map[string]string
		wantErr      bool
		validate     func(t *testing.T, settings Settings)
	}{
		{
			name: "valid YAML config",
			yamlContent: `
models:
  dir: "/opt/models"
  manifest: "bundle.yaml"

server:
  port: 8080
  requestTimeout: "3s"
  readTimeout: "15s"
  rateLimit: 0

registry:
  dataPath: "/var/lib/risk"
  strict: true

logging:
  level: "warn"
  format: "console"
`,
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelsDir != "/opt/models" {
					t.Errorf("expected ModelsDir /opt/models, got %s", settings.ModelsDir)
				}
				if settings.ManifestFile != "bundle.yaml" {
					t.Errorf("expected manifest bundle.yaml, got %s", settings.ManifestFile)
				}
				if settings.Port != 8080 {
					t.Errorf("expected Port 8080, got %d", settings.Port)
				}
				if settings.RequestTimeout != 3*time.Second || settings.ReadTimeout != 15*time.Second {
					t.Errorf("unexpected timeouts %v %v", settings.RequestTimeout, settings.ReadTimeout)
				}
				if settings.WriteTimeout != 10*time.Second {
					t.Errorf("expected default WriteTimeout 10s, got %v", settings.WriteTimeout)
				}
				if settings.RateLimit != 0 {
					t.Errorf("expected explicit rateLimit 0 to disable limiting, got %d", settings.RateLimit)
				}
				if !settings.StrictRegistry || settings.DataPath != "/var/lib/risk" {
					t.Errorf("unexpected registry settings %q %v", settings.DataPath, settings.StrictRegistry)
				}
				if settings.LogLevel != "warn" {
					t.Errorf("expected LogLevel warn, got %s", settings.LogLevel)
				}
			},
		},
		{
			name: "YAML with env overrides",
			yamlContent: `
models:
  dir: "/opt/models"
server:
  port: 8080
`,
			envOverrides: map[string]string{
				"MODELS_DIR": "/env/models",
				"PORT":       "9000",
			},
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelsDir != "/env/models" {
					t.Errorf("expected env ModelsDir, got %s", settings.ModelsDir)
				}
				if settings.Port != 9000 {
					t.Errorf("expected env Port 9000, got %d", settings.Port)
				}
				if settings.RateLimit != 120 {
					t.Errorf("expected default RateLimit, got %d", settings.RateLimit)
				}
			},
		},
		{
			name:        "invalid YAML",
			yamlContent: "models: [",
			wantErr:     true,
		},
		{
			name: "invalid values",
			yamlContent: `
logging:
  format: "xml"
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)
			for key, value := range tt.envOverrides {
				t.Setenv(key, value)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yamlContent), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			settings, err := loadFromYAML(path)

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoad_UsesConfigFile(t *testing.T) {
	clearTestEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8181\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(common.EnvConfigFile, path)

	settings, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Port != 8181 {
		t.Errorf("expected Port 8181 from file, got %d", settings.Port)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearTestEnv(t)
	t.Setenv(common.EnvConfigFile, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestValidateSettings(t *testing.T) {
	valid := func() Settings {
		return Settings{
			ModelsDir:       "models",
			ManifestFile:    "manifest.yaml",
			Port:            7860,
			LogLevel:        "info",
			LogFormat:       "json",
			RequestTimeout:  5 * time.Second,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       120,
		}
	}

	s := valid()
	if err := validateSettings(&s); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"empty models dir", func(s *Settings) { s.ModelsDir = " " }},
		{"port too high", func(s *Settings) { s.Port = 70000 }},
		{"request timeout too short", func(s *Settings) { s.RequestTimeout = time.Millisecond }},
		{"read timeout too long", func(s *Settings) { s.ReadTimeout = time.Hour }},
		{"write timeout zero", func(s *Settings) { s.WriteTimeout = 0 }},
		{"shutdown timeout zero", func(s *Settings) { s.ShutdownTimeout = 0 }},
		{"rate limit too high", func(s *Settings) { s.RateLimit = common.MaxRateLimit + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			if err := validateSettings(&s); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
