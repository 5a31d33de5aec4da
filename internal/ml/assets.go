package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"diabetes-risk/internal/common"
	"diabetes-risk/internal/features"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ArtifactRef points at one artifact file inside the models directory.
type ArtifactRef struct {
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file"`
	// XXHash is the optional expected xxhash64 of the file, lowercase hex.
	XXHash string `yaml:"xxhash,omitempty"`
}

// Manifest binds a column schema to the encoding convention that produced it,
// together with the scaler and classifier fitted on that schema.
type Manifest struct {
	Version    string      `yaml:"version"`
	Encoding   string      `yaml:"encoding"`
	TrainedAt  time.Time   `yaml:"trained_at,omitempty"`
	Classifier ArtifactRef `yaml:"classifier"`
	Scaler     ArtifactRef `yaml:"scaler"`
	Columns    ArtifactRef `yaml:"columns"`
	ONNX       ONNXConfig  `yaml:"onnx,omitempty"`
}

// LoadOptions carries process-level settings for artifact loading.
type LoadOptions struct {
	ManifestFile    string
	ONNXLibraryPath string
}

// Assets are the three frozen artifacts, loaded once and read-only afterwards.
type Assets struct {
	Dir          string
	Manifest     Manifest
	Schema       features.Schema
	Scaler       *StandardScaler
	Classifier   Classifier
	Fingerprints map[string]string // artifact name -> xxhash64 hex
	ModelModTime time.Time
}

// Artifact names used in fingerprints and errors.
const (
	ArtifactColumns    = "columns"
	ArtifactScaler     = "scaler"
	ArtifactClassifier = "classifier"
)

// Close releases the classifier runtime.
func (a *Assets) Close() error {
	if a == nil || a.Classifier == nil {
		return nil
	}
	return a.Classifier.Close()
}

// LoadAssets reads the manifest in dir and every artifact it names, then
// cross-checks them. Read or parse failures are KindAssetLoad; disagreement
// between schema, convention, scaler and classifier is KindSchemaMismatch.
func LoadAssets(dir string, opts LoadOptions) (*Assets, error) {
	const op = "ml.LoadAssets"
	manifestFile := opts.ManifestFile
	if manifestFile == "" {
		manifestFile = common.DefaultManifestFile
	}

	m, err := readManifest(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, common.NewAssetLoadError(op, err)
	}
	if m.Encoding != features.ConventionID {
		return nil, common.NewSchemaMismatchError(op,
			"manifest %s declares encoding %q, this build implements %q", m.Version, m.Encoding, features.ConventionID)
	}

	a := &Assets{Dir: dir, Manifest: m, Fingerprints: make(map[string]string, 3)}

	colData, err := a.readArtifact(ArtifactColumns, m.Columns)
	if err != nil {
		return nil, common.NewAssetLoadError(op, err)
	}
	var names []string
	if err := json.Unmarshal(colData, &names); err != nil {
		return nil, common.NewAssetLoadError(op, fmt.Errorf("parse training columns: %w", err))
	}
	if a.Schema, err = features.NewSchema(names); err != nil {
		return nil, err
	}
	if err := features.CheckSchema(a.Schema); err != nil {
		return nil, err
	}

	scalerData, err := a.readArtifact(ArtifactScaler, m.Scaler)
	if err != nil {
		return nil, common.NewAssetLoadError(op, err)
	}
	if a.Scaler, err = ParseScaler(scalerData); err != nil {
		return nil, common.NewAssetLoadError(op, err)
	}
	if got, want := a.Scaler.NumFeatures(), a.Schema.Len(); got != want {
		return nil, common.NewSchemaMismatchError(op, "scaler has %d features, schema has %d", got, want)
	}
	if fn := a.Scaler.FeatureNames(); len(fn) > 0 && !slices.Equal(fn, a.Schema.Names()) {
		return nil, common.NewSchemaMismatchError(op, "scaler feature names differ from the training column schema")
	}

	if a.Classifier, err = a.loadClassifier(m, opts); err != nil {
		return nil, common.NewAssetLoadError(op, err)
	}
	if got, want := a.Classifier.NumFeatures(), a.Schema.Len(); got != want {
		a.Classifier.Close()
		return nil, common.NewSchemaMismatchError(op, "classifier expects %d features, schema has %d", got, want)
	}

	log.Info().
		Str("dir", dir).
		Str("version", m.Version).
		Str("encoding", m.Encoding).
		Int("features", a.Schema.Len()).
		Str("classifier_format", m.Classifier.Format).
		Msg("Model, scaler and training columns loaded")

	return a, nil
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if strings.TrimSpace(m.Version) == "" {
		return m, errors.New("manifest version is required")
	}
	for name, ref := range map[string]ArtifactRef{
		ArtifactColumns: m.Columns, ArtifactScaler: m.Scaler, ArtifactClassifier: m.Classifier,
	} {
		if ref.File == "" {
			return m, fmt.Errorf("manifest has no %s file", name)
		}
		if !filepath.IsLocal(ref.File) {
			return m, fmt.Errorf("%s file %q must be relative to the models directory", name, ref.File)
		}
	}
	if m.Classifier.Format == "" {
		m.Classifier.Format = FormatXGBoostJSON
	}
	return m, nil
}

func (a *Assets) readArtifact(name string, ref ArtifactRef) ([]byte, error) {
	path := filepath.Join(a.Dir, ref.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	sum := Fingerprint(data)
	if ref.XXHash != "" && !strings.EqualFold(ref.XXHash, sum) {
		return nil, fmt.Errorf("%s %s: xxhash %s does not match manifest %s", name, ref.File, sum, ref.XXHash)
	}
	a.Fingerprints[name] = sum
	if name == ArtifactClassifier {
		if info, err := os.Stat(path); err == nil {
			a.ModelModTime = info.ModTime()
		}
	}
	return data, nil
}

func (a *Assets) loadClassifier(m Manifest, opts LoadOptions) (Classifier, error) {
	data, err := a.readArtifact(ArtifactClassifier, m.Classifier)
	if err != nil {
		return nil, err
	}
	switch m.Classifier.Format {
	case FormatXGBoostJSON:
		return ParseXGBoost(data)
	case FormatONNX:
		cfg := m.ONNX
		cfg.LibraryPath = opts.ONNXLibraryPath
		return LoadONNX(filepath.Join(a.Dir, m.Classifier.File), cfg)
	default:
		return nil, fmt.Errorf("unsupported classifier format %q", m.Classifier.Format)
	}
}

// Fingerprint is the xxhash64 of an artifact, lowercase hex.
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
