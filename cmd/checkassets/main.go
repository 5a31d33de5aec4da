package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"diabetes-risk/internal/client"
	"diabetes-risk/internal/common"
	"diabetes-risk/internal/ml"
	"diabetes-risk/internal/patient"
	"diabetes-risk/internal/storage"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type options struct {
	modelsDir    string
	manifest     string
	recordPath   string
	remote       string
	timeout      time.Duration
	history      bool
	dataPath     string
	onnxLibrary  string
	columnsShown int
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.modelsDir, "models", envOr(common.EnvModelsDir, common.DefaultModelsDir), "Path to the models directory")
	flag.StringVar(&opts.manifest, "manifest", common.DefaultManifestFile, "Manifest file inside the models directory")
	flag.StringVar(&opts.recordPath, "record", "", "JSON file with the input record (default: built-in sample)")
	flag.StringVar(&opts.remote, "remote", "", "Base URL of a running server; check it instead of local files")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Timeout for remote requests")
	flag.BoolVar(&opts.history, "history", false, "List bundles recorded in the registry and exit")
	flag.StringVar(&opts.dataPath, "data", os.Getenv(common.EnvDataPath), "Registry directory for -history")
	flag.StringVar(&opts.onnxLibrary, "onnx-lib", os.Getenv(common.EnvONNXLibrary), "Path to the ONNX Runtime shared library")
	flag.IntVar(&opts.columnsShown, "columns", 13, "Number of training columns to print")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := run(context.Background(), os.Stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "check failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, w io.Writer, opts options) error {
	switch {
	case opts.history:
		return printHistory(w, opts.dataPath)
	case opts.remote != "":
		raw, err := loadRecord(opts.recordPath)
		if err != nil {
			return err
		}
		return checkRemote(ctx, w, opts, raw)
	default:
		raw, err := loadRecord(opts.recordPath)
		if err != nil {
			return err
		}
		return checkLocal(ctx, w, opts, raw)
	}
}

func loadRecord(path string) (patient.Raw, error) {
	if path == "" {
		return patient.Sample().Raw(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var raw patient.Raw
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", path, err)
	}
	return raw, nil
}

func checkLocal(ctx context.Context, w io.Writer, opts options, raw patient.Raw) error {
	fmt.Fprintln(w, "=== Artifact files ===")
	files, err := artifactFiles(opts.modelsDir, opts.manifest)
	if err != nil {
		fmt.Fprintf(w, " manifest: false %s (%v)\n", filepath.Join(opts.modelsDir, opts.manifest), err)
	} else {
		for _, f := range files {
			_, statErr := os.Stat(f[1])
			fmt.Fprintf(w, " %s: %v %s\n", f[0], statErr == nil, f[1])
		}
	}
	fmt.Fprintln(w)

	assets, err := ml.LoadAssets(opts.modelsDir, ml.LoadOptions{ManifestFile: opts.manifest, ONNXLibraryPath: opts.onnxLibrary})
	if err != nil {
		fmt.Fprintf(w, "Problem (%s): %v\n", common.KindOf(err), err)
		return err
	}
	defer assets.Close()

	m := assets.Manifest
	fmt.Fprintln(w, "=== Bundle ===")
	fmt.Fprintf(w, "Version: %s\n", m.Version)
	fmt.Fprintf(w, "Encoding: %s\n", m.Encoding)
	if !m.TrainedAt.IsZero() {
		fmt.Fprintf(w, "Trained at: %s\n", m.TrainedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Classifier: %s\n", m.Classifier.Format)
	if x, ok := assets.Classifier.(*ml.XGBoostModel); ok {
		fmt.Fprintf(w, "Trees: %d\n", x.NumTrees())
	}
	fmt.Fprintf(w, "Scaler mean length: %d\n", len(assets.Scaler.Mean()))
	fmt.Fprintf(w, "Scaler scale length: %d\n", len(assets.Scaler.Scale()))
	fmt.Fprintf(w, "Training columns length: %d\n", assets.Schema.Len())
	fmt.Fprintf(w, "Model expects: %d\n", assets.Classifier.NumFeatures())
	// LoadAssets refuses disagreeing widths, so both checks hold here.
	fmt.Fprintln(w, "OK: scaler and training columns lengths match.")
	fmt.Fprintln(w, "OK: model and training columns lengths match.")
	for _, name := range []string{ml.ArtifactColumns, ml.ArtifactScaler, ml.ArtifactClassifier} {
		fmt.Fprintf(w, "xxhash %s: %s\n", name, assets.Fingerprints[name])
	}
	names := assets.Schema.Names()
	fmt.Fprintf(w, "First %d training columns: %q\n", min(opts.columnsShown, len(names)), names[:min(opts.columnsShown, len(names))])
	fmt.Fprintln(w)

	rec, err := patient.Validate(raw)
	if err != nil {
		fmt.Fprintf(w, "Invalid record: %v\n", err)
		return err
	}

	svc := ml.NewService(assets, nil)
	trace, err := svc.Explain(ctx, rec)
	if err != nil {
		fmt.Fprintf(w, "Error predicting with model: %v\n", err)
		return err
	}
	printTrace(w, trace)
	return nil
}

func printTrace(w io.Writer, t ml.Trace) {
	fmt.Fprintln(w, "=== Inference walk-through ===")
	rec, _ := json.Marshal(t.Record)
	fmt.Fprintf(w, "Input: %s\n\n", rec)

	fmt.Fprintln(w, "After encoding:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range t.Encoded {
		fmt.Fprintf(tw, "  %s\t%g\n", c.Name, c.Value)
	}
	tw.Flush()
	if len(t.Dropped) > 0 {
		fmt.Fprintf(w, "Not in training columns (dropped): %q\n", t.Dropped)
	}

	fmt.Fprintf(w, "\nAfter alignment -> columns count: %d\n", len(t.Aligned))
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  column\taligned\tscaled")
	for i, name := range t.Columns {
		fmt.Fprintf(tw, "  %s\t%g\t%.6f\n", name, t.Aligned[i], t.Scaled[i])
	}
	tw.Flush()

	fmt.Fprintf(w, "\npredict_proba: [%.6f %.6f]  predict: %d\n", t.Result.NoDiabetes, t.Result.Diabetes, t.Result.Prediction())
	fmt.Fprintf(w, "%s: %.2f%%\n%s: %.2f%%\n", common.LabelNoDiabetes, 100*t.Result.NoDiabetes, common.LabelDiabetes, 100*t.Result.Diabetes)
	fmt.Fprintf(w, "\n%s\n", common.Disclaimer)
}

func checkRemote(ctx context.Context, w io.Writer, opts options, raw patient.Raw) error {
	c := client.New(opts.remote, opts.timeout)

	health, err := c.Health(ctx)
	fmt.Fprintln(w, "=== Remote server ===")
	fmt.Fprintf(w, "URL: %s\n", opts.remote)
	if err != nil {
		fmt.Fprintf(w, "Healthy: false (%v)\n", err)
		return err
	}
	fmt.Fprintf(w, "Healthy: %v  version: %s  uptime: %.0fs\n", health.Healthy, health.ModelVersion, health.UptimeSeconds)

	info, err := c.ModelInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Encoding: %s\n", info.Encoding)
	fmt.Fprintf(w, "Classifier: %s (%d features)\n", info.ClassifierFormat, info.NumFeatures)
	fmt.Fprintf(w, "Columns: %q\n", info.Columns)

	resp, err := c.Predict(ctx, raw)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(w, "Prediction rejected: %v\n", apiErr)
		}
		return err
	}
	fmt.Fprintf(w, "\nprediction: %d  P(diabetes): %.6f  id: %s\n", resp.Prediction, resp.ProbabilityDiabetes, resp.PredictionID)
	fmt.Fprintf(w, "\n%s\n", info.Disclaimer)
	return nil
}

func printHistory(w io.Writer, dataPath string) error {
	if dataPath == "" {
		return fmt.Errorf("-history needs -data or %s", common.EnvDataPath)
	}
	store, err := storage.New(dataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListBundles()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No bundles recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tENCODING\tFEATURES\tLOADS\tFIRST SEEN\tLAST LOADED\tCLASSIFIER")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.Version, r.Encoding, r.NumFeatures, r.LoadCount,
			r.FirstSeen.Format(time.RFC3339), r.LastLoaded.Format(time.RFC3339),
			r.Fingerprints[ml.ArtifactClassifier])
	}
	return tw.Flush()
}

// artifactFiles lists (name, path) for the manifest and everything it references.
func artifactFiles(dir, manifest string) ([][2]string, error) {
	path := filepath.Join(dir, manifest)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m ml.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return [][2]string{
		{"manifest", path},
		{ml.ArtifactClassifier, filepath.Join(dir, m.Classifier.File)},
		{ml.ArtifactScaler, filepath.Join(dir, m.Scaler.File)},
		{ml.ArtifactColumns, filepath.Join(dir, m.Columns.File)},
	}, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
