package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"diabetes-risk/internal/cfg"
	"diabetes-risk/internal/common"
	"diabetes-risk/internal/metrics"
	"diabetes-risk/internal/ml"
	"diabetes-risk/internal/storage"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store, storeErr := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	svc := initializeService(c, mw, store, storeErr)
	if a := svc.Assets(); a != nil {
		defer a.Close()
	}

	server := ml.NewModelServer(svc, ml.ServerConfig{
		Port:           c.Port,
		RequestTimeout: c.RequestTimeout,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		RateLimit:      c.RateLimit,
		MetricsHandler: m.Handler(),
		Metrics:        mw,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("model server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown model server")
		}
	}
	log.Info().Msg("shutdown complete")
}

func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// initializeStorage opens the bundle registry if DATA_PATH is configured
func initializeStorage(c cfg.Settings) (*storage.Store, error) {
	if c.DataPath == "" {
		return nil, nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		if c.StrictRegistry {
			log.Error().Err(err).Str("data_path", c.DataPath).Msg("registry initialization failed in strict mode")
		} else {
			log.Warn().Err(err).Msg("registry initialization failed, continuing without bundle history")
		}
		return nil, err
	}
	return store, nil
}

// initializeService loads the artifacts once. A failed load, or a registry
// that cannot be opened or disagrees in strict mode, still yields a service,
// one that answers every request with the asset-load error.
func initializeService(c cfg.Settings, mw *metrics.MetricsWrapper, store *storage.Store, storeErr error) *ml.Service {
	if storeErr != nil && c.StrictRegistry {
		return ml.NewUnavailableService(common.NewAssetLoadError("storage.New", storeErr), mw)
	}

	assets, err := ml.LoadAssets(c.ModelsDir, ml.LoadOptions{
		ManifestFile:    c.ManifestFile,
		ONNXLibraryPath: c.ONNXLibraryPath,
	})
	if err != nil {
		log.Error().Err(err).Str("kind", common.KindOf(err).String()).Str("dir", c.ModelsDir).Msg("Error loading model assets")
		return ml.NewUnavailableService(err, mw)
	}

	if store != nil {
		rec, err := store.RecordBundle(storage.BundleRecord{
			Version:      assets.Manifest.Version,
			Encoding:     assets.Manifest.Encoding,
			Fingerprints: assets.Fingerprints,
			NumFeatures:  assets.Schema.Len(),
		})
		switch {
		case errors.Is(err, storage.ErrFingerprintConflict):
			log.Error().Err(err).
				Str("version", rec.Version).
				Interface("recorded", rec.Fingerprints).
				Interface("loaded", assets.Fingerprints).
				Msg("bundle version reused for different artifacts")
			if c.StrictRegistry {
				assets.Close()
				return ml.NewUnavailableService(common.NewAssetLoadError("storage.RecordBundle", err), mw)
			}
		case err != nil:
			log.Warn().Err(err).Msg("failed to record bundle")
		default:
			log.Info().Str("version", rec.Version).Int("load_count", rec.LoadCount).Msg("bundle recorded")
		}
	}

	return ml.NewService(assets, mw)
}
