package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/framesight/framesight/internal/api"
	"github.com/framesight/framesight/internal/capture"
	"github.com/framesight/framesight/internal/embed"
	"github.com/framesight/framesight/internal/search"
	"github.com/framesight/framesight/internal/store"
)

func main() {
	logger := newLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	modelDir := os.Getenv("MODEL_DIR")
	if modelDir == "" {
		modelDir = "./models"
	}

	embedDim := 512
	if dimStr := os.Getenv("EMBEDDING_DIM"); dimStr != "" {
		dim, err := strconv.Atoi(dimStr)
		if err != nil {
			logger.Error("invalid EMBEDDING_DIM", "value", dimStr, "error", err)
			os.Exit(1)
		}
		embedDim = dim
	}

	captureInterval := time.Second
	if msStr := os.Getenv("CAPTURE_INTERVAL_MS"); msStr != "" {
		ms, err := strconv.Atoi(msStr)
		if err != nil || ms <= 0 {
			logger.Error("invalid CAPTURE_INTERVAL_MS", "value", msStr)
			os.Exit(1)
		}
		captureInterval = time.Duration(ms) * time.Millisecond
	}

	frames, err := newFrameStore(embedDim)
	if err != nil {
		logger.Error("initializing frame store", "error", err)
		os.Exit(1)
	}
	defer frames.Close()

	cache := embed.NewCache()
	provider := embed.NewONNXProvider(cache, embed.ONNXConfig{
		LibraryPath:     os.Getenv("ONNX_LIB"),
		TextModelPath:   filepath.Join(modelDir, "text.onnx"),
		VisionModelPath: filepath.Join(modelDir, "vision.onnx"),
		VocabPath:       filepath.Join(modelDir, "vocab.txt"),
		Dim:             embedDim,
	}, logger)

	// Model loading takes a while; serve immediately and let search and
	// capture return ErrModelNotReady until it finishes.
	go func() {
		start := time.Now()
		if err := provider.Load(); err != nil {
			logger.Error("loading encoders", "error", err)
			return
		}
		logger.Info("encoders ready", "dir", modelDir, "elapsed", time.Since(start))
	}()
	defer provider.Close()

	sources, err := parseCameras(os.Getenv("CAMERAS"))
	if err != nil {
		logger.Error("invalid CAMERAS", "error", err)
		os.Exit(1)
	}

	app := &api.App{
		Searcher: search.NewEngine(frames, provider, logger),
		Recorder: capture.NewRecorder(frames, provider, captureInterval, logger),
		Frames:   frames,
		Sources:  sources,
		Logger:   logger,
	}

	router := api.NewRouter(app)

	logger.Info("server starting",
		"port", port,
		"cameras", len(sources),
		"captureInterval", captureInterval,
	)

	if err := http.ListenAndServe(":"+port, router); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl}))
}

type closableStore interface {
	store.FrameStore
	Close() error
}

type memoryStore struct{ *store.MemoryStore }

func (memoryStore) Close() error { return nil }

func newFrameStore(dim int) (closableStore, error) {
	dbType := os.Getenv("DB_TYPE")
	if dbType == "" {
		dbType = "sqlite"
	}

	switch dbType {
	case "postgres":
		cfg := store.PostgresConfig{
			Host:     envDefault("DB_HOST", "localhost"),
			User:     envDefault("DB_USER", "framesight"),
			Password: envDefault("DB_PASSWORD", "framesight_dev"),
			Name:     envDefault("DB_NAME", "framesight"),
			Dim:      dim,
		}
		portStr := envDefault("DB_PORT", "5432")
		dbPort, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, err
		}
		cfg.Port = dbPort
		return store.NewPostgresStore(context.Background(), cfg)
	case "memory":
		return memoryStore{store.NewMemoryStore()}, nil
	default:
		return store.NewSQLiteStore(envDefault("DB_PATH", "./framesight.db"))
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseCameras reads "Lobby=rtsp://cam1,Gate A=rtsp://cam2" into a
// per-location source map.
func parseCameras(spec string) (map[string]capture.Source, error) {
	sources := make(map[string]capture.Source)
	if spec == "" {
		return sources, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		location, input, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || location == "" || input == "" {
			return nil, &cameraSpecError{entry}
		}
		src, err := capture.NewFFmpegSource(input, 0)
		if err != nil {
			return nil, err
		}
		sources[location] = src
	}
	return sources, nil
}

type cameraSpecError struct{ entry string }

func (e *cameraSpecError) Error() string {
	return "camera entry must be Location=input, got " + strconv.Quote(e.entry)
}
