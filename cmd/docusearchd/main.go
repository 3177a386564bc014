// Command docusearchd runs the document ingestion and search service:
// an HTTP API, an upload-directory filesystem watcher, and (optionally)
// a Kafka republisher for terminal status transitions. Wiring style
// follows the teacher's cmd/orchestrator/main.go: a run() error func
// that builds every dependency top-down with concrete constructors, no
// DI framework, with main() only handling the fatal-log exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/config"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/docstatus"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/documents"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/embedding"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/eventsink"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/events"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/httpapi"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/ingestion"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/logging"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/objectstore"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/search"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/telemetry"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/validation"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/vectorstore"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("docusearchd")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.LogFile, cfg.LogLevel)

	baseCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(baseCtx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.DeploymentEnv,
	})
	if err != nil {
		log.Warn().Err(err).Msg("telemetry setup failed, continuing without it")
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	objects, err := buildObjectStore(baseCtx, cfg)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	store, err := vectorstore.NewStore(baseCtx, vectorstore.Config{
		DSN:            cfg.VectorStoreDSN,
		Dimension:      cfg.VectorDimension,
		Objects:        objects,
		ReprTokenIndex: cfg.RepresentativeTokenIdx,
	})
	if err != nil {
		return fmt.Errorf("connect vector store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("vector store close failed")
		}
	}()

	engine := embedding.NewHTTPEngine(cfg.EmbedServerURL, cfg.EmbedModel, cfg.EmbedAPIKey, embeddingDevice(cfg.EmbedDevice), embeddingPrecision(cfg.EmbedPrecision))

	bus := events.NewBus()
	status := docstatus.NewManager(bus, cfg.StatusTTL)
	go status.RunCleanupLoop(15 * time.Minute)
	defer status.Stop()

	parsers := documents.NewDefaultRegistry(documents.NewChromeRasterizer())
	validator := validation.New(cfg.SupportedFormats)

	pipeline := ingestion.New(ingestion.Config{
		Validator:       validator,
		Parsers:         parsers,
		Engine:          engine,
		Store:           store,
		Status:          status,
		WorkerThreads:   cfg.WorkerThreads,
		MaxFileSizeMB:   cfg.MaxFileSizeMB,
		BatchSizeVisual: cfg.BatchSizeVisual,
		BatchSizeText:   cfg.BatchSizeText,
		Recorder:        telemetry.NewIngestionRecorder(),
	})

	var cache search.QueryCache
	if cfg.QueryCacheRedisAddr != "" {
		redisCache, err := search.NewRedisQueryCache(baseCtx, cfg.QueryCacheRedisAddr, "", 0, time.Hour)
		if err != nil {
			log.Warn().Err(err).Msg("redis query cache unavailable, falling back to in-memory LRU")
			cache = search.NewLRUCache(cfg.QueryCacheSize)
		} else {
			cache = redisCache
		}
	} else {
		cache = search.NewLRUCache(cfg.QueryCacheSize)
	}

	searchEngine := search.NewEngine(search.Config{
		Embedder:       engine,
		Store:          store,
		Cache:          cache,
		ModelVersion:   cfg.EmbedModel,
		VisualWeight:   cfg.SearchVisualWeight,
		TextWeight:     cfg.SearchTextWeight,
		Stage1Deadline: cfg.SearchStage1Timeout,
		Stage2Deadline: cfg.SearchStage2Timeout,
		Recorder:       telemetry.NewSearchRecorder(),
	})

	server := httpapi.NewServer(httpapi.Config{
		Pipeline:      pipeline,
		Status:        status,
		Engine:        searchEngine,
		Bus:           bus,
		Health:        store,
		CORSAllowlist: cfg.CORSAllowlist,
	})

	var sink *eventsink.Sink
	if len(cfg.KafkaBrokers) > 0 {
		sink = eventsink.New(eventsink.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), cfg.KafkaTopic, bus)
		go sink.Run(baseCtx)
	}

	fsWatcher, err := watcher.New(pipeline, cfg.WatchQuietPeriod)
	if err != nil {
		return fmt.Errorf("build filesystem watcher: %w", err)
	}
	go func() {
		if err := fsWatcher.Run(baseCtx, cfg.UploadDir); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("dir", cfg.UploadDir).Msg("filesystem watcher stopped")
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("docusearchd listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-baseCtx.Done():
		log.Info().Msg("shutdown signal received, draining")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	if err := fsWatcher.Close(); err != nil {
		log.Error().Err(err).Msg("watcher close failed")
	}
	if sink != nil {
		sink.Close()
	}
	bus.Close()

	log.Info().Msg("docusearchd stopped")
	return <-serveErr
}

func buildObjectStore(ctx context.Context, cfg *config.ProcessingConfig) (objectstore.Store, error) {
	if cfg.ObjectStoreMode == "s3" {
		return objectstore.NewS3Store(ctx, objectstore.S3Config{
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	}
	return objectstore.NewMemoryStore(), nil
}

func embeddingDevice(d config.EmbedDevice) embedding.Device {
	switch d {
	case config.DeviceMPS:
		return embedding.DeviceMPS
	case config.DeviceCUDA:
		return embedding.DeviceCUDA
	default:
		return embedding.DeviceCPU
	}
}

func embeddingPrecision(p config.EmbedPrecision) embedding.Precision {
	switch p {
	case config.PrecisionFP16:
		return embedding.PrecisionFP16
	case config.PrecisionInt8:
		return embedding.PrecisionINT8
	default:
		return embedding.PrecisionFP32
	}
}
