// Package config loads the process-wide ProcessingConfig from environment
// variables, applying the default list of accepted formats and sane
// fallbacks for everything the operator does not set explicitly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// defaultFormats mirrors spec.md's fixed default extension list.
var defaultFormats = []string{
	"pdf", "docx", "pptx", "xlsx", "html", "xhtml", "md", "asciidoc",
	"csv", "mp3", "wav", "vtt", "png", "jpg", "jpeg", "tiff", "bmp", "webp",
}

// EmbedDevice is the device an EmbeddingEngine should prefer.
type EmbedDevice string

const (
	DeviceMPS  EmbedDevice = "mps"
	DeviceCUDA EmbedDevice = "cuda"
	DeviceCPU  EmbedDevice = "cpu"
)

// EmbedPrecision is the numeric precision an EmbeddingEngine should prefer.
type EmbedPrecision string

const (
	PrecisionFP16 EmbedPrecision = "fp16"
	PrecisionInt8 EmbedPrecision = "int8"
	PrecisionFP32 EmbedPrecision = "fp32"
)

// ProcessingConfig is an immutable snapshot of environment-driven
// configuration. Construct once with Load and hand the value (or a
// pointer to it) to every consumer; nothing here mutates after Load
// returns.
type ProcessingConfig struct {
	SupportedFormats []string

	MaxFileSizeMB int
	UploadDir     string

	TextChunkSize    int
	TextChunkOverlap int
	PageRenderDPI    int

	WorkerThreads int
	EnableQueue   bool

	LogLevel  string
	LogFormat string
	LogFile   string

	EmbedDevice             EmbedDevice
	EmbedPrecision          EmbedPrecision
	EmbedServerURL          string
	EmbedModel              string
	EmbedAPIKey             string
	BatchSizeVisual         int
	BatchSizeText           int
	RepresentativeTokenIdx  int
	StatusTTL               time.Duration
	RepresentativeTokenName string // human label, "cls" or "first-token-override", cosmetic only

	VectorStoreDSN   string
	VectorDimension  int
	ObjectStoreMode  string // "memory" or "s3"

	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string // non-empty for MinIO/S3-compatible services
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	SearchKFinalDefault  int
	SearchVisualWeight   float64
	SearchTextWeight     float64
	QueryCacheSize       int
	QueryCacheRedisAddr  string // empty disables Redis, falls back to in-memory LRU

	ParseTimeout  time.Duration
	EmbedTimeout  time.Duration
	StoreTimeout  time.Duration
	SearchStage1Timeout time.Duration
	SearchStage2Timeout time.Duration

	OTelEnabled        bool
	OTLPEndpoint       string
	ServiceName        string
	ServiceVersion     string
	DeploymentEnv      string

	HTTPAddr          string
	CORSAllowlist     []string
	WatchQuietPeriod  time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads an optional .env file (if present) then the process
// environment, and returns an immutable ProcessingConfig with defaults
// applied for every unset option.
func Load() (*ProcessingConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	cfg := &ProcessingConfig{
		SupportedFormats:        formatsFromEnv("SUPPORTED_FORMATS", defaultFormats),
		MaxFileSizeMB:           intFromEnv("MAX_FILE_SIZE_MB", 100),
		UploadDir:               strFromEnv("UPLOAD_DIR", "./uploads"),
		TextChunkSize:           intFromEnv("TEXT_CHUNK_SIZE", 250),
		TextChunkOverlap:        intFromEnv("TEXT_CHUNK_OVERLAP", 50),
		PageRenderDPI:           intFromEnv("PAGE_RENDER_DPI", 150),
		WorkerThreads:           intFromEnv("WORKER_THREADS", 4),
		EnableQueue:             boolFromEnv("ENABLE_QUEUE", true),
		LogLevel:                strFromEnv("LOG_LEVEL", "info"),
		LogFormat:               strFromEnv("LOG_FORMAT", "json"),
		LogFile:                 strFromEnv("LOG_FILE", ""),
		EmbedDevice:             EmbedDevice(strFromEnv("EMBED_DEVICE", string(DeviceCPU))),
		EmbedPrecision:          EmbedPrecision(strFromEnv("EMBED_PRECISION", string(PrecisionFP32))),
		EmbedServerURL:          strFromEnv("EMBED_SERVER_URL", "http://localhost:8001"),
		EmbedModel:              strFromEnv("EMBED_MODEL", "colqwen2"),
		EmbedAPIKey:             strFromEnv("EMBED_API_KEY", ""),
		BatchSizeVisual:         intFromEnv("BATCH_SIZE_VISUAL", 4),
		BatchSizeText:           intFromEnv("BATCH_SIZE_TEXT", 16),
		RepresentativeTokenIdx:  intFromEnv("REPRESENTATIVE_TOKEN_INDEX", 0),
		StatusTTL:               time.Duration(intFromEnv("STATUS_TTL_SECONDS", 3600)) * time.Second,
		RepresentativeTokenName: "cls",

		VectorStoreDSN:  strFromEnv("VECTOR_STORE_DSN", "http://localhost:6334"),
		VectorDimension: intFromEnv("VECTOR_DIMENSION", 128),
		ObjectStoreMode: strFromEnv("OBJECT_STORE_MODE", "memory"),

		S3Bucket:       strFromEnv("S3_BUCKET", ""),
		S3Prefix:       strFromEnv("S3_PREFIX", ""),
		S3Region:       strFromEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     strFromEnv("S3_ENDPOINT", ""),
		S3AccessKey:    strFromEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    strFromEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle: boolFromEnv("S3_USE_PATH_STYLE", false),

		SearchKFinalDefault: intFromEnv("SEARCH_K_FINAL", 10),
		SearchVisualWeight:  floatFromEnv("SEARCH_VISUAL_WEIGHT", 0.55),
		SearchTextWeight:    floatFromEnv("SEARCH_TEXT_WEIGHT", 0.45),
		QueryCacheSize:      intFromEnv("QUERY_CACHE_SIZE", 256),
		QueryCacheRedisAddr: strFromEnv("QUERY_CACHE_REDIS_ADDR", ""),

		ParseTimeout:        time.Duration(intFromEnv("PARSE_TIMEOUT_SECONDS", 60)) * time.Second,
		EmbedTimeout:        time.Duration(intFromEnv("EMBED_TIMEOUT_SECONDS", 300)) * time.Second,
		StoreTimeout:        time.Duration(intFromEnv("STORE_TIMEOUT_SECONDS", 60)) * time.Second,
		SearchStage1Timeout: time.Duration(intFromEnv("SEARCH_STAGE1_TIMEOUT_MS", 2500)) * time.Millisecond,
		SearchStage2Timeout: time.Duration(intFromEnv("SEARCH_STAGE2_TIMEOUT_MS", 2500)) * time.Millisecond,

		OTelEnabled:    boolFromEnv("OTEL_ENABLED", false),
		OTLPEndpoint:   strFromEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		ServiceName:    strFromEnv("OTEL_SERVICE_NAME", "docusearchd"),
		ServiceVersion: strFromEnv("SERVICE_VERSION", "dev"),
		DeploymentEnv:  strFromEnv("DEPLOYMENT_ENVIRONMENT", "development"),

		HTTPAddr:         strFromEnv("HTTP_ADDR", ":8080"),
		CORSAllowlist:    listFromEnv("CORS_ALLOWLIST"),
		WatchQuietPeriod: time.Duration(intFromEnv("WATCH_QUIET_PERIOD_SECONDS", 2)) * time.Second,

		KafkaBrokers: listFromEnv("KAFKA_BROKERS"),
		KafkaTopic:   strFromEnv("KAFKA_TOPIC", "ingestion.status"),
	}

	if cfg.MaxFileSizeMB <= 0 {
		return nil, fmt.Errorf("config: MAX_FILE_SIZE_MB must be positive, got %d", cfg.MaxFileSizeMB)
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 1
	}
	if cfg.RepresentativeTokenIdx != 0 {
		cfg.RepresentativeTokenName = "first-token-override"
	}

	log.Info().
		Strs("supported_formats", cfg.SupportedFormats).
		Int("max_file_size_mb", cfg.MaxFileSizeMB).
		Int("worker_threads", cfg.WorkerThreads).
		Str("embed_device", string(cfg.EmbedDevice)).
		Msg("configuration loaded")

	return cfg, nil
}

func formatsFromEnv(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		out := make([]string, len(def))
		copy(out, def)
		return out
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		p = strings.TrimPrefix(p, ".")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// listFromEnv splits a comma-separated env var, trimming whitespace and
// dropping empty entries. Unlike formatsFromEnv it preserves case, since
// CORS origins and Kafka broker addresses are case-sensitive.
func listFromEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func strFromEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
