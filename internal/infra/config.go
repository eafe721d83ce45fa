package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Unknown tool policies understood by the conversion registry.
const (
	UnknownToolPassthrough = "passthrough"
	UnknownToolReject      = "reject"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	FrontendURL string
	UploadDir   string
	DatabaseURL string
	AutoMigrate bool
	GeoIPDBPath string

	MaxFileSize       int64
	FileExpiry        time.Duration
	MaxConcurrentJobs int
	JobQueueSize      int
	JobTimeout        time.Duration
	CleanupInterval   time.Duration
	MaxBatchSize      int
	UnknownToolPolicy string

	LibreOfficePath string
	GhostscriptPath string
	ImageMagickPath string
	TesseractPath   string
	TesseractLang   string
	OCRParallelism  int

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	AMQPURL   string
	AMQPQueue string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitWindow  time.Duration
	RateLimitMax     int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "3001"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		UploadDir:   getEnv("UPLOAD_DIR", "./uploads"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		MaxFileSize:       int64(getEnvInt("MAX_FILE_SIZE", 104857600)),
		FileExpiry:        time.Minute * time.Duration(getEnvInt("FILE_EXPIRY_MINUTES", 30)),
		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 5),
		JobQueueSize:      getEnvInt("JOB_QUEUE_SIZE", 100),
		JobTimeout:        time.Second * time.Duration(getEnvInt("JOB_TIMEOUT_SECONDS", 300)),
		CleanupInterval:   time.Minute * time.Duration(getEnvInt("CLEANUP_INTERVAL_MINUTES", 10)),
		MaxBatchSize:      getEnvInt("MAX_BATCH_SIZE", 20),
		UnknownToolPolicy: strings.ToLower(getEnv("UNKNOWN_TOOL_POLICY", UnknownToolPassthrough)),

		LibreOfficePath: getEnv("LIBREOFFICE_PATH", "/usr/bin/libreoffice"),
		GhostscriptPath: getEnv("GHOSTSCRIPT_PATH", "/usr/bin/gs"),
		ImageMagickPath: getEnv("IMAGEMAGICK_PATH", "/usr/bin/convert"),
		TesseractPath:   getEnv("TESSERACT_PATH", "/usr/bin/tesseract"),
		TesseractLang:   getEnv("TESSERACT_LANG", "eng"),
		OCRParallelism:  getEnvInt("OCR_PARALLELISM", 2),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		AMQPURL:   os.Getenv("AMQP_URL"),
		AMQPQueue: getEnv("AMQP_QUEUE", "docify.job-events"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "docify-results"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitWindow:  time.Millisecond * time.Duration(getEnvInt("RATE_LIMIT_WINDOW_MS", 900000)),
		RateLimitMax:     getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),
	}

	switch cfg.UnknownToolPolicy {
	case UnknownToolPassthrough, UnknownToolReject:
	default:
		return nil, fmt.Errorf("UNKNOWN_TOOL_POLICY must be %q or %q, got %q", UnknownToolPassthrough, UnknownToolReject, cfg.UnknownToolPolicy)
	}

	if cfg.MaxConcurrentJobs <= 0 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}
	if cfg.JobQueueSize <= 0 {
		return nil, fmt.Errorf("JOB_QUEUE_SIZE must be positive")
	}
	if cfg.FileExpiry <= 0 {
		return nil, fmt.Errorf("FILE_EXPIRY_MINUTES must be positive")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}
	if cfg.OCRParallelism <= 0 {
		cfg.OCRParallelism = 1
	}

	return cfg, nil
}

// MirrorEnabled reports whether completed outputs are copied to object storage.
func (c *Config) MirrorEnabled() bool {
	return c.MinioEndpoint != "" && c.MinioAccessKey != "" && c.MinioSecretKey != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
