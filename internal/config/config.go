package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

const (
	defaultHTTPAddr         = ":8080"
	defaultStorageBackend   = BackendLocal
	defaultUploadsDir       = "./public/uploads"
	defaultFilesURLPrefix   = "/files"
	defaultS3Bucket         = "uploads"
	defaultS3Region         = "us-east-1"
	defaultSignedURLTTL     = "1h"
	defaultMaxUploadSize    = "50MB"
	defaultLedgerPath       = "./data/uploads.json"
	defaultRetryAttempts    = "3"
	defaultRetryBaseDelay   = "500ms"
	defaultLogLevel         = "info"
	defaultAllowedMimeTypes = "audio/mpeg,audio/mp3,audio/wav,audio/x-wav,audio/wave,audio/mp4,audio/x-m4a,audio/aac,audio/ogg,audio/flac,audio/webm"
	defaultSections         = "for-sale,streams,instrumentals,unknown"
)

// Config is built once at process startup and passed to every component that needs it.
type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	// DatabaseURL is optional. When empty the service runs in local-only mode
	// with the fallback ledger as its metadata store.
	DatabaseURL string

	StorageBackend string
	UploadsDir     string
	FilesURLPrefix string

	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Region       string
	S3UseSSL       bool
	PublicBaseURL  string
	S3SignedURLs   bool
	S3SignedURLTTL time.Duration

	MaxUploadSize    int64
	AllowedMimeTypes []string
	Sections         []string
	StrictSections   bool

	LedgerPath      string
	SearchIndexPath string

	RetryAttempts  int
	RetryBaseDelay time.Duration

	AdminToken         string
	CORSAllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{}
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = strings.TrimSpace(os.Getenv("ENV"))
	}
	if appEnv == "" {
		appEnv = "dev"
	}
	cfg.AppEnv = strings.ToLower(appEnv)

	cfg.HTTPAddr = strings.TrimSpace(getEnv("HTTP_ADDR", defaultHTTPAddr))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", defaultLogLevel)))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(getEnv("STORAGE_BACKEND", defaultStorageBackend)))
	cfg.UploadsDir = strings.TrimSpace(getEnv("UPLOADS_DIR", defaultUploadsDir))
	cfg.FilesURLPrefix = strings.TrimRight(strings.TrimSpace(getEnv("FILES_URL_PREFIX", defaultFilesURLPrefix)), "/")

	cfg.S3Endpoint = strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	cfg.S3AccessKey = strings.TrimSpace(os.Getenv("S3_ACCESS_KEY"))
	cfg.S3SecretKey = strings.TrimSpace(os.Getenv("S3_SECRET_KEY"))
	cfg.S3Bucket = strings.TrimSpace(getEnv("S3_BUCKET", defaultS3Bucket))
	cfg.S3Region = strings.TrimSpace(getEnv("S3_REGION", defaultS3Region))
	cfg.S3UseSSL = parseBoolEnv("S3_USE_SSL", "false")
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	cfg.S3SignedURLs = parseBoolEnv("S3_SIGNED_URLS", "false")

	cfg.LedgerPath = strings.TrimSpace(getEnv("LEDGER_PATH", defaultLedgerPath))
	cfg.SearchIndexPath = strings.TrimSpace(os.Getenv("SEARCH_INDEX_PATH"))
	cfg.AdminToken = strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))
	cfg.AllowedMimeTypes = parseListEnv("ALLOWED_MIME_TYPES", defaultAllowedMimeTypes)
	cfg.Sections = parseListEnv("UPLOAD_SECTIONS", defaultSections)
	cfg.StrictSections = parseBoolEnv("STRICT_SECTIONS", "false")
	cfg.CORSAllowedOrigins = parseListEnv("CORS_ALLOWED_ORIGINS", "")

	var err error
	cfg.S3SignedURLTTL, err = parseDurationEnv("S3_SIGNED_URL_TTL", defaultSignedURLTTL)
	if err != nil {
		return nil, err
	}

	cfg.RetryBaseDelay, err = parseDurationEnv("METADATA_RETRY_BASE_DELAY", defaultRetryBaseDelay)
	if err != nil {
		return nil, err
	}

	cfg.RetryAttempts, err = parseIntEnv("METADATA_RETRY_ATTEMPTS", defaultRetryAttempts)
	if err != nil {
		return nil, err
	}

	cfg.MaxUploadSize, err = parseSizeEnv("MAX_UPLOAD_SIZE", defaultMaxUploadSize)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks a configuration assembled by Load or by hand (tests, CLI).
func Validate(cfg *Config) error {
	if cfg.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0")
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("METADATA_RETRY_ATTEMPTS must be >= 1")
	}
	if cfg.RetryBaseDelay < 0 {
		return fmt.Errorf("METADATA_RETRY_BASE_DELAY must be >= 0")
	}
	if len(cfg.AllowedMimeTypes) == 0 {
		return fmt.Errorf("ALLOWED_MIME_TYPES must not be empty")
	}
	if len(cfg.Sections) == 0 {
		return fmt.Errorf("UPLOAD_SECTIONS must not be empty")
	}
	if cfg.LedgerPath == "" {
		return fmt.Errorf("LEDGER_PATH must not be empty")
	}

	switch cfg.StorageBackend {
	case BackendLocal:
		if cfg.UploadsDir == "" {
			return fmt.Errorf("UPLOADS_DIR must not be empty for the local storage backend")
		}
	case BackendS3:
		if cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			return fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required for the s3 storage backend")
		}
		if cfg.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET must not be empty")
		}
		if cfg.S3SignedURLs && cfg.S3SignedURLTTL <= 0 {
			return fmt.Errorf("S3_SIGNED_URL_TTL must be > 0 when S3_SIGNED_URLS is enabled")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of: %s, %s", BackendLocal, BackendS3)
	}

	if IsProdLike(cfg.AppEnv) {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("in prod/release DATABASE_URL must be set")
		}
		if cfg.AdminToken == "" {
			return fmt.Errorf("in prod/release ADMIN_TOKEN must be set")
		}
	}

	return nil
}

// HasDatabase reports whether a primary metadata store is configured.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func IsProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseIntEnv(name, fallback string) (int, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

// parseSizeEnv accepts humanized sizes such as "50MB" or "15MiB".
func parseSizeEnv(name, fallback string) (int64, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return int64(n), nil
}

func parseBoolEnv(name, fallback string) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(name, fallback)))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}

func parseListEnv(name, fallback string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(name, fallback), ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
