// Package config centralizes how DropZone reads environment variables (and an
// optional .env file) and exposes them as strongly typed Go values.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidKey reports a master key that is not 64 hex characters.
var ErrInvalidKey = errors.New("encryption key must be 64 hex characters (32 bytes)")

// Config represents runtime configuration for every binary.
type Config struct {
	Address string

	// EncryptionKey is the 32 byte master key for blob encryption and view
	// tokens. When the configured key is unusable and StrictKey is off, it
	// holds a fixed placeholder and KeyErr explains why.
	EncryptionKey []byte
	KeyErr        error
	StrictKey     bool

	DatabaseURL string
	BlobBackend string
	UploadDir   string
	S3          S3Config

	PublicHost     string
	MaxUploadBytes int64
	SweepInterval  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Workers       int

	SMTP SMTPConfig

	QRCacheSize int

	LogLevel  string
	LogFormat string
}

// S3Config holds MinIO/S3 settings for the s3 blob backend.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Enabled reports whether credentials are present.
func (s SMTPConfig) Enabled() bool {
	return s.User != "" && s.Pass != ""
}

const (
	defaultAddress        = ":8080"
	defaultDatabaseURL    = "memory://"
	defaultBlobBackend    = "disk"
	defaultUploadDir      = "./uploads"
	defaultMaxUploadBytes = 100 << 20 // 100 MiB
	defaultSweepInterval  = time.Hour
	defaultWorkerCount    = 4
	defaultSMTPHost       = "smtp.gmail.com"
	defaultSMTPPort       = 587
	defaultQRCacheSize    = 512
	defaultBucket         = "dropzone"

	placeholderSeed = "dropzone-insecure-placeholder-key"
)

// Load reads configuration from the environment, after loading .env when one
// exists in the working directory.
func Load() (*Config, error) {
	// A missing .env file is normal in containers.
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		Address:        listenAddress(),
		StrictKey:      parseBool("DROPZONE_STRICT_KEY", false),
		DatabaseURL:    readEnv("DROPZONE_DATABASE_URL", readEnv("DATABASE_URL", defaultDatabaseURL)),
		BlobBackend:    strings.ToLower(readEnv("DROPZONE_BLOB_BACKEND", defaultBlobBackend)),
		UploadDir:      readEnv("DROPZONE_UPLOAD_DIR", defaultUploadDir),
		PublicHost:     strings.TrimRight(readEnv("DROPZONE_PUBLIC_HOST", readEnv("HOST_URL", "")), "/"),
		MaxUploadBytes: parseInt64("DROPZONE_MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
		SweepInterval:  parseDuration("DROPZONE_SWEEP_INTERVAL", defaultSweepInterval),
		RedisAddr:      readEnv("DROPZONE_REDIS_ADDR", ""),
		RedisPassword:  readEnv("DROPZONE_REDIS_PASSWORD", ""),
		RedisDB:        parseInt("DROPZONE_REDIS_DB", 0),
		Workers:        parseInt("DROPZONE_WORKERS", defaultWorkerCount),
		QRCacheSize:    parseInt("DROPZONE_QR_CACHE_SIZE", defaultQRCacheSize),
		LogLevel:       strings.ToLower(readEnv("DROPZONE_LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(readEnv("DROPZONE_LOG_FORMAT", "json")),
		S3: S3Config{
			Endpoint:  readEnv("DROPZONE_S3_ENDPOINT", ""),
			AccessKey: readEnv("DROPZONE_S3_ACCESS_KEY", ""),
			SecretKey: readEnv("DROPZONE_S3_SECRET_KEY", ""),
			Bucket:    readEnv("DROPZONE_S3_BUCKET", defaultBucket),
			Region:    readEnv("DROPZONE_S3_REGION", ""),
			UseSSL:    parseBool("DROPZONE_S3_USE_SSL", false),
		},
		SMTP: SMTPConfig{
			Host: readEnv("SMTP_HOST", defaultSMTPHost),
			Port: parseInt("SMTP_PORT", defaultSMTPPort),
			User: readEnv("SMTP_USER", ""),
			Pass: readEnv("SMTP_PASS", ""),
			From: readEnv("SMTP_FROM", ""),
		},
	}

	key, err := ParseKey(readEnv("DROPZONE_ENCRYPTION_KEY", readEnv("ENCRYPTION_KEY", "")))
	if err != nil {
		if cfg.StrictKey {
			return nil, err
		}
		key = PlaceholderKey()
		cfg.KeyErr = err
	}
	cfg.EncryptionKey = key

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.QRCacheSize <= 0 {
		cfg.QRCacheSize = defaultQRCacheSize
	}
	switch cfg.BlobBackend {
	case "disk":
	case "s3":
		if cfg.S3.Endpoint == "" {
			return nil, errors.New("DROPZONE_S3_ENDPOINT is required for the s3 blob backend")
		}
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
	return cfg, nil
}

// ParseKey decodes a 64 character hex master key.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != 64 {
		return nil, ErrInvalidKey
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// PlaceholderKey is the well-known key used when none is configured. Anything
// encrypted with it is readable by anyone who has the source code.
func PlaceholderKey() []byte {
	sum := sha256.Sum256([]byte(placeholderSeed))
	return sum[:]
}

// RedisEnabled reports whether Redis backed features (task queue, sweep lock)
// are configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func listenAddress() string {
	if v := readEnv("DROPZONE_ADDRESS", ""); v != "" {
		return v
	}
	if port := readEnv("PORT", ""); port != "" {
		return ":" + port
	}
	return defaultAddress
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	// Invalid input falls back to the default.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
