package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	SslCertPath string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	S3Endpoint   string
	SignedURLTTL time.Duration

	VisionOCRKey    string
	VisionOCRURL    string
	SecondaryOCRKey string
	SecondaryOCRURL string
	PrerenderURL    string

	EmbedModel   string
	EmbedBaseURL string
	EmbedRPS     float64

	JobLease    time.Duration
	JobTimeout  time.Duration
	JWTSecret   string
	CORSOrigins []string
	LogLevel    string
	Port        string
}

// LoadConfig loads the environment variables and returns the config.
// A .env file in the working directory is honoured when present.
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "knowledge-base-files"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		SignedURLTTL: getEnvDuration("SIGNED_URL_TTL", 10*time.Minute),

		VisionOCRKey:    getEnv("OCR_VISION_API_KEY", ""),
		VisionOCRURL:    getEnv("OCR_VISION_URL", "https://api.mistral.ai/v1/ocr"),
		SecondaryOCRKey: getEnv("OCR_SECONDARY_API_KEY", ""),
		SecondaryOCRURL: getEnv("OCR_SECONDARY_URL", "https://api.ocr.space/parse/image"),
		PrerenderURL:    getEnv("PRERENDER_URL", "https://r.jina.ai/"),

		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-3-large"),
		EmbedBaseURL: getEnv("EMBED_BASE_URL", ""),
		EmbedRPS:     getEnvFloat("EMBED_RPS", 5),

		JobLease:    getEnvDuration("JOB_LEASE", 15*time.Minute),
		JobTimeout:  getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnv("PORT", "8080"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}

	return cfg, nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("env value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("env value is not a number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs := getEnvInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
