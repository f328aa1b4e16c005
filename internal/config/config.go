package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the ingestion pipeline.
type Config struct {
	Env string `json:"env"`

	// Upstream content API
	UpstreamBaseURL string        `json:"upstream_base_url"`
	UpstreamAPIKey  string        `json:"upstream_api_key"`
	FetchTimeout    time.Duration `json:"fetch_timeout"`
	FetchRetries    int           `json:"fetch_retries"`

	// Postgres
	DatabaseURL string `json:"database_url"`

	// Redis seen-cache
	RedisURL    string        `json:"redis_url"`
	RedisPrefix string        `json:"redis_prefix"`
	SeenTTL     time.Duration `json:"seen_ttl"`

	// CloudFlare R2 (S3-compatible blob store)
	R2Endpoint  string `json:"r2_endpoint"`
	R2AccessKey string `json:"r2_access_key"`
	R2SecretKey string `json:"r2_secret_key"`
	R2Bucket    string `json:"r2_bucket"`
	R2PublicURL string `json:"r2_public_url"`

	// Image pipeline
	CDNBaseURL    string `json:"cdn_base_url"`
	ImageWidth    int    `json:"image_width"`
	ImageHeight   int    `json:"image_height"`
	ImageQuality  int    `json:"image_quality"`
	ImageFormat   string `json:"image_format"`
	ImageReplace  string `json:"image_replace"` // "pattern=>url,pattern=>url"
	ProcessImages bool   `json:"process_images"`

	// Batch orchestration
	BatchSize   int           `json:"batch_size"`
	BatchPause  time.Duration `json:"batch_pause"`
	WorkerCount int           `json:"worker_count"`
	LockFile    string        `json:"lock_file"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogPretty bool   `json:"log_pretty"`
}

// Load loads configuration from environment variables and validates it.
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),

		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", ""),
		UpstreamAPIKey:  getEnv("UPSTREAM_API_KEY", ""),
		FetchTimeout:    getEnvAsDuration("FETCH_TIMEOUT", 30*time.Second),
		FetchRetries:    getEnvAsInt("FETCH_RETRIES", 3),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/newsingest?sslmode=disable"),

		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix: getEnv("REDIS_PREFIX", "ingest:"),
		SeenTTL:     getEnvAsDuration("SEEN_TTL", 720*time.Hour), // 30 days

		R2Endpoint:  getEnv("R2_ENDPOINT", ""),
		R2AccessKey: getEnv("R2_ACCESS_KEY", ""),
		R2SecretKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2Bucket:    getEnv("R2_BUCKET", "newsimages"),
		R2PublicURL: getEnv("R2_PUBLIC_URL", ""),

		CDNBaseURL:    getEnv("CDN_BASE_URL", ""),
		ImageWidth:    getEnvAsInt("IMAGE_WIDTH", 1200),
		ImageHeight:   getEnvAsInt("IMAGE_HEIGHT", 630),
		ImageQuality:  getEnvAsInt("IMAGE_QUALITY", 80),
		ImageFormat:   getEnv("IMAGE_FORMAT", "webp"),
		ImageReplace:  getEnv("IMAGE_REPLACE", ""),
		ProcessImages: getEnvAsBool("PROCESS_IMAGES", true),

		BatchSize:   getEnvAsInt("BATCH_SIZE", 20),
		BatchPause:  getEnvAsDuration("BATCH_PAUSE", 2*time.Second),
		WorkerCount: getEnvAsInt("WORKER_COUNT", 4),
		LockFile:    getEnv("LOCK_FILE", "/tmp/newsingest.lock"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL is required")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	switch c.ImageFormat {
	case "jpeg", "png", "webp":
	default:
		return fmt.Errorf("IMAGE_FORMAT must be jpeg, png, or webp, got %q", c.ImageFormat)
	}
	return nil
}

// ImageReplacements parses the IMAGE_REPLACE setting into ordered
// pattern/replacement pairs. Malformed entries are skipped.
func (c *Config) ImageReplacements() [][2]string {
	var pairs [][2]string
	for _, entry := range strings.Split(c.ImageReplace, ",") {
		parts := strings.SplitN(entry, "=>", 2)
		if len(parts) != 2 {
			continue
		}
		pattern := strings.TrimSpace(parts[0])
		repl := strings.TrimSpace(parts[1])
		if pattern == "" {
			continue
		}
		pairs = append(pairs, [2]string{pattern, repl})
	}
	return pairs
}

// Helper functions for environment variable handling
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %d", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsBool(name string, defaultVal bool) bool {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %t", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %v", name, err, defaultVal)
		return defaultVal
	}
	return value
}
