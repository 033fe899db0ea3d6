package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// StoreConfig defines state-store connectivity and retention.
type StoreConfig struct {
	Backend   string // "redis" | "memory"
	RedisURL  string
	StatusTTL time.Duration
	ResultTTL time.Duration
}

// QueueConfig defines queue connectivity, names and retry policy.
type QueueConfig struct {
	Stream       string
	Group        string
	PollInterval time.Duration
	RetryMax     int
	RetryBase    time.Duration
}

// WorkerConfig defines worker pool behavior.
type WorkerConfig struct {
	Concurrency       int
	ConversionTimeout time.Duration
}

// LimitsConfig bounds what the API accepts.
type LimitsConfig struct {
	MaxFileSizeMB int
	MinSplitPages int
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Port string
	// APIKeys maps "key=owner" pairs; empty means single-owner dev mode.
	APIKeys map[string]string
}

// CleanupConfig drives the temp-directory janitor.
type CleanupConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
}

// Config is the top-level configuration, built once at startup and threaded
// through constructors.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Store   StoreConfig
	Queue   QueueConfig
	Worker  WorkerConfig
	Limits  LimitsConfig
	Server  ServerConfig
	Cleanup CleanupConfig
	TempDir string
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/docmill.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_docmill",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Store = StoreConfig{
		Backend:   getEnv("STORE_BACKEND", "redis"),
		RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379"),
		StatusTTL: secondsEnv("STATUS_TTL_SECONDS", 86400),
		ResultTTL: secondsEnv("RESULT_TTL_SECONDS", 3600),
	}

	cfg.Queue = QueueConfig{
		Stream:       getEnv("QUEUE_STREAM", "jobs:convert"),
		Group:        getEnv("QUEUE_GROUP", "workers:convert"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
		RetryMax:     parseInt(getEnv("QUEUE_RETRY_MAX", "3"), 3),
		RetryBase:    secondsEnv("QUEUE_RETRY_BASE_SECONDS", 60),
	}

	cfg.Worker = WorkerConfig{
		Concurrency:       parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
		ConversionTimeout: secondsEnv("CONVERSION_TIMEOUT_SECONDS", 300),
	}

	cfg.Limits = LimitsConfig{
		MaxFileSizeMB: parseInt(getEnv("MAX_FILE_SIZE_MB", "50"), 50),
		MinSplitPages: parseInt(getEnv("MIN_SPLIT_PAGES", "2"), 2),
	}

	cfg.Server = ServerConfig{
		Port:    getEnv("PORT", "8080"),
		APIKeys: parseKeyPairs(getEnv("API_KEYS", "")),
	}

	cfg.Cleanup = CleanupConfig{
		Interval: parseDuration(getEnv("CLEANUP_INTERVAL", "15m"), 15*time.Minute),
		MaxAge:   parseDuration(getEnv("CLEANUP_MAX_AGE", "1h"), time.Hour),
	}

	cfg.TempDir = getEnv("TEMP_DIR", os.TempDir()+"/docmill")

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func secondsEnv(key string, def int) time.Duration {
	return time.Duration(parseInt(getEnv(key, ""), def)) * time.Second
}

// parseKeyPairs parses "key1=owner1,key2=owner2".
func parseKeyPairs(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if i := strings.Index(pair, "="); i > 0 {
			out[pair[:i]] = pair[i+1:]
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
