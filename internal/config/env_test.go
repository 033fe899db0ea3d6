package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Store.StatusTTL)
	assert.Equal(t, time.Hour, cfg.Store.ResultTTL)
	assert.Equal(t, "jobs:convert", cfg.Queue.Stream)
	assert.Equal(t, 3, cfg.Queue.RetryMax)
	assert.Equal(t, time.Minute, cfg.Queue.RetryBase)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Worker.ConversionTimeout)
	assert.Equal(t, 50, cfg.Limits.MaxFileSizeMB)
	assert.Equal(t, 2, cfg.Limits.MinSplitPages)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Empty(t, cfg.Server.APIKeys)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE_MB", "10")
	t.Setenv("MIN_SPLIT_PAGES", "5")
	t.Setenv("QUEUE_RETRY_BASE_SECONDS", "5")
	t.Setenv("STATUS_TTL_SECONDS", "60")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("API_KEYS", "k1=alice, k2=bob")

	cfg := FromEnv()
	assert.Equal(t, 10, cfg.Limits.MaxFileSizeMB)
	assert.Equal(t, 5, cfg.Limits.MinSplitPages)
	assert.Equal(t, 5*time.Second, cfg.Queue.RetryBase)
	assert.Equal(t, time.Minute, cfg.Store.StatusTTL)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, map[string]string{"k1": "alice", "k2": "bob"}, cfg.Server.APIKeys)
}

func TestParseKeyPairs(t *testing.T) {
	assert.Empty(t, parseKeyPairs(""))
	assert.Equal(t, map[string]string{"a": "x"}, parseKeyPairs("a=x"))
	assert.Equal(t, map[string]string{"a": "x", "b": "y"}, parseKeyPairs("a=x,b=y,malformed"))
}
