package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, CacheBackendMemory, cfg.CacheBackend)
	assert.Equal(t, 1000, cfg.CacheSize)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.ExtractionTimeout)
	assert.Equal(t, 20, cfg.ExtractionWindow)
}

func TestConfig_WithDefaults_Zero(t *testing.T) {
	assert.Equal(t, DefaultConfig(), Config{}.withDefaults())
}

func TestConfig_WithDefaults_KeepsSetFields(t *testing.T) {
	cfg := Config{CacheBackend: CacheBackendRedis, CacheSize: 5, CacheTTL: time.Minute}.withDefaults()
	assert.Equal(t, CacheBackendRedis, cfg.CacheBackend)
	assert.Equal(t, 5, cfg.CacheSize)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, 20, cfg.ExtractionWindow)
}

func TestConfig_WithDefaults_NegativeValues(t *testing.T) {
	cfg := Config{CacheSize: -1, ExtractionWindow: -3}.withDefaults()
	assert.Equal(t, 1000, cfg.CacheSize)
	assert.Equal(t, 20, cfg.ExtractionWindow)
}
