package memory

import "time"

// Config holds process-level settings for the memory subsystem.
type Config struct {
	CacheBackend      string        `json:"cache_backend"` // "memory" or "redis"
	CacheSize         int           `json:"cache_size"`
	CacheTTL          time.Duration `json:"cache_ttl"`
	ExtractionTimeout time.Duration `json:"extraction_timeout"`
	ExtractionWindow  int           `json:"extraction_window"` // turns sent to the model
	ConversationTurns int           `json:"conversation_turns"`
	ConversationTTL   time.Duration `json:"conversation_ttl"`
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() Config {
	return Config{
		CacheBackend:      CacheBackendMemory,
		CacheSize:         1000,
		CacheTTL:          15 * time.Minute,
		ExtractionTimeout: 30 * time.Second,
		ExtractionWindow:  20,
		ConversationTurns: 50,
		ConversationTTL:   7 * 24 * time.Hour,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CacheBackend == "" {
		c.CacheBackend = d.CacheBackend
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.ExtractionTimeout <= 0 {
		c.ExtractionTimeout = d.ExtractionTimeout
	}
	if c.ExtractionWindow <= 0 {
		c.ExtractionWindow = d.ExtractionWindow
	}
	if c.ConversationTurns <= 0 {
		c.ConversationTurns = d.ConversationTurns
	}
	if c.ConversationTTL <= 0 {
		c.ConversationTTL = d.ConversationTTL
	}
	return c
}
