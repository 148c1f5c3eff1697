package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	switch c.DB.Driver {
	case "postgres":
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver))
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Driver == "postgres" && (c.DB.Port < 1 || c.DB.Port > 65535) {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("LLM_PROVIDER must be openai or anthropic, got %q", c.LLM.Provider))
	}

	switch c.Memory.CacheBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("MEMORY_CACHE_BACKEND must be memory or redis, got %q", c.Memory.CacheBackend))
	}
	if c.Memory.CacheSize <= 0 {
		errs = append(errs, "MEMORY_CACHE_SIZE must be positive")
	}
	if c.Memory.CacheTTL <= 0 {
		errs = append(errs, "MEMORY_CACHE_TTL must be positive")
	}

	// LLM key: warn only, extraction degrades to a no-op
	if c.LLM.APIKey == "" {
		slog.Warn("LLM_API_KEY is empty, fact extraction requests will fail")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
