package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB: DBConfig{
			Driver: "postgres", Host: "localhost", Port: 5432, User: "pq",
			Password: "secret", Name: "pq", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		JWT:   JWTConfig{AccessSecret: "access-secret-that-is-at-least-32-chars!"},
		LLM:   LLMConfig{Provider: "openai", APIKey: "sk-test"},
		Memory: MemoryConfig{
			CacheBackend: "memory", CacheSize: 1000, CacheTTL: 15 * time.Minute,
			ExtractionTimeout: 30 * time.Second, ExtractionWindow: 20,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_JWTAccessSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessSecret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_ACCESS_SECRET") {
		t.Fatalf("expected JWT_ACCESS_SECRET error, got: %v", err)
	}
}

func TestValidate_DBPasswordRequired(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_InvalidPorts(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.DB.Port = 99999
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected port validation errors")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("expected SERVER_PORT error in: %v", err)
	}
	if !strings.Contains(err.Error(), "DB_PORT") {
		t.Errorf("expected DB_PORT error in: %v", err)
	}
}

func TestValidate_SQLiteNeedsNoPassword(t *testing.T) {
	cfg := validConfig()
	cfg.DB = DBConfig{Driver: "sqlite", SQLitePath: "facts.db"}
	assert.NoError(t, cfg.Validate())

	cfg.DB.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(), "DB_DRIVER")
}

func TestValidate_Enums(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "cohere"
	cfg.Memory.CacheBackend = "memcached"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_PROVIDER")
	assert.Contains(t, err.Error(), "MEMORY_CACHE_BACKEND")
}

func TestValidate_CacheBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Memory.CacheSize = 0
	cfg.Memory.CacheTTL = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEMORY_CACHE_SIZE")
	assert.Contains(t, err.Error(), "MEMORY_CACHE_TTL")
}

func TestValidate_EmptyAPIKeyOnlyWarns(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.APIKey = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 0},
		DB:     DBConfig{Driver: "postgres", Port: 5432},
		Redis:  RedisConfig{Port: 6379},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}
	errStr := err.Error()
	for _, substr := range []string{"JWT_ACCESS_SECRET", "DB_PASSWORD", "SERVER_PORT", "LLM_PROVIDER", "MEMORY_CACHE_SIZE"} {
		if !strings.Contains(errStr, substr) {
			t.Errorf("expected %q in error: %s", substr, errStr)
		}
	}
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "migrations", cfg.DB.MigrationsPath)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "memory", cfg.Memory.CacheBackend)
	assert.Equal(t, 1000, cfg.Memory.CacheSize)
	assert.Equal(t, 15*time.Minute, cfg.Memory.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Memory.ExtractionTimeout)
	assert.Equal(t, 50, cfg.Conversation.MaxTurns)
	assert.Equal(t, 168*time.Hour, cfg.Conversation.TTL)
	assert.Equal(t, 10, cfg.RateLimit.ExtractPerMinute)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.False(t, cfg.NATS.Enabled())
}

func TestLoadFile_EnvOverridesDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MEMORY_CACHE_SIZE=50\nLLM_PROVIDER=Anthropic\nCORS_ALLOWED_ORIGINS=https://a.test, https://b.test\n"), 0o600))
	t.Setenv("MEMORY_CACHE_TTL", "2m")
	t.Setenv("MEMORY_CACHE_SIZE", "75")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.Memory.CacheSize)
	assert.Equal(t, 2*time.Minute, cfg.Memory.CacheTTL)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.NATS.Enabled())
}

func TestLoadFile_BadDuration(t *testing.T) {
	t.Setenv("CONVERSATION_TTL", "forever")
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "conversation.ttl")
}
