package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server       ServerConfig
	DB           DBConfig
	Redis        RedisConfig
	NATS         NATSConfig
	JWT          JWTConfig
	LLM          LLMConfig
	Memory       MemoryConfig
	Conversation ConversationConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Log          LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// DBConfig selects the fact store. Driver "sqlite" keeps facts in a local file
// and skips the Postgres-backed plan lookup.
type DBConfig struct {
	Driver         string
	SQLitePath     string
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional. An empty URL disables the job stream and peer invalidation.
type NATSConfig struct {
	URL        string
	ClientName string
}

func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

type JWTConfig struct {
	AccessSecret string
}

type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

type MemoryConfig struct {
	CacheBackend      string
	CacheSize         int
	CacheTTL          time.Duration
	ExtractionTimeout time.Duration
	ExtractionWindow  int
}

type ConversationConfig struct {
	MaxTurns int
	TTL      time.Duration
}

type RateLimitConfig struct {
	ExtractPerMinute int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads the given dotenv file, if present, and then the process environment.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(path), dotenv.ParserEnv("", ".", envKey))

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Driver:         strings.ToLower(k.String("db.driver")),
			SQLitePath:     k.String("db.sqlite.path"),
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:        k.String("nats.url"),
			ClientName: k.String("nats.client.name"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
		},
		LLM: LLMConfig{
			Provider: strings.ToLower(k.String("llm.provider")),
			Model:    k.String("llm.model"),
			APIKey:   k.String("llm.api.key"),
			BaseURL:  k.String("llm.base.url"),
		},
		Memory: MemoryConfig{
			CacheBackend:     strings.ToLower(k.String("memory.cache.backend")),
			CacheSize:        k.Int("memory.cache.size"),
			ExtractionWindow: k.Int("memory.extraction.window"),
		},
		Conversation: ConversationConfig{
			MaxTurns: k.Int("conversation.max.turns"),
		},
		RateLimit: RateLimitConfig{
			ExtractPerMinute: k.Int("ratelimit.extract.per.minute"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	for _, o := range strings.Split(k.String("cors.allowed.origins"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
		}
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.DB.SQLitePath == "" {
		cfg.DB.SQLitePath = "pq-memory.db"
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "pq"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "pq"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.ClientName == "" {
		cfg.NATS.ClientName = "pq-memory"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.Memory.CacheBackend == "" {
		cfg.Memory.CacheBackend = "memory"
	}
	if cfg.Memory.CacheSize == 0 {
		cfg.Memory.CacheSize = 1000
	}
	if cfg.Memory.ExtractionWindow == 0 {
		cfg.Memory.ExtractionWindow = 20
	}
	if cfg.Conversation.MaxTurns == 0 {
		cfg.Conversation.MaxTurns = 50
	}
	if cfg.RateLimit.ExtractPerMinute == 0 {
		cfg.RateLimit.ExtractPerMinute = 10
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	if cfg.Memory.CacheTTL, err = duration(k, "memory.cache.ttl", "15m"); err != nil {
		return nil, err
	}
	if cfg.Memory.ExtractionTimeout, err = duration(k, "memory.extraction.timeout", "30s"); err != nil {
		return nil, err
	}
	if cfg.Conversation.TTL, err = duration(k, "conversation.ttl", "168h"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", "."))
}

func duration(k *koanf.Koanf, key, def string) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}
