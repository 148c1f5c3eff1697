// Package app assembles the memory service and its backing stores from Config.
// Both binaries build their dependencies through it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/config"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/database"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/llm"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/memory"
	inats "github.com/PQContinuum/PQ-Frontend-sub000/internal/nats"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/plans"
	iredis "github.com/PQContinuum/PQ-Frontend-sub000/internal/redis"
)

// Options select which optional stores are opened.
type Options struct {
	// Redis opens the Redis client used by the conversation store,
	// the redis cache backend and the rate limiter.
	Redis bool
	// NATS connects to the configured server, when there is one, and makes
	// cache invalidations reach the other API instances.
	NATS bool
}

// App holds everything the memory service runs on.
type App struct {
	Config    *config.Config
	Pool      *pgxpool.Pool // nil with the sqlite driver
	Redis     *redis.Client // nil unless Options.Redis
	NATS      *inats.Client // nil unless Options.NATS and a URL is configured
	Publisher *inats.Publisher
	Origin    string // identifies this process on the invalidation subject
	Repo      memory.Repository
	Plans     plans.Resolver
	Cache     memory.ContextCache
	Service   *memory.Service
	closers   []func()
}

// New connects the fact store, builds the language-model client and the memory service.
// On error every store opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, Origin: uuid.NewString()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	switch cfg.DB.Driver {
	case "sqlite":
		repo, err := memory.OpenSQLite(ctx, cfg.DB.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { repo.Close() })
		a.Repo = repo
		a.Plans = plans.Static(plans.Free)
		slog.Info("using sqlite fact store", "path", cfg.DB.SQLitePath)
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.onClose(pool.Close)
		a.Pool = pool
		a.Repo = memory.NewPostgresRepository(pool)
		a.Plans = plans.NewSubscriptionResolver(pool)
	}

	if opts.Redis || cfg.Memory.CacheBackend == memory.CacheBackendRedis {
		client, err := iredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.onClose(func() { client.Close() })
		a.Redis = client
	}

	completer, err := llm.New(llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("building llm client: %w", err)
	}

	a.Cache = memory.NewContextCache(a.MemoryConfig(), a.Redis)
	a.Service = memory.NewService(a.Repo, a.Cache, memory.NewExtractor(completer, cfg.Memory.ExtractionWindow))

	if opts.NATS && cfg.NATS.Enabled() {
		nc, err := inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return nil, err
		}
		a.onClose(nc.Close)
		a.NATS = nc
		a.Publisher = inats.NewPublisher(nc.JetStream(), nc.Conn(), a.Origin)
		a.Service.SetNotifier(a.Publisher)
	}
	return a, nil
}

// MemoryConfig maps process config onto the memory package's settings.
func (a *App) MemoryConfig() memory.Config {
	cfg := a.Config
	return memory.Config{
		CacheBackend:      cfg.Memory.CacheBackend,
		CacheSize:         cfg.Memory.CacheSize,
		CacheTTL:          cfg.Memory.CacheTTL,
		ExtractionTimeout: cfg.Memory.ExtractionTimeout,
		ExtractionWindow:  cfg.Memory.ExtractionWindow,
		ConversationTurns: cfg.Conversation.MaxTurns,
		ConversationTTL:   cfg.Conversation.TTL,
	}
}

// Conversations returns the Redis-backed turn store. It needs Options.Redis.
func (a *App) Conversations() (*memory.ConversationStore, error) {
	if a.Redis == nil {
		return nil, fmt.Errorf("conversation store needs redis")
	}
	mc := a.MemoryConfig()
	return memory.NewConversationStore(a.Redis, mc.ConversationTurns, mc.ConversationTTL), nil
}

func (a *App) onClose(f func()) {
	a.closers = append(a.closers, f)
}

// Close releases stores in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
