package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/api"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/app"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/auth"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/config"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/database"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/memory"
	mw "github.com/PQContinuum/PQ-Frontend-sub000/internal/middleware"
	inats "github.com/PQContinuum/PQ-Frontend-sub000/internal/nats"
	iredis "github.com/PQContinuum/PQ-Frontend-sub000/internal/redis"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/server"
)

// Extra time a job may hold its ack beyond the extraction timeout before redelivery.
const ackGrace = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, app.Options{Redis: true, NATS: true})
	if err != nil {
		slog.Error("starting memory service", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	turns, err := deps.Conversations()
	if err != nil {
		slog.Error("building conversation store", "error", err)
		os.Exit(1)
	}

	timeout := cfg.Memory.ExtractionTimeout
	runner := memory.NewExtractionRunner(deps.Service, turns, timeout)

	checks := map[string]api.HealthCheck{
		"redis": func(ctx context.Context) error { return iredis.HealthCheck(ctx, deps.Redis) },
		"nats":  nil,
	}
	if deps.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return database.HealthCheck(ctx, deps.Pool) }
	}

	// Extraction jobs go through JetStream when NATS is configured, in-process otherwise.
	var (
		dispatcher memory.Dispatcher
		onShutdown []func()
	)
	if deps.NATS != nil {
		dispatcher = memory.NewQueueDispatcher(deps.Publisher)

		invalidations := memory.NewInvalidationSubscriber(deps.Service, deps.Origin)
		if err := invalidations.Subscribe(deps.NATS.Conn()); err != nil {
			slog.Error("subscribing to cache invalidations", "error", err)
			os.Exit(1)
		}
		onShutdown = append(onShutdown, func() { invalidations.Close() })

		consumer := memory.NewExtractionConsumer(runner, inats.NewConsumerManager(deps.NATS.JetStream()), timeout+ackGrace)
		consumerDone := make(chan struct{})
		go func() {
			defer close(consumerDone)
			if err := consumer.Start(ctx); err != nil {
				slog.Error("extraction consumer stopped", "error", err)
			}
		}()
		onShutdown = append(onShutdown, func() { <-consumerDone })

		checks["nats"] = deps.NATS.HealthCheck
	} else {
		local := memory.NewLocalDispatcher(runner)
		dispatcher = local
		onShutdown = append(onShutdown, local.Wait)
		slog.Info("nats not configured, running extraction in-process")
	}

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret)

	// Memory
	memoryHandler := memory.NewHandler(deps.Service, deps.Plans, turns, dispatcher)

	extractLimiter := mw.NewRateLimiter(deps.Redis, "extract", cfg.RateLimit.ExtractPerMinute, time.Minute,
		func(r *http.Request) string { return auth.UserID(r.Context()) })

	// Router
	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		ExtractRateLimiter: extractLimiter.Middleware,
		Checks:             checks,
	}, api.HandlerSet{
		GetContext:      memoryHandler.Context,
		ExtractFacts:    memoryHandler.Extract,
		ListFacts:       memoryHandler.ListFacts,
		DeleteFact:      memoryHandler.DeleteFact,
		DeleteAllFacts:  memoryHandler.DeleteAllFacts,
		InvalidateCache: memoryHandler.InvalidateCache,

		AppendTurn: memoryHandler.AppendTurn,
		ListTurns:  memoryHandler.ListTurns,

		AuthMiddleware: auth.Middleware(jwtManager),
	})

	// Start server
	srv := server.New(cfg.Server, router)
	for _, f := range onShutdown {
		srv.OnShutdown(f)
	}
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
