// Command pqctl is the operator CLI for the memory service: schema migrations,
// fact inspection and pruning, extraction runs and dev tokens.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/app"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/config"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/plans"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli carries the flags shared by every subcommand.
type cli struct {
	envFile string
}

func rootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "pqctl",
		Short:         "Operate the PQ memory service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file read before the process environment")

	root.AddCommand(
		c.migrateCmd(),
		c.factsCmd(),
		c.contextCmd(),
		c.extractCmd(),
		c.cacheCmd(),
		c.tokenCmd(),
	)
	return root
}

// loadConfig reads and validates configuration and installs the logger on stderr.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFile(c.envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogger(cmd.ErrOrStderr(), cfg.Log)
	return cfg, nil
}

// open builds the memory service for one command run. Callers must Close it.
// Fact changes are broadcast to running API instances when NATS is configured.
func (c *cli) open(cmd *cobra.Command, withRedis bool) (*app.App, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, app.Options{Redis: withRedis, NATS: true})
}

// resolvePlan uses the --plan flag when given and the subscription table otherwise.
func resolvePlan(ctx context.Context, deps *app.App, userID, flag string) (plans.Plan, error) {
	if flag != "" {
		if !plans.Known(flag) {
			return "", fmt.Errorf("unknown plan %q", flag)
		}
		return plans.Parse(flag), nil
	}
	return deps.Plans.Resolve(ctx, userID)
}

// setupLogger defaults to info unless LOG_LEVEL asks for more.
func setupLogger(w io.Writer, cfg config.LogConfig) {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") != "" {
		_ = level.UnmarshalText([]byte(cfg.Level))
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
