package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/auth"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/database"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/memory"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/plans"
)

func (c *cli) migrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "migrations directory (default DB_MIGRATIONS_PATH)")

	dsn := func(cmd *cobra.Command) (string, string, error) {
		cfg, err := c.loadConfig(cmd)
		if err != nil {
			return "", "", err
		}
		if cfg.DB.Driver != "postgres" {
			return "", "", fmt.Errorf("migrations apply to postgres only, DB_DRIVER is %q", cfg.DB.Driver)
		}
		p := path
		if p == "" {
			p = cfg.DB.MigrationsPath
		}
		return cfg.DB.DSN(), p, nil
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, p, err := dsn(cmd)
			if err != nil {
				return err
			}
			if err := database.RollbackMigrations(d, p, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, p, err := dsn(cmd)
				if err != nil {
					return err
				}
				if err := database.RunMigrations(d, p); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, p, err := dsn(cmd)
				if err != nil {
					return err
				}
				v, dirty, err := database.MigrationVersion(d, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return nil
			},
		},
	)
	return cmd
}

func (c *cli) factsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Inspect and prune stored facts",
	}

	var (
		user     string
		category string
		plan     string
	)

	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's facts, most recently mentioned first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := memory.Category(category)
			if cat != "" && !cat.Valid() {
				return fmt.Errorf("unknown category %q", category)
			}
			deps, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer deps.Close()

			facts, err := deps.Service.ListFacts(cmd.Context(), user, cat)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCATEGORY\tCONFIDENCE\tLAST MENTIONED\tVALUE")
			for _, f := range facts {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					f.ID, f.Category, f.Confidence, f.LastMentioned.Format(time.RFC3339), f.Value)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&user, "user", "", "user id")
	list.Flags().StringVar(&category, "category", "", "only this category")
	_ = list.MarkFlagRequired("user")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete the oldest facts above the plan's item limit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer deps.Close()

			p, err := resolvePlan(cmd.Context(), deps, user, plan)
			if err != nil {
				return err
			}
			n, err := deps.Service.EnforceContextLimits(cmd.Context(), user, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d fact(s) (plan %s, limit %d)\n", n, p, plans.LimitsFor(p).MaxContextItems)
			return nil
		},
	}

	retention := &cobra.Command{
		Use:   "retention",
		Short: "Delete facts not mentioned within the plan's retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer deps.Close()

			p, err := resolvePlan(cmd.Context(), deps, user, plan)
			if err != nil {
				return err
			}
			n, err := deps.Service.ApplyRetention(cmd.Context(), user, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d fact(s) older than %d days\n", n, plans.LimitsFor(p).ContextRetentionDays)
			return nil
		},
	}

	for _, sub := range []*cobra.Command{prune, retention} {
		sub.Flags().StringVar(&user, "user", "", "user id")
		sub.Flags().StringVar(&plan, "plan", "", "plan to apply (default: the user's subscription)")
		_ = sub.MarkFlagRequired("user")
	}

	cmd.AddCommand(list, prune, retention)
	return cmd
}

func (c *cli) contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect assembled prompt context",
	}

	var user, plan, message, level string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the context block the chat backend would receive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := memory.PromptOptions{CurrentMessage: message, ForceLevel: plans.ContextLevel(level)}
			if level != "" && !opts.ForceLevel.Valid() {
				return fmt.Errorf("level must be minimal, standard or full")
			}

			deps, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer deps.Close()

			p, err := resolvePlan(cmd.Context(), deps, user, plan)
			if err != nil {
				return err
			}
			out := deps.Service.GetContextForPrompt(cmd.Context(), user, p, opts)
			if out == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "(no context)")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	show.Flags().StringVar(&user, "user", "", "user id")
	show.Flags().StringVar(&plan, "plan", "", "plan (default: the user's subscription)")
	show.Flags().StringVar(&message, "message", "", "current user message, used for level selection")
	show.Flags().StringVar(&level, "level", "", "force minimal, standard or full")
	_ = show.MarkFlagRequired("user")

	cmd.AddCommand(show)
	return cmd
}

func (c *cli) extractCmd() *cobra.Command {
	var (
		user         string
		plan         string
		conversation string
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run fact extraction over a stored conversation and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer deps.Close()

			turns, err := deps.Conversations()
			if err != nil {
				return err
			}
			p, err := resolvePlan(cmd.Context(), deps, user, plan)
			if err != nil {
				return err
			}

			runner := memory.NewExtractionRunner(deps.Service, turns, deps.Config.Memory.ExtractionTimeout)
			res, err := runner.Run(cmd.Context(), memory.ExtractionJob{
				UserID:         user,
				Plan:           p,
				ConversationID: conversation,
				Force:          force,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&plan, "plan", "", "plan (default: the user's subscription)")
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation id")
	cmd.Flags().BoolVar(&force, "force", false, "ignore the plan's extraction cadence")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

func (c *cli) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the shared context cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached context (redis backend only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer deps.Close()

			if deps.Config.Memory.CacheBackend != memory.CacheBackendRedis {
				return fmt.Errorf("the %q cache backend lives inside each API process", deps.Config.Memory.CacheBackend)
			}
			deps.Service.ClearCache(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "context cache cleared")
			return nil
		},
	})
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development access token with JWT_ACCESS_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ttl <= 0 {
				return errors.New("ttl must be positive")
			}
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			token, err := auth.NewJWTManager(cfg.JWT.AccessSecret).IssueAccessToken(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id placed in the uid claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
