// Command noticectl is the operations CLI for the circulation notices
// service.
//
// Usage:
//
//	noticectl sweep due-date
//	noticectl sweep due-date-not-real-time --at 2026-03-01T00:05:00Z
//	noticectl list --limit 20
//	noticectl settings get
//	noticectl settings set-limit 250
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencirc/noticesvc/internal/cache"
	"github.com/opencirc/noticesvc/internal/config"
	"github.com/opencirc/noticesvc/internal/db"
	"github.com/opencirc/noticesvc/internal/notices"
	"github.com/opencirc/noticesvc/internal/settings"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "noticectl",
		Short: "Circulation notices operations CLI",
	}

	root.AddCommand(sweepCmd())
	root.AddCommand(listCmd())
	root.AddCommand(settingsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// sweep command
// --------------------------------------------------------------------------

func sweepCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep <flavor>",
		Short: "Run one sweep of a flavor",
		Long: "Runs a single bounded sweep of the given flavor. --at runs the sweep " +
			"at a simulated instant for testing scheduling behavior.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flavor, err := notices.FlavorByName(args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				now, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339: %w", err)
				}
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				appCache := cache.New(cfg.CacheEnabled)
				tenantSettings := settings.New(pool.Pool, appCache, logger)
				repo := notices.NewPgStore(pool.Pool)
				resolver := notices.NewPgResolver(pool.Pool, appCache)
				gateway := notices.NewHTTPGateway(cfg.DispatchBaseURL, cfg.DispatchTimeout, logger)
				emitter := notices.NewPgEmitter(pool.Pool)
				processor := notices.NewProcessor(repo, resolver, gateway, emitter,
					tenantSettings, cfg.SweepWorkers, logger)

				result := processor.Run(ctx, flavor, now)
				logger.Info("sweep finished", "flavor", flavor.Name, "summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("sweep error", "error", e)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Simulated sweep time (RFC 3339)")
	return cmd
}

// --------------------------------------------------------------------------
// list command
// --------------------------------------------------------------------------

func listCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending scheduled notices, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				repo := notices.NewPgStore(pool.Pool)
				list, err := repo.List(ctx, limit)
				if err != nil {
					return err
				}
				for _, n := range list {
					fmt.Printf("%s  %-28s  %-10s  %s  %s\n",
						n.NextRunTime.Format(time.RFC3339), n.Event,
						n.Config.Timing, n.ID, n.Owner)
				}
				fmt.Printf("%d pending notice(s)\n", len(list))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", notices.DefaultNoticesLimit, "Maximum rows")
	return cmd
}

// --------------------------------------------------------------------------
// settings command
// --------------------------------------------------------------------------

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and update tenant notice settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the effective sweep limit and tenant timezone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := settings.New(pool.Pool, cache.New(false), logger)
				fmt.Printf("%s = %d\n", settings.KeyNoticesLimit, store.NoticesLimit(ctx))
				fmt.Printf("%s = %s\n", settings.KeyTenantTimezone, store.Timezone(ctx))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-limit <n>",
		Short: "Set the per-sweep notice limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("limit must be a positive integer")
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := settings.New(pool.Pool, cache.New(false), logger)
				return store.Set(ctx, settings.KeyNoticesLimit, args[0])
			})
		},
	})

	return cmd
}

// --------------------------------------------------------------------------
// shared setup
// --------------------------------------------------------------------------

func withPool(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}
