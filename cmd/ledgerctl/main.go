// ledgerctl - batch runs of the ledger engine from the command line
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/portana/ledger-engine/internal/app"
	"github.com/portana/ledger-engine/internal/config"
	"github.com/portana/ledger-engine/internal/loader"
	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/portfolio"
	"github.com/portana/ledger-engine/internal/report"
)

var (
	configPath string
	style      string
	plain      bool
	verbose    bool
	full       bool
	last       int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Replay ledgers and compute portfolio performance",
		Long: `ledgerctl rebuilds daily position snapshots from brokerage ledgers,
values them against market prices and computes performance metrics.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ENGINE_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&style, "style", "", "glamour style (dark, light, notty); empty detects the terminal")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "print raw markdown")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(hydrateCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(pricesCmd())
	rootCmd.AddCommand(loadCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withEngine loads config, opens the engine and runs fn under a context
// cancelled by SIGINT or SIGTERM.
func withEngine(fn func(ctx context.Context, e *app.Engine) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := app.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func mode() portfolio.Mode {
	if full {
		return portfolio.ModeFull
	}
	return portfolio.ModeIncremental
}

func show(md string) error {
	if plain {
		fmt.Print(md)
		return nil
	}
	out, err := report.Render(md, style)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [account...]",
		Short: "Replay, hydrate and compute metrics for accounts (all when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *app.Engine) error {
				start := time.Now()
				summary, err := e.Service.Refresh(ctx, args, mode())
				if err != nil {
					return err
				}
				ids := make([]string, len(summary.Results))
				for i, r := range summary.Results {
					ids[i] = r.AccountID
				}
				latest, err := e.LatestMetrics(ctx, ids)
				if err != nil {
					return err
				}
				if err := show(report.RunSummary(summary, latest)); err != nil {
					return err
				}
				slog.Info("run finished", "accounts", len(ids), "duration", time.Since(start))
				if summary.Failed > 0 {
					return fmt.Errorf("%d of %d accounts failed", summary.Failed, len(ids))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "discard derived state and replay from the first transaction")
	return cmd
}

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <account>",
		Short: "Rebuild snapshots, realized P&L and positions for one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *app.Engine) error {
				res, err := e.Service.ReplayAccount(ctx, args[0], mode())
				if err != nil {
					return err
				}
				return show(report.Replay(args[0], res))
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "replay from the first transaction")
	return cmd
}

func hydrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hydrate <account>",
		Short: "Value unpriced snapshots of one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *app.Engine) error {
				rep, err := e.Service.HydrateAccount(ctx, args[0])
				if err != nil {
					return err
				}
				return show(report.Hydration(args[0], rep))
			})
		},
	}
}

func metricsCmd() *cobra.Command {
	var recompute bool
	cmd := &cobra.Command{
		Use:   "metrics <account>",
		Short: "Show (and optionally recompute) an account's performance metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *app.Engine) error {
				if recompute {
					if _, err := e.Service.RecomputeMetrics(ctx, args[0], mode()); err != nil {
						return err
					}
				}
				rows, err := e.Store.ListMetrics(ctx, args[0])
				if err != nil {
					return err
				}
				dates := make([]time.Time, len(rows))
				ms := make([]model.Metrics, len(rows))
				for i, r := range rows {
					dates[i], ms[i] = r.Date, r.Metrics
				}
				return show(report.MetricsTable(args[0], dates, ms, last))
			})
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", false, "recompute before showing")
	cmd.Flags().BoolVar(&full, "full", false, "recompute the whole series")
	cmd.Flags().IntVarP(&last, "last", "n", 10, "rows to show (0 for all)")
	return cmd
}

func userCmd() *cobra.Command {
	var rollupOnly bool
	cmd := &cobra.Command{
		Use:   "user <user>",
		Short: "Refresh every account of a user and roll up their combined metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *app.Engine) error {
				var res *portfolio.UserResult
				if rollupOnly {
					if _, err := e.Service.RollupUser(ctx, args[0]); err != nil {
						return err
					}
				} else {
					r, err := e.Service.RefreshUser(ctx, args[0], mode())
					if err != nil {
						return err
					}
					res = &r
				}

				rows, err := e.Store.ListUserMetrics(ctx, args[0])
				if err != nil {
					return err
				}
				dates := make([]time.Time, len(rows))
				ms := make([]model.Metrics, len(rows))
				for i, r := range rows {
					dates[i], ms[i] = r.Date, r.Metrics
				}
				title := "User " + args[0]
				if res == nil {
					return show(report.MetricsTable(title, dates, ms, last))
				}
				return show(report.UserRefresh(*res, title, dates, ms, last))
			})
		},
	}
	cmd.Flags().BoolVar(&rollupOnly, "rollup-only", false, "recompute the rollup from existing account metrics")
	cmd.Flags().BoolVar(&full, "full", false, "replay accounts from their first transaction")
	cmd.Flags().IntVarP(&last, "last", "n", 10, "rows to show (0 for all)")
	return cmd
}

func pricesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prices",
		Short: "Fetch today's quotes for every held symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *app.Engine) error {
				rep, err := e.Service.RefreshPrices(ctx)
				if err != nil {
					return err
				}
				return show(report.PriceRefresh(rep))
			})
		},
	}
}

func loadCmd() *cobra.Command {
	var p loader.Patterns
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Import JSONL accounts, transactions and prices into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *app.Engine) error {
				if e.Config.DatabaseURL == "" {
					slog.Warn("no DATABASE_URL; imported rows are discarded on exit")
				}
				stats, err := loader.Load(ctx, e.Store, p)
				if err != nil {
					return err
				}
				return show(report.Load(stats))
			})
		},
	}
	cmd.Flags().StringSliceVar(&p.Accounts, "accounts", nil, "account file globs")
	cmd.Flags().StringSliceVar(&p.Transactions, "transactions", nil, "transaction file globs (** allowed)")
	cmd.Flags().StringSliceVar(&p.Prices, "prices", nil, "price file globs")
	return cmd
}
