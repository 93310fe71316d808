// Package app wires configuration into a running engine: store, cache,
// locks, quote refresh and the portfolio service. Both binaries share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/portana/ledger-engine/internal/config"
	"github.com/portana/ledger-engine/internal/loader"
	"github.com/portana/ledger-engine/internal/lock"
	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/portfolio"
	"github.com/portana/ledger-engine/internal/pricing"
	"github.com/portana/ledger-engine/internal/store"
)

// Engine is a wired engine. Close releases its connections.
type Engine struct {
	Config  *config.Config
	Store   store.Store
	Service *portfolio.Service
	Hub     *portfolio.WSHub

	cleanup []func()
}

// Open builds an Engine from cfg. Without DATABASE_URL it runs on an
// in-memory store seeded from cfg.Data. A nil hub disables broadcasts.
func Open(ctx context.Context, cfg *config.Config, hub *portfolio.WSHub) (*Engine, error) {
	e := &Engine{Config: cfg, Hub: hub}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		e.cleanup = append(e.cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		e.cleanup = append(e.cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			e.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		e.Store = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			e.Store = store.NewCachedStore(pg, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		e.Store = store.NewMemoryStore()

		// A database is seeded explicitly with `ledgerctl load`; only the
		// in-memory store loads inputs on startup.
		if hasData(cfg.Data) {
			if _, err := loader.Load(ctx, e.Store, loader.Patterns{
				Accounts:     cfg.Data.Accounts,
				Transactions: cfg.Data.Transactions,
				Prices:       cfg.Data.Prices,
			}); err != nil {
				e.Close()
				return nil, fmt.Errorf("load inputs: %w", err)
			}
		}
	}

	var locker lock.Locker
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
		slog.Info("Redis locks enabled", "ttl", cfg.LockTTL)
	} else {
		locker = lock.NewLocalLocker()
	}

	var refresher *pricing.Refresher
	if cfg.PriceRefresh {
		quoter := pricing.NewYahooQuoter(cfg.YahooBaseURL)
		refresher = pricing.NewRefresher(e.Store, quoter, cfg.QuoteConcurrency)
	}

	e.Service = portfolio.NewService(e.Store, locker, refresher, hub, cfg.ServiceOptions())
	return e, nil
}

// Close releases connections in reverse order of acquisition.
func (e *Engine) Close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
	e.cleanup = nil
}

// LatestMetrics returns the newest metrics row of each account, keyed by ID.
// Accounts without metrics are absent.
func (e *Engine) LatestMetrics(ctx context.Context, accountIDs []string) (map[string]model.Metrics, error) {
	out := make(map[string]model.Metrics, len(accountIDs))
	for _, id := range accountIDs {
		rows, err := e.Store.ListMetrics(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			out[id] = rows[len(rows)-1].Metrics
		}
	}
	return out, nil
}

func hasData(d config.DataConfig) bool {
	return len(d.Accounts)+len(d.Transactions)+len(d.Prices) > 0
}
