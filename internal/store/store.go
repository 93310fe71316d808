// Package store defines the persistence interfaces for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
)

var (
	// ErrNotFound is returned when a keyed lookup has no row.
	ErrNotFound = errors.New("store: not found")

	// ErrExists is returned when inserting a row whose key is taken.
	ErrExists = errors.New("store: already exists")
)

// Store is the full persistence interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer.
type Store interface {
	AccountStore
	TransactionStore
	PriceStore
	SnapshotStore
	PositionStore
	RealizedPnLStore
	MetricsStore
}

// AccountStore holds brokerage accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]model.Account, error)
}

// TransactionStore is the append-only ledger.
type TransactionStore interface {
	// InsertTransactions appends normalized transactions. A transaction
	// whose ID is already stored is skipped.
	InsertTransactions(ctx context.Context, txns []model.Transaction) error

	// ListTransactions returns an account's ledger ordered by trade date,
	// then insertion order.
	ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error)
}

// PriceStore is the market price table.
type PriceStore interface {
	// UpsertPrices inserts or overwrites (symbol, date) prices.
	UpsertPrices(ctx context.Context, prices []model.Price) error

	// PriceAt returns the most recent price with date ≤ date, or ErrNotFound.
	PriceAt(ctx context.Context, symbol string, date time.Time) (*model.Price, error)

	// HasPrice reports whether a price exists for exactly (symbol, date).
	HasPrice(ctx context.Context, symbol string, date time.Time) (bool, error)
}

// SnapshotStore holds the daily position snapshots.
type SnapshotStore interface {
	// ReplaceDay deletes every snapshot and realized P&L row of the
	// account on date and inserts the given rows, atomically.
	ReplaceDay(ctx context.Context, accountID string, date time.Time, snaps []model.PositionSnapshot, pnl []model.RealizedPnLRecord) error

	// ListSnapshots returns snapshots with date ≥ from, ordered by date then symbol.
	ListSnapshots(ctx context.Context, accountID string, from time.Time) ([]model.PositionSnapshot, error)

	// ListUnpricedSnapshots returns the account's snapshots with a null price.
	ListUnpricedSnapshots(ctx context.Context, accountID string) ([]model.PositionSnapshot, error)

	// UpdateSnapshotValuation sets price and total value of one snapshot.
	UpdateSnapshotValuation(ctx context.Context, id string, price, totalValue decimal.Decimal) error

	// LastSnapshotDate returns the latest snapshot date, or ErrNotFound.
	LastSnapshotDate(ctx context.Context, accountID string) (time.Time, error)

	// PurgeFrom deletes snapshots, realized P&L and metrics of the account
	// dated on or after from.
	PurgeFrom(ctx context.Context, accountID string, from time.Time) error
}

// PositionStore holds each account's current positions.
type PositionStore interface {
	// ReplacePositions deletes all of the account's positions and inserts
	// the given rows, atomically.
	ReplacePositions(ctx context.Context, accountID string, positions []model.Position) error
	ListPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// ListHeldSymbols returns the distinct symbols held in any account, sorted.
	ListHeldSymbols(ctx context.Context) ([]string, error)
}

// RealizedPnLStore exposes the realized P&L rows written by ReplaceDay.
type RealizedPnLStore interface {
	ListRealizedPnL(ctx context.Context, accountID string) ([]model.RealizedPnLRecord, error)
}

// MetricsStore holds account and user performance snapshots.
type MetricsStore interface {
	// UpsertMetrics inserts or overwrites (account, date) rows.
	UpsertMetrics(ctx context.Context, accountID string, rows []model.PortfolioMetricsSnapshot) error

	// ListMetrics returns the account's metrics ordered by date.
	ListMetrics(ctx context.Context, accountID string) ([]model.PortfolioMetricsSnapshot, error)

	// ReplaceUserMetrics deletes all of the user's rows and inserts rows.
	ReplaceUserMetrics(ctx context.Context, userID string, rows []model.UserMetricsSnapshot) error
	ListUserMetrics(ctx context.Context, userID string) ([]model.UserMetricsSnapshot, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
