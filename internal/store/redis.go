package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for price lookups and accounts. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountsKey())
	s.setJSON(ctx, accountKey(a.ID), a)
	return nil
}

func (s *CachedStore) UpsertPrices(ctx context.Context, prices []model.Price) error {
	if err := s.primary.UpsertPrices(ctx, prices); err != nil {
		return err
	}
	// A new price can change any at-or-before lookup of its symbol.
	seen := make(map[string]bool)
	for _, p := range prices {
		if seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		iter := s.rdb.Scan(ctx, 0, priceKey(p.Symbol, "*"), 100).Iterator()
		for iter.Next(ctx) {
			s.rdb.Del(ctx, iter.Val())
		}
		if err := iter.Err(); err != nil {
			slog.Warn("price cache invalidation failed", "symbol", p.Symbol, "err", err)
		}
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	if s.getJSON(ctx, accountKey(id), &a) {
		return &a, nil
	}

	acct, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, accountKey(id), acct)
	return acct, nil
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	if s.getJSON(ctx, accountsKey(), &accounts) {
		return accounts, nil
	}

	accounts, err := s.primary.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, accountsKey(), accounts)
	return accounts, nil
}

func (s *CachedStore) PriceAt(ctx context.Context, symbol string, date time.Time) (*model.Price, error) {
	key := priceKey(symbol, model.Day(date).Format(time.DateOnly))
	var p model.Price
	if s.getJSON(ctx, key, &p) {
		return &p, nil
	}

	price, err := s.primary.PriceAt(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, key, price)
	return price, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccountsByUser(ctx context.Context, userID string) ([]model.Account, error) {
	return s.primary.ListAccountsByUser(ctx, userID)
}

func (s *CachedStore) InsertTransactions(ctx context.Context, txns []model.Transaction) error {
	return s.primary.InsertTransactions(ctx, txns)
}

func (s *CachedStore) ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, accountID)
}

func (s *CachedStore) HasPrice(ctx context.Context, symbol string, date time.Time) (bool, error) {
	return s.primary.HasPrice(ctx, symbol, date)
}

func (s *CachedStore) ReplaceDay(ctx context.Context, accountID string, date time.Time, snaps []model.PositionSnapshot, pnl []model.RealizedPnLRecord) error {
	return s.primary.ReplaceDay(ctx, accountID, date, snaps, pnl)
}

func (s *CachedStore) ListSnapshots(ctx context.Context, accountID string, from time.Time) ([]model.PositionSnapshot, error) {
	return s.primary.ListSnapshots(ctx, accountID, from)
}

func (s *CachedStore) ListUnpricedSnapshots(ctx context.Context, accountID string) ([]model.PositionSnapshot, error) {
	return s.primary.ListUnpricedSnapshots(ctx, accountID)
}

func (s *CachedStore) UpdateSnapshotValuation(ctx context.Context, id string, price, totalValue decimal.Decimal) error {
	return s.primary.UpdateSnapshotValuation(ctx, id, price, totalValue)
}

func (s *CachedStore) LastSnapshotDate(ctx context.Context, accountID string) (time.Time, error) {
	return s.primary.LastSnapshotDate(ctx, accountID)
}

func (s *CachedStore) PurgeFrom(ctx context.Context, accountID string, from time.Time) error {
	return s.primary.PurgeFrom(ctx, accountID, from)
}

func (s *CachedStore) ReplacePositions(ctx context.Context, accountID string, positions []model.Position) error {
	return s.primary.ReplacePositions(ctx, accountID, positions)
}

func (s *CachedStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, accountID)
}

func (s *CachedStore) ListHeldSymbols(ctx context.Context) ([]string, error) {
	return s.primary.ListHeldSymbols(ctx)
}

func (s *CachedStore) ListRealizedPnL(ctx context.Context, accountID string) ([]model.RealizedPnLRecord, error) {
	return s.primary.ListRealizedPnL(ctx, accountID)
}

func (s *CachedStore) UpsertMetrics(ctx context.Context, accountID string, rows []model.PortfolioMetricsSnapshot) error {
	return s.primary.UpsertMetrics(ctx, accountID, rows)
}

func (s *CachedStore) ListMetrics(ctx context.Context, accountID string) ([]model.PortfolioMetricsSnapshot, error) {
	return s.primary.ListMetrics(ctx, accountID)
}

func (s *CachedStore) ReplaceUserMetrics(ctx context.Context, userID string, rows []model.UserMetricsSnapshot) error {
	return s.primary.ReplaceUserMetrics(ctx, userID, rows)
}

func (s *CachedStore) ListUserMetrics(ctx context.Context, userID string) ([]model.UserMetricsSnapshot, error) {
	return s.primary.ListUserMetrics(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) getJSON(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) setJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func accountKey(id string) string         { return fmt.Sprintf("account:%s", id) }
func accountsKey() string                 { return "accounts" }
func priceKey(symbol, date string) string { return fmt.Sprintf("price:%s:%s", symbol, date) }
