package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[string]*model.Account
	ledger      []model.Transaction
	txnIDs      map[string]bool
	prices      map[string][]model.Price // symbol → sorted by date
	snapshots   map[string][]model.PositionSnapshot
	positions   map[string][]model.Position
	pnl         map[string][]model.RealizedPnLRecord
	metrics     map[string]map[time.Time]model.PortfolioMetricsSnapshot
	userMetrics map[string][]model.UserMetricsSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*model.Account),
		txnIDs:      make(map[string]bool),
		prices:      make(map[string][]model.Price),
		snapshots:   make(map[string][]model.PositionSnapshot),
		positions:   make(map[string][]model.Position),
		pnl:         make(map[string][]model.RealizedPnLRecord),
		metrics:     make(map[string]map[time.Time]model.PortfolioMetricsSnapshot),
		userMetrics: make(map[string][]model.UserMetricsSnapshot),
	}
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account %s", ErrExists, a.ID)
	}
	// Store a copy to avoid external mutation.
	acct := *a
	s.accounts[a.ID] = &acct
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	acct := *a
	return &acct, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterAccounts(func(*model.Account) bool { return true }), nil
}

func (s *MemoryStore) ListAccountsByUser(_ context.Context, userID string) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterAccounts(func(a *model.Account) bool { return a.UserID == userID }), nil
}

func (s *MemoryStore) filterAccounts(keep func(*model.Account) bool) []model.Account {
	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if keep(a) {
			accounts = append(accounts, *a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts
}

// --- Ledger ---

func (s *MemoryStore) InsertTransactions(_ context.Context, txns []model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range txns {
		if s.txnIDs[t.ID] {
			continue
		}
		s.txnIDs[t.ID] = true
		t.Date = model.Day(t.Date)
		s.ledger = append(s.ledger, t)
	}
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, accountID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.ledger {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

// --- Prices ---

func (s *MemoryStore) UpsertPrices(_ context.Context, prices []model.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range prices {
		p.Date = model.Day(p.Date)
		series := s.prices[p.Symbol]
		i := sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(p.Date) })
		if i < len(series) && series[i].Date.Equal(p.Date) {
			series[i] = p
			continue
		}
		series = append(series, model.Price{})
		copy(series[i+1:], series[i:])
		series[i] = p
		s.prices[p.Symbol] = series
	}
	return nil
}

func (s *MemoryStore) PriceAt(_ context.Context, symbol string, date time.Time) (*model.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	date = model.Day(date)
	series := s.prices[symbol]
	// First index strictly after date; the one before it is the answer.
	i := sort.Search(len(series), func(i int) bool { return series[i].Date.After(date) })
	if i == 0 {
		return nil, fmt.Errorf("%w: price %s at %s", ErrNotFound, symbol, date.Format(time.DateOnly))
	}
	p := series[i-1]
	return &p, nil
}

func (s *MemoryStore) HasPrice(_ context.Context, symbol string, date time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	date = model.Day(date)
	for _, p := range s.prices[symbol] {
		if p.Date.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

// --- Snapshots ---

func (s *MemoryStore) ReplaceDay(_ context.Context, accountID string, date time.Time, snaps []model.PositionSnapshot, pnl []model.RealizedPnLRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date = model.Day(date)
	keepSnaps := s.snapshots[accountID][:0:0]
	for _, sn := range s.snapshots[accountID] {
		if !sn.Date.Equal(date) {
			keepSnaps = append(keepSnaps, sn)
		}
	}
	s.snapshots[accountID] = append(keepSnaps, snaps...)

	keepPnL := s.pnl[accountID][:0:0]
	for _, r := range s.pnl[accountID] {
		if !r.Date.Equal(date) {
			keepPnL = append(keepPnL, r)
		}
	}
	s.pnl[accountID] = append(keepPnL, pnl...)
	return nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, accountID string, from time.Time) ([]model.PositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PositionSnapshot
	for _, sn := range s.snapshots[accountID] {
		if !sn.Date.Before(from) {
			result = append(result, sn)
		}
	}
	sortSnapshots(result)
	return result, nil
}

func (s *MemoryStore) ListUnpricedSnapshots(_ context.Context, accountID string) ([]model.PositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PositionSnapshot
	for _, sn := range s.snapshots[accountID] {
		if !sn.Price.Valid {
			result = append(result, sn)
		}
	}
	sortSnapshots(result)
	return result, nil
}

func (s *MemoryStore) UpdateSnapshotValuation(_ context.Context, id string, price, totalValue decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for acct, snaps := range s.snapshots {
		for i := range snaps {
			if snaps[i].ID == id {
				s.snapshots[acct][i].Price = decimal.NewNullDecimal(price)
				s.snapshots[acct][i].TotalValue = decimal.NewNullDecimal(totalValue)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: snapshot %s", ErrNotFound, id)
}

func (s *MemoryStore) LastSnapshotDate(_ context.Context, accountID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	for _, sn := range s.snapshots[accountID] {
		if sn.Date.After(last) {
			last = sn.Date
		}
	}
	if last.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no snapshots for %s", ErrNotFound, accountID)
	}
	return last, nil
}

func (s *MemoryStore) PurgeFrom(_ context.Context, accountID string, from time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snaps []model.PositionSnapshot
	for _, sn := range s.snapshots[accountID] {
		if sn.Date.Before(from) {
			snaps = append(snaps, sn)
		}
	}
	s.snapshots[accountID] = snaps

	var pnl []model.RealizedPnLRecord
	for _, r := range s.pnl[accountID] {
		if r.Date.Before(from) {
			pnl = append(pnl, r)
		}
	}
	s.pnl[accountID] = pnl

	for d := range s.metrics[accountID] {
		if !d.Before(from) {
			delete(s.metrics[accountID], d)
		}
	}
	return nil
}

// --- Positions ---

func (s *MemoryStore) ReplacePositions(_ context.Context, accountID string, positions []model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]model.Position, len(positions))
	copy(rows, positions)
	s.positions[accountID] = rows
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.Position, len(s.positions[accountID]))
	copy(rows, s.positions[accountID])
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows, nil
}

func (s *MemoryStore) ListHeldSymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var symbols []string
	for _, rows := range s.positions {
		for _, p := range rows {
			if !seen[p.Symbol] {
				seen[p.Symbol] = true
				symbols = append(symbols, p.Symbol)
			}
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// --- Realized P&L ---

func (s *MemoryStore) ListRealizedPnL(_ context.Context, accountID string) ([]model.RealizedPnLRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.RealizedPnLRecord, len(s.pnl[accountID]))
	copy(rows, s.pnl[accountID])
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		if rows[i].BaseSymbol != rows[j].BaseSymbol {
			return rows[i].BaseSymbol < rows[j].BaseSymbol
		}
		return rows[i].OptionSymbol < rows[j].OptionSymbol
	})
	return rows, nil
}

// --- Metrics ---

func (s *MemoryStore) UpsertMetrics(_ context.Context, accountID string, rows []model.PortfolioMetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metrics[accountID]
	if !ok {
		m = make(map[time.Time]model.PortfolioMetricsSnapshot)
		s.metrics[accountID] = m
	}
	for _, r := range rows {
		r.Date = model.Day(r.Date)
		m[r.Date] = r
	}
	return nil
}

func (s *MemoryStore) ListMetrics(_ context.Context, accountID string) ([]model.PortfolioMetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.PortfolioMetricsSnapshot, 0, len(s.metrics[accountID]))
	for _, r := range s.metrics[accountID] {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows, nil
}

func (s *MemoryStore) ReplaceUserMetrics(_ context.Context, userID string, rows []model.UserMetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]model.UserMetricsSnapshot, len(rows))
	copy(cp, rows)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Date.Before(cp[j].Date) })
	s.userMetrics[userID] = cp
	return nil
}

func (s *MemoryStore) ListUserMetrics(_ context.Context, userID string) ([]model.UserMetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.UserMetricsSnapshot, len(s.userMetrics[userID]))
	copy(rows, s.userMetrics[userID])
	return rows, nil
}

func sortSnapshots(snaps []model.PositionSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].Date.Equal(snaps[j].Date) {
			return snaps[i].Date.Before(snaps[j].Date)
		}
		return snaps[i].Symbol < snaps[j].Symbol
	})
}
