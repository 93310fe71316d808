package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(n int) time.Time {
	return model.Date(2024, 3, n)
}

func TestMemoryStore_Accounts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateAccount(ctx, &model.Account{ID: "b", UserID: "u1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CreateAccount(ctx, &model.Account{ID: "a", UserID: "u1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CreateAccount(ctx, &model.Account{ID: "c", UserID: "u2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CreateAccount(ctx, &model.Account{ID: "a"}); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}

	if _, err := s.GetAccount(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	all, _ := s.ListAccounts(ctx)
	if len(all) != 3 || all[0].ID != "a" {
		t.Errorf("expected 3 sorted accounts, got %+v", all)
	}
	mine, _ := s.ListAccountsByUser(ctx, "u1")
	if len(mine) != 2 {
		t.Errorf("expected 2 accounts for u1, got %d", len(mine))
	}
}

func TestMemoryStore_TransactionsKeepLedgerOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.InsertTransactions(ctx, []model.Transaction{
		{ID: "late", AccountID: "a", Date: day(5)},
		{ID: "first", AccountID: "a", Date: day(1)},
		{ID: "second", AccountID: "a", Date: day(1)},
		{ID: "other", AccountID: "b", Date: day(1)},
	})

	txns, err := s.ListTransactions(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"first", "second", "late"}
	if len(txns) != len(want) {
		t.Fatalf("expected %d transactions, got %d", len(want), len(txns))
	}
	for i, id := range want {
		if txns[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, txns[i].ID)
		}
	}
}

func TestMemoryStore_InsertTransactionsSkipsKnownIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	buy := model.Transaction{ID: "t1", AccountID: "a", Symbol: "AAPL", Action: model.ActionBuy, Quantity: d(10), Date: day(1)}
	s.InsertTransactions(ctx, []model.Transaction{buy})
	s.InsertTransactions(ctx, []model.Transaction{buy, {ID: "t2", AccountID: "a", Symbol: "AAPL", Action: model.ActionSell, Quantity: d(4), Date: day(2)}})

	txns, _ := s.ListTransactions(ctx, "a")
	if len(txns) != 2 || txns[0].ID != "t1" || txns[1].ID != "t2" {
		t.Errorf("expected t1 once then t2, got %+v", txns)
	}
}

func TestMemoryStore_PriceAtOrBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.UpsertPrices(ctx, []model.Price{
		{Symbol: "AAPL", Date: day(10), Price: d(110)},
		{Symbol: "AAPL", Date: day(2), Price: d(102)},
		{Symbol: "AAPL", Date: day(5), Price: d(105)},
	})

	tests := []struct {
		date time.Time
		want decimal.Decimal
		ok   bool
	}{
		{day(1), decimal.Zero, false},
		{day(2), d(102), true},
		{day(4), d(102), true},
		{day(5), d(105), true},
		{day(20), d(110), true},
	}
	for _, tt := range tests {
		p, err := s.PriceAt(ctx, "AAPL", tt.date)
		if !tt.ok {
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("%s: expected ErrNotFound, got %v", tt.date.Format(time.DateOnly), err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !p.Price.Equal(tt.want) {
			t.Errorf("%s: expected %s, got %s", tt.date.Format(time.DateOnly), tt.want, p.Price)
		}
	}

	// Upsert overwrites the same date.
	s.UpsertPrices(ctx, []model.Price{{Symbol: "AAPL", Date: day(5), Price: d(106)}})
	p, _ := s.PriceAt(ctx, "AAPL", day(6))
	if !p.Price.Equal(d(106)) {
		t.Errorf("expected overwritten price 106, got %s", p.Price)
	}
	ok, _ := s.HasPrice(ctx, "AAPL", day(5))
	if !ok {
		t.Errorf("expected price on day 5")
	}
	ok, _ = s.HasPrice(ctx, "AAPL", day(6))
	if ok {
		t.Errorf("expected no price on day 6")
	}
}

func TestMemoryStore_ReplaceDayIsScoped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	snap := func(id, sym string, n int) model.PositionSnapshot {
		return model.PositionSnapshot{ID: id, AccountID: "a", Symbol: sym, Date: day(n), Quantity: d(1)}
	}

	s.ReplaceDay(ctx, "a", day(1), []model.PositionSnapshot{snap("1", "AAPL", 1)}, nil)
	s.ReplaceDay(ctx, "a", day(2), []model.PositionSnapshot{snap("2", "AAPL", 2), snap("3", "MSFT", 2)},
		[]model.RealizedPnLRecord{{ID: "p1", AccountID: "a", BaseSymbol: "AAPL", Date: day(2)}})
	s.ReplaceDay(ctx, "b", day(2), []model.PositionSnapshot{snap("4", "AAPL", 2)}, nil)

	// Re-running day 2 replaces, never merges.
	s.ReplaceDay(ctx, "a", day(2), []model.PositionSnapshot{snap("5", "AAPL", 2)}, nil)

	snaps, _ := s.ListSnapshots(ctx, "a", time.Time{})
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[1].ID != "5" {
		t.Errorf("expected replaced day-2 row, got %s", snaps[1].ID)
	}
	pnl, _ := s.ListRealizedPnL(ctx, "a")
	if len(pnl) != 0 {
		t.Errorf("expected day-2 pnl to be replaced, got %d rows", len(pnl))
	}
	other, _ := s.ListSnapshots(ctx, "b", time.Time{})
	if len(other) != 1 {
		t.Errorf("other account was touched: %d rows", len(other))
	}

	last, err := s.LastSnapshotDate(ctx, "a")
	if err != nil || !last.Equal(day(2)) {
		t.Errorf("expected last snapshot day 2, got %v (%v)", last, err)
	}
	if _, err := s.LastSnapshotDate(ctx, "none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Valuation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.ReplaceDay(ctx, "a", day(1), []model.PositionSnapshot{
		{ID: "1", AccountID: "a", Symbol: "AAPL", Date: day(1), Quantity: d(2)},
		{ID: "2", AccountID: "a", Symbol: "MSFT", Date: day(1), Quantity: d(3)},
	}, nil)

	if err := s.UpdateSnapshotValuation(ctx, "1", d(10), d(20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.UpdateSnapshotValuation(ctx, "missing", d(1), d(1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	unpriced, _ := s.ListUnpricedSnapshots(ctx, "a")
	if len(unpriced) != 1 || unpriced[0].Symbol != "MSFT" {
		t.Errorf("expected only MSFT unpriced, got %+v", unpriced)
	}
}

func TestMemoryStore_PurgeFrom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for n := 1; n <= 3; n++ {
		s.ReplaceDay(ctx, "a", day(n), []model.PositionSnapshot{{ID: string(rune('0' + n)), Symbol: "X", Date: day(n)}},
			[]model.RealizedPnLRecord{{ID: "p", BaseSymbol: "X", Date: day(n)}})
		s.UpsertMetrics(ctx, "a", []model.PortfolioMetricsSnapshot{{AccountID: "a", Date: day(n)}})
	}

	if err := s.PurgeFrom(ctx, "a", day(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snaps, _ := s.ListSnapshots(ctx, "a", time.Time{})
	pnl, _ := s.ListRealizedPnL(ctx, "a")
	metrics, _ := s.ListMetrics(ctx, "a")
	if len(snaps) != 1 || len(pnl) != 1 || len(metrics) != 1 {
		t.Errorf("expected one row of each left, got %d/%d/%d", len(snaps), len(pnl), len(metrics))
	}
}

func TestMemoryStore_PositionsAndHeldSymbols(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.ReplacePositions(ctx, "a", []model.Position{{Symbol: "MSFT"}, {Symbol: "AAPL"}})
	s.ReplacePositions(ctx, "b", []model.Position{{Symbol: "AAPL"}, {Symbol: "CASH"}})
	s.ReplacePositions(ctx, "a", []model.Position{{Symbol: "TSLA"}})

	rows, _ := s.ListPositions(ctx, "a")
	if len(rows) != 1 || rows[0].Symbol != "TSLA" {
		t.Errorf("expected positions to be fully replaced, got %+v", rows)
	}

	symbols, _ := s.ListHeldSymbols(ctx)
	want := []string{"AAPL", "CASH", "TSLA"}
	if len(symbols) != len(want) {
		t.Fatalf("expected %v, got %v", want, symbols)
	}
	for i := range want {
		if symbols[i] != want[i] {
			t.Errorf("expected %v, got %v", want, symbols)
			break
		}
	}
}

func TestMemoryStore_Metrics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.UpsertMetrics(ctx, "a", []model.PortfolioMetricsSnapshot{
		{AccountID: "a", Date: day(2), Metrics: model.Metrics{PortfolioValue: d(2)}},
		{AccountID: "a", Date: day(1), Metrics: model.Metrics{PortfolioValue: d(1)}},
	})
	s.UpsertMetrics(ctx, "a", []model.PortfolioMetricsSnapshot{
		{AccountID: "a", Date: day(2), Metrics: model.Metrics{PortfolioValue: d(3)}},
	})

	rows, _ := s.ListMetrics(ctx, "a")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if !rows[0].Date.Equal(day(1)) || !rows[1].PortfolioValue.Equal(d(3)) {
		t.Errorf("unexpected metrics rows: %+v", rows)
	}

	s.ReplaceUserMetrics(ctx, "u", []model.UserMetricsSnapshot{{UserID: "u", Date: day(1)}, {UserID: "u", Date: day(2)}})
	s.ReplaceUserMetrics(ctx, "u", []model.UserMetricsSnapshot{{UserID: "u", Date: day(3)}})
	user, _ := s.ListUserMetrics(ctx, "u")
	if len(user) != 1 || !user[0].Date.Equal(day(3)) {
		t.Errorf("expected user metrics to be replaced, got %+v", user)
	}
}
