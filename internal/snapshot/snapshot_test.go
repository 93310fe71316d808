package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/replay"
	"github.com/portana/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var date = model.Date(2024, 5, 3)

func sampleState() replay.State {
	return replay.State{
		"MSFT": {Symbol: "MSFT", Quantity: d(3), Cost: d(1000), FirstAction: model.ActionBuy},
		"AAPL": {Symbol: "AAPL", Quantity: d(6), Cost: d(60), FirstAction: model.ActionBuy},
		"CASH": {Symbol: "CASH", Quantity: d(1234.5), FirstAction: model.ActionBuy},
		"TSLA": {Symbol: "TSLA", Quantity: decimal.Zero, Cost: decimal.Zero},
		"SPY_2024-12-20_450_PUT": {
			Symbol: "SPY_2024-12-20_450_PUT", Quantity: d(-1), Cost: d(-300), FirstAction: model.ActionSellToOpen,
		},
	}
}

func TestBuild(t *testing.T) {
	snaps := Build("acct-1", date.Add(15*time.Hour), sampleState())

	wantSymbols := []string{"AAPL", "CASH", "MSFT", "SPY_2024-12-20_450_PUT"}
	if len(snaps) != len(wantSymbols) {
		t.Fatalf("expected %d snapshots, got %d", len(wantSymbols), len(snaps))
	}
	for i, sym := range wantSymbols {
		if snaps[i].Symbol != sym {
			t.Errorf("position %d: expected %s, got %s", i, sym, snaps[i].Symbol)
		}
		if !snaps[i].Date.Equal(date) {
			t.Errorf("%s: date not truncated: %v", sym, snaps[i].Date)
		}
		if snaps[i].Price.Valid || snaps[i].TotalValue.Valid {
			t.Errorf("%s: valuation must be null before hydration", sym)
		}
	}

	if !snaps[0].AvgCost.Equal(d(10)) {
		t.Errorf("AAPL: expected avg 10, got %s", snaps[0].AvgCost)
	}
	if !snaps[1].AvgCost.Equal(d(1)) {
		t.Errorf("CASH: expected avg exactly 1, got %s", snaps[1].AvgCost)
	}
	// 1000/3 rounded to 5 digits.
	if !snaps[2].AvgCost.Equal(decimal.RequireFromString("333.33333")) {
		t.Errorf("MSFT: expected avg 333.33333, got %s", snaps[2].AvgCost)
	}
	if !snaps[3].AvgCost.Equal(d(300)) || !snaps[3].Quantity.Equal(d(-1)) {
		t.Errorf("short option: expected qty -1 avg 300, got %s / %s", snaps[3].Quantity, snaps[3].AvgCost)
	}
	if snaps[3].Action != model.ActionSellToOpen {
		t.Errorf("expected opening action to carry through, got %s", snaps[3].Action)
	}
}

func TestBuild_RoundsQuantity(t *testing.T) {
	state := replay.State{
		"VTI":  {Symbol: "VTI", Quantity: decimal.RequireFromString("1.234567"), Cost: d(100)},
		"DUST": {Symbol: "DUST", Quantity: decimal.RequireFromString("0.000001"), Cost: d(0)},
	}
	snaps := Build("a", date, state)
	if len(snaps) != 1 {
		t.Fatalf("expected dust position to be skipped, got %d rows", len(snaps))
	}
	if !snaps[0].Quantity.Equal(decimal.RequireFromString("1.23457")) {
		t.Errorf("expected 1.23457, got %s", snaps[0].Quantity)
	}
}

func TestPersist_ReplacesDay(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	a := NewAssembler(st)

	n, err := a.Persist(ctx, "acct-1", date, sampleState(), []model.RealizedPnLRecord{
		{AccountID: "acct-1", BaseSymbol: "AAPL", Date: date, RealizedPnL: d(20)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 rows written, got %d", n)
	}

	// Second run with a smaller state must not leave stale rows behind.
	smaller := replay.State{"AAPL": {Symbol: "AAPL", Quantity: d(1), Cost: d(10)}}
	if _, err := a.Persist(ctx, "acct-1", date, smaller, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snaps, _ := st.ListSnapshots(ctx, "acct-1", date)
	if len(snaps) != 1 || snaps[0].Symbol != "AAPL" {
		t.Errorf("expected only AAPL after replace, got %+v", snaps)
	}
	if snaps[0].ID == "" {
		t.Errorf("persisted snapshot has no id")
	}
	pnl, _ := st.ListRealizedPnL(ctx, "acct-1")
	if len(pnl) != 0 {
		t.Errorf("expected realized pnl for the day to be replaced, got %d", len(pnl))
	}
}

func TestPersistPositions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	a := NewAssembler(st)

	if err := a.PersistPositions(ctx, "acct-1", date, sampleState()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, _ := st.ListPositions(ctx, "acct-1")
	if len(rows) != 4 {
		t.Fatalf("expected 4 positions, got %d", len(rows))
	}
	for _, p := range rows {
		if p.Quantity.IsZero() {
			t.Errorf("zero-quantity position persisted: %s", p.Symbol)
		}
		if !p.AsOf.Equal(date) {
			t.Errorf("%s: expected as-of %v, got %v", p.Symbol, date, p.AsOf)
		}
	}
}
