package performance

import (
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
	return model.Date(2024, 1, n)
}

func series(values ...float64) []Point {
	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{Date: day(i + 1), Value: d(v)}
	}
	return points
}

func TestCompute_TWRChain(t *testing.T) {
	rows := Compute(series(100, 110, 105), nil, Seed{}, DefaultOptions())
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].DailyReturn.Valid {
		t.Errorf("baseline must have no return, got %s", rows[0].DailyReturn.Decimal)
	}
	if !rows[1].DailyReturn.Decimal.Equal(d(0.1)) {
		t.Errorf("expected r1 = 0.1, got %s", rows[1].DailyReturn.Decimal)
	}
	if !rows[2].TWRToDate.Equal(d(0.05)) {
		t.Errorf("expected TWR 0.05, got %s", rows[2].TWRToDate)
	}
}

func TestCompute_Drawdown(t *testing.T) {
	rows := Compute(series(100, 80, 90), nil, Seed{}, DefaultOptions())
	want := []decimal.Decimal{d(0), d(-0.2), d(-0.1)}
	lowest := decimal.Zero
	for i, r := range rows {
		if !r.DrawdownToDate.Equal(want[i]) {
			t.Errorf("row %d: expected drawdown %s, got %s", i, want[i], r.DrawdownToDate)
		}
		if r.DrawdownToDate.IsPositive() {
			t.Errorf("row %d: drawdown must be ≤ 0", i)
		}
		lowest = decimal.Min(lowest, r.DrawdownToDate)
	}
	if !lowest.Equal(d(-0.2)) {
		t.Errorf("expected minimum drawdown -0.2, got %s", lowest)
	}

	for _, r := range Compute(series(1, 2, 3, 4, 5), nil, Seed{}, DefaultOptions()) {
		if !r.DrawdownToDate.IsZero() {
			t.Errorf("increasing series must have zero drawdown, got %s", r.DrawdownToDate)
		}
	}
}

func TestDrawdown_ZeroPeak(t *testing.T) {
	if got := Drawdown(decimal.Zero, decimal.Zero); !got.IsZero() {
		t.Errorf("expected 0 for zero peak, got %s", got)
	}
}

func TestCompute_ZeroPreviousValue(t *testing.T) {
	rows := Compute(series(0, 100, 110), nil, Seed{}, DefaultOptions())
	if rows[1].DailyReturn.Valid {
		t.Errorf("return after a zero value must be null")
	}
	if !rows[2].DailyReturn.Decimal.Equal(d(0.1)) {
		t.Errorf("expected 0.1, got %s", rows[2].DailyReturn.Decimal)
	}
	if !rows[2].TWRToDate.Equal(d(0.1)) {
		t.Errorf("expected TWR 0.1, got %s", rows[2].TWRToDate)
	}
}

func TestCompute_FlowsAreExcluded(t *testing.T) {
	flows := map[time.Time]decimal.Decimal{day(2): d(1000)}
	rows := Compute(series(1000, 2000), flows, Seed{}, DefaultOptions())
	if !rows[1].DailyReturn.Decimal.IsZero() {
		t.Errorf("a pure deposit is not a return, got %s", rows[1].DailyReturn.Decimal)
	}
}

func TestCompute_RollingWindows(t *testing.T) {
	values := []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109}
	rows := Compute(series(values...), nil, Seed{}, DefaultOptions())

	if rows[0].RollingReturn7D.Valid {
		t.Errorf("baseline rolling return must be null")
	}

	// Window of 7 dates ending at 109 starts at 103.
	want := d(109).DivRound(d(103), 20).Sub(decimal.NewFromInt(1)).RoundBank(Scale)
	if got := rows[9].RollingReturn7D.Decimal; !got.Equal(want) {
		t.Errorf("expected rolling 7 %s, got %s", want, got)
	}

	// 30-date window truncates at the series start.
	want = d(0.09)
	if got := rows[9].RollingReturn30D.Decimal; !got.Equal(want) {
		t.Errorf("expected rolling 30 %s, got %s", want, got)
	}
}

func TestRolling_CountsDatesNotReturns(t *testing.T) {
	r := func(f float64) decimal.NullDecimal { return decimal.NewNullDecimal(d(f)) }
	returns := []decimal.NullDecimal{r(0.5), {}, r(0.1), r(0.1)}

	// w=3 → the last 2 entries.
	got := Rolling(returns, 3)
	if !got.Decimal.Equal(d(0.21)) {
		t.Errorf("expected 0.21, got %s", got.Decimal)
	}
	if Rolling([]decimal.NullDecimal{{}}, 7).Valid {
		t.Errorf("expected null for a window without returns")
	}
}

func TestCompute_SharpeNullUntilWindowFull(t *testing.T) {
	opt := DefaultOptions()
	opt.SharpeWindow = 3
	rows := Compute(series(100, 110, 99, 120, 118), nil, Seed{}, opt)

	for i := 0; i < 3; i++ {
		if rows[i].SharpeToDate.Valid {
			t.Errorf("row %d: expected null sharpe", i)
		}
	}
	for i := 3; i < 5; i++ {
		if !rows[i].SharpeToDate.Valid {
			t.Errorf("row %d: expected a sharpe value", i)
		}
	}
}

func TestSharpe_ZeroDeviation(t *testing.T) {
	opt := DefaultOptions()
	opt.SharpeWindow = 3
	rows := Compute(series(100, 110, 121, 133.1), nil, Seed{}, opt)
	if rows[3].SharpeToDate.Valid {
		t.Errorf("constant returns have zero deviation, expected null, got %s", rows[3].SharpeToDate.Decimal)
	}
}

func TestSharpe_Value(t *testing.T) {
	r := func(f float64) decimal.NullDecimal { return decimal.NewNullDecimal(d(f)) }
	// excess returns 0.01, 0.03 → mean 0.02, sample stdev √0.0002.
	got := Sharpe([]decimal.NullDecimal{r(0.01), r(0.03)}, decimal.Zero, 2)
	if !got.Valid {
		t.Fatalf("expected a value")
	}
	if got.Decimal.RoundBank(4).String() != "1.4142" {
		t.Errorf("expected ≈1.4142, got %s", got.Decimal)
	}
}

func TestCompute_ContinuesFromSeed(t *testing.T) {
	points := series(100, 110, 121, 99, 110)
	full := Compute(points, nil, Seed{}, DefaultOptions())

	first := Compute(points[:3], nil, Seed{}, DefaultOptions())
	persisted := make([]model.Metrics, len(first))
	for i, r := range first {
		persisted[i] = r.Metrics
	}
	rest := Compute(points[3:], nil, SeedFrom(persisted), DefaultOptions())

	combined := append(first, rest...)
	if len(combined) != len(full) {
		t.Fatalf("expected %d rows, got %d", len(full), len(combined))
	}
	for i := range full {
		if !sameRow(full[i], combined[i]) {
			t.Errorf("row %d: incremental run diverged:\nfull: %+v\ninc:  %+v", i, full[i], combined[i])
		}
	}
}

func sameRow(a, b Row) bool {
	nullEq := func(x, y decimal.NullDecimal) bool {
		return x.Valid == y.Valid && (!x.Valid || x.Decimal.Equal(y.Decimal))
	}
	return a.Date.Equal(b.Date) &&
		a.PortfolioValue.Equal(b.PortfolioValue) &&
		a.CashBalance.Equal(b.CashBalance) &&
		nullEq(a.DailyReturn, b.DailyReturn) &&
		a.TWRToDate.Equal(b.TWRToDate) &&
		nullEq(a.RollingReturn7D, b.RollingReturn7D) &&
		nullEq(a.RollingReturn30D, b.RollingReturn30D) &&
		nullEq(a.SharpeToDate, b.SharpeToDate) &&
		a.DrawdownToDate.Equal(b.DrawdownToDate)
}

func TestSeries(t *testing.T) {
	snaps := []model.PositionSnapshot{
		{Symbol: "AAPL", Date: day(2), TotalValue: decimal.NewNullDecimal(d(50))},
		{Symbol: "AAPL", Date: day(1), TotalValue: decimal.NewNullDecimal(d(100))},
		{Symbol: "CASH", Date: day(1), Quantity: d(25), TotalValue: decimal.NewNullDecimal(d(25))},
		{Symbol: "MSFT", Date: day(1), TotalValue: decimal.NewNullDecimal(d(10))},
		{Symbol: "TSLA", Date: day(2)},
	}
	points := Series(snaps)
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if !points[0].Date.Equal(day(1)) || !points[0].Value.Equal(d(110)) || !points[0].Cash.Equal(d(25)) {
		t.Errorf("unexpected day 1 point: %+v", points[0])
	}
	if !points[1].Value.Equal(d(50)) || !points[1].Cash.IsZero() {
		t.Errorf("unexpected day 2 point: %+v", points[1])
	}

	if got := After(points, day(1)); len(got) != 1 || !got[0].Date.Equal(day(2)) {
		t.Errorf("After: expected only day 2, got %+v", got)
	}
}

func TestCombine(t *testing.T) {
	a := []Point{{Date: day(1), Value: d(10), Cash: d(1)}, {Date: day(2), Value: d(20)}}
	b := []Point{{Date: day(2), Value: d(5), Cash: d(2)}, {Date: day(3), Value: d(7)}}
	got := Combine(a, b)
	if len(got) != 3 {
		t.Fatalf("expected 3 points, got %d", len(got))
	}
	if !got[1].Value.Equal(d(25)) || !got[1].Cash.Equal(d(2)) {
		t.Errorf("unexpected combined day 2: %+v", got[1])
	}
}

func TestFlows(t *testing.T) {
	price := func(f float64) decimal.NullDecimal { return decimal.NewNullDecimal(d(f)) }
	txns := []model.Transaction{
		{Symbol: "CASH", Action: model.ActionBuy, Quantity: d(5000), Date: day(1)},
		{Symbol: "AAPL", Action: model.ActionBuy, Quantity: d(10), Price: price(100), Date: day(2)},
		{Symbol: "AAPL_2025-09-20_150.0_CALL", Action: model.ActionBuyToOpen, Quantity: d(1), Price: price(2), Date: day(2)},
		{Symbol: "AAPL", Action: model.ActionSell, Quantity: d(4), Price: price(110), Date: day(3)},
		{Symbol: "CASH", Action: model.ActionSell, Quantity: d(300), Date: day(3)},
		{Symbol: "AAPL", Action: model.ActionDividend, Quantity: d(10), Price: price(0.2), Date: day(3)},
	}

	sec := Flows(txns, BasisSecurities, time.Time{})
	if _, ok := sec[day(1)]; ok {
		t.Errorf("securities basis must ignore CASH moves")
	}
	if !sec[day(2)].Equal(d(1200)) {
		t.Errorf("expected 1200 on day 2, got %s", sec[day(2)])
	}
	if !sec[day(3)].Equal(d(-440)) {
		t.Errorf("expected -440 on day 3, got %s", sec[day(3)])
	}

	cash := Flows(txns, BasisCashLedger, time.Time{})
	if !cash[day(1)].Equal(d(5000)) {
		t.Errorf("expected 5000 on day 1, got %s", cash[day(1)])
	}
	if !cash[day(2)].Equal(d(-1200)) {
		t.Errorf("expected -1200 on day 2, got %s", cash[day(2)])
	}
	if !cash[day(3)].Equal(d(140)) {
		t.Errorf("expected 140 on day 3, got %s", cash[day(3)])
	}

	after := Flows(txns, BasisSecurities, day(2))
	if len(after) != 1 {
		t.Errorf("expected only day 3 after day 2, got %v", after)
	}
}

func TestFlows_DefaultBasisReversesTradeSign(t *testing.T) {
	basis, err := ParseFlowBasis("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	price := decimal.NewNullDecimal(d(50))
	txns := []model.Transaction{
		{Symbol: "MSFT", Action: model.ActionBuy, Quantity: d(2), Price: price, Date: day(1)},
		{Symbol: "MSFT", Action: model.ActionSell, Quantity: d(-1), Price: price, Date: day(2)},
	}
	def := Flows(txns, basis, time.Time{})
	literal := Flows(txns, BasisCashLedger, time.Time{})
	for _, dt := range []time.Time{day(1), day(2)} {
		if !def[dt].Equal(literal[dt].Neg()) {
			t.Errorf("%s: expected %s, got %s", dt.Format(time.DateOnly), literal[dt].Neg(), def[dt])
		}
	}
	if !def[day(1)].Equal(d(100)) {
		t.Errorf("expected a BUY to flow +100 into V, got %s", def[day(1)])
	}
}

func TestParseFlowBasis(t *testing.T) {
	tests := []struct {
		in   string
		want FlowBasis
	}{
		{"", BasisSecurities},
		{"securities", BasisSecurities},
		{" Cash-Ledger ", BasisCashLedger},
	}
	for _, tt := range tests {
		got, err := ParseFlowBasis(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("%q: expected %s, got %s (%v)", tt.in, tt.want, got, err)
		}
	}
	if _, err := ParseFlowBasis("cash"); !errors.Is(err, ErrUnknownBasis) {
		t.Errorf("expected ErrUnknownBasis, got %v", err)
	}
}
