// Package performance derives portfolio metrics from a date-ordered
// valuation series and a per-date external flow map.
//
// All series math is decimal except the square root in the Sharpe ratio,
// which goes through float64 and back. Outputs are rounded to Scale digits.
//
// The default flow basis is BasisSecurities, which departs from the literal
// cash-ledger rule: a non-cash BUY is an inflow of +q×p×m into V and a SELL
// an outflow, the opposite sign of the cash-ledger form, and CASH rows are
// not flows. BasisCashLedger keeps the literal rule for callers that value
// cash inside V.
package performance

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
)

// Scale is the number of fractional digits persisted for every metric.
const Scale = 5

// Rolling window lengths, counted in available dates.
const (
	Window7D  = 7
	Window30D = 30
)

// divScale is the precision kept for intermediate divisions.
const divScale = 20

var one = decimal.NewFromInt(1)

// Epoch is the start of the metrics range when nothing has been persisted.
var Epoch = model.Date(2000, 1, 1)

// Options tunes the metrics engine.
type Options struct {
	RiskFreeRate decimal.Decimal // annual
	TradingDays  int             // per year, for the daily risk-free rate
	SharpeWindow int             // trailing defined returns per Sharpe value
}

// DefaultOptions returns a 5% risk-free rate over 252 trading days and a
// 30-return Sharpe window.
func DefaultOptions() Options {
	return Options{
		RiskFreeRate: decimal.NewFromFloat(0.05),
		TradingDays:  252,
		SharpeWindow: 30,
	}
}

// Point is one date of the valuation series.
type Point struct {
	Date  time.Time
	Value decimal.Decimal // sum of non-cash snapshot total values
	Cash  decimal.Decimal // CASH snapshot quantity
}

// Row is one computed metrics date.
type Row struct {
	Date time.Time
	model.Metrics
}

// Seed carries the persisted history a run continues from. The zero Seed
// starts a new series whose first point is the baseline.
type Seed struct {
	Value   decimal.NullDecimal   // last persisted portfolio value
	TWR     decimal.Decimal       // last persisted TWR
	Peak    decimal.Decimal       // running maximum of persisted values
	Returns []decimal.NullDecimal // persisted daily returns, oldest first
}

// SeedFrom builds a Seed from date-ordered persisted metrics.
func SeedFrom(rows []model.Metrics) Seed {
	var s Seed
	for i, r := range rows {
		if i == 0 || r.PortfolioValue.GreaterThan(s.Peak) {
			s.Peak = r.PortfolioValue
		}
		s.Returns = append(s.Returns, r.DailyReturn)
	}
	if n := len(rows); n > 0 {
		s.Value = decimal.NewNullDecimal(rows[n-1].PortfolioValue)
		s.TWR = rows[n-1].TWRToDate
	}
	return s
}

// Compute runs the metrics chain over points, continuing from seed.
// flows maps a date to the external flow into V on that date.
func Compute(points []Point, flows map[time.Time]decimal.Decimal, seed Seed, opt Options) []Row {
	if opt.TradingDays <= 0 {
		opt.TradingDays = 252
	}
	dailyRF := opt.RiskFreeRate.DivRound(decimal.NewFromInt(int64(opt.TradingDays)), divScale)

	returns := append([]decimal.NullDecimal(nil), seed.Returns...)
	prev := seed.Value
	growth := one.Add(seed.TWR)
	peak := seed.Peak
	hasPeak := seed.Value.Valid

	rows := make([]Row, 0, len(points))
	for _, p := range points {
		date := model.Day(p.Date)

		var r decimal.NullDecimal
		if prev.Valid && !prev.Decimal.IsZero() {
			flow := flows[date]
			r = decimal.NewNullDecimal(p.Value.Sub(flow).Sub(prev.Decimal).DivRound(prev.Decimal, divScale))
			growth = growth.Mul(one.Add(r.Decimal))
		}
		returns = append(returns, r)

		if !hasPeak || p.Value.GreaterThan(peak) {
			peak = p.Value
			hasPeak = true
		}

		rows = append(rows, Row{
			Date: date,
			Metrics: model.Metrics{
				PortfolioValue:   p.Value.RoundBank(Scale),
				CashBalance:      p.Cash.RoundBank(Scale),
				DailyReturn:      roundNull(r),
				TWRToDate:        growth.Sub(one).RoundBank(Scale),
				RollingReturn7D:  roundNull(Rolling(returns, Window7D)),
				RollingReturn30D: roundNull(Rolling(returns, Window30D)),
				SharpeToDate:     roundNull(Sharpe(returns, dailyRF, opt.SharpeWindow)),
				DrawdownToDate:   Drawdown(p.Value, peak).RoundBank(Scale),
			},
		})
		prev = decimal.NewNullDecimal(p.Value)
	}
	return rows
}

// Rolling chains the returns inside a window of the last w dates ending at
// the last element of returns. A window of w dates holds w−1 returns.
// Null when the window holds no defined return.
func Rolling(returns []decimal.NullDecimal, w int) decimal.NullDecimal {
	start := len(returns) - (w - 1)
	if start < 0 {
		start = 0
	}
	growth := one
	defined := false
	for _, r := range returns[start:] {
		if r.Valid {
			growth = growth.Mul(one.Add(r.Decimal))
			defined = true
		}
	}
	if !defined {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(growth.Sub(one))
}

// Drawdown returns (value − peak) / peak, or zero when peak is not positive.
func Drawdown(value, peak decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() {
		return decimal.Zero
	}
	dd := value.Sub(peak).DivRound(peak, divScale)
	if dd.IsPositive() {
		return decimal.Zero
	}
	return dd
}

// Sharpe is the mean over sample standard deviation of the last window
// defined excess returns. Null until window returns exist or when the
// deviation is zero.
func Sharpe(returns []decimal.NullDecimal, dailyRF decimal.Decimal, window int) decimal.NullDecimal {
	if window < 2 {
		return decimal.NullDecimal{}
	}
	excess := make([]decimal.Decimal, 0, window)
	for i := len(returns) - 1; i >= 0 && len(excess) < window; i-- {
		if returns[i].Valid {
			excess = append(excess, returns[i].Decimal.Sub(dailyRF))
		}
	}
	if len(excess) < window {
		return decimal.NullDecimal{}
	}

	n := decimal.NewFromInt(int64(len(excess)))
	mean := decimal.Sum(decimal.Zero, excess...).DivRound(n, divScale)
	variance := decimal.Zero
	for _, e := range excess {
		diff := e.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.DivRound(n.Sub(one), divScale)
	if !variance.IsPositive() {
		return decimal.NullDecimal{}
	}

	stdev := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
	if stdev.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(mean.DivRound(stdev, divScale))
}

// Series groups date-ordered snapshots into valuation points. Unpriced
// snapshots contribute nothing to the value.
func Series(snaps []model.PositionSnapshot) []Point {
	byDate := make(map[time.Time]*Point)
	var dates []time.Time
	for _, s := range snaps {
		date := model.Day(s.Date)
		p, ok := byDate[date]
		if !ok {
			p = &Point{Date: date}
			byDate[date] = p
			dates = append(dates, date)
		}
		if s.Symbol == model.CashSymbol {
			p.Cash = p.Cash.Add(s.Quantity)
			continue
		}
		if s.TotalValue.Valid {
			p.Value = p.Value.Add(s.TotalValue.Decimal)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	points := make([]Point, 0, len(dates))
	for _, date := range dates {
		points = append(points, *byDate[date])
	}
	return points
}

// Combine sums several valuation series date by date.
func Combine(series ...[]Point) []Point {
	byDate := make(map[time.Time]*Point)
	var dates []time.Time
	for _, points := range series {
		for _, p := range points {
			date := model.Day(p.Date)
			agg, ok := byDate[date]
			if !ok {
				agg = &Point{Date: date}
				byDate[date] = agg
				dates = append(dates, date)
			}
			agg.Value = agg.Value.Add(p.Value)
			agg.Cash = agg.Cash.Add(p.Cash)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	out := make([]Point, 0, len(dates))
	for _, date := range dates {
		out = append(out, *byDate[date])
	}
	return out
}

// After returns the points strictly after date.
func After(points []Point, date time.Time) []Point {
	i := sort.Search(len(points), func(i int) bool { return points[i].Date.After(date) })
	return points[i:]
}

func roundNull(v decimal.NullDecimal) decimal.NullDecimal {
	if !v.Valid {
		return v
	}
	return decimal.NewNullDecimal(v.Decimal.RoundBank(Scale))
}
