package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/portana/ledger-engine/internal/metrics"
	"github.com/portana/ledger-engine/internal/model"
)

// QuoteScale is the number of fractional digits stored for fetched quotes.
const QuoteScale = 4

// Quoter returns the latest market price of a ledger symbol.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceTable is the price persistence the refresher needs.
type PriceTable interface {
	ListHeldSymbols(ctx context.Context) ([]string, error)
	HasPrice(ctx context.Context, symbol string, date time.Time) (bool, error)
	UpsertPrices(ctx context.Context, prices []model.Price) error
}

// RefreshReport summarizes one refresh pass.
type RefreshReport struct {
	Date          time.Time `json:"date"`
	Fetched       int       `json:"fetched"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	FailedSymbols []string  `json:"failed_symbols,omitempty"`
}

// Refresher stores today's quote for every held symbol.
type Refresher struct {
	table       PriceTable
	quoter      Quoter
	concurrency int
	now         func() time.Time
}

// NewRefresher creates a refresher fetching up to concurrency quotes at once.
func NewRefresher(table PriceTable, quoter Quoter, concurrency int) *Refresher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Refresher{table: table, quoter: quoter, concurrency: concurrency, now: time.Now}
}

// WithClock overrides the refresher's notion of today.
func (r *Refresher) WithClock(now func() time.Time) *Refresher {
	r.now = now
	return r
}

// Refresh fetches quotes for held symbols not yet priced today. A failed
// symbol is counted and never aborts the others.
func (r *Refresher) Refresh(ctx context.Context) (RefreshReport, error) {
	today := model.Day(r.now())
	report := RefreshReport{Date: today}

	symbols, err := r.table.ListHeldSymbols(ctx)
	if err != nil {
		return report, fmt.Errorf("list held symbols: %w", err)
	}

	var todo []string
	for _, sym := range symbols {
		if sym == model.CashSymbol {
			continue
		}
		ok, err := r.table.HasPrice(ctx, sym, today)
		if err != nil {
			return report, fmt.Errorf("check price %s: %w", sym, err)
		}
		if ok {
			report.Skipped++
			continue
		}
		todo = append(todo, sym)
	}

	var (
		mu     sync.Mutex
		prices []model.Price
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, sym := range todo {
		g.Go(func() error {
			price, err := r.quoter.Quote(gctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("quote fetch failed", "symbol", sym, "err", err)
				metrics.QuotesFetched.WithLabelValues("failed").Inc()
				report.Failed++
				report.FailedSymbols = append(report.FailedSymbols, sym)
				return nil
			}
			metrics.QuotesFetched.WithLabelValues("ok").Inc()
			prices = append(prices, model.Price{Symbol: sym, Date: today, Price: price.RoundBank(QuoteScale)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].Symbol < prices[j].Symbol })
	sort.Strings(report.FailedSymbols)

	if err := r.table.UpsertPrices(ctx, prices); err != nil {
		return report, fmt.Errorf("store prices: %w", err)
	}
	report.Fetched = len(prices)

	slog.Info("prices refreshed",
		"date", today.Format(time.DateOnly),
		"fetched", report.Fetched,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}
