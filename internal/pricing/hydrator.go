// Package pricing backfills snapshot valuations from the price table and
// refreshes that table from a market-data quoter.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/metrics"
	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/store"
	"github.com/portana/ledger-engine/internal/symbol"
)

// Scale is the number of fractional digits persisted for price and total value.
const Scale = 5

// PriceProvider returns the most recent known price at or before date.
// A missing price is reported as store.ErrNotFound.
type PriceProvider interface {
	PriceAt(ctx context.Context, symbol string, date time.Time) (*model.Price, error)
}

// SnapshotValuer is the snapshot persistence the hydrator needs.
type SnapshotValuer interface {
	ListUnpricedSnapshots(ctx context.Context, accountID string) ([]model.PositionSnapshot, error)
	UpdateSnapshotValuation(ctx context.Context, id string, price, totalValue decimal.Decimal) error
}

// HydrationReport summarizes one hydration pass.
type HydrationReport struct {
	Priced         int      `json:"priced"`
	Missing        int      `json:"missing"`
	Failed         int      `json:"failed"`
	MissingSymbols []string `json:"missing_symbols,omitempty"`
}

// Complete reports whether every snapshot was priced.
func (r HydrationReport) Complete() bool {
	return r.Missing == 0 && r.Failed == 0
}

// Hydrator prices null snapshots of an account.
type Hydrator struct {
	snapshots SnapshotValuer
	prices    PriceProvider
}

// NewHydrator creates a hydrator.
func NewHydrator(snapshots SnapshotValuer, prices PriceProvider) *Hydrator {
	return &Hydrator{snapshots: snapshots, prices: prices}
}

type lookup struct {
	symbol string
	date   time.Time
}

type outcome struct {
	price decimal.Decimal
	err   error
}

// Hydrate prices every unpriced snapshot of accountID. Missing prices and
// provider failures leave the row null and are counted; only store write
// failures abort the pass.
func (h *Hydrator) Hydrate(ctx context.Context, accountID string) (HydrationReport, error) {
	var report HydrationReport

	snaps, err := h.snapshots.ListUnpricedSnapshots(ctx, accountID)
	if err != nil {
		return report, fmt.Errorf("list unpriced snapshots %s: %w", accountID, err)
	}

	seen := make(map[lookup]outcome)
	missing := make(map[string]bool)

	for _, sn := range snaps {
		class := symbol.Classify(sn.Symbol)

		var price decimal.Decimal
		if class.Kind == model.KindCash {
			price = decimal.NewFromInt(1)
		} else {
			key := lookup{symbol: sn.Symbol, date: model.Day(sn.Date)}
			out, ok := seen[key]
			if !ok {
				p, err := h.prices.PriceAt(ctx, sn.Symbol, key.date)
				if err == nil {
					out.price = p.Price
				}
				out.err = err
				seen[key] = out
			}
			if out.err != nil {
				if errors.Is(out.err, store.ErrNotFound) {
					report.Missing++
					missing[sn.Symbol] = true
					metrics.SnapshotsPriced.WithLabelValues("missing").Inc()
				} else {
					report.Failed++
					missing[sn.Symbol] = true
					metrics.SnapshotsPriced.WithLabelValues("failed").Inc()
					if !ok {
						slog.Warn("price lookup failed", "account", accountID, "symbol", sn.Symbol, "date", key.date.Format(time.DateOnly), "err", out.err)
					}
				}
				continue
			}
			price = out.price
		}

		price = price.RoundBank(Scale)
		total := sn.Quantity.Mul(price).Mul(class.Multiplier).RoundBank(Scale)
		if err := h.snapshots.UpdateSnapshotValuation(ctx, sn.ID, price, total); err != nil {
			return report, fmt.Errorf("update snapshot %s: %w", sn.ID, err)
		}
		report.Priced++
		metrics.SnapshotsPriced.WithLabelValues("priced").Inc()
	}

	for sym := range missing {
		report.MissingSymbols = append(report.MissingSymbols, sym)
	}
	sort.Strings(report.MissingSymbols)

	if !report.Complete() {
		slog.Info("hydration incomplete",
			"account", accountID,
			"priced", report.Priced,
			"missing", report.Missing,
			"failed", report.Failed,
		)
	}
	return report, nil
}
