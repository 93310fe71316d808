// Package pnl merges the realized P&L events of a replay day into one
// record per (account, contract, date).
package pnl

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/replay"
)

// Persisted precision.
const (
	PnLScale      = 2
	QuantityScale = 5
	AmountScale   = 5
)

// key identifies one merged record. option is empty for equities.
type key struct {
	base   string
	option string
}

// Merge drops events that closed nothing or realized nothing, groups the rest
// by contract and sums them. Output is sorted by base symbol then option
// symbol; the first event of a group supplies Action and Kind.
func Merge(accountID string, date time.Time, events []replay.Event) []model.RealizedPnLRecord {
	date = model.Day(date)
	groups := make(map[key]*model.RealizedPnLRecord)
	var order []key

	for _, ev := range events {
		if ev.QuantityClosed.IsZero() || ev.RealizedPnL.IsZero() {
			continue
		}
		k := key{base: ev.BaseSymbol}
		if ev.Kind == model.KindOption {
			k.option = ev.Symbol
		}
		rec, ok := groups[k]
		if !ok {
			rec = &model.RealizedPnLRecord{
				AccountID:    accountID,
				BaseSymbol:   k.base,
				OptionSymbol: k.option,
				Date:         date,
				Action:       ev.Action,
				Kind:         ev.Kind,
			}
			groups[k] = rec
			order = append(order, k)
		}
		rec.RealizedPnL = rec.RealizedPnL.Add(ev.RealizedPnL)
		rec.QuantityClosed = rec.QuantityClosed.Add(ev.QuantityClosed)
		rec.CostBasis = rec.CostBasis.Add(ev.CostBasis)
		rec.Proceeds = rec.Proceeds.Add(ev.Proceeds)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].base != order[j].base {
			return order[i].base < order[j].base
		}
		return order[i].option < order[j].option
	})

	records := make([]model.RealizedPnLRecord, 0, len(order))
	for _, k := range order {
		rec := groups[k]
		rec.RealizedPnL = rec.RealizedPnL.RoundBank(PnLScale)
		rec.QuantityClosed = rec.QuantityClosed.RoundBank(QuantityScale)
		rec.CostBasis = rec.CostBasis.RoundBank(AmountScale)
		rec.Proceeds = rec.Proceeds.RoundBank(AmountScale)
		records = append(records, *rec)
	}
	return records
}

// Total sums the realized P&L of records.
func Total(records []model.RealizedPnLRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.RealizedPnL)
	}
	return total
}
