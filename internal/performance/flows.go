package performance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/symbol"
)

// FlowBasis selects how external flows are derived from the ledger.
type FlowBasis string

const (
	// BasisSecurities treats money moved into or out of non-cash holdings
	// as the flow of V, which excludes cash. A BUY contributes +q×p×m,
	// the reverse of BasisCashLedger, and CASH rows contribute nothing.
	BasisSecurities FlowBasis = "securities"

	// BasisCashLedger counts CASH BUY/SELL as direct flows and non-cash
	// trades as −signed notional.
	BasisCashLedger FlowBasis = "cash-ledger"
)

// ErrUnknownBasis is returned for an unrecognized flow basis.
var ErrUnknownBasis = errors.New("performance: unknown flow basis")

// ParseFlowBasis parses a configured basis name. Empty selects BasisSecurities.
func ParseFlowBasis(s string) (FlowBasis, error) {
	switch b := FlowBasis(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BasisSecurities, nil
	case BasisSecurities, BasisCashLedger:
		return b, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBasis, s)
}

// Flows sums the external flow of every date with date > after.
func Flows(txns []model.Transaction, basis FlowBasis, after time.Time) map[time.Time]decimal.Decimal {
	flows := make(map[time.Time]decimal.Decimal)
	for _, t := range txns {
		date := model.Day(t.Date)
		if !date.After(after) {
			continue
		}
		class := symbol.Classify(t.Symbol)

		if class.Kind == model.KindCash {
			if basis != BasisCashLedger {
				continue
			}
			switch t.Action {
			case model.ActionBuy:
				flows[date] = flows[date].Add(t.Quantity.Abs())
			case model.ActionSell:
				flows[date] = flows[date].Sub(t.Quantity.Abs())
			}
			continue
		}

		if !t.Action.IsTrade() || !t.Price.Valid {
			continue
		}
		notional := t.Quantity.Abs().Mul(t.Price.Decimal).Mul(class.Multiplier)
		if !t.Action.IsBuy() {
			notional = notional.Neg()
		}
		if basis == BasisCashLedger {
			notional = notional.Neg()
		}
		flows[date] = flows[date].Add(notional)
	}
	return flows
}

// Sum adds flow maps together.
func Sum(maps ...map[time.Time]decimal.Decimal) map[time.Time]decimal.Decimal {
	out := make(map[time.Time]decimal.Decimal)
	for _, m := range maps {
		for date, v := range m {
			out[date] = out[date].Add(v)
		}
	}
	return out
}
