// Package replay folds an ordered ledger of transactions into per-symbol
// position state, one trading day at a time.
//
// The engine uses a single running average cost per symbol: every open unit
// of a symbol shares one blended cost regardless of acquisition order.
// Closing trades realize P&L against that average and leave it unchanged for
// the remaining quantity.
//
// State is passed in and returned explicitly; the input map is never
// mutated, so replaying the same transactions from the same state always
// yields the same result. All arithmetic uses shopspring/decimal.
package replay

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/symbol"
)

var (
	// ErrMissingPrice is returned for a security trade without a price.
	ErrMissingPrice = errors.New("replay: trade has no price")

	// ErrInvalidCashAction is returned for an opening/closing action on CASH.
	ErrInvalidCashAction = errors.New("replay: action not valid on CASH")

	// ErrDateMismatch is returned when a transaction is replayed on a day
	// other than its trade date.
	ErrDateMismatch = errors.New("replay: transaction dated outside replay day")
)

// DivisionScale is the number of fractional digits kept when dividing cost
// accumulators. Higher than any persisted rounding so it never shows.
var DivisionScale int32 = 20

// PositionState is the running state of one symbol in one account.
// Cost carries the same sign as Quantity for a normal position.
type PositionState struct {
	Symbol      string          `json:"symbol"`
	BaseSymbol  string          `json:"base_symbol"`
	Kind        model.Kind      `json:"kind"`
	Multiplier  decimal.Decimal `json:"multiplier"`
	Quantity    decimal.Decimal `json:"quantity"`
	Cost        decimal.Decimal `json:"cost"`
	FirstAction model.Action    `json:"first_action"`
}

// AvgCost returns Cost/Quantity, exactly 1 for CASH and zero for a flat position.
func (p PositionState) AvgCost() decimal.Decimal {
	if p.Symbol == model.CashSymbol {
		return decimal.NewFromInt(1)
	}
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return p.Cost.DivRound(p.Quantity, DivisionScale)
}

// State maps symbol → position state for one account.
type State map[string]PositionState

// Clone returns an independent copy of s.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Symbols returns the symbols of s in lexical order.
func (s State) Symbols() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Event is a realized P&L produced by one closing transaction.
type Event struct {
	TransactionID  string          `json:"transaction_id"`
	Symbol         string          `json:"symbol"`
	BaseSymbol     string          `json:"base_symbol"`
	Kind           model.Kind      `json:"kind"`
	Action         model.Action    `json:"action"`
	Date           time.Time       `json:"date"`
	QuantityClosed decimal.Decimal `json:"quantity_closed"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	Proceeds       decimal.Decimal `json:"proceeds"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
}

// Day is the set of transactions traded on one calendar date, in ledger order.
type Day struct {
	Date         time.Time
	Transactions []model.Transaction
}

// GroupByDay buckets transactions by trade date, ascending. Ledger order is
// preserved within a day.
func GroupByDay(txns []model.Transaction) []Day {
	sorted := make([]model.Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return model.Day(sorted[i].Date).Before(model.Day(sorted[j].Date))
	})

	var days []Day
	for _, txn := range sorted {
		date := model.Day(txn.Date)
		if n := len(days); n > 0 && days[n-1].Date.Equal(date) {
			days[n-1].Transactions = append(days[n-1].Transactions, txn)
			continue
		}
		days = append(days, Day{Date: date, Transactions: []model.Transaction{txn}})
	}
	return days
}

// ApplyDay applies the transactions of one day to prev and returns the next
// state together with the realized P&L events of that day.
func ApplyDay(prev State, date time.Time, txns []model.Transaction) (State, []Event, error) {
	date = model.Day(date)
	next := prev.Clone()
	var events []Event

	for _, txn := range txns {
		if !model.Day(txn.Date).Equal(date) {
			return nil, nil, fmt.Errorf("%w: %s on %s", ErrDateMismatch, txn.ID, date.Format(time.DateOnly))
		}
		ev, err := apply(next, txn)
		if err != nil {
			return nil, nil, fmt.Errorf("transaction %s (%s %s): %w", txn.ID, txn.Action, txn.Symbol, err)
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return next, events, nil
}

// Fold replays a full history from an empty state.
func Fold(txns []model.Transaction) (State, []Event, error) {
	state := State{}
	var events []Event
	for _, day := range GroupByDay(txns) {
		next, evs, err := ApplyDay(state, day.Date, day.Transactions)
		if err != nil {
			return nil, nil, err
		}
		state = next
		events = append(events, evs...)
	}
	return state, events, nil
}

// apply mutates s with one transaction. Only ever called on a clone.
func apply(s State, txn model.Transaction) (*Event, error) {
	if !txn.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownAction, txn.Action)
	}
	class, err := symbol.Check(txn.Symbol, txn.Kind)
	if err != nil {
		return nil, err
	}

	if class.Kind == model.KindCash {
		return nil, applyCash(s, txn)
	}

	if !txn.Action.IsTrade() && txn.Action != model.ActionJournaledShares {
		// Dividends, interest and journals against a security do not move
		// the position; their cash side arrives as a CASH transaction.
		return nil, nil
	}

	pos, ok := s[class.Symbol]
	if !ok {
		pos = PositionState{
			Symbol:     class.Symbol,
			BaseSymbol: class.BaseSymbol,
			Kind:       class.Kind,
			Multiplier: class.Multiplier,
		}
	}
	if pos.FirstAction == "" {
		pos.FirstAction = firstAction(class.Kind, txn.Action)
	}

	qty := txn.Quantity.Abs()

	if txn.Action == model.ActionJournaledShares {
		journalShares(&pos, txn.Quantity)
		s[class.Symbol] = pos
		return nil, nil
	}

	if qty.IsZero() {
		s[class.Symbol] = pos
		return nil, nil
	}
	if !txn.Price.Valid {
		return nil, ErrMissingPrice
	}
	price := txn.Price.Decimal

	sign := decimal.NewFromInt(-1)
	if txn.Action.IsBuy() {
		sign = decimal.NewFromInt(1)
	}

	var ev *Event
	if txn.Action.Closes() && closesSide(txn.Action, pos.Quantity) {
		ev, qty = closePosition(&pos, txn, qty, price)
	}

	if qty.IsPositive() {
		// Opening trade, or the part of a close that flips the position.
		signed := qty.Mul(sign)
		pos.Quantity = pos.Quantity.Add(signed)
		pos.Cost = pos.Cost.Add(signed.Mul(price).Mul(pos.Multiplier))
	}

	s[class.Symbol] = pos
	return ev, nil
}

// closePosition matches a closing trade against the average cost of pos and
// returns the event and the quantity left over after the open side is flat.
func closePosition(pos *PositionState, txn model.Transaction, qty, price decimal.Decimal) (*Event, decimal.Decimal) {
	open := pos.Quantity.Abs()
	closed := decimal.Min(qty, open)

	// Signed share of the cost accumulator released by this close.
	released := pos.Cost.Mul(closed).DivRound(open, DivisionScale)
	costBasis := released.Abs()
	proceeds := price.Mul(closed).Mul(pos.Multiplier)

	var pnl decimal.Decimal
	if pos.Quantity.IsPositive() {
		pnl = proceeds.Sub(costBasis)
		pos.Quantity = pos.Quantity.Sub(closed)
	} else {
		pnl = costBasis.Sub(proceeds)
		pos.Quantity = pos.Quantity.Add(closed)
	}

	if pos.Quantity.IsZero() {
		pos.Cost = decimal.Zero
	} else {
		pos.Cost = pos.Cost.Sub(released)
	}

	ev := &Event{
		TransactionID:  txn.ID,
		Symbol:         pos.Symbol,
		BaseSymbol:     pos.BaseSymbol,
		Kind:           pos.Kind,
		Action:         txn.Action,
		Date:           model.Day(txn.Date),
		QuantityClosed: closed,
		CostBasis:      costBasis,
		Proceeds:       proceeds,
		RealizedPnL:    pnl,
	}
	return ev, qty.Sub(closed)
}

// journalShares moves shares in or out at zero cost; the signed quantity
// carries the direction. Shares leaving a long position release cost at the
// running average so the average is unchanged.
func journalShares(pos *PositionState, q decimal.Decimal) {
	if q.IsNegative() && pos.Quantity.IsPositive() {
		out := decimal.Min(q.Abs(), pos.Quantity)
		released := pos.Cost.Mul(out).DivRound(pos.Quantity, DivisionScale)
		pos.Quantity = pos.Quantity.Sub(out)
		if pos.Quantity.IsZero() {
			pos.Cost = decimal.Zero
		} else {
			pos.Cost = pos.Cost.Sub(released)
		}
		q = q.Add(out)
	}
	pos.Quantity = pos.Quantity.Add(q)
}

// closesSide reports whether action closes the side currently held.
// SELL/SELL_TO_CLOSE close longs, BUY_TO_CLOSE closes shorts. A flat
// position has nothing to match.
func closesSide(action model.Action, quantity decimal.Decimal) bool {
	if action == model.ActionBuyToClose {
		return quantity.IsNegative()
	}
	return quantity.IsPositive()
}

func applyCash(s State, txn model.Transaction) error {
	var delta decimal.Decimal
	switch txn.Action {
	case model.ActionBuy, model.ActionSell, model.ActionDividend, model.ActionQualifiedDividend,
		model.ActionCashDividend, model.ActionCreditInterest, model.ActionBankInterest,
		model.ActionMarginInterest:
		delta = txn.Quantity.Abs().Mul(decimal.NewFromInt(int64(txn.Action.CashDirection())))
	case model.ActionJournal, model.ActionMoneyLink:
		// Direction of transfers is carried by the supplied quantity.
		delta = txn.Quantity
	default:
		return fmt.Errorf("%w: %s", ErrInvalidCashAction, txn.Action)
	}

	pos, ok := s[model.CashSymbol]
	if !ok {
		pos = PositionState{
			Symbol:      model.CashSymbol,
			BaseSymbol:  model.CashSymbol,
			Kind:        model.KindCash,
			Multiplier:  decimal.NewFromInt(1),
			FirstAction: model.ActionBuy,
		}
	}
	pos.Quantity = pos.Quantity.Add(delta)
	s[model.CashSymbol] = pos
	return nil
}

// firstAction is the informational tag recorded on a symbol's first
// transaction: options keep their literal opening action, everything else
// is tagged buy.
func firstAction(kind model.Kind, action model.Action) model.Action {
	if kind == model.KindOption {
		switch action {
		case model.ActionBuy, model.ActionBuyToOpen, model.ActionSellToOpen:
			return action
		}
	}
	return model.ActionBuy
}
