package model

import (
	"errors"
	"fmt"
	"strings"
)

// Action is the transaction type as recorded by the importers.
type Action string

const (
	ActionBuy               Action = "buy"
	ActionSell              Action = "sell"
	ActionBuyToOpen         Action = "buy_to_open"
	ActionSellToOpen        Action = "sell_to_open"
	ActionBuyToClose        Action = "buy_to_close"
	ActionSellToClose       Action = "sell_to_close"
	ActionSellShort         Action = "short_sell"
	ActionDividend          Action = "dividend"
	ActionJournal           Action = "journal"
	ActionQualifiedDividend Action = "qualified_dividend"
	ActionCashDividend      Action = "cash_dividend"
	ActionCreditInterest    Action = "credit_interest"
	ActionMarginInterest    Action = "margin_interest"
	ActionBankInterest      Action = "bank_interest"
	ActionMoneyLink         Action = "moneylink_transfer"
	ActionJournaledShares   Action = "journaled_shares"
)

// ErrUnknownAction is returned when an action string is not a known transaction type.
var ErrUnknownAction = errors.New("model: unknown action")

var knownActions = map[Action]bool{
	ActionBuy:               true,
	ActionSell:              true,
	ActionBuyToOpen:         true,
	ActionSellToOpen:        true,
	ActionBuyToClose:        true,
	ActionSellToClose:       true,
	ActionSellShort:         true,
	ActionDividend:          true,
	ActionJournal:           true,
	ActionQualifiedDividend: true,
	ActionCashDividend:      true,
	ActionCreditInterest:    true,
	ActionMarginInterest:    true,
	ActionBankInterest:      true,
	ActionMoneyLink:         true,
	ActionJournaledShares:   true,
}

// ParseAction normalizes "SELL TO CLOSE", "sell_to_close" and "SELL_TO_CLOSE"
// to the same Action. "sell_short" is accepted for short_sell.
func ParseAction(s string) (Action, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, " ", "_")
	if norm == "sell_short" {
		norm = string(ActionSellShort)
	}
	a := Action(norm)
	if !knownActions[a] {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return knownActions[a] }

// IsTrade reports whether a moves a security position.
func (a Action) IsTrade() bool {
	switch a {
	case ActionBuy, ActionSell, ActionBuyToOpen, ActionSellToOpen,
		ActionBuyToClose, ActionSellToClose, ActionSellShort:
		return true
	}
	return false
}

// IsBuy reports whether a increases the position quantity.
func (a Action) IsBuy() bool {
	return a == ActionBuy || a == ActionBuyToOpen || a == ActionBuyToClose
}

// Closes reports whether a closes an existing position and realizes P&L.
// SELL and SELL_TO_CLOSE close longs; BUY_TO_CLOSE closes shorts.
func (a Action) Closes() bool {
	return a == ActionSell || a == ActionSellToClose || a == ActionBuyToClose
}

// CashDirection is the sign a cash-like action applies to the CASH balance:
// +1 for inflows, -1 for outflows.
func (a Action) CashDirection() int {
	switch a {
	case ActionSell, ActionMarginInterest:
		return -1
	}
	return 1
}
