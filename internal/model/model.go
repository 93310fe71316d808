// Package model defines the core domain types shared across the ledger engine.
// All quantities and monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashSymbol is the synthetic symbol carrying an account's cash balance.
const CashSymbol = "CASH"

// Kind is the instrument kind of a transaction or position.
type Kind string

const (
	KindCash   Kind = "cash"
	KindStock  Kind = "stock"
	KindOption Kind = "option"
)

// Account is a brokerage account owned by a user.
type Account struct {
	ID            string    `json:"account_id" db:"account_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Brokerage     string    `json:"brokerage" db:"brokerage"`
	AccountNumber string    `json:"account_number,omitempty" db:"account_number"`
	Nickname      string    `json:"nickname,omitempty" db:"nickname"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// OptionDetails is the option metadata attached by the importers.
type OptionDetails struct {
	BaseSymbol string          `json:"base_symbol"`
	Expiry     string          `json:"expiry"` // YYYY-MM-DD
	Strike     decimal.Decimal `json:"strike"`
	Type       string          `json:"type"` // "call" or "put"
}

// Transaction is an immutable ledger record produced by the importers.
// Quantity is an unsigned magnitude; the direction comes from Action.
type Transaction struct {
	ID        string              `json:"transaction_id" db:"transaction_id"`
	AccountID string              `json:"account_id" db:"account_id"`
	Symbol    string              `json:"symbol" db:"symbol"`
	Action    Action              `json:"action" db:"action"`
	Kind      Kind                `json:"instrument_type" db:"instrument_type"`
	Quantity  decimal.Decimal     `json:"quantity" db:"quantity"`
	Price     decimal.NullDecimal `json:"price" db:"price"` // absent for pure cash moves
	Date      time.Time           `json:"date" db:"date"`
	Option    *OptionDetails      `json:"option_details,omitempty" db:"option_details"`
}

// Position is the current holding of one symbol in one account.
// Rows are fully replaced on every recompute.
type Position struct {
	ID        string          `json:"position_id" db:"position_id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	AvgCost   decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	AsOf      time.Time       `json:"last_updated" db:"last_updated"`
	Action    Action          `json:"action" db:"action"`
}

// PositionSnapshot is the end-of-day holding of one symbol in one account.
// Price and TotalValue stay null until the hydrator prices the row.
type PositionSnapshot struct {
	ID         string              `json:"snapshot_id" db:"snapshot_id"`
	AccountID  string              `json:"account_id" db:"account_id"`
	Symbol     string              `json:"symbol" db:"symbol"`
	Date       time.Time           `json:"as_of_date" db:"as_of_date"`
	Quantity   decimal.Decimal     `json:"quantity" db:"quantity"`
	AvgCost    decimal.Decimal     `json:"avg_cost" db:"avg_cost"`
	Price      decimal.NullDecimal `json:"price" db:"price"`
	TotalValue decimal.NullDecimal `json:"total_value" db:"total_value"`
	Action     Action              `json:"action" db:"action"`
}

// RealizedPnLRecord is the merged realized P&L of one contract on one day.
// OptionSymbol is empty for equities.
type RealizedPnLRecord struct {
	ID             string          `json:"id" db:"id"`
	AccountID      string          `json:"account_id" db:"account_id"`
	BaseSymbol     string          `json:"base_symbol" db:"base_symbol"`
	OptionSymbol   string          `json:"option_symbol,omitempty" db:"option_symbol"`
	Date           time.Time       `json:"date" db:"date"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	QuantityClosed decimal.Decimal `json:"quantity_closed" db:"quantity_closed"`
	CostBasis      decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	Proceeds       decimal.Decimal `json:"proceeds" db:"proceeds"`
	Action         Action          `json:"action" db:"action"`
	Kind           Kind            `json:"instrument_type" db:"instrument_type"`
}

// Metrics holds the per-date performance figures shared by the account and
// user metrics snapshots. Nullable fields are undefined for that date.
type Metrics struct {
	PortfolioValue   decimal.Decimal     `json:"portfolio_value" db:"portfolio_value"`
	CashBalance      decimal.Decimal     `json:"cash_balance" db:"cash_balance"`
	DailyReturn      decimal.NullDecimal `json:"portfolio_daily_return" db:"portfolio_daily_return"`
	TWRToDate        decimal.Decimal     `json:"twr_to_date" db:"twr_to_date"`
	RollingReturn7D  decimal.NullDecimal `json:"rolling_return_7d" db:"rolling_return_7d"`
	RollingReturn30D decimal.NullDecimal `json:"rolling_return_30d" db:"rolling_return_30d"`
	SharpeToDate     decimal.NullDecimal `json:"sharpe_to_date" db:"sharpe_to_date"`
	DrawdownToDate   decimal.Decimal     `json:"drawdown_to_date" db:"drawdown_to_date"`
}

// PortfolioMetricsSnapshot is one account's performance on one date.
type PortfolioMetricsSnapshot struct {
	AccountID string    `json:"account_id" db:"account_id"`
	Date      time.Time `json:"snapshot_date" db:"snapshot_date"`
	Metrics
}

// UserMetricsSnapshot is the performance of all of a user's accounts combined.
type UserMetricsSnapshot struct {
	UserID string    `json:"user_id" db:"user_id"`
	Date   time.Time `json:"snapshot_date" db:"snapshot_date"`
	Metrics
}

// Price is a known market price of a symbol on a date.
type Price struct {
	Symbol string          `json:"symbol" db:"symbol"`
	Date   time.Time       `json:"price_date" db:"price_date"`
	Price  decimal.Decimal `json:"price" db:"price"`
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
