// Package symbol classifies raw ledger symbols into cash, equity and option
// instruments and parses the option signature produced by the importers.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
)

// Supported option types.
const (
	TypeCall = "CALL"
	TypePut  = "PUT"
)

// OptionMultiplier is the number of underlying shares per option contract.
var OptionMultiplier = decimal.NewFromInt(100)

// optionRegex matches: {base}_{YYYY-MM-DD}_{strike}_{CALL|PUT}
// Example: AAPL_2025-09-20_150.0_CALL
var optionRegex = regexp.MustCompile(
	`^([A-Za-z0-9./-]+)_(\d{4}-\d{2}-\d{2})_(\d+(?:\.\d+)?)_([A-Za-z]+)$`,
)

var (
	ErrNotOption     = errors.New("symbol: not an option signature")
	ErrInvalidOption = errors.New("symbol: invalid option signature")
	ErrKindMismatch  = errors.New("symbol: declared instrument kind does not match symbol")
)

// Classification is the result of classifying a raw symbol.
type Classification struct {
	Symbol     string          `json:"symbol"`
	BaseSymbol string          `json:"base_symbol"`
	Kind       model.Kind      `json:"kind"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// Option is a parsed option signature.
type Option struct {
	Symbol     string          `json:"symbol"`
	BaseSymbol string          `json:"base_symbol"`
	Expiry     time.Time       `json:"expiry"`
	Strike     decimal.Decimal `json:"strike"`
	Type       string          `json:"type"`
}

// Classify derives the base symbol, instrument kind and notional multiplier.
// Unrecognized forms are equities with multiplier 1.
func Classify(raw string) Classification {
	s := strings.TrimSpace(raw)
	if s == model.CashSymbol {
		return Classification{Symbol: s, BaseSymbol: s, Kind: model.KindCash, Multiplier: decimal.NewFromInt(1)}
	}
	if opt, err := ParseOption(s); err == nil {
		return Classification{Symbol: s, BaseSymbol: opt.BaseSymbol, Kind: model.KindOption, Multiplier: OptionMultiplier}
	}
	return Classification{Symbol: s, BaseSymbol: s, Kind: model.KindStock, Multiplier: decimal.NewFromInt(1)}
}

// ParseOption parses and validates an option signature.
// Format: {base}_{YYYY-MM-DD}_{strike}_{CALL|PUT}
func ParseOption(raw string) (*Option, error) {
	matches := optionRegex.FindStringSubmatch(raw)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotOption, raw)
	}

	optType := strings.ToUpper(matches[4])
	if optType != TypeCall && optType != TypePut {
		return nil, fmt.Errorf("%w: option type %s", ErrInvalidOption, matches[4])
	}

	expiry, err := time.Parse("2006-01-02", matches[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid expiry %s", ErrInvalidOption, matches[2])
	}

	strike, err := decimal.NewFromString(matches[3])
	if err != nil || !strike.IsPositive() {
		return nil, fmt.Errorf("%w: invalid strike %s", ErrInvalidOption, matches[3])
	}

	return &Option{
		Symbol:     raw,
		BaseSymbol: matches[1],
		Expiry:     expiry,
		Strike:     strike,
		Type:       optType,
	}, nil
}

// OCC returns the OCC contract code, e.g. AAPL250920C00150000.
func (o *Option) OCC() string {
	side := "C"
	if o.Type == TypePut {
		side = "P"
	}
	strike := o.Strike.Mul(decimal.NewFromInt(1000)).Truncate(0).IntPart()
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(o.BaseSymbol), o.Expiry.Format("060102"), side, strike)
}

// Check verifies that a declared instrument kind agrees with the symbol's
// classification. An empty declared kind always agrees.
func Check(raw string, declared model.Kind) (Classification, error) {
	c := Classify(raw)
	if declared == "" || declared == c.Kind {
		return c, nil
	}
	return c, fmt.Errorf("%w: %s declared %s, classified %s", ErrKindMismatch, raw, declared, c.Kind)
}
