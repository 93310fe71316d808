package symbol

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

func TestClassify(t *testing.T) {
	tests := []struct {
		raw        string
		base       string
		kind       model.Kind
		multiplier decimal.Decimal
	}{
		{"CASH", "CASH", model.KindCash, d(1)},
		{"AAPL", "AAPL", model.KindStock, d(1)},
		{"BRK.B", "BRK.B", model.KindStock, d(1)},
		{"AAPL_2025-09-20_150.0_CALL", "AAPL", model.KindOption, d(100)},
		{"SPY_2024-12-20_450_put", "SPY", model.KindOption, d(100)},
		{"AAPL_2025-09-20_150.0", "AAPL_2025-09-20_150.0", model.KindStock, d(1)},
		{"cash", "cash", model.KindStock, d(1)},
		{"", "", model.KindStock, d(1)},
	}
	for _, tt := range tests {
		c := Classify(tt.raw)
		if c.BaseSymbol != tt.base {
			t.Errorf("%q: expected base %q, got %q", tt.raw, tt.base, c.BaseSymbol)
		}
		if c.Kind != tt.kind {
			t.Errorf("%q: expected kind %s, got %s", tt.raw, tt.kind, c.Kind)
		}
		if !c.Multiplier.Equal(tt.multiplier) {
			t.Errorf("%q: expected multiplier %s, got %s", tt.raw, tt.multiplier, c.Multiplier)
		}
	}
}

func TestParseOption_Valid(t *testing.T) {
	o, err := ParseOption("AAPL_2025-09-20_150.0_CALL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.BaseSymbol != "AAPL" {
		t.Errorf("expected base AAPL, got %s", o.BaseSymbol)
	}
	if !o.Expiry.Equal(time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected expiry %v", o.Expiry)
	}
	if !o.Strike.Equal(d(150)) {
		t.Errorf("expected strike 150, got %s", o.Strike)
	}
	if o.Type != TypeCall {
		t.Errorf("expected CALL, got %s", o.Type)
	}
}

func TestParseOption_Invalid(t *testing.T) {
	tests := []string{
		"",
		"AAPL",
		"AAPL_2025-09-20_150.0",
		"AAPL_2025-13-40_150.0_CALL",
		"AAPL_2025-09-20_abc_CALL",
		"AAPL_2025-09-20_0_CALL",
		"AAPL_2025-09-20_150.0_STRADDLE",
	}
	for _, raw := range tests {
		if _, err := ParseOption(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestOption_OCC(t *testing.T) {
	tests := []struct {
		raw, occ string
	}{
		{"AAPL_2025-09-20_150.0_CALL", "AAPL250920C00150000"},
		{"SPY_2024-12-20_452.5_PUT", "SPY241220P00452500"},
	}
	for _, tt := range tests {
		o, err := ParseOption(tt.raw)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tt.raw, err)
		}
		if got := o.OCC(); got != tt.occ {
			t.Errorf("%s: expected %s, got %s", tt.raw, tt.occ, got)
		}
	}
}

func TestCheck(t *testing.T) {
	if _, err := Check("AAPL", ""); err != nil {
		t.Errorf("empty declared kind should agree, got %v", err)
	}
	if _, err := Check("AAPL_2025-09-20_150.0_CALL", model.KindOption); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	_, err := Check("AAPL", model.KindOption)
	if !errors.Is(err, ErrKindMismatch) {
		t.Errorf("expected ErrKindMismatch, got %v", err)
	}
}
