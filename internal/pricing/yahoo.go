package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/symbol"
)

// Yahoo Finance v8 chart quoter.

// DefaultYahooBaseURL is the public chart API host.
const DefaultYahooBaseURL = "https://query2.finance.yahoo.com"

var (
	ErrYahooNoResult = errors.New("yahoo: no result")
	ErrNoQuote       = errors.New("pricing: no quote")
)

// YahooQuoter fetches the latest market price of a ledger symbol.
type YahooQuoter struct {
	cli     *http.Client
	baseURL string
}

// NewYahooQuoter creates a quoter against baseURL (DefaultYahooBaseURL when empty).
func NewYahooQuoter(baseURL string) *YahooQuoter {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	return &YahooQuoter{
		cli:     &http.Client{Timeout: 8 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Ticker maps a ledger symbol to its Yahoo ticker: options use their OCC
// code, share classes use a dash (BRK.B → BRK-B).
func Ticker(raw string) string {
	if opt, err := symbol.ParseOption(raw); err == nil {
		return opt.OCC()
	}
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(raw)), ".", "-")
}

// Quote returns the regular market price, falling back to the last
// non-null close of the day.
func (q *YahooQuoter) Quote(ctx context.Context, sym string) (decimal.Decimal, error) {
	ticker := Ticker(sym)
	if ticker == "" {
		return decimal.Zero, ErrNoQuote
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=5d", q.baseURL, url.PathEscape(ticker))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("User-Agent", "ledger-engine/1.0")

	resp, err := q.cli.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("yahoo http %d for %s", resp.StatusCode, ticker)
	}

	var raw struct {
		Chart struct {
			Result []struct {
				Meta struct {
					RegularMarketPrice decimal.NullDecimal `json:"regularMarketPrice"`
				} `json:"meta"`
				Indicators struct {
					Quote []struct {
						Close []decimal.NullDecimal `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error any `json:"error"`
		} `json:"chart"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("yahoo decode %s: %w", ticker, err)
	}
	if len(raw.Chart.Result) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrYahooNoResult, ticker)
	}

	r := raw.Chart.Result[0]
	if p := r.Meta.RegularMarketPrice; p.Valid && p.Decimal.IsPositive() {
		return p.Decimal, nil
	}
	if len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i].Valid && closes[i].Decimal.IsPositive() {
				return closes[i].Decimal, nil
			}
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrNoQuote, ticker)
}
