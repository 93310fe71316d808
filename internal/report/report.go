// Package report formats run outcomes and metrics as markdown for the CLI.
package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	md "github.com/nao1215/markdown"
	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/loader"
	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/portfolio"
	"github.com/portana/ledger-engine/internal/pricing"
)

// Currency is the reporting currency of every value.
const Currency = money.USD

var hundred = decimal.NewFromInt(100)

// Money formats v in currency, rounded half-even to the currency's minor unit.
func Money(v decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return v.StringFixed(2) + " " + currency
	}
	minor := v.Shift(int32(cur.Fraction)).RoundBank(0).IntPart()
	return money.New(minor, currency).Display()
}

// Percent formats a ratio as a signed percentage with two decimals.
func Percent(v decimal.Decimal) string {
	p := v.Mul(hundred).StringFixedBank(2)
	if v.IsPositive() {
		p = "+" + p
	}
	return p + "%"
}

func nullPercent(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	return Percent(v.Decimal)
}

// right aligns every column but the first n to the right.
func right(cols, n int) []md.TableAlignment {
	a := make([]md.TableAlignment, cols)
	for i := range a {
		if i < n {
			a[i] = md.AlignLeft
		} else {
			a[i] = md.AlignRight
		}
	}
	return a
}

// RunSummary renders a batch result. latest optionally maps account IDs to
// their most recent metrics.
func RunSummary(s portfolio.RunSummary, latest map[string]model.Metrics) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1("Refresh summary")
	doc.PlainTextf("%d succeeded, %d failed", s.Succeeded, s.Failed)
	doc.LF()

	table := md.TableSet{
		Header:    []string{"Account", "Status", "Days", "Snapshots", "Priced", "Missing", "Value", "TWR"},
		Alignment: right(8, 2),
	}
	var failures []string
	for _, r := range s.Results {
		value, twr := "-", "-"
		if m, ok := latest[r.AccountID]; ok {
			value = Money(m.PortfolioValue.Add(m.CashBalance), Currency)
			twr = Percent(m.TWRToDate)
		}
		table.Rows = append(table.Rows, []string{
			r.AccountID,
			string(r.Status),
			fmt.Sprint(r.Replay.Days),
			fmt.Sprint(r.Replay.Snapshots),
			fmt.Sprint(r.Hydration.Priced),
			fmt.Sprint(r.Hydration.Missing),
			value,
			twr,
		})
		if r.Status != portfolio.StatusOK {
			failures = append(failures, md.Bold(r.AccountID)+": "+r.Error)
		}
	}
	doc.Table(table)

	if len(failures) > 0 {
		doc.H2("Failures")
		doc.BulletList(failures...)
	}

	var missing []string
	seen := make(map[string]bool)
	for _, r := range s.Results {
		for _, sym := range r.Hydration.MissingSymbols {
			if !seen[sym] {
				seen[sym] = true
				missing = append(missing, sym)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		doc.H2("Unpriced symbols")
		doc.PlainText(strings.Join(missing, ", "))
	}
	return doc.String()
}

// MetricsTable renders the last n rows of a metrics series, newest last.
func MetricsTable(title string, dates []time.Time, rows []model.Metrics, n int) string {
	if n > 0 && len(rows) > n {
		dates, rows = dates[len(dates)-n:], rows[len(rows)-n:]
	}

	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1(title)
	if len(rows) == 0 {
		doc.PlainText("No metrics.")
		return doc.String()
	}

	table := md.TableSet{
		Header:    []string{"Date", "Value", "Cash", "Daily", "TWR", "7d", "30d", "Sharpe", "Drawdown"},
		Alignment: right(9, 1),
	}
	for i, m := range rows {
		sharpe := "-"
		if m.SharpeToDate.Valid {
			sharpe = m.SharpeToDate.Decimal.StringFixedBank(2)
		}
		table.Rows = append(table.Rows, []string{
			dates[i].Format(time.DateOnly),
			Money(m.PortfolioValue, Currency),
			Money(m.CashBalance, Currency),
			nullPercent(m.DailyReturn),
			Percent(m.TWRToDate),
			nullPercent(m.RollingReturn7D),
			nullPercent(m.RollingReturn30D),
			sharpe,
			Percent(m.DrawdownToDate),
		})
	}
	doc.Table(table)
	return doc.String()
}

// UserRefresh renders a user refresh followed by the user's rollup series.
func UserRefresh(res portfolio.UserResult, title string, dates []time.Time, rows []model.Metrics, n int) string {
	out := RunSummary(res.Summary, nil)
	if res.RollupError != "" {
		var buf bytes.Buffer
		doc := md.NewMarkdown(&buf)
		doc.PlainTextf("%s: %s", md.Bold("Rollup failed"), res.RollupError)
		out += "\n" + doc.String()
	}
	return out + "\n" + MetricsTable(title, dates, rows, n)
}

// Replay renders the outcome of one account replay.
func Replay(accountID string, r portfolio.ReplayResult) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1f("Replay %s", accountID)
	doc.BulletList(
		fmt.Sprintf("range: %s to %s", r.From.Format(time.DateOnly), r.To.Format(time.DateOnly)),
		fmt.Sprintf("days: %d", r.Days),
		fmt.Sprintf("transactions: %d", r.Transactions),
		fmt.Sprintf("snapshots: %d", r.Snapshots),
		fmt.Sprintf("realized P&L rows: %d", r.PnLRows),
	)
	return doc.String()
}

// Hydration renders the outcome of valuing one account's snapshots.
func Hydration(accountID string, r pricing.HydrationReport) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1f("Hydrate %s", accountID)
	doc.BulletList(
		fmt.Sprintf("priced: %d", r.Priced),
		fmt.Sprintf("missing: %d", r.Missing),
		fmt.Sprintf("failed: %d", r.Failed),
	)
	if len(r.MissingSymbols) > 0 {
		doc.LF()
		doc.PlainTextf("No price for: %s", strings.Join(r.MissingSymbols, ", "))
	}
	return doc.String()
}

// Load renders the counts of an import.
func Load(s loader.Stats) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1("Load")
	doc.BulletList(
		fmt.Sprintf("files: %d", s.Files),
		fmt.Sprintf("accounts: %d (%d already present)", s.Accounts, s.AccountsSkipped),
		fmt.Sprintf("transactions: %d", s.Transactions),
		fmt.Sprintf("prices: %d", s.Prices),
	)
	return doc.String()
}

// PriceRefresh renders a quote refresh outcome.
func PriceRefresh(r pricing.RefreshReport) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1f("Price refresh %s", r.Date.Format(time.DateOnly))
	doc.BulletList(
		fmt.Sprintf("fetched: %d", r.Fetched),
		fmt.Sprintf("already priced: %d", r.Skipped),
		fmt.Sprintf("failed: %d", r.Failed),
	)
	if len(r.FailedSymbols) > 0 {
		doc.LF()
		doc.PlainTextf("Failed: %s", strings.Join(r.FailedSymbols, ", "))
	}
	return doc.String()
}

// Render renders markdown for a terminal. style is a glamour standard style
// name; empty selects one from the terminal background.
func Render(markdown, style string) (string, error) {
	opt := glamour.WithAutoStyle()
	if style != "" {
		opt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(100))
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}
