// Package loader imports normalized JSONL exports (accounts, transactions,
// prices) into a store. It backs the dev-mode server and ledgerctl.
//
// One JSON object per line; blank lines are skipped. Dates are YYYY-MM-DD.
package loader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/store"
	"github.com/portana/ledger-engine/internal/symbol"
)

// ErrInvalidRecord is returned for a line that cannot be imported.
var ErrInvalidRecord = errors.New("loader: invalid record")

// Target is the persistence the loader writes to.
type Target interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	InsertTransactions(ctx context.Context, txns []model.Transaction) error
	UpsertPrices(ctx context.Context, prices []model.Price) error
}

// Patterns lists doublestar globs per input kind.
type Patterns struct {
	Accounts     []string
	Transactions []string
	Prices       []string
}

// Stats counts imported rows.
type Stats struct {
	Files           int `json:"files"`
	Accounts        int `json:"accounts"`
	AccountsSkipped int `json:"accounts_skipped"`
	Transactions    int `json:"transactions"`
	Prices          int `json:"prices"`
}

type accountRecord struct {
	ID            string `json:"account_id"`
	UserID        string `json:"user_id"`
	Brokerage     string `json:"brokerage"`
	AccountNumber string `json:"account_number"`
	Nickname      string `json:"nickname"`
}

type transactionRecord struct {
	ID        string               `json:"transaction_id"`
	AccountID string               `json:"account_id"`
	Symbol    string               `json:"symbol"`
	Action    string               `json:"action"`
	Kind      model.Kind           `json:"instrument_type"`
	Quantity  decimal.Decimal      `json:"quantity"`
	Price     decimal.NullDecimal  `json:"price"`
	Date      string               `json:"date"`
	Option    *model.OptionDetails `json:"option_details"`
}

type priceRecord struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"price_date"`
	Price  decimal.Decimal `json:"price"`
}

// Load imports every file matched by p. Accounts load first so that
// transactions can reference them; an account that already exists is kept.
// Transactions already stored under the same ID are skipped by the store.
func Load(ctx context.Context, st Target, p Patterns) (Stats, error) {
	var stats Stats

	accounts, err := expand(p.Accounts)
	if err != nil {
		return stats, err
	}
	for _, f := range accounts {
		stats.Files++
		err := eachLine(f, func(line int, raw []byte) error {
			var rec accountRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			if rec.ID == "" || rec.UserID == "" {
				return errors.New("account_id and user_id are required")
			}
			a := &model.Account{
				ID:            rec.ID,
				UserID:        rec.UserID,
				Brokerage:     rec.Brokerage,
				AccountNumber: rec.AccountNumber,
				Nickname:      rec.Nickname,
				CreatedAt:     time.Now().UTC(),
			}
			switch err := st.CreateAccount(ctx, a); {
			case errors.Is(err, store.ErrExists):
				stats.AccountsSkipped++
			case err != nil:
				return err
			default:
				stats.Accounts++
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
	}

	txnFiles, err := expand(p.Transactions)
	if err != nil {
		return stats, err
	}
	for _, f := range txnFiles {
		stats.Files++
		var batch []model.Transaction
		err := eachLine(f, func(line int, raw []byte) error {
			var rec transactionRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			txn, err := rec.transaction(fmt.Sprintf("%s:%d:%s", filepath.Base(f), line, raw))
			if err != nil {
				return err
			}
			batch = append(batch, txn)
			return nil
		})
		if err != nil {
			return stats, err
		}
		if err := st.InsertTransactions(ctx, batch); err != nil {
			return stats, fmt.Errorf("insert transactions from %s: %w", f, err)
		}
		stats.Transactions += len(batch)
	}

	priceFiles, err := expand(p.Prices)
	if err != nil {
		return stats, err
	}
	for _, f := range priceFiles {
		stats.Files++
		var batch []model.Price
		err := eachLine(f, func(line int, raw []byte) error {
			var rec priceRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			date, err := time.Parse(time.DateOnly, rec.Date)
			if err != nil {
				return fmt.Errorf("price_date: %w", err)
			}
			if rec.Symbol == "" || !rec.Price.IsPositive() {
				return errors.New("symbol and a positive price are required")
			}
			batch = append(batch, model.Price{Symbol: rec.Symbol, Date: date, Price: rec.Price})
			return nil
		})
		if err != nil {
			return stats, err
		}
		if err := st.UpsertPrices(ctx, batch); err != nil {
			return stats, fmt.Errorf("upsert prices from %s: %w", f, err)
		}
		stats.Prices += len(batch)
	}

	slog.Info("inputs loaded",
		"files", stats.Files,
		"accounts", stats.Accounts,
		"transactions", stats.Transactions,
		"prices", stats.Prices,
	)
	return stats, nil
}

// transaction validates rec. A record without an ID gets one derived from
// origin, so importing the same file twice yields the same IDs.
func (rec transactionRecord) transaction(origin string) (model.Transaction, error) {
	if rec.AccountID == "" || rec.Symbol == "" {
		return model.Transaction{}, errors.New("account_id and symbol are required")
	}
	action, err := model.ParseAction(rec.Action)
	if err != nil {
		return model.Transaction{}, err
	}
	class, err := symbol.Check(rec.Symbol, rec.Kind)
	if err != nil {
		return model.Transaction{}, err
	}
	date, err := time.Parse(time.DateOnly, rec.Date)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("date: %w", err)
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ledger-engine:"+origin)).String()
	}
	return model.Transaction{
		ID:        id,
		AccountID: rec.AccountID,
		Symbol:    class.Symbol,
		Action:    action,
		Kind:      class.Kind,
		Quantity:  rec.Quantity,
		Price:     rec.Price,
		Date:      date,
		Option:    rec.Option,
	}, nil
}

// expand resolves patterns to a sorted, duplicate-free file list.
func expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func eachLine(path string, fn func(line int, raw []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		if err := fn(line, raw); err != nil {
			return fmt.Errorf("%w: %s:%d: %v", ErrInvalidRecord, path, line, err)
		}
	}
	return sc.Err()
}
