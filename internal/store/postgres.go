package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded schema. Safe to run on every start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (account_id, user_id, brokerage, account_number, nickname, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (account_id) DO NOTHING`,
		a.ID, a.UserID, a.Brokerage, a.AccountNumber, a.Nickname, a.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", ErrExists, a.ID)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, user_id, brokerage, account_number, nickname, created_at
		 FROM accounts WHERE account_id = $1`, id).
		Scan(&a.ID, &a.UserID, &a.Brokerage, &a.AccountNumber, &a.Nickname, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return &a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, user_id, brokerage, account_number, nickname, created_at
		 FROM accounts ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func (s *PostgresStore) ListAccountsByUser(ctx context.Context, userID string) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, user_id, brokerage, account_number, nickname, created_at
		 FROM accounts WHERE user_id = $1 ORDER BY account_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// --- Ledger ---

func (s *PostgresStore) InsertTransactions(ctx context.Context, txns []model.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range txns {
			var opt *string
			if t.Option != nil {
				data, err := json.Marshal(t.Option)
				if err != nil {
					return fmt.Errorf("transaction %s option details: %w", t.ID, err)
				}
				raw := string(data)
				opt = &raw
			}
			batch.Queue(
				`INSERT INTO transactions (transaction_id, account_id, symbol, action, instrument_type,
				                           quantity, price, date, option_details)
				 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9::JSONB)
				 ON CONFLICT (transaction_id) DO NOTHING`,
				t.ID, t.AccountID, t.Symbol, string(t.Action), string(t.Kind),
				t.Quantity.String(), nullString(t.Price), model.Day(t.Date), opt,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT transaction_id, account_id, symbol, action, instrument_type,
		        quantity::TEXT, price::TEXT, date, option_details::TEXT
		 FROM transactions WHERE account_id = $1 ORDER BY date, seq`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var action, kind, qtyS string
		var priceS, optS *string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Symbol, &action, &kind,
			&qtyS, &priceS, &t.Date, &optS); err != nil {
			return nil, err
		}
		t.Action = model.Action(action)
		t.Kind = model.Kind(kind)
		var np numericParser
		t.Quantity = np.dec("quantity", qtyS)
		t.Price = np.null("price", priceS)
		if np.err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, np.err)
		}
		if optS != nil {
			var opt model.OptionDetails
			if err := json.Unmarshal([]byte(*optS), &opt); err != nil {
				return nil, fmt.Errorf("transaction %s option details: %w", t.ID, err)
			}
			t.Option = &opt
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// --- Prices ---

func (s *PostgresStore) UpsertPrices(ctx context.Context, prices []model.Price) error {
	if len(prices) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(
			`INSERT INTO prices (symbol, price_date, price) VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (symbol, price_date) DO UPDATE SET price = EXCLUDED.price`,
			p.Symbol, model.Day(p.Date), p.Price.String(),
		)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) PriceAt(ctx context.Context, symbol string, date time.Time) (*model.Price, error) {
	var p model.Price
	var priceS string
	err := s.pool.QueryRow(ctx,
		`SELECT symbol, price_date, price::TEXT FROM prices
		 WHERE symbol = $1 AND price_date <= $2
		 ORDER BY price_date DESC LIMIT 1`, symbol, model.Day(date)).
		Scan(&p.Symbol, &p.Date, &priceS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: price %s at %s", ErrNotFound, symbol, date.Format(time.DateOnly))
	}
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", symbol, err)
	}
	var np numericParser
	p.Price = np.dec("price", priceS)
	if np.err != nil {
		return nil, fmt.Errorf("price %s at %s: %w", symbol, p.Date.Format(time.DateOnly), np.err)
	}
	return &p, nil
}

func (s *PostgresStore) HasPrice(ctx context.Context, symbol string, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM prices WHERE symbol = $1 AND price_date = $2)`,
		symbol, model.Day(date)).Scan(&exists)
	return exists, err
}

// --- Snapshots ---

func (s *PostgresStore) ReplaceDay(ctx context.Context, accountID string, date time.Time, snaps []model.PositionSnapshot, pnl []model.RealizedPnLRecord) error {
	date = model.Day(date)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM position_snapshots WHERE account_id = $1 AND as_of_date = $2`, accountID, date)
		batch.Queue(`DELETE FROM realized_pnl WHERE account_id = $1 AND date = $2`, accountID, date)
		for _, sn := range snaps {
			batch.Queue(
				`INSERT INTO position_snapshots (snapshot_id, account_id, symbol, as_of_date,
				                                 quantity, avg_cost, price, total_value, action)
				 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
				sn.ID, accountID, sn.Symbol, date,
				sn.Quantity.String(), sn.AvgCost.String(),
				nullString(sn.Price), nullString(sn.TotalValue), string(sn.Action),
			)
		}
		for _, r := range pnl {
			var opt *string
			if r.OptionSymbol != "" {
				opt = &r.OptionSymbol
			}
			batch.Queue(
				`INSERT INTO realized_pnl (id, account_id, base_symbol, option_symbol, date, realized_pnl,
				                           quantity_closed, cost_basis, proceeds, action, instrument_type)
				 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
				r.ID, accountID, r.BaseSymbol, opt, date, r.RealizedPnL.String(),
				r.QuantityClosed.String(), r.CostBasis.String(), r.Proceeds.String(),
				string(r.Action), string(r.Kind),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

const snapshotColumns = `snapshot_id, account_id, symbol, as_of_date,
		        quantity::TEXT, avg_cost::TEXT, price::TEXT, total_value::TEXT, action`

func (s *PostgresStore) ListSnapshots(ctx context.Context, accountID string, from time.Time) ([]model.PositionSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+`
		 FROM position_snapshots WHERE account_id = $1 AND as_of_date >= $2
		 ORDER BY as_of_date, symbol`, accountID, model.Day(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func (s *PostgresStore) ListUnpricedSnapshots(ctx context.Context, accountID string) ([]model.PositionSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+`
		 FROM position_snapshots WHERE account_id = $1 AND price IS NULL
		 ORDER BY as_of_date, symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func (s *PostgresStore) UpdateSnapshotValuation(ctx context.Context, id string, price, totalValue decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE position_snapshots SET price = $2::NUMERIC, total_value = $3::NUMERIC
		 WHERE snapshot_id = $1`,
		id, price.String(), totalValue.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: snapshot %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) LastSnapshotDate(ctx context.Context, accountID string) (time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(as_of_date) FROM position_snapshots WHERE account_id = $1`, accountID).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	if last == nil {
		return time.Time{}, fmt.Errorf("%w: no snapshots for %s", ErrNotFound, accountID)
	}
	return *last, nil
}

func (s *PostgresStore) PurgeFrom(ctx context.Context, accountID string, from time.Time) error {
	from = model.Day(from)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM position_snapshots WHERE account_id = $1 AND as_of_date >= $2`, accountID, from)
		batch.Queue(`DELETE FROM realized_pnl WHERE account_id = $1 AND date >= $2`, accountID, from)
		batch.Queue(`DELETE FROM portfolio_metrics_snapshot WHERE account_id = $1 AND snapshot_date >= $2`, accountID, from)
		return tx.SendBatch(ctx, batch).Close()
	})
}

// --- Positions ---

func (s *PostgresStore) ReplacePositions(ctx context.Context, accountID string, positions []model.Position) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM positions WHERE account_id = $1`, accountID)
		for _, p := range positions {
			batch.Queue(
				`INSERT INTO positions (position_id, account_id, symbol, quantity, avg_cost, last_updated, action)
				 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
				p.ID, accountID, p.Symbol, p.Quantity.String(), p.AvgCost.String(),
				model.Day(p.AsOf), string(p.Action),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position_id, account_id, symbol, quantity::TEXT, avg_cost::TEXT, last_updated, action
		 FROM positions WHERE account_id = $1 ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qtyS, avgS, action string
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Symbol, &qtyS, &avgS, &p.AsOf, &action); err != nil {
			return nil, err
		}
		var np numericParser
		p.Quantity = np.dec("quantity", qtyS)
		p.AvgCost = np.dec("avg_cost", avgS)
		if np.err != nil {
			return nil, fmt.Errorf("position %s %s: %w", p.AccountID, p.Symbol, np.err)
		}
		p.Action = model.Action(action)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListHeldSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// --- Realized P&L ---

func (s *PostgresStore) ListRealizedPnL(ctx context.Context, accountID string) ([]model.RealizedPnLRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, base_symbol, option_symbol, date, realized_pnl::TEXT,
		        quantity_closed::TEXT, cost_basis::TEXT, proceeds::TEXT, action, instrument_type
		 FROM realized_pnl WHERE account_id = $1
		 ORDER BY date, base_symbol, COALESCE(option_symbol, '')`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.RealizedPnLRecord
	for rows.Next() {
		var r model.RealizedPnLRecord
		var opt *string
		var pnlS, qtyS, costS, procS, action, kind string
		if err := rows.Scan(&r.ID, &r.AccountID, &r.BaseSymbol, &opt, &r.Date, &pnlS,
			&qtyS, &costS, &procS, &action, &kind); err != nil {
			return nil, err
		}
		if opt != nil {
			r.OptionSymbol = *opt
		}
		var np numericParser
		r.RealizedPnL = np.dec("realized_pnl", pnlS)
		r.QuantityClosed = np.dec("quantity_closed", qtyS)
		r.CostBasis = np.dec("cost_basis", costS)
		r.Proceeds = np.dec("proceeds", procS)
		if np.err != nil {
			return nil, fmt.Errorf("realized pnl %s: %w", r.ID, np.err)
		}
		r.Action = model.Action(action)
		r.Kind = model.Kind(kind)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Metrics ---

const metricsColumns = `portfolio_value::TEXT, cash_balance::TEXT, portfolio_daily_return::TEXT,
		        twr_to_date::TEXT, rolling_return_7d::TEXT, rolling_return_30d::TEXT,
		        sharpe_to_date::TEXT, drawdown_to_date::TEXT`

func (s *PostgresStore) UpsertMetrics(ctx context.Context, accountID string, rows []model.PortfolioMetricsSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range rows {
			batch.Queue(
				`INSERT INTO portfolio_metrics_snapshot (account_id, snapshot_date, portfolio_value, cash_balance,
				        portfolio_daily_return, twr_to_date, rolling_return_7d, rolling_return_30d,
				        sharpe_to_date, drawdown_to_date)
				 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
				         $8::NUMERIC, $9::NUMERIC, $10::NUMERIC)
				 ON CONFLICT (account_id, snapshot_date) DO UPDATE SET
				        portfolio_value = EXCLUDED.portfolio_value,
				        cash_balance = EXCLUDED.cash_balance,
				        portfolio_daily_return = EXCLUDED.portfolio_daily_return,
				        twr_to_date = EXCLUDED.twr_to_date,
				        rolling_return_7d = EXCLUDED.rolling_return_7d,
				        rolling_return_30d = EXCLUDED.rolling_return_30d,
				        sharpe_to_date = EXCLUDED.sharpe_to_date,
				        drawdown_to_date = EXCLUDED.drawdown_to_date`,
				append([]any{accountID, model.Day(r.Date)}, metricsArgs(r.Metrics)...)...,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) ListMetrics(ctx context.Context, accountID string) ([]model.PortfolioMetricsSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, snapshot_date, `+metricsColumns+`
		 FROM portfolio_metrics_snapshot WHERE account_id = $1 ORDER BY snapshot_date`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PortfolioMetricsSnapshot
	for rows.Next() {
		var r model.PortfolioMetricsSnapshot
		var raw metricsRow
		if err := rows.Scan(append([]any{&r.AccountID, &r.Date}, raw.dest()...)...); err != nil {
			return nil, err
		}
		if r.Metrics, err = raw.metrics(); err != nil {
			return nil, fmt.Errorf("metrics %s: %w", r.Date.Format(time.DateOnly), err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReplaceUserMetrics(ctx context.Context, userID string, rows []model.UserMetricsSnapshot) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM user_portfolio_metrics_snapshot WHERE user_id = $1`, userID)
		for _, r := range rows {
			batch.Queue(
				`INSERT INTO user_portfolio_metrics_snapshot (user_id, snapshot_date, portfolio_value, cash_balance,
				        portfolio_daily_return, twr_to_date, rolling_return_7d, rolling_return_30d,
				        sharpe_to_date, drawdown_to_date)
				 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
				         $8::NUMERIC, $9::NUMERIC, $10::NUMERIC)`,
				append([]any{userID, model.Day(r.Date)}, metricsArgs(r.Metrics)...)...,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) ListUserMetrics(ctx context.Context, userID string) ([]model.UserMetricsSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, snapshot_date, `+metricsColumns+`
		 FROM user_portfolio_metrics_snapshot WHERE user_id = $1 ORDER BY snapshot_date`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UserMetricsSnapshot
	for rows.Next() {
		var r model.UserMetricsSnapshot
		var raw metricsRow
		if err := rows.Scan(append([]any{&r.UserID, &r.Date}, raw.dest()...)...); err != nil {
			return nil, err
		}
		if r.Metrics, err = raw.metrics(); err != nil {
			return nil, fmt.Errorf("metrics %s: %w", r.Date.Format(time.DateOnly), err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Scan helpers ---

func scanAccounts(rows pgx.Rows) ([]model.Account, error) {
	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Brokerage, &a.AccountNumber, &a.Nickname, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func scanSnapshots(rows pgx.Rows) ([]model.PositionSnapshot, error) {
	var snaps []model.PositionSnapshot
	for rows.Next() {
		var sn model.PositionSnapshot
		var qtyS, avgS, action string
		var priceS, totalS *string
		if err := rows.Scan(&sn.ID, &sn.AccountID, &sn.Symbol, &sn.Date,
			&qtyS, &avgS, &priceS, &totalS, &action); err != nil {
			return nil, err
		}
		var np numericParser
		sn.Quantity = np.dec("quantity", qtyS)
		sn.AvgCost = np.dec("avg_cost", avgS)
		sn.Price = np.null("price", priceS)
		sn.TotalValue = np.null("total_value", totalS)
		if np.err != nil {
			return nil, fmt.Errorf("snapshot %s %s: %w", sn.Symbol, sn.Date.Format(time.DateOnly), np.err)
		}
		sn.Action = model.Action(action)
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

// metricsRow receives the NUMERIC::TEXT columns of a metrics row.
type metricsRow struct {
	value, cash, twr, drawdown   string
	daily, roll7, roll30, sharpe *string
}

func (m *metricsRow) dest() []any {
	return []any{&m.value, &m.cash, &m.daily, &m.twr, &m.roll7, &m.roll30, &m.sharpe, &m.drawdown}
}

func (m *metricsRow) metrics() (model.Metrics, error) {
	var np numericParser
	out := model.Metrics{
		PortfolioValue:   np.dec("portfolio_value", m.value),
		CashBalance:      np.dec("cash_balance", m.cash),
		DailyReturn:      np.null("portfolio_daily_return", m.daily),
		TWRToDate:        np.dec("twr_to_date", m.twr),
		RollingReturn7D:  np.null("rolling_return_7d", m.roll7),
		RollingReturn30D: np.null("rolling_return_30d", m.roll30),
		SharpeToDate:     np.null("sharpe_to_date", m.sharpe),
		DrawdownToDate:   np.dec("drawdown_to_date", m.drawdown),
	}
	return out, np.err
}

func metricsArgs(m model.Metrics) []any {
	return []any{
		m.PortfolioValue.String(), m.CashBalance.String(), nullString(m.DailyReturn),
		m.TWRToDate.String(), nullString(m.RollingReturn7D), nullString(m.RollingReturn30D),
		nullString(m.SharpeToDate), m.DrawdownToDate.String(),
	}
}

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

// numericParser decodes NUMERIC::TEXT columns and keeps the first failure.
// NUMERIC admits NaN, which has no decimal form.
type numericParser struct{ err error }

func (p *numericParser) dec(col, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", col, err)
	}
	return v
}

func (p *numericParser) null(col string, s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(p.dec(col, *s))
}
