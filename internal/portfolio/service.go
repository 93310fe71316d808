// Package portfolio runs the per-account pipeline (replay, hydrate, metrics)
// and the per-user rollup, and exposes them as HTTP run triggers.
//
// Accounts are independent: a batch runs them in parallel, bounded by
// Options.Concurrency, and one account's failure never aborts the others.
// Work on a single account is serialized through a lock.Locker.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/portana/ledger-engine/internal/lock"
	"github.com/portana/ledger-engine/internal/metrics"
	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/performance"
	"github.com/portana/ledger-engine/internal/pnl"
	"github.com/portana/ledger-engine/internal/pricing"
	"github.com/portana/ledger-engine/internal/replay"
	"github.com/portana/ledger-engine/internal/snapshot"
	"github.com/portana/ledger-engine/internal/store"
)

// Mode selects how much history a run recomputes.
type Mode string

const (
	// ModeIncremental continues after the last persisted snapshot or metrics date.
	ModeIncremental Mode = "incremental"

	// ModeFull discards the account's derived rows and recomputes from scratch.
	ModeFull Mode = "full"
)

// ErrUnknownMode is returned for an unrecognized run mode.
var ErrUnknownMode = errors.New("portfolio: unknown mode")

// ErrNoRefresher is returned when price refresh is requested without a quoter.
var ErrNoRefresher = errors.New("portfolio: price refresh not configured")

// ParseMode parses a mode name. Empty selects ModeIncremental.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeIncremental, nil
	case ModeIncremental, ModeFull:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Options configures a Service.
type Options struct {
	Concurrency int
	FlowBasis   performance.FlowBasis
	Metrics     performance.Options
	Epoch       time.Time // first metrics date when nothing is persisted
}

// DefaultOptions returns four parallel accounts, securities flows and the
// default metrics options. Securities flows sign trades opposite to the
// cash-ledger rule; see performance.BasisSecurities.
func DefaultOptions() Options {
	return Options{
		Concurrency: 4,
		FlowBasis:   performance.BasisSecurities,
		Metrics:     performance.DefaultOptions(),
		Epoch:       performance.Epoch,
	}
}

// Service runs the account pipeline against a store.
type Service struct {
	store     store.Store
	locker    lock.Locker
	assembler *snapshot.Assembler
	hydrator  *pricing.Hydrator
	refresher *pricing.Refresher // optional
	wsHub     *WSHub             // optional
	opt       Options
	now       func() time.Time
}

// NewService creates a service. Pass nil for hub if run events are not
// broadcast, and nil for refresher if prices are loaded externally.
func NewService(st store.Store, locker lock.Locker, refresher *pricing.Refresher, hub *WSHub, opt Options) *Service {
	if opt.Concurrency < 1 {
		opt.Concurrency = 1
	}
	if opt.FlowBasis == "" {
		opt.FlowBasis = performance.BasisSecurities
	}
	if opt.Epoch.IsZero() {
		opt.Epoch = performance.Epoch
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Service{
		store:     st,
		locker:    locker,
		assembler: snapshot.NewAssembler(st),
		hydrator:  pricing.NewHydrator(st, st),
		refresher: refresher,
		wsHub:     hub,
		opt:       opt,
		now:       time.Now,
	}
}

// WithClock overrides the service's notion of today.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) today() time.Time {
	return model.Day(s.now())
}

// --- Results ---

// ReplayResult summarizes one replay of an account.
type ReplayResult struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Days         int       `json:"days"`
	Transactions int       `json:"transactions"`
	Snapshots    int       `json:"snapshots"`
	PnLRows      int       `json:"pnl_rows"`
}

// MetricsResult summarizes one metrics computation.
type MetricsResult struct {
	After time.Time `json:"after"`
	Rows  int       `json:"rows"`
}

// AccountResult is the outcome of the full pipeline for one account.
type AccountResult struct {
	AccountID string                  `json:"account_id"`
	Status    string                  `json:"status"`
	Error     string                  `json:"error,omitempty"`
	Replay    ReplayResult            `json:"replay"`
	Hydration pricing.HydrationReport `json:"hydration"`
	Metrics   MetricsResult           `json:"metrics"`
	Duration  time.Duration           `json:"duration_ns"`
}

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// RunSummary is the outcome of a batch of accounts.
type RunSummary struct {
	Results   []AccountResult `json:"results"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

// UserResult is the outcome of a user refresh.
type UserResult struct {
	UserID      string     `json:"user_id"`
	Summary     RunSummary `json:"summary"`
	RollupRows  int        `json:"rollup_rows"`
	RollupError string     `json:"rollup_error,omitempty"`
}

// --- Replay ---

// ReplayAccount rebuilds daily snapshots, realized P&L and current positions.
func (s *Service) ReplayAccount(ctx context.Context, accountID string, mode Mode) (ReplayResult, error) {
	start := time.Now()
	release, err := s.locker.Acquire(ctx, accountKey(accountID))
	if err != nil {
		return ReplayResult{}, err
	}
	defer unlock(accountKey(accountID), release)

	res, err := s.replay(ctx, accountID, mode)
	metrics.ObserveRun("replay", start, err)
	return res, err
}

func (s *Service) replay(ctx context.Context, accountID string, mode Mode) (ReplayResult, error) {
	var res ReplayResult

	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return res, fmt.Errorf("account %s: %w", accountID, err)
	}

	txns, err := s.store.ListTransactions(ctx, accountID)
	if err != nil {
		return res, fmt.Errorf("list transactions %s: %w", accountID, err)
	}

	if mode == ModeFull {
		if err := s.store.PurgeFrom(ctx, accountID, time.Time{}); err != nil {
			return res, fmt.Errorf("purge %s: %w", accountID, err)
		}
	}

	if len(txns) == 0 {
		if err := s.assembler.PersistPositions(ctx, accountID, s.today(), replay.State{}); err != nil {
			return res, err
		}
		return res, nil
	}

	days := replay.GroupByDay(txns)
	from := days[0].Date
	if mode != ModeFull {
		last, err := s.store.LastSnapshotDate(ctx, accountID)
		switch {
		case err == nil:
			from = last.AddDate(0, 0, 1)
		case !errors.Is(err, store.ErrNotFound):
			return res, fmt.Errorf("last snapshot %s: %w", accountID, err)
		}
	}

	to := s.today()
	if last := days[len(days)-1].Date; last.After(to) {
		to = last
	}

	// Days before the range only seed the state.
	state := replay.State{}
	byDate := make(map[time.Time][]model.Transaction)
	for _, day := range days {
		if day.Date.Before(from) {
			next, _, err := replay.ApplyDay(state, day.Date, day.Transactions)
			if err != nil {
				return res, err
			}
			state = next
			continue
		}
		byDate[day.Date] = day.Transactions
	}

	res.From, res.To = from, to
	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		day := byDate[date]
		next, events, err := replay.ApplyDay(state, date, day)
		if err != nil {
			return res, err
		}
		state = next

		records := pnl.Merge(accountID, date, events)
		n, err := s.assembler.Persist(ctx, accountID, date, state, records)
		if err != nil {
			return res, err
		}
		res.Days++
		res.Transactions += len(day)
		res.Snapshots += n
		res.PnLRows += len(records)
	}
	metrics.TransactionsReplayed.Add(float64(res.Transactions))

	if err := s.assembler.PersistPositions(ctx, accountID, to, state); err != nil {
		return res, err
	}

	slog.Info("account replayed",
		"account", accountID,
		"mode", string(mode),
		"from", from.Format(time.DateOnly),
		"to", to.Format(time.DateOnly),
		"days", res.Days,
		"transactions", res.Transactions,
	)
	return res, nil
}

// --- Hydration ---

// HydrateAccount prices the account's unpriced snapshots.
func (s *Service) HydrateAccount(ctx context.Context, accountID string) (pricing.HydrationReport, error) {
	start := time.Now()
	release, err := s.locker.Acquire(ctx, accountKey(accountID))
	if err != nil {
		return pricing.HydrationReport{}, err
	}
	defer unlock(accountKey(accountID), release)

	report, err := s.hydrate(ctx, accountID)
	metrics.ObserveRun("hydrate", start, err)
	return report, err
}

func (s *Service) hydrate(ctx context.Context, accountID string) (pricing.HydrationReport, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return pricing.HydrationReport{}, fmt.Errorf("account %s: %w", accountID, err)
	}
	return s.hydrator.Hydrate(ctx, accountID)
}

// --- Metrics ---

// RecomputeMetrics writes the account's performance rows. Incremental runs
// continue the persisted series; full runs rebuild it from Options.Epoch.
func (s *Service) RecomputeMetrics(ctx context.Context, accountID string, mode Mode) (MetricsResult, error) {
	start := time.Now()
	release, err := s.locker.Acquire(ctx, accountKey(accountID))
	if err != nil {
		return MetricsResult{}, err
	}
	defer unlock(accountKey(accountID), release)

	res, err := s.recomputeMetrics(ctx, accountID, mode)
	metrics.ObserveRun("metrics", start, err)
	return res, err
}

func (s *Service) recomputeMetrics(ctx context.Context, accountID string, mode Mode) (MetricsResult, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return MetricsResult{}, fmt.Errorf("account %s: %w", accountID, err)
	}

	var seed performance.Seed
	after := s.opt.Epoch.AddDate(0, 0, -1)
	if mode != ModeFull {
		existing, err := s.store.ListMetrics(ctx, accountID)
		if err != nil {
			return MetricsResult{}, fmt.Errorf("list metrics %s: %w", accountID, err)
		}
		if n := len(existing); n > 0 {
			history := make([]model.Metrics, n)
			for i, row := range existing {
				history[i] = row.Metrics
			}
			seed = performance.SeedFrom(history)
			after = model.Day(existing[n-1].Date)
		}
	}
	res := MetricsResult{After: after}

	snaps, err := s.store.ListSnapshots(ctx, accountID, after.AddDate(0, 0, 1))
	if err != nil {
		return res, fmt.Errorf("list snapshots %s: %w", accountID, err)
	}
	points := performance.After(performance.Series(snaps), after)
	if len(points) == 0 {
		return res, nil
	}

	txns, err := s.store.ListTransactions(ctx, accountID)
	if err != nil {
		return res, fmt.Errorf("list transactions %s: %w", accountID, err)
	}
	flows := performance.Flows(txns, s.opt.FlowBasis, after)

	computed := performance.Compute(points, flows, seed, s.opt.Metrics)
	rows := make([]model.PortfolioMetricsSnapshot, len(computed))
	for i, r := range computed {
		rows[i] = model.PortfolioMetricsSnapshot{AccountID: accountID, Date: r.Date, Metrics: r.Metrics}
	}
	if err := s.store.UpsertMetrics(ctx, accountID, rows); err != nil {
		return res, fmt.Errorf("upsert metrics %s: %w", accountID, err)
	}
	res.Rows = len(rows)
	return res, nil
}

// --- Pipeline ---

// RefreshAccount runs replay, hydration and metrics for one account under
// a single lock.
func (s *Service) RefreshAccount(ctx context.Context, accountID string, mode Mode) AccountResult {
	start := time.Now()
	res := AccountResult{AccountID: accountID, Status: StatusOK}

	err := s.refreshAccount(ctx, accountID, mode, &res)
	res.Duration = time.Since(start)
	metrics.ObserveRun("refresh", start, err)

	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		slog.Error("account refresh failed", "account", accountID, "err", err)
	}
	s.broadcast(WSMessage{
		Type:      EventAccountRefreshed,
		AccountID: accountID,
		Status:    res.Status,
		Error:     res.Error,
	})
	return res
}

func (s *Service) refreshAccount(ctx context.Context, accountID string, mode Mode, res *AccountResult) error {
	release, err := s.locker.Acquire(ctx, accountKey(accountID))
	if err != nil {
		return err
	}
	defer unlock(accountKey(accountID), release)

	if res.Replay, err = s.replay(ctx, accountID, mode); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if res.Hydration, err = s.hydrate(ctx, accountID); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	if res.Metrics, err = s.recomputeMetrics(ctx, accountID, mode); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// Refresh runs the pipeline for accountIDs in parallel, or for every
// account when accountIDs is empty. Results keep the input order.
func (s *Service) Refresh(ctx context.Context, accountIDs []string, mode Mode) (RunSummary, error) {
	if len(accountIDs) == 0 {
		accounts, err := s.store.ListAccounts(ctx)
		if err != nil {
			return RunSummary{}, fmt.Errorf("list accounts: %w", err)
		}
		for _, a := range accounts {
			accountIDs = append(accountIDs, a.ID)
		}
	}

	results := make([]AccountResult, len(accountIDs))
	g := new(errgroup.Group)
	g.SetLimit(s.opt.Concurrency)
	for i, id := range accountIDs {
		g.Go(func() error {
			results[i] = s.RefreshAccount(ctx, id, mode)
			return nil
		})
	}
	g.Wait()

	summary := RunSummary{Results: results}
	for _, r := range results {
		if r.Status == StatusOK {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	slog.Info("refresh completed",
		"accounts", len(results),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)
	return summary, nil
}

// RefreshUser refreshes every account of userID and then rolls them up.
func (s *Service) RefreshUser(ctx context.Context, userID string, mode Mode) (UserResult, error) {
	accounts, err := s.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return UserResult{}, fmt.Errorf("list accounts of %s: %w", userID, err)
	}
	if len(accounts) == 0 {
		return UserResult{}, fmt.Errorf("%w: user %s has no accounts", store.ErrNotFound, userID)
	}

	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	summary, err := s.Refresh(ctx, ids, mode)
	if err != nil {
		return UserResult{}, err
	}

	res := UserResult{UserID: userID, Summary: summary}
	if res.RollupRows, err = s.RollupUser(ctx, userID); err != nil {
		res.RollupError = err.Error()
	}
	return res, nil
}

// --- Rollup ---

// RollupUser sums the metrics values and cash of a user's accounts per
// date and recomputes the metric series over the sum.
func (s *Service) RollupUser(ctx context.Context, userID string) (int, error) {
	start := time.Now()
	n, err := s.rollupUser(ctx, userID)
	metrics.ObserveRun("rollup", start, err)
	if err != nil {
		slog.Error("user rollup failed", "user", userID, "err", err)
		return 0, err
	}
	s.broadcast(WSMessage{Type: EventUserRolledUp, UserID: userID, Status: StatusOK})
	return n, nil
}

func (s *Service) rollupUser(ctx context.Context, userID string) (int, error) {
	release, err := s.locker.Acquire(ctx, userKey(userID))
	if err != nil {
		return 0, err
	}
	defer unlock(userKey(userID), release)

	accounts, err := s.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list accounts of %s: %w", userID, err)
	}

	var (
		series [][]performance.Point
		flows  []map[time.Time]decimal.Decimal
	)
	for _, a := range accounts {
		rows, err := s.store.ListMetrics(ctx, a.ID)
		if err != nil {
			return 0, fmt.Errorf("list metrics %s: %w", a.ID, err)
		}
		if len(rows) == 0 {
			continue
		}
		points := make([]performance.Point, len(rows))
		for i, r := range rows {
			points[i] = performance.Point{Date: r.Date, Value: r.PortfolioValue, Cash: r.CashBalance}
		}
		series = append(series, points)

		txns, err := s.store.ListTransactions(ctx, a.ID)
		if err != nil {
			return 0, fmt.Errorf("list transactions %s: %w", a.ID, err)
		}
		// An account joins the rollup as an inflow of its first value.
		first := model.Day(rows[0].Date)
		f := performance.Flows(txns, s.opt.FlowBasis, first)
		f[first] = rows[0].PortfolioValue
		flows = append(flows, f)
	}

	computed := performance.Compute(performance.Combine(series...), performance.Sum(flows...), performance.Seed{}, s.opt.Metrics)
	out := make([]model.UserMetricsSnapshot, len(computed))
	for i, r := range computed {
		out[i] = model.UserMetricsSnapshot{UserID: userID, Date: r.Date, Metrics: r.Metrics}
	}
	if err := s.store.ReplaceUserMetrics(ctx, userID, out); err != nil {
		return 0, fmt.Errorf("replace user metrics %s: %w", userID, err)
	}
	return len(out), nil
}

// --- Prices ---

// RefreshPrices stores today's quote for every held symbol.
func (s *Service) RefreshPrices(ctx context.Context) (pricing.RefreshReport, error) {
	if s.refresher == nil {
		return pricing.RefreshReport{}, ErrNoRefresher
	}
	start := time.Now()
	report, err := s.refresher.Refresh(ctx)
	metrics.ObserveRun("prices", start, err)
	if err == nil {
		s.broadcast(WSMessage{Type: EventPricesRefreshed, Status: StatusOK})
	}
	return report, err
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub == nil {
		return
	}
	msg.Time = s.now().UTC()
	s.wsHub.Broadcast(msg)
}

// unlock runs release and logs a lease that was lost before the run ended.
func unlock(key string, release func() error) {
	if err := release(); err != nil {
		slog.Warn("lock release failed", "key", key, "err", err)
	}
}

func accountKey(id string) string { return "account:" + id }
func userKey(id string) string    { return "user:" + id }
