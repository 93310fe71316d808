// Package snapshot turns a day's replayed position state into persisted
// snapshot and current-position rows. Valuation fields stay null here; the
// pricing hydrator fills them later.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portana/ledger-engine/internal/metrics"
	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/replay"
)

// Scale is the number of fractional digits persisted for quantity and avg cost.
const Scale = 5

// Writer is the persistence the assembler needs.
type Writer interface {
	ReplaceDay(ctx context.Context, accountID string, date time.Time, snaps []model.PositionSnapshot, pnl []model.RealizedPnLRecord) error
	ReplacePositions(ctx context.Context, accountID string, positions []model.Position) error
}

// Assembler persists snapshot and position rows through scoped replaces.
type Assembler struct {
	store Writer
	newID func() string
}

// NewAssembler creates an assembler writing to st.
func NewAssembler(st Writer) *Assembler {
	return &Assembler{store: st, newID: uuid.NewString}
}

// Build returns one unpriced snapshot per non-zero symbol of state, sorted by
// symbol. IDs are left empty.
func Build(accountID string, date time.Time, state replay.State) []model.PositionSnapshot {
	date = model.Day(date)
	var snaps []model.PositionSnapshot
	for _, sym := range state.Symbols() {
		pos := state[sym]
		qty := pos.Quantity.RoundBank(Scale)
		if qty.IsZero() {
			continue
		}
		snaps = append(snaps, model.PositionSnapshot{
			AccountID: accountID,
			Symbol:    sym,
			Date:      date,
			Quantity:  qty,
			AvgCost:   avgCost(pos),
			Action:    pos.FirstAction,
		})
	}
	return snaps
}

// Positions returns the current-position rows for state as of asOf.
func Positions(accountID string, asOf time.Time, state replay.State) []model.Position {
	var rows []model.Position
	for _, snap := range Build(accountID, asOf, state) {
		rows = append(rows, model.Position{
			AccountID: accountID,
			Symbol:    snap.Symbol,
			Quantity:  snap.Quantity,
			AvgCost:   snap.AvgCost,
			AsOf:      snap.Date,
			Action:    snap.Action,
		})
	}
	return rows
}

// Persist replaces the account's snapshot and realized P&L rows for date.
// It returns the number of snapshot rows written.
func (a *Assembler) Persist(ctx context.Context, accountID string, date time.Time, state replay.State, pnl []model.RealizedPnLRecord) (int, error) {
	snaps := Build(accountID, date, state)
	for i := range snaps {
		snaps[i].ID = a.newID()
	}
	for i := range pnl {
		if pnl[i].ID == "" {
			pnl[i].ID = a.newID()
		}
	}
	if err := a.store.ReplaceDay(ctx, accountID, model.Day(date), snaps, pnl); err != nil {
		return 0, fmt.Errorf("replace snapshots %s on %s: %w", accountID, model.Day(date).Format(time.DateOnly), err)
	}
	metrics.SnapshotsWritten.Add(float64(len(snaps)))
	metrics.RealizedPnLRows.Add(float64(len(pnl)))
	return len(snaps), nil
}

// PersistPositions fully replaces the account's current positions.
func (a *Assembler) PersistPositions(ctx context.Context, accountID string, asOf time.Time, state replay.State) error {
	rows := Positions(accountID, asOf, state)
	for i := range rows {
		rows[i].ID = a.newID()
	}
	if err := a.store.ReplacePositions(ctx, accountID, rows); err != nil {
		return fmt.Errorf("replace positions %s: %w", accountID, err)
	}
	return nil
}

func avgCost(pos replay.PositionState) decimal.Decimal {
	if pos.Symbol == model.CashSymbol {
		return decimal.NewFromInt(1)
	}
	return pos.AvgCost().RoundBank(Scale)
}
