package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
)

// SQL is the durable, multi-instance-safe Store backend. The driver is
// selected from the DSN's scheme: postgres://... uses pgx, anything else
// is treated as a sqlite3 file path — following the corpus's precedent of
// picking a backend from one connection-string config field rather than a
// separate explicit type switch.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

type dialect struct {
	driver string
	// placeholder renders the nth (1-based) bind parameter for this dialect.
	placeholder func(n int) string
}

var sqliteDialect = dialect{
	driver:      "sqlite3",
	placeholder: func(int) string { return "?" },
}

var postgresDialect = dialect{
	driver:      "pgx",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
}

func NewSQL(dsn string) (*SQL, error) {
	d := sqliteDialect
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		d = postgresDialect
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", d.driver, err)
	}
	s := &SQL{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	strategy_id TEXT NOT NULL,
	venue TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	size TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	collateral TEXT NOT NULL,
	borrowed TEXT NOT NULL,
	opened_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("store: migrate positions: %w", err)
	}
	_, err = s.db.Exec(`
CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL,
	filled_venue TEXT NOT NULL,
	filled_side TEXT NOT NULL,
	filled_size TEXT NOT NULL,
	hanging_venue TEXT NOT NULL,
	hanging_side TEXT NOT NULL,
	raised_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP
)`)
	if err != nil {
		return fmt.Errorf("store: migrate incidents: %w", err)
	}
	return nil
}

// q renders a query template whose placeholders are written as bare `?`
// markers, substituting each with this backend's dialect-correct form.
func (s *SQL) q(template string) string {
	if s.dialect.driver == "sqlite3" {
		return template
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(template); i++ {
		if template[i] == '?' {
			n++
			b.WriteString(s.dialect.placeholder(n))
			continue
		}
		b.WriteByte(template[i])
	}
	return b.String()
}

func (s *SQL) UpsertPosition(ctx context.Context, p core.Position) error {
	_, err := s.db.ExecContext(ctx, s.q(`
DELETE FROM positions WHERE id = ?`), p.ID)
	if err != nil {
		return fmt.Errorf("store: upsert position: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
INSERT INTO positions (id, strategy_id, venue, symbol, side, size, entry_price, collateral, borrowed, opened_at, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.StrategyID, p.Venue, p.Symbol, string(p.Side),
		p.Size.String(), p.EntryPrice.Decimal().String(), p.Collateral.Decimal().String(), p.Borrowed.Decimal().String(),
		p.OpenedAt, string(p.Status))
	if err != nil {
		return fmt.Errorf("store: upsert position: %w", err)
	}
	return nil
}

func (s *SQL) DeletePosition(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM positions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("store: delete position: %w", err)
	}
	return nil
}

func (s *SQL) ListPositions(ctx context.Context) ([]core.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, strategy_id, venue, symbol, side, size, entry_price, collateral, borrowed, opened_at, status FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("store: list positions: %w", err)
	}
	defer rows.Close()

	var out []core.Position
	for rows.Next() {
		var p core.Position
		var side, status, size, entry, collateral, borrowed string
		if err := rows.Scan(&p.ID, &p.StrategyID, &p.Venue, &p.Symbol, &side, &size, &entry, &collateral, &borrowed, &p.OpenedAt, &status); err != nil {
			return nil, fmt.Errorf("store: scan position: %w", err)
		}
		p.Side = core.OrderSide(side)
		p.Status = core.PositionStatus(status)
		p.Size = mustDecimal(size)
		p.EntryPrice = core.NewPrice(mustDecimal(entry))
		p.Collateral = core.NewAmount(mustDecimal(collateral))
		p.Borrowed = core.NewAmount(mustDecimal(borrowed))
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQL) SaveIncident(ctx context.Context, inc core.SingleLegIncident) error {
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO incidents (id, plan_id, filled_venue, filled_side, filled_size, hanging_venue, hanging_side, raised_at, resolved_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		inc.ID, inc.PlanID, inc.FilledVenue, string(inc.FilledSide), inc.FilledSize.String(),
		inc.HangingVenue, string(inc.HangingSide), inc.RaisedAt, inc.ResolvedAt)
	if err != nil {
		return fmt.Errorf("store: save incident: %w", err)
	}
	return nil
}

func (s *SQL) ResolveIncident(ctx context.Context, id string, resolvedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE incidents SET resolved_at = ? WHERE id = ?`), resolvedAt, id)
	if err != nil {
		return fmt.Errorf("store: resolve incident: %w", err)
	}
	return nil
}

func (s *SQL) ListOpenIncidents(ctx context.Context) ([]core.SingleLegIncident, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, plan_id, filled_venue, filled_side, filled_size, hanging_venue, hanging_side, raised_at FROM incidents WHERE resolved_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: list open incidents: %w", err)
	}
	defer rows.Close()

	var out []core.SingleLegIncident
	for rows.Next() {
		var inc core.SingleLegIncident
		var filledSide, hangingSide, filledSize string
		if err := rows.Scan(&inc.ID, &inc.PlanID, &inc.FilledVenue, &filledSide, &filledSize, &inc.HangingVenue, &hangingSide, &inc.RaisedAt); err != nil {
			return nil, fmt.Errorf("store: scan incident: %w", err)
		}
		inc.FilledSide = core.OrderSide(filledSide)
		inc.HangingSide = core.OrderSide(hangingSide)
		inc.FilledSize = mustDecimal(filledSize)
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *SQL) Close() error { return s.db.Close() }

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
