// Package store persists positions, trade history, and capital snapshots in
// SQLite, with a JSONL journal and an async writer layered on top.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/capital"
	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS open_positions (
	id             TEXT PRIMARY KEY,
	symbol         TEXT NOT NULL,
	venue          TEXT NOT NULL,
	side           TEXT NOT NULL,
	entry_price    REAL NOT NULL,
	quantity       REAL NOT NULL,
	notional       REAL NOT NULL,
	take_profit    REAL NOT NULL,
	stop_loss      REAL NOT NULL,
	trailing       INTEGER NOT NULL DEFAULT 0,
	trailing_stop  REAL NOT NULL DEFAULT 0,
	peak_price     REAL NOT NULL DEFAULT 0,
	kelly_fraction REAL NOT NULL DEFAULT 0,
	portfolio_heat REAL NOT NULL DEFAULT 0,
	confidence     REAL NOT NULL DEFAULT 0,
	opened_at      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	venue       TEXT NOT NULL,
	side        TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	quantity    REAL NOT NULL,
	notional    REAL NOT NULL,
	realized    REAL NOT NULL,
	reason      TEXT NOT NULL,
	opened_at   INTEGER NOT NULL,
	closed_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);
CREATE TABLE IF NOT EXISTS capital_snapshots (
	ts        INTEGER PRIMARY KEY,
	total     REAL NOT NULL,
	available REAL NOT NULL,
	reserved  REAL NOT NULL,
	harvested REAL NOT NULL
);
`

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Open creates the database file (":memory:" for tests), applies the schema,
// and returns the store.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		path += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{conn: conn, log: log}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// SaveOpen upserts a live position.
func (s *Store) SaveOpen(pos ledger.Position) error {
	_, err := s.conn.Exec(`
		INSERT INTO open_positions
			(id, symbol, venue, side, entry_price, quantity, notional, take_profit,
			 stop_loss, trailing, trailing_stop, peak_price,
			 kelly_fraction, portfolio_heat, confidence, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trailing = excluded.trailing,
			trailing_stop = excluded.trailing_stop,
			peak_price = excluded.peak_price`,
		pos.ID, pos.Symbol, pos.Venue, string(pos.Side), pos.EntryPrice, pos.Quantity,
		pos.Notional, pos.TakeProfit, pos.StopLoss, boolToInt(pos.Trailing),
		pos.TrailingStop, pos.PeakPrice,
		pos.EntryRisk.KellyFraction, pos.EntryRisk.PortfolioHeat, pos.EntryRisk.Confidence,
		pos.OpenedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save open position: %w", err)
	}
	return nil
}

// SaveClose removes the live row and records the completed trade.
func (s *Store) SaveClose(cl ledger.Closed) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin close tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM open_positions WHERE id = ?`, cl.ID); err != nil {
		return fmt.Errorf("delete open position: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO trades
			(id, symbol, venue, side, entry_price, exit_price, quantity, notional,
			 realized, reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cl.ID, cl.Symbol, cl.Venue, string(cl.Side), cl.EntryPrice, cl.ExitPrice,
		cl.Quantity, cl.Notional, cl.Realized, string(cl.Reason),
		cl.OpenedAt.UnixMilli(), cl.ClosedAt.UnixMilli()); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return tx.Commit()
}

// LoadOpenPositions rehydrates live positions for cold starts.
func (s *Store) LoadOpenPositions() ([]ledger.Position, error) {
	rows, err := s.conn.Query(`
		SELECT id, symbol, venue, side, entry_price, quantity, notional, take_profit,
		       stop_loss, trailing, trailing_stop, peak_price,
		       kelly_fraction, portfolio_heat, confidence, opened_at
		FROM open_positions ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Position
	for rows.Next() {
		var (
			pos      ledger.Position
			side     string
			trailing int
			openedAt int64
		)
		if err := rows.Scan(&pos.ID, &pos.Symbol, &pos.Venue, &side, &pos.EntryPrice,
			&pos.Quantity, &pos.Notional, &pos.TakeProfit, &pos.StopLoss,
			&trailing, &pos.TrailingStop, &pos.PeakPrice,
			&pos.EntryRisk.KellyFraction, &pos.EntryRisk.PortfolioHeat,
			&pos.EntryRisk.Confidence, &openedAt); err != nil {
			return nil, fmt.Errorf("scan open position: %w", err)
		}
		pos.Side = ledger.Side(side)
		pos.Trailing = trailing != 0
		pos.OpenedAt = time.UnixMilli(openedAt)
		pos.LastPrice = pos.EntryPrice
		out = append(out, pos)
	}
	return out, rows.Err()
}

// RecentTrades returns the most recent completed trades, newest first.
func (s *Store) RecentTrades(limit int) ([]ledger.Closed, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(`
		SELECT id, symbol, venue, side, entry_price, exit_price, quantity, notional,
		       realized, reason, opened_at, closed_at
		FROM trades ORDER BY closed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	defer rows.Close()

	var out []ledger.Closed
	for rows.Next() {
		var (
			cl                 ledger.Closed
			side, reason       string
			openedAt, closedAt int64
		)
		if err := rows.Scan(&cl.ID, &cl.Symbol, &cl.Venue, &side, &cl.EntryPrice,
			&cl.ExitPrice, &cl.Quantity, &cl.Notional, &cl.Realized, &reason,
			&openedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		cl.Side = ledger.Side(side)
		cl.Reason = ledger.CloseReason(reason)
		cl.OpenedAt = time.UnixMilli(openedAt)
		cl.ClosedAt = time.UnixMilli(closedAt)
		out = append(out, cl)
	}
	return out, rows.Err()
}

// TradeStats aggregates realized outcomes for seeding the learning provider.
func (s *Store) TradeStats() (wins, losses int, avgWin, avgLoss float64, err error) {
	row := s.conn.QueryRow(`
		SELECT
			COUNT(CASE WHEN realized > 0 THEN 1 END),
			COUNT(CASE WHEN realized <= 0 THEN 1 END),
			COALESCE(AVG(CASE WHEN realized > 0 THEN realized END), 0),
			COALESCE(AVG(CASE WHEN realized <= 0 THEN -realized END), 0)
		FROM trades`)
	if err = row.Scan(&wins, &losses, &avgWin, &avgLoss); err != nil {
		err = fmt.Errorf("aggregate trade stats: %w", err)
	}
	return
}

// SaveCapital records a capital snapshot.
func (s *Store) SaveCapital(state capital.State) error {
	_, err := s.conn.Exec(`
		INSERT OR REPLACE INTO capital_snapshots (ts, total, available, reserved, harvested)
		VALUES (?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), state.Total, state.Available, state.Reserved, state.Harvested)
	if err != nil {
		return fmt.Errorf("save capital snapshot: %w", err)
	}
	return nil
}

// LastCapital returns the most recent capital snapshot, false when none exists.
func (s *Store) LastCapital() (capital.State, bool, error) {
	var state capital.State
	row := s.conn.QueryRow(`
		SELECT total, available, reserved, harvested
		FROM capital_snapshots ORDER BY ts DESC LIMIT 1`)
	err := row.Scan(&state.Total, &state.Available, &state.Reserved, &state.Harvested)
	if err == sql.ErrNoRows {
		return capital.State{}, false, nil
	}
	if err != nil {
		return capital.State{}, false, fmt.Errorf("load capital snapshot: %w", err)
	}
	return state, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
