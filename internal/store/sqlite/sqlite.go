// Package sqlite stores bar history and run output in SQLite. The bar
// table feeds runs; the journal tables record what a run produced.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"backtest-enginev1/internal/feed"
	"backtest-enginev1/internal/model"
)

// Store is a SQLite-backed bar source and run journal.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the database with WAL mode and the schema.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Info("sqlite opened", slog.String("path", path))
	return &Store{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol        TEXT    NOT NULL,
			tf            TEXT    NOT NULL,
			ts            INTEGER NOT NULL,
			open          REAL    NOT NULL,
			high          REAL    NOT NULL,
			low           REAL    NOT NULL,
			close         REAL    NOT NULL,
			volume        REAL,
			open_interest REAL,
			PRIMARY KEY (symbol, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS trades (
			id          TEXT PRIMARY KEY,
			run_id      TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			side        TEXT    NOT NULL,
			size        REAL    NOT NULL,
			entry_price REAL    NOT NULL,
			exit_price  REAL    NOT NULL,
			entry_ts    INTEGER NOT NULL,
			exit_ts     INTEGER NOT NULL,
			pnl         TEXT    NOT NULL,
			commission  TEXT    NOT NULL,
			bars_held   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS equity (
			run_id TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			equity TEXT    NOT NULL,
			cash   TEXT    NOT NULL,
			PRIMARY KEY (run_id, ts)
		);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// WriteBars inserts bars in one transaction, replacing duplicates.
func (s *Store) WriteBars(symbol string, tf model.Timeframe, bars []model.Bar) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, tf, ts, open, high, low, close, volume, open_interest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(symbol, tf.String(), b.TS.Unix(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.OpenInterest); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ReadBars returns bars for one instrument and cadence after the given
// timestamp, ordered ascending for correct replay order.
func (s *Store) ReadBars(symbol string, tf model.Timeframe, after time.Time) ([]model.Bar, error) {
	rows, err := s.db.Query(`
		SELECT ts, open, high, low, close, volume, open_interest
		FROM bars
		WHERE symbol = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, tf.String(), after.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.OpenInterest); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.Symbol = symbol
		b.TS = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Feed returns a lazily loading feed over the stored bars.
func (s *Store) Feed(symbol string, tf model.Timeframe) *feed.Loader {
	name := fmt.Sprintf("sqlite:%s/%s", symbol, tf)
	return feed.NewLoader(name, symbol, tf, func() ([]model.Bar, error) {
		return s.ReadBars(symbol, tf, time.Time{})
	})
}

// WriteRun journals a run's trades and equity curve in one transaction.
func (s *Store) WriteRun(runID string, trades []model.Trade, equity []model.EquityPoint) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	tstmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO trades
		(id, run_id, symbol, side, size, entry_price, exit_price, entry_ts, exit_ts, pnl, commission, bars_held)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer tstmt.Close()
	for _, t := range trades {
		if _, err := tstmt.Exec(t.ID, runID, t.Symbol, string(t.Side), t.Size,
			t.EntryPrice, t.ExitPrice, t.EntryTS.Unix(), t.ExitTS.Unix(),
			t.PnL.String(), t.Commission.String(), t.BarsHeld); err != nil {
			tx.Rollback()
			return err
		}
	}

	estmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO equity (run_id, ts, equity, cash) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer estmt.Close()
	for _, p := range equity {
		if _, err := estmt.Exec(runID, p.TS.Unix(), p.Equity.String(), p.Cash.String()); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info("run journaled",
		slog.String("run_id", runID),
		slog.Int("trades", len(trades)),
		slog.Int("equity_points", len(equity)))
	return nil
}
