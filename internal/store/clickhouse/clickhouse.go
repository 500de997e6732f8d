// Package clickhouse reads bar history from a ClickHouse cluster.
// Large historical ranges live there; runs pull them once per feed.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"backtest-enginev1/internal/feed"
	"backtest-enginev1/internal/model"
)

// Config holds connection parameters.
type Config struct {
	Addr     string // e.g. "localhost:9000"
	Database string
	Username string
	Password string
	Table    string // bar table, e.g. "bars"
}

// Store reads bars from ClickHouse.
type Store struct {
	conn  driver.Conn
	table string
	log   *slog.Logger
}

// Open connects and pings the cluster.
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	log.Info("clickhouse connected",
		slog.String("addr", cfg.Addr),
		slog.String("database", cfg.Database))
	return &Store{conn: conn, table: cfg.Table, log: log}, nil
}

// Close closes the connection.
func (s *Store) Close() error { return s.conn.Close() }

// ReadBars returns one instrument's bars in [start, end), ordered by
// timestamp ascending.
func (s *Store) ReadBars(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Bar, error) {
	q := fmt.Sprintf(`
		SELECT ts_ms, open, high, low, close, volume, open_interest
		FROM %s
		WHERE symbol = ? AND tf = ? AND ts_ms >= ? AND ts_ms < ?
		ORDER BY ts_ms ASC
	`, s.table)

	rows, err := s.conn.Query(ctx, q, symbol, tf.String(),
		start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("clickhouse query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var (
			tsMs uint64
			b    model.Bar
		)
		if err := rows.Scan(&tsMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.OpenInterest); err != nil {
			return nil, fmt.Errorf("clickhouse scan bars: %w", err)
		}
		b.Symbol = symbol
		b.TS = time.UnixMilli(int64(tsMs)).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// WriteBars batch-inserts bars for one instrument.
func (s *Store) WriteBars(ctx context.Context, symbol string, tf model.Timeframe, bars []model.Bar) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (symbol, tf, ts_ms, open, high, low, close, volume, open_interest)
	`, s.table)
	batch, err := s.conn.PrepareBatch(ctx, q)
	if err != nil {
		return fmt.Errorf("clickhouse prepare batch: %w", err)
	}
	for _, b := range bars {
		if err := batch.Append(symbol, tf.String(), uint64(b.TS.UnixMilli()),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.OpenInterest); err != nil {
			return fmt.Errorf("clickhouse batch append: %w", err)
		}
	}
	return batch.Send()
}

// Feed returns a lazily loading feed over a stored range.
func (s *Store) Feed(symbol string, tf model.Timeframe, start, end time.Time) *feed.Loader {
	name := fmt.Sprintf("clickhouse:%s/%s", symbol, tf)
	return feed.NewLoader(name, symbol, tf, func() ([]model.Bar, error) {
		return s.ReadBars(context.Background(), symbol, tf, start, end)
	})
}
