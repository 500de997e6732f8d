// cmd/backtest runs one strategy over stored history and prints the
// result. Bars come from a CSV file, an Arrow IPC file, the SQLite
// store, or a ClickHouse range, optionally re-cadenced with --resample
// or --replay.
//
// Usage:
//
//	go run ./cmd/backtest --csv=data/spy_1m.csv --symbol=SPY --tf=1m \
//	    --resample=1d --fast=10 --slow=30 --bulk
//	go run ./cmd/backtest --clickhouse --symbol=SPY --tf=1m \
//	    --from=2024-01-02 --to=2024-02-01
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"backtest-enginev1/config"
	"backtest-enginev1/internal/broker"
	"backtest-enginev1/internal/engine"
	"backtest-enginev1/internal/feed"
	"backtest-enginev1/internal/logger"
	"backtest-enginev1/internal/model"
	"backtest-enginev1/internal/store/arrowio"
	clickhousestore "backtest-enginev1/internal/store/clickhouse"
	sqlitestore "backtest-enginev1/internal/store/sqlite"
	"backtest-enginev1/internal/strategy"
)

func main() {
	csvPath := flag.String("csv", "", "CSV bar file (ts,open,high,low,close,volume[,oi])")
	arrowPath := flag.String("arrow", "", "Arrow IPC bar file")
	useSQLite := flag.Bool("sqlite", false, "Load bars from the SQLite store")
	useClickHouse := flag.Bool("clickhouse", false, "Load bars from ClickHouse (CLICKHOUSE_* env)")
	fromStr := flag.String("from", "", "Range start for --clickhouse (RFC3339 or YYYY-MM-DD)")
	toStr := flag.String("to", "", "Range end for --clickhouse (RFC3339 or YYYY-MM-DD, default now)")
	symbol := flag.String("symbol", "SPY", "Instrument symbol")
	tfStr := flag.String("tf", "1m", "Source bar cadence (e.g. 1m, 1d)")
	resampleStr := flag.String("resample", "", "Resample to a coarser cadence (completed bars only)")
	replayStr := flag.String("replay", "", "Replay at a coarser cadence (forming bars visible)")
	fast := flag.Int("fast", 10, "Fast SMA period")
	slow := flag.Int("slow", 30, "Slow SMA period")
	size := flag.Float64("size", 100, "Order size")
	cash := flag.Int64("cash", 100_000, "Starting cash")
	bulk := flag.Bool("bulk", false, "Bulk evaluation (load all, evaluate once)")
	keep := flag.Int("keep", 0, "Bound memory to N bars per buffer (0=unbounded)")
	journal := flag.Bool("journal", false, "Write trades and equity to the SQLite store")
	flag.Parse()

	cfg := config.Load()
	log := logger.Init("backtest", logger.ParseLevel(cfg.LogLevel))

	tf, err := model.ParseTimeframe(*tfStr)
	if err != nil {
		fatal(log, err)
	}

	var src feed.Adapter
	var store *sqlitestore.Store
	switch {
	case *csvPath != "":
		src = feed.NewCSV(*csvPath, *symbol, tf)
	case *arrowPath != "":
		src = arrowio.Feed(*arrowPath, *symbol, tf)
	case *useSQLite:
		store, err = sqlitestore.Open(cfg.SQLitePath, log)
		if err != nil {
			fatal(log, err)
		}
		defer store.Close()
		src = store.Feed(*symbol, tf)
	case *useClickHouse:
		start, end, err := parseRange(*fromStr, *toStr)
		if err != nil {
			fatal(log, err)
		}
		ch, err := clickhousestore.Open(clickhousestore.Config{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
			Table:    cfg.ClickHouseTable,
		}, log)
		if err != nil {
			fatal(log, err)
		}
		defer ch.Close()
		src = ch.Feed(*symbol, tf, start, end)
	default:
		fatal(log, fmt.Errorf("one of --csv, --arrow, --sqlite, --clickhouse is required"))
	}

	if *resampleStr != "" {
		coarse, err := model.ParseTimeframe(*resampleStr)
		if err != nil {
			fatal(log, err)
		}
		src = feed.NewResample(src, coarse)
	} else if *replayStr != "" {
		coarse, err := model.ParseTimeframe(*replayStr)
		if err != nil {
			fatal(log, err)
		}
		src = feed.NewReplay(src, coarse)
	}

	bcfg := broker.DefaultConfig()
	bcfg.Cash = decimal.NewFromInt(*cash)
	sim := broker.New(bcfg, log)

	eng := engine.New(engine.Config{
		BulkMode: *bulk,
		KeepBars: *keep,
		Log:      log,
	}, sim)
	if _, err := eng.AddFeed(src); err != nil {
		fatal(log, err)
	}
	if err := eng.SetStrategy(&strategy.SMACross{Fast: *fast, Slow: *slow, Size: *size}); err != nil {
		fatal(log, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		eng.Stop()
	}()

	res, err := eng.Run(ctx)
	if err != nil {
		fatal(log, err)
	}

	printSummary(res)

	if *journal && store != nil {
		runID := logger.GenerateRunID(*symbol, time.Now())
		if err := store.WriteRun(runID, res.Trades, res.Equity); err != nil {
			fatal(log, err)
		}
		fmt.Printf("journaled as run %s\n", runID)
	}
}

func printSummary(res *engine.Result) {
	wins := 0
	for _, t := range res.Trades {
		if t.PnL.IsPositive() {
			wins++
		}
	}
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Bars processed:    %-16d ║\n", res.Bars)
	fmt.Printf("║  Trades closed:     %-16d ║\n", len(res.Trades))
	fmt.Printf("║  Winners:           %-16d ║\n", wins)
	fmt.Printf("║  Final equity:      %-16s ║\n", res.FinalEquity.StringFixed(2))
	fmt.Printf("║  Final cash:        %-16s ║\n", res.FinalCash.StringFixed(2))
	fmt.Printf("║  Duration:          %-16s ║\n", res.Duration.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
}

// parseRange turns --from/--to into a half-open [start, end) window.
// Empty --from means the epoch; empty --to means now.
func parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := parseStamp(from, time.Time{})
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
	}
	end, err := parseStamp(to, time.Now().UTC())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is not before --to %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

func parseStamp(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q (want RFC3339 or YYYY-MM-DD)", s)
	}
	return ts.UTC(), nil
}

func fatal(log *slog.Logger, err error) {
	log.Error("fatal", slog.String("error", err.Error()))
	os.Exit(1)
}
