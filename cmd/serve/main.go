// cmd/serve hosts the run service: POST /run starts a backtest over
// stored bars, /ws streams its progress events to WebSocket clients
// and /healthz reports liveness. Prometheus counters live on their own
// listener (METRICS_ADDR) so scrapes never compete with run traffic.
// Events are also published to a Redis stream when REDIS_ADDR is
// reachable.
//
// Usage:
//
//	LISTEN_ADDR=:8080 METRICS_ADDR=:9090 go run ./cmd/serve
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"backtest-enginev1/config"
	"backtest-enginev1/internal/broker"
	"backtest-enginev1/internal/engine"
	"backtest-enginev1/internal/event"
	"backtest-enginev1/internal/gateway"
	"backtest-enginev1/internal/logger"
	"backtest-enginev1/internal/metrics"
	"backtest-enginev1/internal/model"
	redisstore "backtest-enginev1/internal/store/redis"
	sqlitestore "backtest-enginev1/internal/store/sqlite"
	"backtest-enginev1/internal/strategy"
)

// runRequest is the POST /run body.
type runRequest struct {
	Symbol   string  `json:"symbol"`
	TF       string  `json:"tf"`
	Fast     int     `json:"fast"`
	Slow     int     `json:"slow"`
	Size     float64 `json:"size"`
	BulkMode bool    `json:"bulk"`
	KeepBars int     `json:"keep_bars"`
}

// runResponse is the POST /run reply.
type runResponse struct {
	RunID       string `json:"run_id"`
	Bars        int    `json:"bars"`
	Trades      int    `json:"trades"`
	FinalEquity string `json:"final_equity"`
	DurationMs  int64  `json:"duration_ms"`
	Stopped     bool   `json:"stopped"`
}

type server struct {
	cfg   *config.Config
	log   *slog.Logger
	mx    *metrics.Metrics
	store *sqlitestore.Store
	hub   *gateway.Hub
	pub   *redisstore.Publisher

	mu      sync.Mutex
	running bool
}

func main() {
	cfg := config.Load()
	log := logger.Init("serve", logger.ParseLevel(cfg.LogLevel))

	store, err := sqlitestore.Open(cfg.SQLitePath, log)
	if err != nil {
		log.Error("sqlite open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	srv := &server{
		cfg:   cfg,
		log:   log,
		mx:    metrics.New(nil),
		store: store,
		hub:   gateway.NewHub(log),
	}
	defer srv.hub.Close()

	// Redis is optional: event publishing degrades to WS-only.
	pub, err := redisstore.New(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Stream:   cfg.RedisStream,
	}, log)
	if err != nil {
		log.Warn("redis unavailable, events are WS-only", slog.String("error", err.Error()))
	} else {
		srv.pub = pub
		defer pub.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/run", srv.handleRun)
	mux.HandleFunc("/ws", srv.hub.ServeWS)
	mux.HandleFunc("/healthz", srv.handleHealth)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{
		Addr:        cfg.MetricsAddr,
		Handler:     metricsMux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		httpSrv.Shutdown(shutdownCtx)
		metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}()

	log.Info("serving", slog.String("addr", cfg.ListenAddr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("http server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	<-ctx.Done()
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Fast <= 0 {
		req.Fast = 10
	}
	if req.Slow <= 0 {
		req.Slow = 30
	}
	if req.Size <= 0 {
		req.Size = 100
	}
	tf, err := model.ParseTimeframe(req.TF)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// One run at a time: the engine owns its graph exclusively.
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "a run is already in progress", http.StatusConflict)
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ring := event.NewRing(s.cfg.EventRingSize)
	fanCtx, stopFan := context.WithCancel(context.Background())
	fanDone := make(chan struct{})
	go s.fanOut(fanCtx, ring, fanDone)
	defer func() {
		stopFan()
		<-fanDone
	}()

	sim := broker.New(broker.DefaultConfig(), s.log)
	eng := engine.New(engine.Config{
		BulkMode: req.BulkMode,
		KeepBars: req.KeepBars,
		Events:   ring,
		Metrics:  s.mx,
		Log:      s.log,
	}, sim)
	if _, err := eng.AddFeed(s.store.Feed(req.Symbol, tf)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := eng.SetStrategy(&strategy.SMACross{Fast: req.Fast, Slow: req.Slow, Size: req.Size}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := eng.Run(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	runID := logger.GenerateRunID(req.Symbol, time.Now())
	if err := s.store.WriteRun(runID, res.Trades, res.Equity); err != nil {
		s.log.Warn("run journal failed", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runResponse{
		RunID:       runID,
		Bars:        res.Bars,
		Trades:      len(res.Trades),
		FinalEquity: res.FinalEquity.StringFixed(2),
		DurationMs:  res.Duration.Milliseconds(),
		Stopped:     res.Stopped,
	})
}

// fanOut drains the engine's ring into the WS hub and, when available,
// the Redis stream. The ring is polled so the engine never blocks on
// observers; after cancellation one final drain flushes the tail.
func (s *server) fanOut(ctx context.Context, ring *event.Ring, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	drain := func() {
		for {
			ev, ok := ring.Pop()
			if !ok {
				return
			}
			s.hub.Broadcast(ev)
			if s.pub != nil {
				if err := s.pub.Publish(context.Background(), ev); err != nil {
					s.log.Warn("redis publish failed", slog.String("error", err.Error()))
				}
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return
		case <-ticker.C:
			drain()
		}
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"sqlite_ok":  s.store.DB().Ping() == nil,
		"ws_clients": s.hub.ClientCount(),
	}
	if s.pub != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		status["redis_ok"] = s.pub.Client().Ping(ctx).Err() == nil
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
