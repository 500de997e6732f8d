// Package redis publishes run-progress events to a Redis stream so
// external consumers (dashboards, alerting) can follow runs without
// touching the engine process.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"backtest-enginev1/internal/event"
)

// Stream trimming: a long run's tail is enough for any live view.
const streamMaxLen = 100_000

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Stream   string // stream key, e.g. "btengine:events"
}

// Publisher drains an event ring into a Redis stream.
type Publisher struct {
	client *goredis.Client
	stream string
	log    *slog.Logger
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a publisher and pings the server.
func New(cfg PublisherConfig, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("redis connected", slog.String("addr", cfg.Addr))
	return &Publisher{client: client, stream: cfg.Stream, log: log}, nil
}

// Publish appends one event to the stream.
func (p *Publisher) Publish(ctx context.Context, ev event.Event) error {
	return p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":   string(ev.Kind),
			"ts":     ev.TS.UnixNano(),
			"bar":    ev.Bar,
			"symbol": ev.Symbol,
			"detail": ev.Detail,
		},
	}).Err()
}

// Close closes the client.
func (p *Publisher) Close() error { return p.client.Close() }
