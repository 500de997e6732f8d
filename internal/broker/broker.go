// Package broker implements the simulated broker: it consumes order
// intents from strategy nodes, resolves fills against subsequent bars
// with deterministic touch rules, tracks cash, positions and round-trip
// trades, and queues notifications the engine delivers at the start of
// the next bar. Business-rule failures (size, cash) are notifications,
// never faults.
package broker

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"backtest-enginev1/internal/model"
)

// Config holds the simulation parameters.
type Config struct {
	Cash            decimal.Decimal // starting cash
	CommissionRate  decimal.Decimal // fraction of notional per fill
	CommissionFixed decimal.Decimal // flat amount per fill
	SlippageBps     int64           // market-order slippage in basis points
}

// DefaultConfig starts with 100k cash and no frictions.
func DefaultConfig() Config {
	return Config{Cash: decimal.NewFromInt(100_000)}
}

// position is the open exposure in one instrument.
type position struct {
	size       float64 // positive = long, negative = short
	peak       float64 // largest absolute size reached, for the trade record
	avgPrice   float64
	entryTS    time.Time
	entryBar   int
	realized   decimal.Decimal // accumulated while reducing
	commission decimal.Decimal
}

func (p *position) short() bool { return p.peakSign() < 0 }

// peakSign is the trade's direction: reductions never flip size past
// zero inside one position, so the sign of peak at open is stable.
func (p *position) peakSign() float64 {
	if p.peak < 0 {
		return -1
	}
	return 1
}

// Sim is the broker simulator. Single-threaded, owned by one engine run.
type Sim struct {
	cfg  Config
	cash decimal.Decimal
	log  *slog.Logger

	pending   []*model.Order
	queued    []model.Notification
	positions map[string]*position
	trades    []model.Trade
	equity    []model.EquityPoint
}

// New creates a broker simulator.
func New(cfg Config, log *slog.Logger) *Sim {
	if log == nil {
		log = slog.Default()
	}
	return &Sim{
		cfg:       cfg,
		cash:      cfg.Cash,
		log:       log,
		positions: make(map[string]*position),
	}
}

// Submit accepts an order intent synchronously and returns the tracked
// handle. Structural validation happens here; anything that depends on
// prices (cash sufficiency, touches) is resolved on later bars.
func (s *Sim) Submit(o model.Order) *model.Order {
	o.ID = uuid.NewString()
	o.Status = model.StatusSubmitted
	tracked := &o

	if o.Size <= 0 {
		s.reject(tracked, "size must be positive")
		return tracked
	}
	if (o.Type == model.OrderLimit || o.Type == model.OrderStop) && o.Price <= 0 {
		s.reject(tracked, "limit/stop orders need a positive price")
		return tracked
	}

	tracked.Status = model.StatusAccepted
	s.pending = append(s.pending, tracked)
	s.notifyOrder(tracked)
	return tracked
}

// Cancel removes a pending order by ID.
func (s *Sim) Cancel(id string) {
	for i, o := range s.pending {
		if o.ID == id {
			o.Status = model.StatusCancelled
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			s.notifyOrder(o)
			return
		}
	}
}

// ProcessBar resolves pending orders for symbol against a freshly
// opened bar. The engine calls it before strategy callbacks, so fills
// land on the bar after the emitting one.
func (s *Sim) ProcessBar(symbol string, bar model.Bar, barIdx int) {
	remaining := s.pending[:0]
	for _, o := range s.pending {
		if o.Symbol != symbol {
			remaining = append(remaining, o)
			continue
		}
		price, touched := fillPrice(o, bar)
		if !touched {
			remaining = append(remaining, o)
			continue
		}
		if o.Type == model.OrderMarket {
			price = s.slip(price, o.Side)
		}
		s.fill(o, price, bar.TS, barIdx)
	}
	s.pending = remaining
}

// fillPrice applies the deterministic touch rules: market orders fill
// at the open; limit/stop orders fill at the better of their price and
// the open when the bar's range touches them (gaps fill at the open).
func fillPrice(o *model.Order, bar model.Bar) (float64, bool) {
	switch o.Type {
	case model.OrderMarket:
		return bar.Open, true
	case model.OrderLimit:
		if o.Side == model.SideBuy {
			if bar.Low <= o.Price {
				if bar.Open <= o.Price {
					return bar.Open, true
				}
				return o.Price, true
			}
		} else {
			if bar.High >= o.Price {
				if bar.Open >= o.Price {
					return bar.Open, true
				}
				return o.Price, true
			}
		}
	case model.OrderStop:
		if o.Side == model.SideBuy {
			if bar.High >= o.Price {
				if bar.Open >= o.Price {
					return bar.Open, true
				}
				return o.Price, true
			}
		} else {
			if bar.Low <= o.Price {
				if bar.Open <= o.Price {
					return bar.Open, true
				}
				return o.Price, true
			}
		}
	}
	return 0, false
}

// slip worsens a market fill by the configured basis points.
func (s *Sim) slip(price float64, side model.Side) float64 {
	if s.cfg.SlippageBps == 0 {
		return price
	}
	adj := price * float64(s.cfg.SlippageBps) / 10_000
	if side == model.SideBuy {
		return price + adj
	}
	return price - adj
}

func (s *Sim) commission(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(s.cfg.CommissionRate).Add(s.cfg.CommissionFixed)
}

// fill applies a resolved fill to cash and positions and queues the
// resulting notifications.
func (s *Sim) fill(o *model.Order, price float64, ts time.Time, barIdx int) {
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(o.Size))
	comm := s.commission(notional)

	if o.Side == model.SideBuy {
		cost := notional.Add(comm)
		// Buys that increase exposure must be funded; reducing a short
		// releases margin and is always allowed here.
		pos := s.positions[o.Symbol]
		increasing := pos == nil || pos.size >= 0
		if increasing && cost.GreaterThan(s.cash) {
			s.reject(o, "insufficient cash")
			return
		}
		s.cash = s.cash.Sub(cost)
	} else {
		s.cash = s.cash.Add(notional).Sub(comm)
	}

	o.Status = model.StatusFilled
	o.FillPrice = price
	o.FillTS = ts
	s.applyPosition(o, price, comm, ts, barIdx)
	s.notifyOrder(o)

	s.log.Debug("fill",
		slog.String("order", o.ID),
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.Float64("size", o.Size),
		slog.Float64("price", price))
}

// applyPosition updates the instrument's position, realizing PnL on
// reductions and emitting a TradeClosed notification when it goes flat.
func (s *Sim) applyPosition(o *model.Order, price float64, comm decimal.Decimal, ts time.Time, barIdx int) {
	signed := o.Size
	if o.Side == model.SideSell {
		signed = -o.Size
	}

	pos := s.positions[o.Symbol]
	if pos == nil || pos.size == 0 {
		s.positions[o.Symbol] = &position{
			size: signed, peak: signed, avgPrice: price, entryTS: ts, entryBar: barIdx,
			realized: decimal.Zero, commission: comm,
		}
		return
	}
	pos.commission = pos.commission.Add(comm)

	sameDir := (pos.size > 0) == (signed > 0)
	if sameDir {
		// Scale in: volume-weighted average entry.
		total := pos.size + signed
		pos.avgPrice = (pos.avgPrice*pos.size + price*signed) / total
		pos.size = total
		if abs(total) > abs(pos.peak) {
			pos.peak = total
		}
		return
	}

	closed := min(abs(signed), abs(pos.size))
	direction := 1.0
	if pos.size < 0 {
		direction = -1
	}
	pnl := decimal.NewFromFloat((price - pos.avgPrice) * closed * direction)
	pos.realized = pos.realized.Add(pnl)
	pos.size += signed

	if pos.size == 0 {
		s.closeTrade(o.Symbol, pos, price, ts, barIdx)
		delete(s.positions, o.Symbol)
		return
	}
	if (pos.size > 0) != (direction > 0) {
		// Flipped: the old trade closed and the remainder opens anew.
		flipped := *pos
		flipped.size = 0
		s.closeTrade(o.Symbol, &flipped, price, ts, barIdx)
		s.positions[o.Symbol] = &position{
			size: pos.size, peak: pos.size, avgPrice: price, entryTS: ts, entryBar: barIdx,
			realized: decimal.Zero, commission: decimal.Zero,
		}
	}
}

func (s *Sim) closeTrade(symbol string, pos *position, exit float64, ts time.Time, barIdx int) {
	side := model.SideBuy
	if pos.short() {
		side = model.SideSell
	}
	tr := model.Trade{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Size:       abs(pos.peak),
		EntryPrice: pos.avgPrice,
		ExitPrice:  exit,
		EntryTS:    pos.entryTS,
		ExitTS:     ts,
		PnL:        pos.realized.Sub(pos.commission),
		Commission: pos.commission,
		BarsHeld:   barIdx - pos.entryBar,
	}
	s.trades = append(s.trades, tr)
	s.queued = append(s.queued, model.Notification{Type: model.NotifyTradeClosed, Trade: &tr})
}

func (s *Sim) reject(o *model.Order, reason string) {
	o.Status = model.StatusRejected
	o.Reason = reason
	s.notifyOrder(o)
	s.log.Debug("order rejected", slog.String("order", o.ID), slog.String("reason", reason))
}

func (s *Sim) notifyOrder(o *model.Order) {
	cp := *o
	s.queued = append(s.queued, model.Notification{Type: model.NotifyOrderStatus, Order: &cp})
}

// Drain returns the queued notifications in emission order and clears
// the queue. The engine drains once per bar, before strategy callbacks.
func (s *Sim) Drain() []model.Notification {
	out := s.queued
	s.queued = nil
	return out
}

// MarkToMarket appends an equity sample: cash plus open positions at
// the given last prices.
func (s *Sim) MarkToMarket(ts time.Time, last map[string]float64) {
	eq := s.cash
	for sym, pos := range s.positions {
		if px, ok := last[sym]; ok {
			eq = eq.Add(decimal.NewFromFloat(px * pos.size))
		}
	}
	s.equity = append(s.equity, model.EquityPoint{TS: ts, Equity: eq, Cash: s.cash})
}

// PositionSize returns the signed open size for a symbol (0 = flat).
func (s *Sim) PositionSize(symbol string) float64 {
	if p, ok := s.positions[symbol]; ok {
		return p.size
	}
	return 0
}

// Cash returns current cash.
func (s *Sim) Cash() decimal.Decimal { return s.cash }

// Trades returns all closed round trips, oldest first.
func (s *Sim) Trades() []model.Trade { return s.trades }

// Equity returns the mark-to-market curve.
func (s *Sim) Equity() []model.EquityPoint { return s.equity }

// PendingCount returns the number of unresolved orders.
func (s *Sim) PendingCount() int { return len(s.pending) }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
