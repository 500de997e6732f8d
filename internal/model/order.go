package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects the fill rule for an order.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderStop   OrderType = "STOP"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusAccepted  OrderStatus = "ACCEPTED"
	StatusFilled    OrderStatus = "FILLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Order is an order intent emitted by a strategy and tracked by the
// broker simulator. Price is the limit price (limit orders) or trigger
// price (stop orders); zero for market orders.
type Order struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Type      OrderType   `json:"type"`
	Size      float64     `json:"size"`
	Price     float64     `json:"price"`
	Status    OrderStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"` // rejection reason
	FillPrice float64     `json:"fill_price"`
	FillTS    time.Time   `json:"fill_ts"`
	CreatedAt time.Time   `json:"created_at"`
}

// Trade is one round trip: position opened and fully closed.
type Trade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"` // side of the opening order
	Size       float64         `json:"size"`
	EntryPrice float64         `json:"entry_price"`
	ExitPrice  float64         `json:"exit_price"`
	EntryTS    time.Time       `json:"entry_ts"`
	ExitTS     time.Time       `json:"exit_ts"`
	PnL        decimal.Decimal `json:"pnl"`
	Commission decimal.Decimal `json:"commission"`
	BarsHeld   int             `json:"bars_held"`
}

// NotificationType discriminates broker notifications.
type NotificationType string

const (
	NotifyOrderStatus NotificationType = "ORDER_STATUS"
	NotifyTradeClosed NotificationType = "TRADE_CLOSED"
)

// Notification is the broker's asynchronous message back to a strategy.
// Rejections travel here as data; they are never faults.
type Notification struct {
	Type  NotificationType `json:"type"`
	Order *Order           `json:"order,omitempty"`
	Trade *Trade           `json:"trade,omitempty"`
}

// EquityPoint is one mark-to-market sample of account value.
type EquityPoint struct {
	TS     time.Time       `json:"ts"`
	Equity decimal.Decimal `json:"equity"`
	Cash   decimal.Decimal `json:"cash"`
}
