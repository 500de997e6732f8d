// Package event carries run-progress events from the engine goroutine
// to observers (the websocket gateway, the Redis publisher) over a
// lock-free single-producer single-consumer ring. The engine never
// blocks on a slow observer: full rings drop and count.
package event

import (
	"time"
)

// Kind classifies a run event.
type Kind string

const (
	KindRunStarted  Kind = "run_started"
	KindBar         Kind = "bar"
	KindFirstValid  Kind = "first_valid"
	KindOrder       Kind = "order"
	KindTrade       Kind = "trade"
	KindRunStopped  Kind = "run_stopped"
	KindRunFinished Kind = "run_finished"
)

// Event is one observable moment of a run.
type Event struct {
	Kind   Kind      `json:"kind"`
	TS     time.Time `json:"ts"`
	Bar    int       `json:"bar"`
	Symbol string    `json:"symbol,omitempty"`
	Detail string    `json:"detail,omitempty"`
}
