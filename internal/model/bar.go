// Package model defines the shared value types of the replay engine:
// bars, timeframes, orders, trades, and broker notifications.
package model

import (
	"encoding/json"
	"time"
)

// Bar represents one timestamped OHLCV sample of a data stream.
// TS is the bar's opening time (UTC).
type Bar struct {
	Symbol       string    `json:"symbol"`
	TS           time.Time `json:"ts"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	OpenInterest float64   `json:"open_interest"`
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	buf, _ := json.Marshal(b)
	return buf
}

// Merge folds a finer bar into this bar, keeping this bar's open and
// extending high/low/close/volume. Used by resamplers building a coarse
// bar out of fine ones.
func (b *Bar) Merge(fine Bar) {
	if fine.High > b.High {
		b.High = fine.High
	}
	if fine.Low < b.Low {
		b.Low = fine.Low
	}
	b.Close = fine.Close
	b.Volume += fine.Volume
	b.OpenInterest = fine.OpenInterest
}
