package model

import (
	"fmt"
	"time"
)

// TFUnit is the calendar unit a timeframe is expressed in.
type TFUnit int

const (
	UnitSecond TFUnit = iota
	UnitMinute
	UnitDay
	UnitWeek
	UnitMonth
)

// Timeframe is a bar cadence: N units (e.g. {UnitMinute, 5} = 5m bars).
// Week buckets follow the ISO calendar (Monday start), month buckets the
// civil calendar; both are irregular, so bucketing is calendar math, not
// a fixed modulo.
type Timeframe struct {
	Unit TFUnit
	N    int
}

// Common timeframes.
var (
	TFMinute = Timeframe{UnitMinute, 1}
	TFDaily  = Timeframe{UnitDay, 1}
	TFWeekly = Timeframe{UnitWeek, 1}
)

// String returns a short form like "5m", "1d", "1w".
func (tf Timeframe) String() string {
	suffix := map[TFUnit]string{
		UnitSecond: "s", UnitMinute: "m", UnitDay: "d", UnitWeek: "w", UnitMonth: "M",
	}[tf.Unit]
	return fmt.Sprintf("%d%s", tf.N, suffix)
}

// ParseTimeframe parses the short form: "5m", "1d", "2w", "30s", "1M".
func ParseTimeframe(s string) (Timeframe, error) {
	if len(s) < 2 {
		return Timeframe{}, fmt.Errorf("timeframe: bad format %q", s)
	}
	unit, ok := map[byte]TFUnit{
		's': UnitSecond, 'm': UnitMinute, 'd': UnitDay, 'w': UnitWeek, 'M': UnitMonth,
	}[s[len(s)-1]]
	if !ok {
		return Timeframe{}, fmt.Errorf("timeframe: unknown unit in %q", s)
	}
	n := 0
	for _, ch := range s[:len(s)-1] {
		if ch < '0' || ch > '9' {
			return Timeframe{}, fmt.Errorf("timeframe: bad count in %q", s)
		}
		n = n*10 + int(ch-'0')
	}
	if n <= 0 {
		return Timeframe{}, fmt.Errorf("timeframe: count must be positive in %q", s)
	}
	return Timeframe{Unit: unit, N: n}, nil
}

// Bucket returns the opening time of the bucket containing ts.
// All math is in UTC.
func (tf Timeframe) Bucket(ts time.Time) time.Time {
	ts = ts.UTC()
	n := tf.N
	if n <= 0 {
		n = 1
	}
	switch tf.Unit {
	case UnitSecond:
		return ts.Truncate(time.Duration(n) * time.Second)
	case UnitMinute:
		return ts.Truncate(time.Duration(n) * time.Minute)
	case UnitDay:
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		if n == 1 {
			return day
		}
		// Align multi-day buckets to the Unix epoch day count.
		days := int(day.Unix() / 86400)
		aligned := days - days%n
		return time.Unix(int64(aligned)*86400, 0).UTC()
	case UnitWeek:
		// ISO week: bucket starts on Monday 00:00 UTC.
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		wd := int(day.Weekday()) // Sunday=0
		back := (wd + 6) % 7     // days since Monday
		monday := day.AddDate(0, 0, -back)
		if n == 1 {
			return monday
		}
		// Align multi-week buckets to ISO week numbers within the ISO year.
		_, week := monday.ISOWeek()
		off := (week - 1) % n
		return monday.AddDate(0, 0, -7*off)
	case UnitMonth:
		month := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
		if n == 1 {
			return month
		}
		m := int(month.Month()) - 1
		return time.Date(month.Year(), time.Month(m-m%n+1), 1, 0, 0, 0, 0, time.UTC)
	default:
		return ts
	}
}

// SameBucket reports whether a and b fall in the same bucket.
func (tf Timeframe) SameBucket(a, b time.Time) bool {
	return tf.Bucket(a).Equal(tf.Bucket(b))
}
