package main

import (
	"testing"
	"time"
)

func TestParseRange(t *testing.T) {
	start, end, err := parseRange("2024-01-02", "2024-02-01T09:30:00Z")
	if err != nil {
		t.Fatalf("parseRange: %v", err)
	}
	if !start.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("end = %v", end)
	}
}

func TestParseRange_Defaults(t *testing.T) {
	start, end, err := parseRange("", "")
	if err != nil {
		t.Fatalf("parseRange: %v", err)
	}
	if !start.IsZero() {
		t.Errorf("empty --from start = %v, want zero time", start)
	}
	if end.Before(time.Now().Add(-time.Minute)) {
		t.Errorf("empty --to end = %v, want roughly now", end)
	}
}

func TestParseRange_Faults(t *testing.T) {
	if _, _, err := parseRange("yesterday", ""); err == nil {
		t.Error("unparseable --from accepted")
	}
	if _, _, err := parseRange("", "2024-01-02T09:30"); err == nil {
		t.Error("unparseable --to accepted")
	}
	if _, _, err := parseRange("2024-02-01", "2024-01-01"); err == nil {
		t.Error("inverted range accepted")
	}
	if _, _, err := parseRange("2024-01-01", "2024-01-01"); err == nil {
		t.Error("empty range accepted")
	}
}
