package line

import (
	"errors"
	"math"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Cursor addressing
// ────────────────────────────────────────────────────────────

func TestBuffer_AppendAndCursor(t *testing.T) {
	b := NewBuffer("close")

	if b.Cursor() != -1 {
		t.Fatalf("fresh buffer cursor = %d, want -1", b.Cursor())
	}
	if b.Len() != 0 {
		t.Fatalf("fresh buffer len = %d, want 0", b.Len())
	}

	b.Append(10)
	b.Append(11)
	b.Append(12)

	if b.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2", b.Cursor())
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}
}

func TestBuffer_RelativeGet(t *testing.T) {
	b := NewBuffer("close")
	for _, v := range []float64{10, 11, 12, 13} {
		b.Append(v)
	}

	cases := []struct {
		rel  int
		want float64
	}{
		{0, 13},
		{-1, 12},
		{-3, 10},
	}
	for _, tc := range cases {
		got, err := b.Get(tc.rel)
		if err != nil {
			t.Fatalf("Get(%d): %v", tc.rel, err)
		}
		if got != tc.want {
			t.Errorf("Get(%d) = %v, want %v", tc.rel, got, tc.want)
		}
	}
}

func TestBuffer_GetOutOfRange(t *testing.T) {
	b := NewBuffer("close")
	b.Append(10)
	b.Append(11)

	_, err := b.Get(-5)
	var re *RangeError
	if !errors.As(err, &re) {
		t.Fatalf("Get(-5) error = %v, want RangeError", err)
	}
	if re.Line != "close" || re.Rel != -5 || re.Cursor != 1 {
		t.Errorf("RangeError = %+v, want line=close rel=-5 cursor=1", re)
	}
}

func TestBuffer_SetRelative(t *testing.T) {
	b := NewBuffer("out")
	b.Append(1)
	b.Append(2)

	if err := b.Set(0, 99); err != nil {
		t.Fatalf("Set(0): %v", err)
	}
	got, _ := b.Get(0)
	if got != 99 {
		t.Fatalf("after Set(0, 99): Get(0) = %v", got)
	}
	if err := b.Set(1, 0); err == nil {
		t.Fatal("Set(1) past cursor should fail")
	}
}

// ────────────────────────────────────────────────────────────
// Cursor movement
// ────────────────────────────────────────────────────────────

func TestBuffer_AdvanceRewindBounds(t *testing.T) {
	b := NewBuffer("x")
	b.Extend(3) // three NaN slots, cursor still -1

	if err := b.Advance(2); err != nil {
		t.Fatalf("Advance(2): %v", err)
	}
	if b.Cursor() != 1 {
		t.Fatalf("cursor = %d, want 1", b.Cursor())
	}
	if err := b.Advance(5); err == nil {
		t.Fatal("Advance past end should fail")
	}
	if err := b.Rewind(1); err != nil {
		t.Fatalf("Rewind(1): %v", err)
	}
	if b.Cursor() != 0 {
		t.Fatalf("cursor = %d, want 0", b.Cursor())
	}
	if err := b.Rewind(5); err == nil {
		t.Fatal("Rewind past start should fail")
	}
}

func TestBuffer_ForwardAppendsNaN(t *testing.T) {
	b := NewBuffer("x")
	b.Forward()
	if b.Cursor() != 0 || b.Len() != 1 {
		t.Fatalf("cursor=%d len=%d, want 0/1", b.Cursor(), b.Len())
	}
	v, _ := b.Get(0)
	if !math.IsNaN(v) {
		t.Fatalf("forwarded slot = %v, want NaN", v)
	}
}

func TestBuffer_Home(t *testing.T) {
	b := NewBuffer("x")
	b.Append(1)
	b.Append(2)
	b.Home()
	if b.Cursor() != -1 {
		t.Fatalf("cursor after Home = %d, want -1", b.Cursor())
	}
	if b.Len() != 2 {
		t.Fatalf("Home must not drop data: len = %d", b.Len())
	}
}

// ────────────────────────────────────────────────────────────
// Windows and logical indices
// ────────────────────────────────────────────────────────────

func TestBuffer_Window(t *testing.T) {
	b := NewBuffer("x")
	for _, v := range []float64{1, 2, 3, 4, 5} {
		b.Append(v)
	}
	win, err := b.Window(4, 3) // bars 2,3,4
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	want := []float64{3, 4, 5}
	for i := range want {
		if win[i] != want[i] {
			t.Fatalf("window[%d] = %v, want %v", i, win[i], want[i])
		}
	}
	if _, err := b.Window(1, 3); err == nil {
		t.Fatal("window reaching before start should fail")
	}
}

// ────────────────────────────────────────────────────────────
// Trimming
// ────────────────────────────────────────────────────────────

func TestBuffer_TrimPreservesLogicalIndices(t *testing.T) {
	b := NewBuffer("x")
	for i := 0; i < 100; i++ {
		b.Append(float64(i))
	}
	b.SetKeep(10)
	if freed := b.Trim(); freed != 89 {
		t.Fatalf("Trim freed %d slots, want 89", freed)
	}

	if b.Len() != 100 {
		t.Fatalf("logical len after trim = %d, want 100", b.Len())
	}
	if b.Cursor() != 99 {
		t.Fatalf("cursor after trim = %d, want 99", b.Cursor())
	}

	// Everything inside the window stays addressable at the same index.
	v, err := b.At(95)
	if err != nil {
		t.Fatalf("At(95): %v", err)
	}
	if v != 95 {
		t.Fatalf("At(95) = %v, want 95", v)
	}

	// Reads below the window are faults, not silent NaNs.
	_, err = b.At(10)
	var re *RangeError
	if !errors.As(err, &re) {
		t.Fatalf("At(10) after trim error = %v, want RangeError", err)
	}
	if re.First <= 10 {
		t.Errorf("RangeError.First = %d, want > 10", re.First)
	}
}

func TestBuffer_TrimUnboundedKeepsEverything(t *testing.T) {
	b := NewBuffer("x")
	for i := 0; i < 50; i++ {
		b.Append(float64(i))
	}
	if freed := b.Trim(); freed != 0 { // keep unset: unbounded
		t.Fatalf("unbounded Trim freed %d slots, want 0", freed)
	}
	if b.First() != 0 {
		t.Fatalf("First after unbounded trim = %d, want 0", b.First())
	}
}

func TestBuffer_TrimThenAppendContinues(t *testing.T) {
	b := NewBuffer("x")
	for i := 0; i < 30; i++ {
		b.Append(float64(i))
	}
	b.SetKeep(5)
	b.Trim()
	b.Append(30)

	if b.Cursor() != 30 {
		t.Fatalf("cursor = %d, want 30", b.Cursor())
	}
	v, err := b.Get(0)
	if err != nil || v != 30 {
		t.Fatalf("Get(0) = %v, %v; want 30", v, err)
	}
	// A lookback inside the kept window still works.
	v, err = b.Get(-5)
	if err != nil || v != 25 {
		t.Fatalf("Get(-5) = %v, %v; want 25", v, err)
	}
}
