package feed

import (
	"errors"
	"strings"
	"testing"
	"time"

	"backtest-enginev1/internal/model"
)

func minuteFines(t *testing.T, n int) []model.Bar {
	t.Helper()
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	out := make([]model.Bar, n)
	for i := range out {
		c := float64(i + 1)
		out[i] = model.Bar{
			Symbol: "TEST", TS: base.Add(time.Duration(i) * time.Minute),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1,
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Slice and Loader
// ────────────────────────────────────────────────────────────

func TestSlice_NextAndExhaustion(t *testing.T) {
	bars := minuteFines(t, 2)
	s := NewSlice("mem", "TEST", model.TFMinute, bars)

	for i := 0; i < 2; i++ {
		b, isNew, err := s.Next()
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if !isNew {
			t.Errorf("plain feed bar %d flagged as update", i)
		}
		if b.Close != bars[i].Close {
			t.Errorf("bar %d close = %v, want %v", i, b.Close, bars[i].Close)
		}
	}
	if _, _, err := s.Next(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("after last bar: err = %v, want ErrExhausted", err)
	}
	// Exhaustion is sticky.
	if _, _, err := s.Next(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("repeated Next: err = %v, want ErrExhausted", err)
	}
}

func TestLoader_LoadsOnce(t *testing.T) {
	loads := 0
	l := NewLoader("lazy", "TEST", model.TFMinute, func() ([]model.Bar, error) {
		loads++
		return minuteFines(t, 3), nil
	})

	if _, _, err := l.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if loads != 1 {
		t.Fatalf("load ran %d times, want 1", loads)
	}
}

func TestLoader_WrapsLoadError(t *testing.T) {
	boom := errors.New("disk gone")
	l := NewLoader("lazy", "TEST", model.TFMinute, func() ([]model.Bar, error) {
		return nil, boom
	})
	if _, _, err := l.Next(); !errors.Is(err, boom) {
		t.Fatalf("Next err = %v, want wrapped load error", err)
	}
}

// ────────────────────────────────────────────────────────────
// CSV parsing
// ────────────────────────────────────────────────────────────

func TestParseCSV_HeaderAndFormats(t *testing.T) {
	in := strings.NewReader(
		"ts,open,high,low,close,volume\n" +
			"2024-01-02T09:30:00Z,10,11,9,10.5,100\n" +
			"1704188460,10.5,12,10,11,200,37\n") // Unix seconds + open interest
	bars, err := parseCSV(in, "TEST")
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].TS != time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC) {
		t.Errorf("bar 0 ts = %v", bars[0].TS)
	}
	if bars[0].Close != 10.5 || bars[0].Volume != 100 {
		t.Errorf("bar 0 = %+v", bars[0])
	}
	if bars[1].TS != time.Unix(1704188460, 0).UTC() {
		t.Errorf("bar 1 ts = %v", bars[1].TS)
	}
	if bars[1].OpenInterest != 37 {
		t.Errorf("bar 1 open interest = %v, want 37", bars[1].OpenInterest)
	}
	if bars[0].Symbol != "TEST" {
		t.Errorf("symbol = %q", bars[0].Symbol)
	}
}

func TestParseCSV_BadRowsFail(t *testing.T) {
	cases := map[string]string{
		"short row":     "2024-01-02T09:30:00Z,10,11,9\n",
		"bad timestamp": "1,2,3\nnot-a-time,10,11,9,10,100\n",
		"bad number":    "2024-01-02T09:30:00Z,10,x,9,10,100\n",
	}
	for name, in := range cases {
		if _, err := parseCSV(strings.NewReader(in), "TEST"); err == nil {
			t.Errorf("%s: parse succeeded, want error", name)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Resample
// ────────────────────────────────────────────────────────────

func TestResample_CompletedBarsAndFinalPartial(t *testing.T) {
	// Seven minute bars across two 5m buckets: 09:30 holds five fines,
	// 09:35 holds two and stays partial until exhaustion flushes it.
	fines := minuteFines(t, 7)
	r := NewResample(NewSlice("mem", "TEST", model.TFMinute, fines), model.Timeframe{Unit: model.UnitMinute, N: 5})

	b1, isNew, err := r.Next()
	if err != nil {
		t.Fatalf("Next #1: %v", err)
	}
	if !isNew {
		t.Error("completed coarse bar flagged as update")
	}
	if !b1.TS.Equal(time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("coarse bar 1 ts = %v, want bucket open", b1.TS)
	}
	// Open from the first fine, high/low across all five, close from the
	// last, volume summed.
	if b1.Open != 1 || b1.High != 6 || b1.Low != 0 || b1.Close != 5 || b1.Volume != 5 {
		t.Errorf("coarse bar 1 = %+v", b1)
	}

	b2, _, err := r.Next()
	if err != nil {
		t.Fatalf("Next #2 (partial flush): %v", err)
	}
	if !b2.TS.Equal(time.Date(2024, 1, 2, 9, 35, 0, 0, time.UTC)) {
		t.Errorf("coarse bar 2 ts = %v", b2.TS)
	}
	if b2.Open != 6 || b2.Close != 7 || b2.Volume != 2 {
		t.Errorf("final partial = %+v", b2)
	}

	if _, _, err := r.Next(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("after flush: err = %v, want ErrExhausted", err)
	}
}

func TestResample_LoadAllMatchesIncremental(t *testing.T) {
	fines := minuteFines(t, 13)
	tf := model.Timeframe{Unit: model.UnitMinute, N: 5}

	bulk, err := NewResample(NewSlice("mem", "TEST", model.TFMinute, fines), tf).LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	inc := NewResample(NewSlice("mem", "TEST", model.TFMinute, fines), tf)
	var stepped []model.Bar
	for {
		b, _, err := inc.Next()
		if errors.Is(err, ErrExhausted) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		stepped = append(stepped, b)
	}

	if len(bulk) != len(stepped) {
		t.Fatalf("bulk %d bars, incremental %d", len(bulk), len(stepped))
	}
	for i := range bulk {
		if bulk[i] != stepped[i] {
			t.Errorf("bar %d: bulk %+v != incremental %+v", i, bulk[i], stepped[i])
		}
	}
}

// ────────────────────────────────────────────────────────────
// Replay
// ────────────────────────────────────────────────────────────

func TestReplay_UpdateFlags(t *testing.T) {
	fines := minuteFines(t, 7)
	r := NewReplay(NewSlice("mem", "TEST", model.TFMinute, fines), model.Timeframe{Unit: model.UnitMinute, N: 5})

	// new-bar flags: the first fine opens the bucket, the next four
	// rewrite it, the sixth crosses into 09:35.
	wantNew := []bool{true, false, false, false, false, true, false}
	var last model.Bar
	for i, want := range wantNew {
		b, isNew, err := r.Next()
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if isNew != want {
			t.Errorf("fine %d: newBar = %v, want %v", i, isNew, want)
		}
		last = b
	}

	// After all seven fines the forming bar matches the resampled partial.
	if !last.TS.Equal(time.Date(2024, 1, 2, 9, 35, 0, 0, time.UTC)) {
		t.Errorf("forming ts = %v", last.TS)
	}
	if last.Open != 6 || last.Close != 7 || last.Volume != 2 {
		t.Errorf("forming bar = %+v", last)
	}

	if _, _, err := r.Next(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestReplay_DailyToWeeklyAppendsPerISOWeek(t *testing.T) {
	// Fourteen daily bars from Wednesday 2024-01-03 span three ISO
	// weeks. Each week spanned appends exactly one weekly bar; days
	// inside a week rewrite it in place. The Sunday Jan 7 to Monday
	// Jan 8 step must open a new weekly bar.
	start := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	days := make([]model.Bar, 14)
	for i := range days {
		c := float64(i + 1)
		days[i] = model.Bar{
			Symbol: "TEST", TS: start.AddDate(0, 0, i),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1,
		}
	}
	r := NewReplay(NewSlice("mem", "TEST", model.TFDaily, days), model.TFWeekly)

	weekOpens := map[int]time.Time{
		0:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),  // Wed joins the Jan 1 week
		5:  time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),  // Sunday -> Monday crossing
		12: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), // third ISO week
	}
	appended := 0
	for i := range days {
		b, isNew, err := r.Next()
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		open, boundary := weekOpens[i]
		if isNew != boundary {
			t.Errorf("day %d: newBar = %v, want %v", i, isNew, boundary)
		}
		if isNew {
			appended++
			if !b.TS.Equal(open) {
				t.Errorf("day %d: weekly bucket = %v, want %v", i, b.TS, open)
			}
		}
		// In-week updates rewrite the forming bar in place.
		if b.Close != days[i].Close {
			t.Errorf("day %d: forming close = %v, want %v", i, b.Close, days[i].Close)
		}
		if i == 4 && b.Volume != 5 { // Sunday closes the first week's five days
			t.Errorf("day %d: forming volume = %v, want 5", i, b.Volume)
		}
		if i == 11 && b.Volume != 7 { // a full Monday-to-Sunday week
			t.Errorf("day %d: forming volume = %v, want 7", i, b.Volume)
		}
	}
	if appended != 3 {
		t.Errorf("weekly bars appended = %d, want 3 (ISO weeks spanned)", appended)
	}
	if _, _, err := r.Next(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestReplay_FormingBarAccumulates(t *testing.T) {
	fines := minuteFines(t, 3)
	r := NewReplay(NewSlice("mem", "TEST", model.TFMinute, fines), model.Timeframe{Unit: model.UnitMinute, N: 5})

	var closes []float64
	var volumes []float64
	for i := 0; i < 3; i++ {
		b, _, err := r.Next()
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		closes = append(closes, b.Close)
		volumes = append(volumes, b.Volume)
	}
	for i, want := range []float64{1, 2, 3} {
		if closes[i] != want {
			t.Errorf("forming close after fine %d = %v, want %v", i, closes[i], want)
		}
	}
	for i, want := range []float64{1, 2, 3} {
		if volumes[i] != want {
			t.Errorf("forming volume after fine %d = %v, want %v", i, volumes[i], want)
		}
	}
}
