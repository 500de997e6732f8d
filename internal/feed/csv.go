package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"backtest-enginev1/internal/model"
)

// NewCSV creates a feed over a CSV file with columns
// ts,open,high,low,close,volume[,openinterest]. The timestamp column
// accepts RFC 3339 or Unix seconds. A header row is skipped when the
// first field does not parse as a timestamp.
func NewCSV(path, symbol string, tf model.Timeframe) *Loader {
	return NewLoader("csv:"+path, symbol, tf, func() ([]model.Bar, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return parseCSV(f, symbol)
	})
}

func parseCSV(r io.Reader, symbol string) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var bars []model.Bar
	row := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row++
		if len(rec) < 6 {
			return nil, fmt.Errorf("csv row %d: want at least 6 fields, got %d", row, len(rec))
		}
		ts, err := parseTS(rec[0])
		if err != nil {
			if row == 1 {
				continue // header
			}
			return nil, fmt.Errorf("csv row %d: bad timestamp %q: %w", row, rec[0], err)
		}
		b := model.Bar{Symbol: symbol, TS: ts}
		fields := []*float64{&b.Open, &b.High, &b.Low, &b.Close, &b.Volume}
		if len(rec) >= 7 {
			fields = append(fields, &b.OpenInterest)
		}
		for i, dst := range fields {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("csv row %d col %d: %w", row, i+2, err)
			}
			*dst = v
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseTS(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
