// Package arrowio reads and writes bar batches as Apache Arrow IPC
// files: the interchange format for shipping ranges between the engine
// and external analysis tooling.
package arrowio

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"backtest-enginev1/internal/feed"
	"backtest-enginev1/internal/model"
)

// barSchema is the on-wire column layout.
var barSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "ts_ms", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	{Name: "open_interest", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// Write serializes bars as one Arrow IPC record batch.
func Write(w io.WriteSeeker, bars []model.Bar) error {
	pool := memory.NewGoAllocator()

	symbolB := array.NewStringBuilder(pool)
	tsB := array.NewUint64Builder(pool)
	openB := array.NewFloat64Builder(pool)
	highB := array.NewFloat64Builder(pool)
	lowB := array.NewFloat64Builder(pool)
	closeB := array.NewFloat64Builder(pool)
	volumeB := array.NewFloat64Builder(pool)
	oiB := array.NewFloat64Builder(pool)

	for _, b := range bars {
		symbolB.Append(b.Symbol)
		tsB.Append(uint64(b.TS.UnixMilli()))
		openB.Append(b.Open)
		highB.Append(b.High)
		lowB.Append(b.Low)
		closeB.Append(b.Close)
		volumeB.Append(b.Volume)
		oiB.Append(b.OpenInterest)
	}

	cols := []arrow.Array{
		symbolB.NewStringArray(),
		tsB.NewUint64Array(),
		openB.NewFloat64Array(),
		highB.NewFloat64Array(),
		lowB.NewFloat64Array(),
		closeB.NewFloat64Array(),
		volumeB.NewFloat64Array(),
		oiB.NewFloat64Array(),
	}
	record := array.NewRecord(barSchema, cols, int64(len(bars)))
	defer record.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(barSchema), ipc.WithAllocator(pool))
	if err != nil {
		return fmt.Errorf("arrow writer: %w", err)
	}
	if err := fw.Write(record); err != nil {
		fw.Close()
		return fmt.Errorf("arrow write record: %w", err)
	}
	return fw.Close()
}

// WriteFile serializes bars to an Arrow IPC file on disk.
func WriteFile(path string, bars []model.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, bars); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read deserializes every record batch into bars, in file order.
func Read(r ipc.ReadAtSeeker) ([]model.Bar, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithSchema(barSchema))
	if err != nil {
		return nil, fmt.Errorf("arrow reader: %w", err)
	}
	defer fr.Close()

	var bars []model.Bar
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("arrow record %d: %w", i, err)
		}
		symbols := rec.Column(0).(*array.String)
		tss := rec.Column(1).(*array.Uint64)
		opens := rec.Column(2).(*array.Float64)
		highs := rec.Column(3).(*array.Float64)
		lows := rec.Column(4).(*array.Float64)
		closes := rec.Column(5).(*array.Float64)
		volumes := rec.Column(6).(*array.Float64)
		ois := rec.Column(7).(*array.Float64)

		for j := 0; j < int(rec.NumRows()); j++ {
			bars = append(bars, model.Bar{
				Symbol:       symbols.Value(j),
				TS:           time.UnixMilli(int64(tss.Value(j))).UTC(),
				Open:         opens.Value(j),
				High:         highs.Value(j),
				Low:          lows.Value(j),
				Close:        closes.Value(j),
				Volume:       volumes.Value(j),
				OpenInterest: ois.Value(j),
			})
		}
	}
	return bars, nil
}

// ReadFile deserializes an Arrow IPC bar file.
func ReadFile(path string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Feed returns a lazily loading feed over an Arrow IPC file.
func Feed(path, symbol string, tf model.Timeframe) *feed.Loader {
	return feed.NewLoader("arrow:"+path, symbol, tf, func() ([]model.Bar, error) {
		return ReadFile(path)
	})
}
