package feed

import (
	"errors"
	"fmt"

	"backtest-enginev1/internal/model"
)

// bucketizer holds the forming coarse bar shared by the resample and
// replay wrappers. A fine bar either merges into the forming bar (same
// bucket) or closes it and opens a new one (boundary crossed).
type bucketizer struct {
	tf      model.Timeframe
	forming model.Bar
	started bool
}

// fold merges a fine bar and reports whether it crossed into a new
// bucket (the previous forming bar, if any, is complete).
func (bz *bucketizer) fold(fine model.Bar) (closed model.Bar, crossed bool) {
	bucket := bz.tf.Bucket(fine.TS)
	if bz.started && bucket.Equal(bz.forming.TS) {
		bz.forming.Merge(fine)
		return model.Bar{}, false
	}
	closed = bz.forming
	crossed = bz.started
	bz.forming = fine
	bz.forming.TS = bucket
	bz.started = true
	return closed, crossed
}

// Resample re-cadences an inner feed to a coarser timeframe, emitting
// only completed coarse bars (plus the final partial bar at
// exhaustion). Consumers never see a forming bar.
type Resample struct {
	inner Adapter
	bz    bucketizer
	done  bool
}

// NewResample wraps a finer feed into coarse, completed bars.
func NewResample(inner Adapter, tf model.Timeframe) *Resample {
	return &Resample{inner: inner, bz: bucketizer{tf: tf}}
}

func (r *Resample) Name() string               { return fmt.Sprintf("resample(%s,%s)", r.inner.Name(), r.bz.tf) }
func (r *Resample) Symbol() string             { return r.inner.Symbol() }
func (r *Resample) Timeframe() model.Timeframe { return r.bz.tf }

func (r *Resample) Next() (model.Bar, bool, error) {
	if r.done {
		return model.Bar{}, false, ErrExhausted
	}
	for {
		fine, _, err := r.inner.Next()
		if errors.Is(err, ErrExhausted) {
			r.done = true
			if r.bz.started {
				// Flush the final partial bar.
				return r.bz.forming, true, nil
			}
			return model.Bar{}, false, ErrExhausted
		}
		if err != nil {
			return model.Bar{}, false, err
		}
		if closed, crossed := r.bz.fold(fine); crossed {
			return closed, true, nil
		}
	}
}

func (r *Resample) LoadAll() ([]model.Bar, error) {
	fines, err := r.inner.LoadAll()
	if err != nil {
		return nil, err
	}
	return foldAll(r.bz.tf, fines), nil
}

// Replay re-cadences an inner feed to a coarser timeframe while keeping
// the fine cadence visible: each fine bar yields the updated forming
// coarse bar. The update-in-place flag is false within a bucket and
// true exactly when a period boundary opens a new coarse bar, so
// consumers see the same bar rewritten several times — the documented
// exception to the single-write-per-bar rule.
type Replay struct {
	inner Adapter
	bz    bucketizer
}

// NewReplay wraps a finer feed into forming coarse bars.
func NewReplay(inner Adapter, tf model.Timeframe) *Replay {
	return &Replay{inner: inner, bz: bucketizer{tf: tf}}
}

func (r *Replay) Name() string               { return fmt.Sprintf("replay(%s,%s)", r.inner.Name(), r.bz.tf) }
func (r *Replay) Symbol() string             { return r.inner.Symbol() }
func (r *Replay) Timeframe() model.Timeframe { return r.bz.tf }

func (r *Replay) Next() (model.Bar, bool, error) {
	fine, _, err := r.inner.Next()
	if err != nil {
		return model.Bar{}, false, err // ErrExhausted included
	}
	wasStarted := r.bz.started
	_, crossed := r.bz.fold(fine)
	newBar := !wasStarted || crossed
	return r.bz.forming, newBar, nil
}

func (r *Replay) LoadAll() ([]model.Bar, error) {
	fines, err := r.inner.LoadAll()
	if err != nil {
		return nil, err
	}
	return foldAll(r.bz.tf, fines), nil
}

// foldAll materializes completed coarse bars plus the final partial.
func foldAll(tf model.Timeframe, fines []model.Bar) []model.Bar {
	bz := bucketizer{tf: tf}
	var out []model.Bar
	for _, f := range fines {
		if closed, crossed := bz.fold(f); crossed {
			out = append(out, closed)
		}
	}
	if bz.started {
		out = append(out, bz.forming)
	}
	return out
}
