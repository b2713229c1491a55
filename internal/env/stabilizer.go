// internal/env/stabilizer.go
package env

import (
	"context"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StabilityOptions configures the stabilization protocol.
type StabilityOptions struct {
	// Threshold is the number of consecutive samples that must match the baseline.
	Threshold int
	// PollInterval is the pause between samples.
	PollInterval time.Duration
	// Timeout bounds the total time spent sleeping between samples.
	Timeout time.Duration
}

// DefaultStabilityOptions returns three matches, 500ms apart, within six seconds.
func DefaultStabilityOptions() StabilityOptions {
	return StabilityOptions{
		Threshold:    3,
		PollInterval: 500 * time.Millisecond,
		Timeout:      6 * time.Second,
	}
}

// withDefaults replaces fields that would stall the protocol or skip its
// comparison with their defaults. A zero Timeout is kept and disables polling.
func (o StabilityOptions) withDefaults() StabilityOptions {
	def := DefaultStabilityOptions()
	if o.Threshold < 1 {
		o.Threshold = def.Threshold
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.Timeout < 0 {
		o.Timeout = def.Timeout
	}
	return o
}

// StabilityResult is the outcome of a stabilization run. Snapshot is always the
// last observation taken; Stable tells whether the threshold was reached or the
// run gave up at the timeout.
type StabilityResult struct {
	Snapshot *Snapshot
	Stable   bool
	// Samples counts acquisitions, including the baseline when one was taken.
	Samples int
	// Elapsed is the accumulated poll interval. Acquisition latency is not included.
	Elapsed time.Duration
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext is the production SleepFunc.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type acquireFunc func(ctx context.Context) (*Snapshot, error)

// stabilizer polls snapshots until the element list stops changing.
type stabilizer struct {
	opts   StabilityOptions
	sleep  SleepFunc
	logger *zap.Logger
}

// run executes the protocol. baseline may be nil, in which case one is
// acquired first. It returns the result and the baseline to keep for the next run.
func (st *stabilizer) run(ctx context.Context, baseline *Snapshot, acquire acquireFunc) (StabilityResult, *Snapshot, error) {
	var res StabilityResult
	opts := st.opts.withDefaults()

	if baseline == nil {
		b, err := acquire(ctx)
		if err != nil {
			return res, nil, err
		}
		res.Samples++
		baseline = b
	}

	current, err := acquire(ctx)
	if err != nil {
		return res, baseline, err
	}
	res.Samples++

	matches := 0
	for matches < opts.Threshold && res.Elapsed < opts.Timeout {
		if baseline.SameElements(current) {
			matches++
			st.logger.Debug("UI sample matches baseline",
				zap.Int("matches", matches),
				zap.Int("threshold", opts.Threshold))
			if matches == opts.Threshold {
				break
			}
		} else {
			matches = 0
			st.logChange(baseline, current)
			// Chase the moving target rather than comparing against a stale baseline.
			baseline = current
		}

		if err := st.sleep(ctx, opts.PollInterval); err != nil {
			return res, baseline, err
		}
		res.Elapsed += opts.PollInterval

		current, err = acquire(ctx)
		if err != nil {
			return res, baseline, err
		}
		res.Samples++
	}

	res.Snapshot = current
	res.Stable = matches >= opts.Threshold
	return res, baseline, nil
}

func (st *stabilizer) logChange(baseline, current *Snapshot) {
	ce := st.logger.Check(zapcore.DebugLevel, "UI changed, resetting stability baseline")
	if ce == nil {
		return
	}
	ce.Write(
		zap.Int("previous_elements", baseline.NumElements()),
		zap.Int("current_elements", current.NumElements()),
		zap.String("diff", cmp.Diff(baseline.elements, current.elements)),
	)
}
