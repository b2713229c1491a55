// File: internal/replay/replay.go
// Package replay runs recorded action sequences through a session and compares
// action sequences by semantic equality.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidctl/api/schemas"
	"github.com/xkilldash9x/droidctl/internal/env"
)

const maxLineSize = 1 << 20

// LoadActions reads one serialized action per line. Blank lines are skipped.
func LoadActions(r io.Reader) ([]schemas.Action, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var actions []schemas.Action
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		a, err := schemas.ParseAction(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		actions = append(actions, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read actions: %w", err)
	}
	return actions, nil
}

// Executor is the part of env.Session the runner drives.
type Executor interface {
	StableState(ctx context.Context) (env.StabilityResult, error)
	Execute(ctx context.Context, action schemas.Action) error
	InteractionCache() string
}

// Step is the outcome of one replayed action.
type Step struct {
	Index  int
	Action schemas.Action
	// Stable reports whether the screen settled before the action ran.
	// It is always false when stabilization is disabled.
	Stable           bool
	NumElements      int
	InteractionCache string
	StartedAt        time.Time
	Duration         time.Duration
	Err              error
}

// Recorder receives every replayed step.
type Recorder interface {
	RecordStep(ctx context.Context, step Step) error
}

// Report summarizes a run.
type Report struct {
	Executed int
	Failed   int
	Unstable int
}

// Options configures a Runner.
type Options struct {
	// StabilizeBetweenSteps waits for the UI to settle before each action.
	StabilizeBetweenSteps bool
	// StopOnError ends the run at the first failed action.
	StopOnError bool
}

// Runner replays actions through an Executor.
type Runner struct {
	exec      Executor
	recorders []Recorder
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewRunner creates a runner. Recorders are called in order for every step.
func NewRunner(exec Executor, opts Options, logger *zap.Logger, recorders ...Recorder) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		exec:      exec,
		recorders: recorders,
		opts:      opts,
		logger:    logger.Named("replay"),
		now:       time.Now,
	}
}

// Run executes actions in order. Action failures are recorded and, with
// StopOnError, returned. Recorder and stabilization failures always end the run.
func (r *Runner) Run(ctx context.Context, actions []schemas.Action) (Report, error) {
	var report Report
	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		step := Step{Index: i, Action: action, StartedAt: r.now()}
		if r.opts.StabilizeBetweenSteps {
			res, err := r.exec.StableState(ctx)
			if err != nil {
				return report, fmt.Errorf("step %d: stabilization failed: %w", i, err)
			}
			step.Stable = res.Stable
			step.NumElements = res.Snapshot.NumElements()
			if !res.Stable {
				report.Unstable++
			}
		}

		step.Err = r.exec.Execute(ctx, action)
		step.Duration = r.now().Sub(step.StartedAt)
		step.InteractionCache = r.exec.InteractionCache()
		report.Executed++

		if step.Err != nil {
			report.Failed++
			r.logger.Warn("Replayed action failed.", zap.Int("step", i), zap.Stringer("action", action), zap.Error(step.Err))
		} else {
			r.logger.Info("Replayed action.", zap.Int("step", i), zap.Stringer("action", action), zap.Bool("stable", step.Stable))
		}

		for _, rec := range r.recorders {
			if err := rec.RecordStep(ctx, step); err != nil {
				return report, fmt.Errorf("step %d: failed to record: %w", i, err)
			}
		}

		if step.Err != nil && r.opts.StopOnError {
			return report, fmt.Errorf("step %d: %w", i, step.Err)
		}
	}
	return report, nil
}

// -- Comparison --

// ErrLengthMismatch is reported when one sequence is a strict prefix of the other.
var ErrLengthMismatch = errors.New("action sequences differ in length")

// MatchResult describes the first difference between two action sequences.
type MatchResult struct {
	Matched bool
	// Index of the first mismatch, -1 when the sequences match.
	Index    int
	Expected *schemas.Action
	Actual   *schemas.Action
}

// Match compares two sequences element by element with semantic equality.
func Match(expected, actual []schemas.Action) MatchResult {
	n := min(len(expected), len(actual))
	for i := 0; i < n; i++ {
		if !expected[i].Equal(actual[i]) {
			return MatchResult{Index: i, Expected: &expected[i], Actual: &actual[i]}
		}
	}
	if len(expected) == len(actual) {
		return MatchResult{Matched: true, Index: -1}
	}
	res := MatchResult{Index: n}
	if n < len(expected) {
		res.Expected = &expected[n]
	}
	if n < len(actual) {
		res.Actual = &actual[n]
	}
	return res
}

// Err converts a mismatch into an error, nil when matched.
func (m MatchResult) Err() error {
	if m.Matched {
		return nil
	}
	if m.Expected == nil || m.Actual == nil {
		return fmt.Errorf("%w at index %d", ErrLengthMismatch, m.Index)
	}
	return fmt.Errorf("action %d differs: expected %s, got %s", m.Index, m.Expected, m.Actual)
}
