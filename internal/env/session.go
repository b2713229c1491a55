// internal/env/session.go
package env

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidctl/api/schemas"
	"github.com/xkilldash9x/droidctl/internal/metrics"
)

// AnswerHeader is shown above answers on the device overlay.
const AnswerHeader = "Agent answered:"

// ErrSessionClosed is returned by every operation after Close.
var ErrSessionClosed = errors.New("session is closed")

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	// StateFresh follows construction or Reset: empty interaction cache, no stabilization baseline.
	StateFresh SessionState = "FRESH"
	// StateReady is normal operation.
	StateReady  SessionState = "READY"
	StateClosed SessionState = "CLOSED"
)

// Session wraps a Device and owns the interaction cache and the stabilization
// baseline. A Session is not safe for concurrent use; callers serialize access.
type Session struct {
	id        string
	device    Device
	inferrer  ElementInferrer
	actuator  Actuator
	messenger Messenger
	logger    *zap.Logger
	stab      stabilizer
	now       func() time.Time

	state SessionState
	// interactionCache holds the latest agent-to-user response.
	interactionCache string
	// prior is the stabilization baseline. Advisory only; nil is always safe.
	prior *Snapshot

	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the parent logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMessenger sets the overlay used for answers and DisplayMessage.
func WithMessenger(m Messenger) Option {
	return func(s *Session) { s.messenger = m }
}

// WithStabilityOptions overrides the stabilization protocol settings. A
// Threshold below 1, a non-positive PollInterval or a negative Timeout falls
// back to the default for that field.
func WithStabilityOptions(opts StabilityOptions) Option {
	return func(s *Session) { s.stab.opts = opts }
}

// WithSleep replaces the pause used between stabilization samples.
func WithSleep(fn SleepFunc) Option {
	return func(s *Session) { s.stab.sleep = fn }
}

// WithClock replaces the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session around device. The session takes ownership of
// the device and closes it in Close.
func NewSession(device Device, inferrer ElementInferrer, actuator Actuator, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		device:   device,
		inferrer: inferrer,
		actuator: actuator,
		logger:   zap.NewNop(),
		stab: stabilizer{
			opts:  DefaultStabilityOptions(),
			sleep: sleepContext,
		},
		now:   time.Now,
		state: StateFresh,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session").With(zap.String("session_id", s.id))
	s.stab.logger = s.logger.Named("stabilizer")
	if normalized := s.stab.opts.withDefaults(); normalized != s.stab.opts {
		s.logger.Warn("Invalid stability options replaced with defaults",
			zap.Int("threshold", normalized.Threshold),
			zap.Duration("poll_interval", normalized.PollInterval),
			zap.Duration("timeout", normalized.Timeout))
		s.stab.opts = normalized
	}
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() SessionState { return s.state }

// InteractionCache returns the most recent answer text.
func (s *Session) InteractionCache() string { return s.interactionCache }

// -- Lifecycle --

// Reset returns the session to StateFresh: optionally presses HOME, clears the
// interaction cache, forgets the stabilization baseline and resets the device.
// It returns the initial snapshot.
func (s *Session) Reset(ctx context.Context, goHome bool) (*Snapshot, error) {
	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}
	if goHome {
		if _, err := s.device.Step(ctx, KeyInput(KeyHome)); err != nil {
			return nil, fmt.Errorf("failed to press home: %w", err)
		}
	}
	s.interactionCache = ""
	s.prior = nil
	s.state = StateFresh

	obs, err := s.device.Reset(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reset device: %w", err)
	}
	snap, err := s.snapshotFrom(ctx, obs)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Session reset.", zap.Bool("go_home", goHome), zap.Int("elements", snap.NumElements()))
	return snap, nil
}

// Close releases the device. Only the first call reaches the device.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing session.")
		s.state = StateClosed
		s.prior = nil
		s.closeErr = s.device.Close()
	})
	return s.closeErr
}

// -- Observation --

// GetState returns the current snapshot, waiting for the UI to settle when
// waitToStabilize is set. A stabilization timeout is not an error.
func (s *Session) GetState(ctx context.Context, waitToStabilize bool) (*Snapshot, error) {
	if waitToStabilize {
		res, err := s.StableState(ctx)
		if err != nil {
			return nil, err
		}
		return res.Snapshot, nil
	}
	if err := s.enter(); err != nil {
		return nil, err
	}
	return s.acquire(ctx)
}

// StableState polls the device until the element list is unchanged for the
// configured number of consecutive samples, or the timeout elapses. The result
// reports which of the two happened.
func (s *Session) StableState(ctx context.Context) (StabilityResult, error) {
	if err := s.enter(); err != nil {
		return StabilityResult{}, err
	}
	res, baseline, err := s.stab.run(ctx, s.prior, s.acquire)
	s.prior = baseline
	if err != nil {
		return res, err
	}

	fields := []zap.Field{
		zap.Int("samples", res.Samples),
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("elements", res.Snapshot.NumElements()),
	}
	metrics.StabilizationSamples.Observe(float64(res.Samples))
	if res.Stable {
		metrics.StabilizationTotal.WithLabelValues("stable").Inc()
		s.logger.Debug("UI stabilized.", fields...)
	} else {
		metrics.StabilizationTotal.WithLabelValues("timeout").Inc()
		s.logger.Warn("UI did not stabilize before timeout; returning last observation.", fields...)
	}
	return res, nil
}

// acquire steps the device with a no-op so it reports a current observation.
func (s *Session) acquire(ctx context.Context) (*Snapshot, error) {
	obs, err := s.device.Step(ctx, LiftInput())
	if err != nil {
		return nil, fmt.Errorf("failed to observe device: %w", err)
	}
	return s.snapshotFrom(ctx, obs)
}

func (s *Session) snapshotFrom(ctx context.Context, obs Observation) (*Snapshot, error) {
	size, err := s.device.ScreenSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read screen size: %w", err)
	}
	elements, err := s.inferrer.ElementsFromTree(obs.Tree, size)
	if err != nil {
		return nil, fmt.Errorf("failed to infer UI elements: %w", err)
	}
	return NewSnapshot(obs.Pixels, obs.Tree, elements, s.now()), nil
}

// -- Execution --

// Execute routes an action. Answers only update the interaction cache and the
// overlay. Everything else is grounded against a fresh, non-stabilized snapshot
// and handed to the actuator; stabilizing beforehand is the caller's job.
func (s *Session) Execute(ctx context.Context, action schemas.Action) error {
	if err := s.enter(); err != nil {
		return err
	}

	err := s.route(ctx, action)
	metrics.ActionsTotal.WithLabelValues(string(action.Kind), metrics.Outcome(err)).Inc()
	return err
}

func (s *Session) route(ctx context.Context, action schemas.Action) error {
	if action.Kind == schemas.KindAnswer {
		text := ""
		if action.Text != nil {
			text = *action.Text
		}
		s.interactionCache = text
		s.logger.Info("Answer stored in interaction cache.", zap.Int("length", len(text)))
		if text != "" {
			s.DisplayMessage(ctx, text, AnswerHeader)
		}
		return nil
	}

	snap, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	screen, err := s.device.LogicalScreenSize(ctx)
	if err != nil {
		return fmt.Errorf("failed to read logical screen size: %w", err)
	}

	s.logger.Debug("Dispatching action.", zap.Stringer("action", action), zap.Int("elements", snap.NumElements()))
	if err := s.actuator.Execute(ctx, action, snap.elements, screen, s.device); err != nil {
		return fmt.Errorf("failed to execute %s: %w", action.Kind, err)
	}
	return nil
}

// DisplayMessage shows a message on the device overlay. Failures are logged, not returned.
func (s *Session) DisplayMessage(ctx context.Context, message, header string) {
	if s.messenger == nil {
		return
	}
	if err := s.messenger.Display(ctx, message, header); err != nil {
		s.logger.Warn("Failed to display message.", zap.Error(err))
	}
}

// HideAutomationUI hides debugging overlays when the device supports it.
func (s *Session) HideAutomationUI(ctx context.Context) error {
	if err := s.enter(); err != nil {
		return err
	}
	hider, ok := s.device.(AutomationUIHider)
	if !ok {
		s.logger.Debug("Device cannot hide automation UI.")
		return nil
	}
	return hider.HideAutomationUI(ctx)
}

// ForegroundActivity names the activity in the foreground, or "" when the
// device cannot tell.
func (s *Session) ForegroundActivity(ctx context.Context) (string, error) {
	if err := s.enter(); err != nil {
		return "", err
	}
	reporter, ok := s.device.(ActivityReporter)
	if !ok {
		return "", nil
	}
	return reporter.ForegroundActivity(ctx)
}

// enter moves the session to StateReady, or fails when it is closed.
func (s *Session) enter() error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	s.state = StateReady
	return nil
}
