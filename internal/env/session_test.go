// internal/env/session_test.go
package env_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/droidctl/api/schemas"
	"github.com/xkilldash9x/droidctl/internal/env"
	"github.com/xkilldash9x/droidctl/internal/metrics"
	"github.com/xkilldash9x/droidctl/internal/mocks"
)

var (
	physical = schemas.ScreenSize{Width: 1080, Height: 2400}
	logical  = schemas.ScreenSize{Width: 2400, Height: 1080}
	homeTree = "home-tree"
	homeUI   = []schemas.UIElement{
		{Text: "Clock", IsClickable: true, Bounds: schemas.BoundingBox{XMin: 0, XMax: 200, YMin: 0, YMax: 200}},
		{Text: "Maps", IsClickable: true, Bounds: schemas.BoundingBox{XMin: 200, XMax: 400, YMin: 0, YMax: 200}},
	}
)

// fixture bundles a session and the mocks behind it.
type fixture struct {
	session   *env.Session
	device    *mocks.MockDevice
	inferrer  *mocks.MockInferrer
	actuator  *mocks.MockActuator
	messenger *mocks.MockMessenger
}

func noSleep(context.Context, time.Duration) error { return nil }

func newFixture(t *testing.T, opts ...env.Option) *fixture {
	t.Helper()
	f := &fixture{
		device:    new(mocks.MockDevice),
		inferrer:  new(mocks.MockInferrer),
		actuator:  new(mocks.MockActuator),
		messenger: new(mocks.MockMessenger),
	}
	base := []env.Option{
		env.WithLogger(zaptest.NewLogger(t)),
		env.WithMessenger(f.messenger),
		env.WithSleep(noSleep),
	}
	f.session = env.NewSession(f.device, f.inferrer, f.actuator, append(base, opts...)...)
	t.Cleanup(func() {
		f.device.AssertExpectations(t)
		f.inferrer.AssertExpectations(t)
		f.actuator.AssertExpectations(t)
		f.messenger.AssertExpectations(t)
	})
	return f
}

// expectSteadyScreen makes every observation return the home screen.
func (f *fixture) expectSteadyScreen() {
	f.device.On("Step", mock.Anything, env.LiftInput()).Return(env.Observation{Tree: homeTree}, nil)
	f.device.On("ScreenSize", mock.Anything).Return(physical, nil)
	f.inferrer.On("ElementsFromTree", homeTree, physical).Return(homeUI, nil)
}

// -- Execution Router --

func TestExecute_AnswerUpdatesCacheAndDisplaysOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.messenger.On("Display", mock.Anything, "42", env.AnswerHeader).Return(nil).Once()

	err := f.session.Execute(context.Background(), schemas.Action{Kind: schemas.KindAnswer, Text: schemas.Ptr("42")})
	require.NoError(t, err)

	assert.Equal(t, "42", f.session.InteractionCache())
	f.messenger.AssertNumberOfCalls(t, "Display", 1)
	// No device, inferrer or actuator expectations were set, so any I/O would have panicked.
	assert.Empty(t, f.device.Calls)
	assert.Empty(t, f.actuator.Calls)
}

func TestExecute_EmptyAnswerSkipsDisplay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.messenger.On("Display", mock.Anything, "first", env.AnswerHeader).Return(nil).Once()

	ctx := context.Background()
	require.NoError(t, f.session.Execute(ctx, schemas.Action{Kind: schemas.KindAnswer, Text: schemas.Ptr("first")}))
	require.NoError(t, f.session.Execute(ctx, schemas.Action{Kind: schemas.KindAnswer, Text: schemas.Ptr("")}))

	assert.Equal(t, "", f.session.InteractionCache(), "the cache is overwritten, not appended")
	f.messenger.AssertNumberOfCalls(t, "Display", 1)
}

func TestExecute_AnswerWithoutTextClearsCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.messenger.On("Display", mock.Anything, "stale", env.AnswerHeader).Return(nil).Once()

	ctx := context.Background()
	require.NoError(t, f.session.Execute(ctx, schemas.Action{Kind: schemas.KindAnswer, Text: schemas.Ptr("stale")}))
	require.NoError(t, f.session.Execute(ctx, schemas.Action{Kind: schemas.KindAnswer}))
	assert.Equal(t, "", f.session.InteractionCache())
}

func TestExecute_AnswerDisplayFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.messenger.On("Display", mock.Anything, "done", env.AnswerHeader).Return(errors.New("overlay missing")).Once()

	err := f.session.Execute(context.Background(), schemas.Action{Kind: schemas.KindAnswer, Text: schemas.Ptr("done")})
	require.NoError(t, err)
	assert.Equal(t, "done", f.session.InteractionCache())
}

func TestExecute_AnswerWithoutMessenger(t *testing.T) {
	t.Parallel()
	device := new(mocks.MockDevice)
	s := env.NewSession(device, new(mocks.MockInferrer), new(mocks.MockActuator))

	require.NoError(t, s.Execute(context.Background(), schemas.Action{Kind: schemas.KindAnswer, Text: schemas.Ptr("ok")}))
	assert.Equal(t, "ok", s.InteractionCache())
	assert.Empty(t, device.Calls)
}

func TestExecute_ForwardsFreshElementsToActuator(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectSteadyScreen()
	f.device.On("LogicalScreenSize", mock.Anything).Return(logical, nil).Once()

	click := schemas.Action{Kind: schemas.KindClick, Target: schemas.AtIndex(1)}
	f.actuator.On("Execute", mock.Anything, click, homeUI, logical, f.device).Return(nil).Once()

	require.NoError(t, f.session.Execute(context.Background(), click))

	// One observation, no stabilization.
	f.device.AssertNumberOfCalls(t, "Step", 1)
	assert.Equal(t, env.StateReady, f.session.State())
}

func TestExecute_PropagatesActuatorError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectSteadyScreen()
	f.device.On("LogicalScreenSize", mock.Anything).Return(logical, nil)

	grounding := errors.New("index 9 out of range")
	tap := schemas.Action{Kind: schemas.KindLongPress, Target: schemas.AtIndex(9)}
	f.actuator.On("Execute", mock.Anything, tap, homeUI, logical, f.device).Return(grounding)

	err := f.session.Execute(context.Background(), tap)
	require.Error(t, err)
	assert.ErrorIs(t, err, grounding)
	assert.Contains(t, err.Error(), "long_press")
}

func TestExecute_CountsActionsByOutcome(t *testing.T) {
	f := newFixture(t)
	f.expectSteadyScreen()
	f.device.On("LogicalScreenSize", mock.Anything).Return(logical, nil)
	status := schemas.Action{Kind: schemas.KindStatus, GoalStatus: schemas.Ptr("infeasible")}
	f.actuator.On("Execute", mock.Anything, status, homeUI, logical, f.device).Return(errors.New("rejected")).Once()

	failed := metrics.ActionsTotal.WithLabelValues("status", "error")
	answered := metrics.ActionsTotal.WithLabelValues("answer", "ok")
	failedBefore, answeredBefore := testutil.ToFloat64(failed), testutil.ToFloat64(answered)

	ctx := context.Background()
	require.Error(t, f.session.Execute(ctx, status))
	require.NoError(t, f.session.Execute(ctx, schemas.Action{Kind: schemas.KindAnswer}))

	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
	assert.Equal(t, answeredBefore+1, testutil.ToFloat64(answered))
}

func TestExecute_PropagatesDeviceError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	offline := errors.New("device offline")
	f.device.On("Step", mock.Anything, env.LiftInput()).Return(env.Observation{}, offline)

	err := f.session.Execute(context.Background(), schemas.Action{Kind: schemas.KindNavigateBack})
	assert.ErrorIs(t, err, offline)
	assert.Empty(t, f.actuator.Calls)
}

// -- Observation --

func TestGetState_WithoutStabilizationObservesOnce(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, env.WithClock(func() time.Time { return now }))
	f.expectSteadyScreen()

	snap, err := f.session.GetState(context.Background(), false)
	require.NoError(t, err)

	f.device.AssertNumberOfCalls(t, "Step", 1)
	assert.Equal(t, homeUI, snap.Elements())
	assert.Equal(t, homeTree, snap.Tree())
	assert.Equal(t, now, snap.CapturedAt())
}

func TestGetState_StabilizedReusesBaseline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectSteadyScreen()
	ctx := context.Background()

	res, err := f.session.StableState(ctx)
	require.NoError(t, err)
	assert.True(t, res.Stable)
	assert.Equal(t, 4, res.Samples, "baseline plus threshold matches")
	f.device.AssertNumberOfCalls(t, "Step", 4)

	snap, err := f.session.GetState(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, homeUI, snap.Elements())
	f.device.AssertNumberOfCalls(t, "Step", 7)
}

func TestStableState_TimeoutReturnsLastObservation(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.WarnLevel)
	device := new(mocks.MockDevice)
	frame := 0
	device.On("Step", mock.Anything, env.LiftInput()).Return(env.Observation{}, nil).Run(func(mock.Arguments) { frame++ })
	device.On("ScreenSize", mock.Anything).Return(physical, nil)

	// Every sample differs from the one before it.
	byFrame := env.ElementInferrerFunc(func(any, schemas.ScreenSize) ([]schemas.UIElement, error) {
		return []schemas.UIElement{{Text: fmt.Sprintf("frame-%d", frame)}}, nil
	})
	s := env.NewSession(device, byFrame, new(mocks.MockActuator),
		env.WithLogger(zap.New(core)),
		env.WithSleep(noSleep),
		env.WithStabilityOptions(env.StabilityOptions{Threshold: 3, PollInterval: time.Second, Timeout: 2 * time.Second}),
	)

	res, err := s.StableState(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Stable)
	assert.Equal(t, 4, res.Samples)
	assert.Equal(t, 2*time.Second, res.Elapsed)
	assert.Equal(t, []schemas.UIElement{{Text: "frame-4"}}, res.Snapshot.Elements())
	assert.Equal(t, 1, logs.FilterMessageSnippet("did not stabilize").Len())
}

func TestStableState_InvalidOptionsFallBackToDefaults(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.WarnLevel)
	device := new(mocks.MockDevice)
	frame := 0
	device.On("Step", mock.Anything, env.LiftInput()).Return(env.Observation{}, nil).Run(func(mock.Arguments) { frame++ })
	device.On("ScreenSize", mock.Anything).Return(physical, nil)

	byFrame := env.ElementInferrerFunc(func(any, schemas.ScreenSize) ([]schemas.UIElement, error) {
		return []schemas.UIElement{{Text: fmt.Sprintf("frame-%d", frame)}}, nil
	})
	s := env.NewSession(device, byFrame, new(mocks.MockActuator),
		env.WithLogger(zap.New(core)),
		env.WithSleep(noSleep),
		env.WithStabilityOptions(env.StabilityOptions{Threshold: 0, PollInterval: 0, Timeout: time.Second}),
	)
	assert.Equal(t, 1, logs.FilterMessageSnippet("Invalid stability options").Len())

	res, err := s.StableState(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Stable, "a screen that never repeats is not stable")
	// Baseline, first sample, then one sample per default 500ms interval.
	assert.Equal(t, 4, res.Samples)
	assert.Equal(t, time.Second, res.Elapsed)
}

// -- Lifecycle --

func TestReset_ClearsCacheAndBaseline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectSteadyScreen()
	f.device.On("Reset", mock.Anything).Return(env.Observation{Tree: homeTree}, nil)
	f.messenger.On("Display", mock.Anything, "remember me", env.AnswerHeader).Return(nil)
	ctx := context.Background()

	require.NoError(t, f.session.Execute(ctx, schemas.Action{Kind: schemas.KindAnswer, Text: schemas.Ptr("remember me")}))
	_, err := f.session.StableState(ctx)
	require.NoError(t, err)
	f.device.AssertNumberOfCalls(t, "Step", 4)
	assert.Equal(t, env.StateReady, f.session.State())

	snap, err := f.session.Reset(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, homeUI, snap.Elements())
	assert.Equal(t, "", f.session.InteractionCache())
	assert.Equal(t, env.StateFresh, f.session.State())

	// Without a baseline the next run acquires one again.
	res, err := f.session.StableState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Samples)
	f.device.AssertNumberOfCalls(t, "Step", 8)
}

func TestReset_GoHomePressesHomeFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.device.On("Step", mock.Anything, env.KeyInput(env.KeyHome)).Return(env.Observation{}, nil).Once()
	f.device.On("Reset", mock.Anything).Return(env.Observation{Tree: homeTree}, nil).Once()
	f.device.On("ScreenSize", mock.Anything).Return(physical, nil)
	f.inferrer.On("ElementsFromTree", homeTree, physical).Return(homeUI, nil)

	_, err := f.session.Reset(context.Background(), true)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(f.device.Calls), 2)
	assert.Equal(t, "Step", f.device.Calls[0].Method)
	assert.Equal(t, "Reset", f.device.Calls[1].Method)
}

func TestReset_PropagatesDeviceError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := errors.New("emulator crashed")
	f.device.On("Reset", mock.Anything).Return(env.Observation{}, boom)

	_, err := f.session.Reset(context.Background(), false)
	assert.ErrorIs(t, err, boom)
}

func TestClose_ReleasesDeviceOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.device.On("Close").Return(nil).Once()
	ctx := context.Background()

	require.NoError(t, f.session.Close())
	require.NoError(t, f.session.Close())
	assert.Equal(t, env.StateClosed, f.session.State())

	assert.ErrorIs(t, f.session.Execute(ctx, schemas.Action{Kind: schemas.KindWait}), env.ErrSessionClosed)
	_, err := f.session.GetState(ctx, true)
	assert.ErrorIs(t, err, env.ErrSessionClosed)
	_, err = f.session.Reset(ctx, false)
	assert.ErrorIs(t, err, env.ErrSessionClosed)
	f.device.AssertNumberOfCalls(t, "Close", 1)
}

func TestSession_OptionalDeviceCapabilities(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.session.HideAutomationUI(ctx))
	activity, err := f.session.ForegroundActivity(ctx)
	require.NoError(t, err)
	assert.Empty(t, activity)
	assert.NotEmpty(t, f.session.ID())
}
