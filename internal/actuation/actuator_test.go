package actuation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidctl/api/schemas"
	"github.com/xkilldash9x/droidctl/internal/config"
	"github.com/xkilldash9x/droidctl/internal/env"
	"github.com/xkilldash9x/droidctl/internal/mocks"
)

// shellDevice records shell commands. The embedded mock fails on any other device call.
type shellDevice struct {
	mocks.MockDevice
	commands []string
	err      error
}

func (d *shellDevice) Shell(_ context.Context, args ...string) ([]byte, error) {
	d.commands = append(d.commands, strings.Join(args, " "))
	return nil, d.err
}

var (
	screen   = schemas.ScreenSize{Width: 1000, Height: 2000}
	elements = []schemas.UIElement{
		{Text: "Search", IsEditable: true, Bounds: schemas.BoundingBox{XMin: 0, XMax: 1000, YMin: 100, YMax: 200}},
		{Text: "List", IsScrollable: true, Bounds: schemas.BoundingBox{XMin: 0, XMax: 1000, YMin: 400, YMax: 1200}},
	}
)

func testActuator(t *testing.T) (*ADBActuator, *[]time.Duration) {
	cfg := config.ActuationConfig{
		LongPressDuration: time.Second,
		SwipeDuration:     500 * time.Millisecond,
		DoubleTapInterval: 100 * time.Millisecond,
		WaitDuration:      2 * time.Second,
		Apps:              map[string]string{"clock": "com.google.android.deskclock"},
	}
	a := NewADBActuator(cfg, zaptest.NewLogger(t))
	var slept []time.Duration
	a.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return a, &slept
}

func TestExecute_Commands(t *testing.T) {
	dir := func(d schemas.Direction) *schemas.Direction { return &d }
	tests := []struct {
		name   string
		action schemas.Action
		want   []string
	}{
		{"click index", schemas.Action{Kind: schemas.KindClick, Target: schemas.AtIndex(0)}, []string{"input tap 500 150"}},
		{"click coordinate", schemas.Action{Kind: schemas.KindClick, Target: schemas.AtCoordinate(12.7, 34.2)}, []string{"input tap 12 34"}},
		{"double tap", schemas.Action{Kind: schemas.KindDoubleTap, Target: schemas.AtIndex(1)}, []string{"input tap 500 800", "input tap 500 800"}},
		{"long press", schemas.Action{Kind: schemas.KindLongPress, Target: schemas.AtCoordinate(10, 20)}, []string{"input swipe 10 20 10 20 1000"}},
		{"scroll down moves finger up", schemas.Action{Kind: schemas.KindScroll, Direction: dir(schemas.DirectionDown)}, []string{"input swipe 500 1500 500 500 500"}},
		{"scroll element", schemas.Action{Kind: schemas.KindScroll, Target: schemas.AtIndex(1), Direction: dir(schemas.DirectionUp)}, []string{"input swipe 500 600 500 1000 500"}},
		{"swipe left", schemas.Action{Kind: schemas.KindSwipe, Direction: dir(schemas.DirectionLeft)}, []string{"input swipe 750 1000 250 1000 500"}},
		{"type into field", schemas.Action{Kind: schemas.KindInputText, Target: schemas.AtIndex(0), Text: schemas.Ptr("hi there")}, []string{"input tap 500 150", "input text 'hi%sthere'"}},
		{"type without target", schemas.Action{Kind: schemas.KindInputText, Text: schemas.Ptr("50% off")}, []string{`input text '50%%soff'`}},
		{"type lone percent", schemas.Action{Kind: schemas.KindInputText, Text: schemas.Ptr("100%")}, []string{`input text '100%'`}},
		{"enter", schemas.Action{Kind: schemas.KindKeyboardEnter}, []string{"input keyevent KEYCODE_ENTER"}},
		{"back", schemas.Action{Kind: schemas.KindNavigateBack}, []string{"input keyevent KEYCODE_BACK"}},
		{"home", schemas.Action{Kind: schemas.KindNavigateHome}, []string{"input keyevent KEYCODE_HOME"}},
		{"open mapped app", schemas.Action{Kind: schemas.KindOpenApp, AppName: schemas.Ptr("Clock")}, []string{"monkey -p com.google.android.deskclock -c android.intent.category.LAUNCHER 1"}},
		{"open package", schemas.Action{Kind: schemas.KindOpenApp, AppName: schemas.Ptr("org.example.notes")}, []string{"monkey -p org.example.notes -c android.intent.category.LAUNCHER 1"}},
		{"app drawer", schemas.Action{Kind: schemas.KindOpenApp, ActivityNickname: schemas.Ptr(schemas.ActivityAppDrawer)}, []string{"input swipe 500 1500 500 500 500"}},
		{"quick settings", schemas.Action{Kind: schemas.KindOpenApp, ActivityNickname: schemas.Ptr(schemas.ActivityQuickSettings)}, []string{"cmd statusbar expand-settings"}},
		{"status", schemas.Action{Kind: schemas.KindStatus, GoalStatus: schemas.Ptr("complete")}, nil},
		{"answer", schemas.Action{Kind: schemas.KindAnswer, Text: schemas.Ptr("42")}, nil},
		{"unknown", schemas.Action{Kind: schemas.KindUnknown}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := testActuator(t)
			dev := &shellDevice{}
			require.NoError(t, a.Execute(context.Background(), tt.action, elements, screen, dev))
			assert.Equal(t, tt.want, dev.commands)
		})
	}
}

func TestExecute_Timing(t *testing.T) {
	a, slept := testActuator(t)
	dev := &shellDevice{}
	ctx := context.Background()

	require.NoError(t, a.Execute(ctx, schemas.Action{Kind: schemas.KindDoubleTap, Target: schemas.AtIndex(0)}, elements, screen, dev))
	require.NoError(t, a.Execute(ctx, schemas.Action{Kind: schemas.KindWait}, elements, screen, dev))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 2 * time.Second}, *slept)
}

func TestExecute_GroundingErrors(t *testing.T) {
	tests := []struct {
		name   string
		action schemas.Action
		screen schemas.ScreenSize
	}{
		{"index out of range", schemas.Action{Kind: schemas.KindClick, Target: schemas.AtIndex(2)}, screen},
		{"negative index", schemas.Action{Kind: schemas.KindLongPress, Target: schemas.AtIndex(-1)}, screen},
		{"click without target", schemas.Action{Kind: schemas.KindClick}, screen},
		{"scroll without direction", schemas.Action{Kind: schemas.KindScroll}, screen},
		{"scroll bad direction", schemas.Action{Kind: schemas.KindScroll, Direction: schemas.Ptr(schemas.Direction("sideways"))}, screen},
		{"swipe unknown screen", schemas.Action{Kind: schemas.KindSwipe, Direction: schemas.Ptr(schemas.DirectionUp)}, schemas.ScreenSize{}},
		{"type without text", schemas.Action{Kind: schemas.KindInputText}, screen},
		{"open without name", schemas.Action{Kind: schemas.KindOpenApp}, screen},
		{"unsupported kind", schemas.Action{Kind: schemas.ActionKind("teleport")}, screen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := testActuator(t)
			dev := &shellDevice{}
			err := a.Execute(context.Background(), tt.action, elements, tt.screen, dev)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGrounding)
			assert.Empty(t, dev.commands)
		})
	}
}

func TestExecute_GroundingErrorDetails(t *testing.T) {
	a, _ := testActuator(t)
	err := a.Execute(context.Background(), schemas.Action{Kind: schemas.KindClick, Target: schemas.AtIndex(7)}, elements, screen, &shellDevice{})

	var ge *GroundingError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 7, ge.Index)
	assert.Equal(t, 2, ge.NumElements)
	assert.Equal(t, "click: index out of range (index 7, 2 elements)", ge.Error())
}

func TestExecute_UnknownApp(t *testing.T) {
	a, _ := testActuator(t)
	err := a.Execute(context.Background(), schemas.Action{Kind: schemas.KindOpenApp, AppName: schemas.Ptr("Frobnicator")}, elements, screen, &shellDevice{})
	assert.ErrorIs(t, err, ErrUnknownApp)
}

func TestExecute_RequiresShell(t *testing.T) {
	a, _ := testActuator(t)
	var plain env.Device = new(mocks.MockDevice)
	err := a.Execute(context.Background(), schemas.Action{Kind: schemas.KindNavigateBack}, nil, screen, plain)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestExecute_PropagatesShellError(t *testing.T) {
	a, _ := testActuator(t)
	boom := errors.New("device offline")
	err := a.Execute(context.Background(), schemas.Action{Kind: schemas.KindNavigateHome}, nil, screen, &shellDevice{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "input keyevent")
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleep(context.Background(), 0))
}

func TestEscapeText(t *testing.T) {
	cases := map[string]string{
		"hello":      `'hello'`,
		"a b":        `'a%sb'`,
		"100%":       `'100%'`,
		"50% off":    `'50%%soff'`,
		"it's":       `'it'\''s'`,
		"%d literal": `'%d%sliteral'`,
	}
	for in, want := range cases {
		assert.Equal(t, want, EscapeText(in), in)
	}
}
