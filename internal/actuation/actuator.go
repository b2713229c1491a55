// File: internal/actuation/actuator.go
// Package actuation grounds typed actions against the current UI elements and
// turns them into device shell input.
package actuation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidctl/api/schemas"
	"github.com/xkilldash9x/droidctl/internal/config"
	"github.com/xkilldash9x/droidctl/internal/env"
)

var (
	// ErrGrounding means the action could not be mapped onto the screen.
	ErrGrounding = errors.New("action cannot be grounded")
	// ErrUnsupported means the device offers no shell to drive.
	ErrUnsupported = errors.New("device does not support shell input")
	// ErrUnknownApp means open_app named an app with no known package.
	ErrUnknownApp = errors.New("unknown app")
)

// GroundingError describes why an action could not be grounded.
type GroundingError struct {
	Kind        schemas.ActionKind
	Index       int
	NumElements int
	Reason      string
}

func (e *GroundingError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s: %s (index %d, %d elements)", e.Kind, e.Reason, e.Index, e.NumElements)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap lets errors.Is match ErrGrounding.
func (e *GroundingError) Unwrap() error { return ErrGrounding }

// Sheller is implemented by devices that accept shell commands.
type Sheller interface {
	Shell(ctx context.Context, args ...string) ([]byte, error)
}

var _ env.Actuator = (*ADBActuator)(nil)

// ADBActuator implements env.Actuator with `input`, `monkey` and `cmd statusbar`.
type ADBActuator struct {
	cfg    config.ActuationConfig
	sleep  env.SleepFunc
	logger *zap.Logger
}

// NewADBActuator returns an actuator using the given gesture settings.
func NewADBActuator(cfg config.ActuationConfig, logger *zap.Logger) *ADBActuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ADBActuator{cfg: cfg, sleep: sleep, logger: logger.Named("actuator")}
}

// point is a screen position in pixels.
type point struct{ x, y int }

func (p point) args() []string { return []string{strconv.Itoa(p.x), strconv.Itoa(p.y)} }

// Execute grounds action and drives device.
func (a *ADBActuator) Execute(ctx context.Context, action schemas.Action, elements []schemas.UIElement, screen schemas.ScreenSize, device env.Device) error {
	sh, ok := device.(Sheller)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupported, device)
	}
	a.logger.Debug("Executing action.", zap.Stringer("action", action))

	switch action.Kind {
	case schemas.KindClick:
		p, err := resolvePoint(action, elements)
		if err != nil {
			return err
		}
		return a.tap(ctx, sh, p)

	case schemas.KindDoubleTap:
		p, err := resolvePoint(action, elements)
		if err != nil {
			return err
		}
		if err := a.tap(ctx, sh, p); err != nil {
			return err
		}
		if err := a.sleep(ctx, a.cfg.DoubleTapInterval); err != nil {
			return err
		}
		return a.tap(ctx, sh, p)

	case schemas.KindLongPress:
		p, err := resolvePoint(action, elements)
		if err != nil {
			return err
		}
		return a.swipe(ctx, sh, p, p, a.cfg.LongPressDuration)

	case schemas.KindScroll, schemas.KindSwipe:
		return a.gesture(ctx, sh, action, elements, screen)

	case schemas.KindInputText:
		return a.inputText(ctx, sh, action, elements)

	case schemas.KindKeyboardEnter:
		return a.key(ctx, sh, env.KeyEnter)
	case schemas.KindNavigateBack:
		return a.key(ctx, sh, env.KeyBack)
	case schemas.KindNavigateHome:
		return a.key(ctx, sh, env.KeyHome)

	case schemas.KindOpenApp:
		return a.openApp(ctx, sh, action, screen)

	case schemas.KindWait:
		return a.sleep(ctx, a.cfg.WaitDuration)

	case schemas.KindStatus, schemas.KindAnswer, schemas.KindUnknown:
		return nil

	default:
		return &GroundingError{Kind: action.Kind, Index: -1, Reason: "unsupported action kind"}
	}
}

// -- Grounding --

// resolvePoint maps an index to the center of that element, or passes coordinates through.
func resolvePoint(action schemas.Action, elements []schemas.UIElement) (point, error) {
	switch action.Target.Mode() {
	case schemas.TargetIndex:
		el, err := resolveElement(action, elements)
		if err != nil {
			return point{}, err
		}
		x, y := el.Bounds.Center()
		return point{int(x), int(y)}, nil
	case schemas.TargetCoordinate:
		x, y, _ := action.Target.Coordinate()
		return point{int(x), int(y)}, nil
	default:
		return point{}, &GroundingError{Kind: action.Kind, Index: -1, Reason: "no index or coordinate given"}
	}
}

func resolveElement(action schemas.Action, elements []schemas.UIElement) (schemas.UIElement, error) {
	idx, _ := action.Target.Index()
	if idx < 0 || idx >= len(elements) {
		return schemas.UIElement{}, &GroundingError{
			Kind:        action.Kind,
			Index:       idx,
			NumElements: len(elements),
			Reason:      "index out of range",
		}
	}
	return elements[idx], nil
}

// gestureRegion is the area a scroll or swipe sweeps across: the addressed
// element when an index is given, the whole screen otherwise.
func gestureRegion(action schemas.Action, elements []schemas.UIElement, screen schemas.ScreenSize) (schemas.BoundingBox, error) {
	if action.Target.Mode() == schemas.TargetIndex {
		el, err := resolveElement(action, elements)
		if err != nil {
			return schemas.BoundingBox{}, err
		}
		return el.Bounds, nil
	}
	if screen.IsZero() {
		return schemas.BoundingBox{}, &GroundingError{Kind: action.Kind, Index: -1, Reason: "screen size unknown"}
	}
	return schemas.BoundingBox{XMax: float64(screen.Width), YMax: float64(screen.Height)}, nil
}

// sweep returns start and end points of a finger moving in dir across the middle half of b.
func sweep(b schemas.BoundingBox, dir schemas.Direction) (point, point, bool) {
	cx, cy := b.Center()
	qw, qh := b.Width()/4, b.Height()/4
	var sx, sy, ex, ey float64
	switch dir {
	case schemas.DirectionUp:
		sx, sy, ex, ey = cx, cy+qh, cx, cy-qh
	case schemas.DirectionDown:
		sx, sy, ex, ey = cx, cy-qh, cx, cy+qh
	case schemas.DirectionLeft:
		sx, sy, ex, ey = cx+qw, cy, cx-qw, cy
	case schemas.DirectionRight:
		sx, sy, ex, ey = cx-qw, cy, cx+qw, cy
	default:
		return point{}, point{}, false
	}
	return point{int(sx), int(sy)}, point{int(ex), int(ey)}, true
}

// opposite reverses a direction. Scrolling content down means moving the finger up.
func opposite(dir schemas.Direction) schemas.Direction {
	switch dir {
	case schemas.DirectionUp:
		return schemas.DirectionDown
	case schemas.DirectionDown:
		return schemas.DirectionUp
	case schemas.DirectionLeft:
		return schemas.DirectionRight
	case schemas.DirectionRight:
		return schemas.DirectionLeft
	}
	return dir
}

// -- Device Input --

func (a *ADBActuator) gesture(ctx context.Context, sh Sheller, action schemas.Action, elements []schemas.UIElement, screen schemas.ScreenSize) error {
	if action.Direction == nil {
		return &GroundingError{Kind: action.Kind, Index: -1, Reason: "direction is required"}
	}
	region, err := gestureRegion(action, elements, screen)
	if err != nil {
		return err
	}
	finger := *action.Direction
	if action.Kind == schemas.KindScroll {
		finger = opposite(finger)
	}
	start, end, ok := sweep(region, finger)
	if !ok {
		return &GroundingError{Kind: action.Kind, Index: -1, Reason: fmt.Sprintf("invalid direction %q", *action.Direction)}
	}
	return a.swipe(ctx, sh, start, end, a.cfg.SwipeDuration)
}

func (a *ADBActuator) inputText(ctx context.Context, sh Sheller, action schemas.Action, elements []schemas.UIElement) error {
	if action.Text == nil {
		return &GroundingError{Kind: action.Kind, Index: -1, Reason: "text is required"}
	}
	if action.Target.Mode() != schemas.TargetNone {
		p, err := resolvePoint(action, elements)
		if err != nil {
			return err
		}
		if err := a.tap(ctx, sh, p); err != nil {
			return err
		}
	}
	if *action.Text == "" {
		return nil
	}
	return a.shell(ctx, sh, "input", "text", EscapeText(*action.Text))
}

func (a *ADBActuator) openApp(ctx context.Context, sh Sheller, action schemas.Action, screen schemas.ScreenSize) error {
	if action.ActivityNickname != nil {
		switch *action.ActivityNickname {
		case schemas.ActivityAppDrawer:
			if screen.IsZero() {
				return &GroundingError{Kind: action.Kind, Index: -1, Reason: "screen size unknown"}
			}
			full := schemas.BoundingBox{XMax: float64(screen.Width), YMax: float64(screen.Height)}
			start, end, _ := sweep(full, schemas.DirectionUp)
			return a.swipe(ctx, sh, start, end, a.cfg.SwipeDuration)
		case schemas.ActivityQuickSettings:
			return a.shell(ctx, sh, "cmd", "statusbar", "expand-settings")
		}
	}
	if action.AppName == nil || *action.AppName == "" {
		return &GroundingError{Kind: action.Kind, Index: -1, Reason: "app_name is required"}
	}
	pkg, err := a.packageFor(*action.AppName)
	if err != nil {
		return err
	}
	return a.shell(ctx, sh, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
}

// packageFor resolves a human app name. Names that already look like a
// package are used as given.
func (a *ADBActuator) packageFor(name string) (string, error) {
	if pkg, ok := a.cfg.Apps[strings.ToLower(strings.TrimSpace(name))]; ok {
		return pkg, nil
	}
	if strings.Contains(name, ".") && !strings.ContainsAny(name, " /") {
		return name, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownApp, name)
}

func (a *ADBActuator) tap(ctx context.Context, sh Sheller, p point) error {
	return a.shell(ctx, sh, append([]string{"input", "tap"}, p.args()...)...)
}

func (a *ADBActuator) swipe(ctx context.Context, sh Sheller, from, to point, d time.Duration) error {
	args := []string{"input", "swipe"}
	args = append(args, from.args()...)
	args = append(args, to.args()...)
	args = append(args, strconv.FormatInt(d.Milliseconds(), 10))
	return a.shell(ctx, sh, args...)
}

func (a *ADBActuator) key(ctx context.Context, sh Sheller, code string) error {
	return a.shell(ctx, sh, "input", "keyevent", code)
}

func (a *ADBActuator) shell(ctx context.Context, sh Sheller, args ...string) error {
	if _, err := sh.Shell(ctx, args...); err != nil {
		return fmt.Errorf("%s: %w", strings.Join(args[:2], " "), err)
	}
	return nil
}

// EscapeText prepares text for `input text`: spaces become %s and the result
// is quoted for the device shell. Any other % is typed as is.
func EscapeText(s string) string {
	s = strings.ReplaceAll(s, " ", "%s")
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
