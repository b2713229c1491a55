// File: internal/adb/device.go
package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"regexp"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/droidctl/api/schemas"
	"github.com/xkilldash9x/droidctl/internal/env"
	"github.com/xkilldash9x/droidctl/internal/uitree"
)

// ErrDeviceClosed is returned after Close.
var ErrDeviceClosed = errors.New("adb device is closed")

var (
	physicalSizeRegex = regexp.MustCompile(`Physical size:\s*(\d+)x(\d+)`)
	overrideSizeRegex = regexp.MustCompile(`Override size:\s*(\d+)x(\d+)`)
	orientationRegex  = regexp.MustCompile(`SurfaceOrientation:\s*(\d)`)
	resumedRegex      = regexp.MustCompile(`(?:mResumedActivity|topResumedActivity|ResumedActivity)[:=]\s*ActivityRecord\{\S+\s+\S+\s+(\S+)`)
)

var (
	_ env.Device            = (*Device)(nil)
	_ env.AutomationUIHider = (*Device)(nil)
	_ env.ActivityReporter  = (*Device)(nil)
)

// Device implements env.Device on top of a Client. Each observation captures a
// screenshot and a UI hierarchy dump concurrently.
type Device struct {
	client *Client
	logger *zap.Logger

	mu       sync.Mutex
	physical schemas.ScreenSize
	closed   bool
}

// NewDevice wraps client.
func NewDevice(client *Client, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{client: client, logger: logger.Named("device")}
}

// Client returns the underlying adb client.
func (d *Device) Client() *Client { return d.client }

// Shell runs a command in the device shell.
func (d *Device) Shell(ctx context.Context, args ...string) ([]byte, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.client.Shell(ctx, args...)
}

// Reset forgets cached geometry and reports the current screen.
func (d *Device) Reset(ctx context.Context) (env.Observation, error) {
	if err := d.checkOpen(); err != nil {
		return env.Observation{}, err
	}
	d.mu.Lock()
	d.physical = schemas.ScreenSize{}
	d.mu.Unlock()
	d.logger.Debug("Device reset, cached geometry cleared.", zap.String("serial", d.client.Serial()))
	return d.observe(ctx)
}

// Step delivers input and then observes the screen.
func (d *Device) Step(ctx context.Context, input env.Input) (env.Observation, error) {
	if err := d.checkOpen(); err != nil {
		return env.Observation{}, err
	}
	switch input.Type {
	case env.InputLift:
	case env.InputTouch:
		if _, err := d.client.Shell(ctx, "input", "tap", strconv.Itoa(input.X), strconv.Itoa(input.Y)); err != nil {
			return env.Observation{}, fmt.Errorf("tap at (%d, %d): %w", input.X, input.Y, err)
		}
	case env.InputKey:
		if _, err := d.client.Shell(ctx, "input", "keyevent", input.KeyCode); err != nil {
			return env.Observation{}, fmt.Errorf("key event %s: %w", input.KeyCode, err)
		}
	default:
		return env.Observation{}, fmt.Errorf("unknown input type %d", input.Type)
	}
	return d.observe(ctx)
}

func (d *Device) observe(ctx context.Context) (env.Observation, error) {
	var obs env.Observation
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		raw, err := d.client.ExecOut(gctx, "screencap", "-p")
		if err != nil {
			return fmt.Errorf("screencap: %w", err)
		}
		img, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("decode screencap: %w", err)
		}
		obs.Pixels = img
		return nil
	})
	g.Go(func() error {
		raw, err := d.client.ExecOut(gctx, "uiautomator", "dump", "/dev/tty")
		if err != nil {
			return fmt.Errorf("uiautomator dump: %w", err)
		}
		doc, err := uitree.Parse(raw)
		if err != nil {
			return err
		}
		obs.Tree = doc
		return nil
	})

	if err := g.Wait(); err != nil {
		return env.Observation{}, err
	}
	return obs, nil
}

// ScreenSize returns the physical display size, cached until Reset.
func (d *Device) ScreenSize(ctx context.Context) (schemas.ScreenSize, error) {
	if err := d.checkOpen(); err != nil {
		return schemas.ScreenSize{}, err
	}
	d.mu.Lock()
	cached := d.physical
	d.mu.Unlock()
	if !cached.IsZero() {
		return cached, nil
	}

	physical, _, err := d.wmSize(ctx)
	if err != nil {
		return schemas.ScreenSize{}, err
	}
	d.mu.Lock()
	d.physical = physical
	d.mu.Unlock()
	return physical, nil
}

// LogicalScreenSize applies any resolution override and the current rotation.
func (d *Device) LogicalScreenSize(ctx context.Context) (schemas.ScreenSize, error) {
	if err := d.checkOpen(); err != nil {
		return schemas.ScreenSize{}, err
	}
	physical, override, err := d.wmSize(ctx)
	if err != nil {
		return schemas.ScreenSize{}, err
	}
	size := physical
	if !override.IsZero() {
		size = override
	}

	out, err := d.client.Shell(ctx, "dumpsys", "input")
	if err != nil {
		return schemas.ScreenSize{}, fmt.Errorf("read orientation: %w", err)
	}
	if m := orientationRegex.FindSubmatch(out); m != nil {
		if rot, _ := strconv.Atoi(string(m[1])); rot%2 == 1 {
			size.Width, size.Height = size.Height, size.Width
		}
	}
	return size, nil
}

func (d *Device) wmSize(ctx context.Context) (physical, override schemas.ScreenSize, err error) {
	out, err := d.client.Shell(ctx, "wm", "size")
	if err != nil {
		return physical, override, fmt.Errorf("wm size: %w", err)
	}
	physical, ok := parseSize(physicalSizeRegex, out)
	if !ok {
		return physical, override, fmt.Errorf("unexpected wm size output %q", bytes.TrimSpace(out))
	}
	override, _ = parseSize(overrideSizeRegex, out)
	return physical, override, nil
}

func parseSize(re *regexp.Regexp, out []byte) (schemas.ScreenSize, bool) {
	m := re.FindSubmatch(out)
	if m == nil {
		return schemas.ScreenSize{}, false
	}
	w, _ := strconv.Atoi(string(m[1]))
	h, _ := strconv.Atoi(string(m[2]))
	return schemas.ScreenSize{Width: w, Height: h}, true
}

// HideAutomationUI turns off the pointer location trail and touch indicators.
func (d *Device) HideAutomationUI(ctx context.Context) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	for _, setting := range []string{"pointer_location", "show_touches"} {
		if _, err := d.client.Shell(ctx, "settings", "put", "system", setting, "0"); err != nil {
			return fmt.Errorf("disable %s: %w", setting, err)
		}
	}
	return nil
}

// ForegroundActivity returns the resumed activity as "package/.Activity".
func (d *Device) ForegroundActivity(ctx context.Context) (string, error) {
	if err := d.checkOpen(); err != nil {
		return "", err
	}
	out, err := d.client.Shell(ctx, "dumpsys", "activity", "activities")
	if err != nil {
		return "", fmt.Errorf("dumpsys activity: %w", err)
	}
	m := resumedRegex.FindSubmatch(out)
	if m == nil {
		return "", nil
	}
	return string(m[1]), nil
}

// Close marks the device closed. The adb server is left running.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Device) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	return nil
}
