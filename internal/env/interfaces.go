// internal/env/interfaces.go
package env

import (
	"context"
	"image"

	"github.com/xkilldash9x/droidctl/api/schemas"
)

// Device is the low-level control channel to a real-time device. Calls block
// until the device answers; implementations may do background I/O internally.
type Device interface {
	// Reset returns the device to its initial condition and reports what it sees.
	Reset(ctx context.Context) (Observation, error)
	// Step delivers one input and reports the observation that follows it.
	Step(ctx context.Context, input Input) (Observation, error)
	// ScreenSize is the physical screen size in pixels.
	ScreenSize(ctx context.Context) (schemas.ScreenSize, error)
	// LogicalScreenSize follows the current orientation and resolution settings.
	LogicalScreenSize(ctx context.Context) (schemas.ScreenSize, error)
	// Close releases the channel.
	Close() error
}

// Observation is the raw output of a device step.
type Observation struct {
	Pixels image.Image
	// Tree is the device specific UI tree; its shape is known only to the ElementInferrer.
	Tree any
}

// ElementInferrer turns a raw UI tree into an ordered list of elements. It must be deterministic.
type ElementInferrer interface {
	ElementsFromTree(tree any, screen schemas.ScreenSize) ([]schemas.UIElement, error)
}

// ElementInferrerFunc adapts a function to ElementInferrer.
type ElementInferrerFunc func(tree any, screen schemas.ScreenSize) ([]schemas.UIElement, error)

// ElementsFromTree calls f.
func (f ElementInferrerFunc) ElementsFromTree(tree any, screen schemas.ScreenSize) ([]schemas.UIElement, error) {
	return f(tree, screen)
}

// Actuator grounds an action against the current elements and drives the device.
// It reports an error when the action cannot be grounded.
type Actuator interface {
	Execute(ctx context.Context, action schemas.Action, elements []schemas.UIElement, screen schemas.ScreenSize, device Device) error
}

// Messenger shows a message to the person watching the device. Best effort.
type Messenger interface {
	Display(ctx context.Context, message, header string) error
}

// AutomationUIHider is implemented by devices that can hide debugging overlays
// such as the pointer location trail.
type AutomationUIHider interface {
	HideAutomationUI(ctx context.Context) error
}

// ActivityReporter is implemented by devices that can name the foreground activity.
type ActivityReporter interface {
	ForegroundActivity(ctx context.Context) (string, error)
}

// -- Device Input --

// InputType is the kind of low-level input delivered by Step.
type InputType int

const (
	// InputLift releases any touch. It changes nothing on screen and is used to
	// make the device report a fresh observation.
	InputLift InputType = iota
	InputTouch
	InputKey
)

// Common key codes.
const (
	KeyHome  = "KEYCODE_HOME"
	KeyBack  = "KEYCODE_BACK"
	KeyEnter = "KEYCODE_ENTER"
)

// Input is one low-level input event.
type Input struct {
	Type    InputType
	X, Y    int
	KeyCode string
}

// LiftInput returns the no-op input.
func LiftInput() Input { return Input{Type: InputLift} }

// TouchInput returns a touch at (x, y).
func TouchInput(x, y int) Input { return Input{Type: InputTouch, X: x, Y: y} }

// KeyInput returns a key press.
func KeyInput(code string) Input { return Input{Type: InputKey, KeyCode: code} }
