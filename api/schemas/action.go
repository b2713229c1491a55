// File: api/schemas/action.go
package schemas

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// -- Action Vocabulary --

// ActionKind is the closed enumeration of intents an agent can issue against a device.
type ActionKind string

const (
	KindClick         ActionKind = "click"
	KindDoubleTap     ActionKind = "double_tap"
	KindLongPress     ActionKind = "long_press"
	KindScroll        ActionKind = "scroll"
	KindSwipe         ActionKind = "swipe"
	KindInputText     ActionKind = "input_text"
	KindKeyboardEnter ActionKind = "keyboard_enter"
	KindNavigateBack  ActionKind = "navigate_back"
	KindNavigateHome  ActionKind = "navigate_home"
	KindOpenApp       ActionKind = "open_app"
	KindWait          ActionKind = "wait"
	KindStatus        ActionKind = "status"
	KindAnswer        ActionKind = "answer"
	KindUnknown       ActionKind = "unknown"
)

// ActionKinds lists every member of the enumeration in declaration order.
var ActionKinds = []ActionKind{
	KindClick, KindDoubleTap, KindLongPress, KindScroll, KindSwipe,
	KindInputText, KindKeyboardEnter, KindNavigateBack, KindNavigateHome,
	KindOpenApp, KindWait, KindStatus, KindAnswer, KindUnknown,
}

// Valid reports whether k is a member of the enumeration.
func (k ActionKind) Valid() bool {
	for _, known := range ActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsPositional reports whether the kind addresses a point on the screen.
func (k ActionKind) IsPositional() bool {
	return k == KindClick || k == KindDoubleTap || k == KindLongPress
}

// IsDirectional reports whether the kind carries a direction.
func (k ActionKind) IsDirectional() bool {
	return k == KindScroll || k == KindSwipe
}

// Direction is the direction of a scroll or swipe.
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
)

// Activity nicknames understood by open_app.
const (
	ActivityAppDrawer     = "app_drawer"
	ActivityQuickSettings = "quick_settings"
)

// -- Addressing --

// TargetMode identifies which addressing mode a Target uses.
type TargetMode int

const (
	TargetNone TargetMode = iota
	TargetIndex
	TargetCoordinate
)

// Target addresses the element or point an action applies to. Only one mode
// can be populated at a time; the zero value addresses nothing.
type Target struct {
	mode  TargetMode
	index int
	x, y  float64
}

// NoTarget returns an empty Target.
func NoTarget() Target { return Target{} }

// AtIndex addresses the i-th element of the current UI element list.
func AtIndex(i int) Target { return Target{mode: TargetIndex, index: i} }

// AtCoordinate addresses a pixel position on the logical screen.
func AtCoordinate(x, y float64) Target { return Target{mode: TargetCoordinate, x: x, y: y} }

// Mode returns the addressing mode in use.
func (t Target) Mode() TargetMode { return t.mode }

// Index returns the element index when the target is index addressed.
func (t Target) Index() (int, bool) {
	return t.index, t.mode == TargetIndex
}

// Coordinate returns the pixel position when the target is coordinate addressed.
func (t Target) Coordinate() (x, y float64, ok bool) {
	return t.x, t.y, t.mode == TargetCoordinate
}

// -- Action --

// Action is one discrete intent. Optional fields are pointers: nil means the
// field is not set, which is distinct from an empty string both for equality
// and for serialization.
type Action struct {
	Kind             ActionKind
	Target           Target
	Text             *string
	Direction        *Direction
	GoalStatus       *string
	AppName          *string
	ActivityNickname *string
}

// Ptr returns a pointer to v. Handy for populating optional Action fields.
func Ptr[T any](v T) *T { return &v }

// Equal reports whether a and b describe the same intent.
//
// AppName and Text compare case-insensitively when both are set; when either is
// nil they are equal only if both are nil. Everything else compares exactly.
// The relation is reflexive and symmetric but not guaranteed to be transitive.
func (a Action) Equal(b Action) bool {
	return foldEqual(a.AppName, b.AppName) &&
		foldEqual(a.Text, b.Text) &&
		a.Kind == b.Kind &&
		a.Target == b.Target &&
		ptrEqual(a.Direction, b.Direction) &&
		ptrEqual(a.GoalStatus, b.GoalStatus) &&
		ptrEqual(a.ActivityNickname, b.ActivityNickname)
}

// ActionsEqual is the function form of Action.Equal.
func ActionsEqual(a, b Action) bool { return a.Equal(b) }

func foldEqual(a, b *string) bool {
	if a != nil && b != nil {
		return strings.ToLower(*a) == strings.ToLower(*b)
	}
	return a == nil && b == nil
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// -- Wire Format --

// wireJSON emits compact output without HTML escaping so payload text survives byte for byte.
var wireJSON = jsoniter.Config{
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

var (
	// ErrMissingActionKind is returned when an encoded action has no action_type.
	ErrMissingActionKind = errors.New("action_type is required")
	// ErrUnknownActionKind is returned when action_type is not part of the vocabulary.
	ErrUnknownActionKind = errors.New("unknown action_type")
)

// wireAction fixes the key order of the encoding. Nil fields are omitted.
type wireAction struct {
	ActionType       ActionKind `json:"action_type"`
	Index            *int       `json:"index,omitempty"`
	X                *float64   `json:"x,omitempty"`
	Y                *float64   `json:"y,omitempty"`
	Text             *string    `json:"text,omitempty"`
	Direction        *Direction `json:"direction,omitempty"`
	GoalStatus       *string    `json:"goal_status,omitempty"`
	AppName          *string    `json:"app_name,omitempty"`
	ActivityNickname *string    `json:"activity_nickname,omitempty"`
}

// wireActionIn accepts an index encoded either as a number or a numeric string.
type wireActionIn struct {
	ActionType       *ActionKind         `json:"action_type"`
	Index            jsoniter.RawMessage `json:"index"`
	X                *float64            `json:"x"`
	Y                *float64            `json:"y"`
	Text             *string             `json:"text"`
	Direction        *Direction          `json:"direction"`
	GoalStatus       *string             `json:"goal_status"`
	AppName          *string             `json:"app_name"`
	ActivityNickname *string             `json:"activity_nickname"`
}

// MarshalJSON encodes only the populated fields in a stable order.
func (a Action) MarshalJSON() ([]byte, error) {
	w := wireAction{
		ActionType:       a.Kind,
		Text:             a.Text,
		Direction:        a.Direction,
		GoalStatus:       a.GoalStatus,
		AppName:          a.AppName,
		ActivityNickname: a.ActivityNickname,
	}
	switch a.Target.mode {
	case TargetIndex:
		w.Index = Ptr(a.Target.index)
	case TargetCoordinate:
		w.X = Ptr(a.Target.x)
		w.Y = Ptr(a.Target.y)
	}
	return wireJSON.Marshal(w)
}

// UnmarshalJSON decodes an action. The only validation performed is membership
// of action_type in the vocabulary; field combinations are left to actuation.
// When both an index and a coordinate are present the index wins.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w wireActionIn
	if err := wireJSON.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to decode action: %w", err)
	}
	if w.ActionType == nil {
		return ErrMissingActionKind
	}
	if !w.ActionType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownActionKind, string(*w.ActionType))
	}

	target := NoTarget()
	switch {
	case len(w.Index) > 0 && string(w.Index) != "null":
		idx, err := decodeIndex(w.Index)
		if err != nil {
			return err
		}
		target = AtIndex(idx)
	case w.X != nil && w.Y != nil:
		target = AtCoordinate(*w.X, *w.Y)
	case w.X != nil || w.Y != nil:
		return fmt.Errorf("coordinate target requires both x and y")
	}

	*a = Action{
		Kind:             *w.ActionType,
		Target:           target,
		Text:             w.Text,
		Direction:        w.Direction,
		GoalStatus:       w.GoalStatus,
		AppName:          w.AppName,
		ActivityNickname: w.ActivityNickname,
	}
	return nil
}

func decodeIndex(raw jsoniter.RawMessage) (int, error) {
	var n int
	if err := wireJSON.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := wireJSON.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("index must be an integer or a numeric string, got %s", string(raw))
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("index %q is not numeric: %w", s, err)
	}
	return n, nil
}

// Serialize returns the compact wire encoding of a.
func Serialize(a Action) (string, error) {
	b, err := a.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseAction decodes a wire encoded action.
func ParseAction(data []byte) (Action, error) {
	var a Action
	if err := a.UnmarshalJSON(data); err != nil {
		return Action{}, err
	}
	return a, nil
}

// ParseActionString is ParseAction for string input.
func ParseActionString(s string) (Action, error) {
	return ParseAction([]byte(s))
}

// String renders a for humans. Coordinates are shown with three decimals.
func (a Action) String() string {
	parts := []string{"action_type=" + strconv.Quote(string(a.Kind))}
	switch a.Target.mode {
	case TargetIndex:
		parts = append(parts, "index="+strconv.Itoa(a.Target.index))
	case TargetCoordinate:
		parts = append(parts,
			"x="+strconv.FormatFloat(a.Target.x, 'f', 3, 64),
			"y="+strconv.FormatFloat(a.Target.y, 'f', 3, 64))
	}
	optional := []struct {
		key string
		val *string
	}{
		{"text", a.Text},
		{"direction", (*string)(a.Direction)},
		{"goal_status", a.GoalStatus},
		{"app_name", a.AppName},
		{"activity_nickname", a.ActivityNickname},
	}
	for _, f := range optional {
		if f.val != nil {
			parts = append(parts, f.key+"="+strconv.Quote(*f.val))
		}
	}
	return "Action(" + strings.Join(parts, ", ") + ")"
}
