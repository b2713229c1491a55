// File: api/schemas/element.go
package schemas

import "slices"

// -- Device Geometry --

// ScreenSize is a width/height pair in pixels.
type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether the size is unknown.
func (s ScreenSize) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

// BoundingBox is an axis aligned rectangle.
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (x, y float64) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

// Width of the box.
func (b BoundingBox) Width() float64 { return b.XMax - b.XMin }

// Height of the box.
func (b BoundingBox) Height() float64 { return b.YMax - b.YMin }

// IsZero reports whether the box has no area.
func (b BoundingBox) IsZero() bool { return b.Width() <= 0 || b.Height() <= 0 }

// -- UI Elements --

// UIElement is an addressable unit inferred from the device's UI tree.
// It is a comparable value type; two elements are equal when every field matches.
type UIElement struct {
	Text               string      `json:"text,omitempty"`
	ContentDescription string      `json:"content_description,omitempty"`
	ClassName          string      `json:"class_name,omitempty"`
	HintText           string      `json:"hint_text,omitempty"`
	Tooltip            string      `json:"tooltip,omitempty"`
	ResourceID         string      `json:"resource_id,omitempty"`
	ResourceName       string      `json:"resource_name,omitempty"`
	PackageName        string      `json:"package_name,omitempty"`
	Bounds             BoundingBox `json:"bbox_pixels"`
	NormalizedBounds   BoundingBox `json:"bbox"`

	IsCheckable     bool `json:"is_checkable,omitempty"`
	IsChecked       bool `json:"is_checked,omitempty"`
	IsClickable     bool `json:"is_clickable,omitempty"`
	IsEditable      bool `json:"is_editable,omitempty"`
	IsEnabled       bool `json:"is_enabled,omitempty"`
	IsFocusable     bool `json:"is_focusable,omitempty"`
	IsFocused       bool `json:"is_focused,omitempty"`
	IsLongClickable bool `json:"is_long_clickable,omitempty"`
	IsScrollable    bool `json:"is_scrollable,omitempty"`
	IsSelected      bool `json:"is_selected,omitempty"`
	IsVisible       bool `json:"is_visible,omitempty"`
}

// ElementsEqual compares two element lists position by position.
func ElementsEqual(a, b []UIElement) bool {
	return slices.Equal(a, b)
}
