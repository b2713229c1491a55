// internal/env/snapshot.go
package env

import (
	"image"
	"slices"
	"time"

	"github.com/xkilldash9x/droidctl/api/schemas"
)

// Snapshot is one immutable observation of the device: the screen, the raw UI
// tree and the elements inferred from it. A newer snapshot supersedes it; it
// is never updated in place.
type Snapshot struct {
	pixels     image.Image
	tree       any
	elements   []schemas.UIElement
	capturedAt time.Time
}

// NewSnapshot packages an observation. The element slice is copied.
func NewSnapshot(pixels image.Image, tree any, elements []schemas.UIElement, capturedAt time.Time) *Snapshot {
	return &Snapshot{
		pixels:     pixels,
		tree:       tree,
		elements:   slices.Clone(elements),
		capturedAt: capturedAt,
	}
}

// Pixels returns the screen image.
func (s *Snapshot) Pixels() image.Image { return s.pixels }

// Tree returns the raw UI tree.
func (s *Snapshot) Tree() any { return s.tree }

// Elements returns a copy of the inferred UI elements.
func (s *Snapshot) Elements() []schemas.UIElement { return slices.Clone(s.elements) }

// NumElements returns the number of inferred UI elements.
func (s *Snapshot) NumElements() int { return len(s.elements) }

// CapturedAt is when the observation was packaged.
func (s *Snapshot) CapturedAt() time.Time { return s.capturedAt }

// SameElements reports whether two snapshots carry identical element lists.
// Pixels and trees are not compared.
func (s *Snapshot) SameElements(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return schemas.ElementsEqual(s.elements, other.elements)
}
