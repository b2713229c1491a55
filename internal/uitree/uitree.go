// File: internal/uitree/uitree.go
// Package uitree turns uiautomator XML hierarchy dumps into ordered UI element lists.
package uitree

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/droidctl/api/schemas"
)

// ErrUnsupportedTree is returned for tree values the inferrer cannot read.
var ErrUnsupportedTree = errors.New("unsupported UI tree type")

var (
	boundsRegex  = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)
	hierarchyEnd = []byte("</hierarchy>")
)

// Inferrer implements env.ElementInferrer for uiautomator dumps.
type Inferrer struct{}

// NewInferrer returns an Inferrer.
func NewInferrer() *Inferrer { return &Inferrer{} }

// ElementsFromTree accepts a parsed *etree.Document or the raw dump as []byte or string.
func (i *Inferrer) ElementsFromTree(tree any, screen schemas.ScreenSize) ([]schemas.UIElement, error) {
	var doc *etree.Document
	switch t := tree.(type) {
	case *etree.Document:
		doc = t
	case []byte:
		d, err := Parse(t)
		if err != nil {
			return nil, err
		}
		doc = d
	case string:
		d, err := Parse([]byte(t))
		if err != nil {
			return nil, err
		}
		doc = d
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedTree, tree)
	}
	return Elements(doc, screen), nil
}

// Parse reads a uiautomator dump. Anything printed after the closing
// hierarchy tag, such as the "UI hierchary dumped to" banner, is ignored.
func Parse(data []byte) (*etree.Document, error) {
	if end := bytes.LastIndex(data, hierarchyEnd); end >= 0 {
		data = data[:end+len(hierarchyEnd)]
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty UI dump")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse UI dump: %w", err)
	}
	if doc.Root() == nil {
		return nil, errors.New("UI dump has no root element")
	}
	return doc, nil
}

// Rotation returns the rotation attribute of the hierarchy root, 0 when absent.
func Rotation(doc *etree.Document) int {
	if doc == nil || doc.Root() == nil {
		return 0
	}
	r, err := strconv.Atoi(doc.Root().SelectAttrValue("rotation", "0"))
	if err != nil {
		return 0
	}
	return r
}

// Elements walks node elements in document order and keeps leaves and nodes
// that carry interactive state.
func Elements(doc *etree.Document, screen schemas.ScreenSize) []schemas.UIElement {
	if doc == nil || doc.Root() == nil {
		return nil
	}
	var out []schemas.UIElement
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		children := e.SelectElements("node")
		if e.Tag == "node" && (len(children) == 0 || interactive(e)) {
			out = append(out, toElement(e, screen))
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(doc.Root())
	return out
}

func interactive(e *etree.Element) bool {
	for _, attr := range []string{"clickable", "checkable", "long-clickable", "scrollable"} {
		if boolAttr(e, attr, false) {
			return true
		}
	}
	return isEditable(e)
}

func isEditable(e *etree.Element) bool {
	return boolAttr(e, "editable", false) || strings.HasSuffix(e.SelectAttrValue("class", ""), "EditText")
}

func toElement(e *etree.Element, screen schemas.ScreenSize) schemas.UIElement {
	resourceID := e.SelectAttrValue("resource-id", "")
	bounds, _ := ParseBounds(e.SelectAttrValue("bounds", ""))
	el := schemas.UIElement{
		Text:               e.SelectAttrValue("text", ""),
		ContentDescription: e.SelectAttrValue("content-desc", ""),
		ClassName:          e.SelectAttrValue("class", ""),
		HintText:           e.SelectAttrValue("hint", ""),
		Tooltip:            e.SelectAttrValue("tooltip-text", ""),
		ResourceID:         resourceID,
		ResourceName:       resourceName(resourceID),
		PackageName:        e.SelectAttrValue("package", ""),
		Bounds:             bounds,
		NormalizedBounds:   normalize(bounds, screen),
		IsCheckable:        boolAttr(e, "checkable", false),
		IsChecked:          boolAttr(e, "checked", false),
		IsClickable:        boolAttr(e, "clickable", false),
		IsEditable:         isEditable(e),
		IsEnabled:          boolAttr(e, "enabled", true),
		IsFocusable:        boolAttr(e, "focusable", false),
		IsFocused:          boolAttr(e, "focused", false),
		IsLongClickable:    boolAttr(e, "long-clickable", false),
		IsScrollable:       boolAttr(e, "scrollable", false),
		IsSelected:         boolAttr(e, "selected", false),
		IsVisible:          boolAttr(e, "visible-to-user", true),
	}
	return el
}

// ParseBounds reads a "[left,top][right,bottom]" rectangle.
func ParseBounds(s string) (schemas.BoundingBox, error) {
	m := boundsRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return schemas.BoundingBox{}, fmt.Errorf("malformed bounds %q", s)
	}
	var v [4]float64
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return schemas.BoundingBox{}, fmt.Errorf("malformed bounds %q: %w", s, err)
		}
		v[i] = float64(n)
	}
	return schemas.BoundingBox{XMin: v[0], YMin: v[1], XMax: v[2], YMax: v[3]}, nil
}

func normalize(b schemas.BoundingBox, screen schemas.ScreenSize) schemas.BoundingBox {
	if screen.IsZero() {
		return schemas.BoundingBox{}
	}
	w, h := float64(screen.Width), float64(screen.Height)
	return schemas.BoundingBox{XMin: b.XMin / w, XMax: b.XMax / w, YMin: b.YMin / h, YMax: b.YMax / h}
}

// resourceName strips the "package:id/" prefix from a resource id.
func resourceName(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func boolAttr(e *etree.Element, key string, def bool) bool {
	v := e.SelectAttrValue(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
