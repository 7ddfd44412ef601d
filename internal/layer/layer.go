package layer

import (
	"fmt"

	"github.com/smazurov/displaynode/internal/disperr"
)

// Kind distinguishes RGB planes from the video plane.
type Kind string

// Layer kinds.
const (
	KindRGB   Kind = "rgb"
	KindVideo Kind = "video"
)

// State is the configuration progress of a layer. Registers are only
// meaningful once the earlier steps have been written, so operations are
// rejected until the layer reaches the state they depend on.
type State int

// Layer states in required order.
const (
	StateDisabled State = iota
	StateFormatSet
	StatePositioned
	StateAddressed
	StateEnabled
)

var stateNames = [...]string{"disabled", "format_set", "positioned", "addressed", "enabled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Rect is a rectangle in pixels.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// SameSize reports whether r and o have identical dimensions.
func (r Rect) SameSize(o Rect) bool { return r.W == o.W && r.H == o.H }

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// ColorKind selects one of the per-layer color controls.
type ColorKind int

// Color controls.
const (
	ColorAlpha ColorKind = iota
	ColorTransparentKey
	ColorInvertKey
)

// ParseColorKind accepts "alpha", "transparent_key" and "invert_key".
func ParseColorKind(s string) (ColorKind, error) {
	switch s {
	case "alpha":
		return ColorAlpha, nil
	case "transparent_key":
		return ColorTransparentKey, nil
	case "invert_key":
		return ColorInvertKey, nil
	}
	return 0, disperr.Newf(disperr.CodeInvalidArgument, "layer.ParseColorKind", "unknown color control %q", s)
}

func (k ColorKind) String() string {
	switch k {
	case ColorAlpha:
		return "alpha"
	case ColorTransparentKey:
		return "transparent_key"
	case ColorInvertKey:
		return "invert_key"
	}
	return fmt.Sprintf("ColorKind(%d)", int(k))
}

// MaxAlpha is the opaque alpha level.
const MaxAlpha = 15

// ColorControls holds the blending state of a layer. Keys are stored already
// quantized to the layer's pixel depth.
type ColorControls struct {
	Alpha          int    `json:"alpha"`
	AlphaOn        bool   `json:"alpha_on"`
	TransparentKey uint32 `json:"transparent_key"`
	TransparentOn  bool   `json:"transparent_on"`
	InvertKey      uint32 `json:"invert_key"`
	InvertOn       bool   `json:"invert_on"`
}

// Layer is a snapshot of one mixer layer.
type Layer struct {
	Index   int           `json:"index"`
	Kind    Kind          `json:"kind"`
	State   State         `json:"state"`
	Format  Format        `json:"format"`
	Source  Rect          `json:"source"`
	Dest    Rect          `json:"dest"`
	Stride  int           `json:"stride"`
	Address uint32        `json:"address"`
	Enabled bool          `json:"enabled"`
	Color   ColorControls `json:"color"`
	// Pending is set while register writes wait for an explicit commit.
	Pending bool `json:"pending"`
}

// Priority is one of the fixed stacking orders of the video layer relative to
// the RGB layers. Earlier entries are on top.
type Priority int

// Stacking orders.
const (
	PriorityVideoFirst Priority = iota
	PriorityVideoSecond
	PriorityVideoThird
	PriorityVideoLast
)

var priorityNames = [...]string{"video_first", "video_second", "video_third", "video_last"}

// ParsePriority accepts "video_first", "video_second", "video_third" and
// "video_last".
func ParsePriority(s string) (Priority, error) {
	for i, n := range priorityNames {
		if n == s {
			return Priority(i), nil
		}
	}
	return 0, disperr.Newf(disperr.CodeInvalidArgument, "layer.ParsePriority", "unknown priority %q", s)
}

func (p Priority) valid() bool { return p >= 0 && int(p) < len(priorityNames) }

func (p Priority) String() string {
	if !p.valid() {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}
