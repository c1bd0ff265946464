// Package entertainment holds the entertainment configuration topology
// (devices and channels) and the registry the streaming loop reads every tick.
package entertainment

import (
	"math"

	"github.com/dokzlo13/ambilightd/internal/rgb"
)

// Device is one physical light taking part in an entertainment configuration.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Point is a normalized screen coordinate, (0,0) top-left and (1,1) bottom-right.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Clamped limits both coordinates to [0,1]. NaN maps to 0.
func (p Point) Clamped() Point {
	return Point{X: clamp01(p.X), Y: clamp01(p.Y)}
}

// UVRect is a normalized screen region. Min is the top-left corner and Max the
// bottom-right one; Min.X <= Max.X and Min.Y <= Max.Y always hold for values
// produced by this package.
type UVRect struct {
	Min Point `json:"uvA"`
	Max Point `json:"uvB"`
}

// FullScreen covers the whole display.
func FullScreen() UVRect {
	return UVRect{Min: Point{0, 0}, Max: Point{1, 1}}
}

// Normalized clamps both corners to [0,1] and orders them.
func (r UVRect) Normalized() UVRect {
	a, b := r.Min.Clamped(), r.Max.Clamped()
	return UVRect{
		Min: Point{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y)},
		Max: Point{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y)},
	}
}

// Valid reports whether the rectangle satisfies the ordering and range invariants.
func (r UVRect) Valid() bool {
	in := func(v float64) bool { return v >= 0 && v <= 1 }
	return in(r.Min.X) && in(r.Min.Y) && in(r.Max.X) && in(r.Max.Y) &&
		r.Min.X <= r.Max.X && r.Min.Y <= r.Max.Y
}

// Corner identifies one of the four handles of a region.
type Corner int

const (
	CornerTopLeft Corner = iota
	CornerTopRight
	CornerBottomLeft
	CornerBottomRight
)

// CornerMin and CornerMax name the corners that coincide with UVRect fields.
const (
	CornerMin = CornerTopLeft
	CornerMax = CornerBottomRight
)

// ClampCorner maps unknown corner values to the nearest defined one.
func ClampCorner(c Corner) Corner {
	if c < CornerTopLeft {
		return CornerTopLeft
	}
	if c > CornerBottomRight {
		return CornerBottomRight
	}
	return c
}

// MoveCorner moves one corner of r to p. The point is clamped to [0,1]² and
// the opposite edges are pushed along when the move would invert the rectangle.
func MoveCorner(r UVRect, corner Corner, p Point) UVRect {
	r = r.Normalized()
	p = p.Clamped()

	switch ClampCorner(corner) {
	case CornerTopLeft:
		r.Min = p
		r.Max.X = math.Max(r.Max.X, p.X)
		r.Max.Y = math.Max(r.Max.Y, p.Y)
	case CornerTopRight:
		r.Max.X, r.Min.Y = p.X, p.Y
		r.Min.X = math.Min(r.Min.X, p.X)
		r.Max.Y = math.Max(r.Max.Y, p.Y)
	case CornerBottomLeft:
		r.Min.X, r.Max.Y = p.X, p.Y
		r.Max.X = math.Max(r.Max.X, p.X)
		r.Min.Y = math.Min(r.Min.Y, p.Y)
	case CornerBottomRight:
		r.Max = p
		r.Min.X = math.Min(r.Min.X, p.X)
		r.Min.Y = math.Min(r.Min.Y, p.Y)
	}

	return r
}

// State is a channel's streaming activity.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// Channel maps a screen region to the devices of one entertainment channel.
// Devices is shared between copies and must not be modified.
type Channel struct {
	ID      uint8    `json:"id"`
	Devices []Device `json:"devices"`
	Region  UVRect   `json:"uvs"`
	Gamma   float64  `json:"gammaFactor"`
	State   State    `json:"-"`
}

// Active reports whether the channel is streamed.
func (c Channel) Active() bool {
	return c.State == Active
}

// NewChannel creates an inactive full-screen channel with the default gamma.
func NewChannel(id uint8, devices []Device) Channel {
	return Channel{
		ID:      id,
		Devices: devices,
		Region:  FullScreen(),
		Gamma:   rgb.DefaultGamma,
		State:   Inactive,
	}
}

// Configuration is a named topology of devices and channels.
type Configuration struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Status   string            `json:"status,omitempty"`
	Devices  map[string]Device `json:"devices"`
	Channels map[uint8]Channel `json:"-"`
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
