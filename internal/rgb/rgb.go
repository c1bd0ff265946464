// Package rgb holds the small amount of color math shared by the sampler,
// the interpolator and the wire encoder. Colors are colorful.Color values
// with components in [0,1].
package rgb

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Gamma factor bounds. The factor is mapped to a per-component exponent of 2^g.
const (
	MinGamma     = -1.0
	MaxGamma     = 1.0
	DefaultGamma = 1.0
)

// Black is the zero color.
var Black = colorful.Color{}

// From8 converts 8-bit channel intensities to a color.
func From8(r, g, b uint8) colorful.Color {
	return colorful.Color{
		R: float64(r) / 255,
		G: float64(g) / 255,
		B: float64(b) / 255,
	}
}

// ClampGamma limits a gamma factor to [MinGamma, MaxGamma]. NaN maps to the default.
func ClampGamma(g float64) float64 {
	if math.IsNaN(g) {
		return DefaultGamma
	}
	return math.Max(MinGamma, math.Min(MaxGamma, g))
}

// GammaExponent returns the exponent applied to each component for factor g.
func GammaExponent(g float64) float64 {
	return math.Exp2(ClampGamma(g))
}

// ApplyGamma raises each component to 2^g. A factor of 0 is the identity.
func ApplyGamma(c colorful.Color, g float64) colorful.Color {
	g = ClampGamma(g)
	if g == 0 {
		return c.Clamped()
	}
	e := math.Exp2(g)
	c = c.Clamped()
	return colorful.Color{
		R: math.Pow(c.R, e),
		G: math.Pow(c.G, e),
		B: math.Pow(c.B, e),
	}
}

// To16 converts a color to 16-bit components as sent on the wire.
func To16(c colorful.Color) (r, g, b uint16) {
	c = c.Clamped()
	return scale16(c.R), scale16(c.G), scale16(c.B)
}

func scale16(v float64) uint16 {
	return uint16(math.Round(v * math.MaxUint16))
}
