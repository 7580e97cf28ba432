package capture

import (
	"image/color"
	"math"
)

// ElementState is the role an element plays in the visualization, inferred
// from its colour.
type ElementState int

const (
	StateDefault ElementState = iota
	StateActive
	StateFinalized
)

func (s ElementState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFinalized:
		return "finalized"
	default:
		return "default"
	}
}

// Palette is the colour each state is redrawn with.
var Palette = map[ElementState]color.RGBA{
	StateDefault:   {59, 130, 246, 255},
	StateActive:    {239, 68, 68, 255},
	StateFinalized: {34, 197, 94, 255},
}

const (
	minSaturation = 0.25
	minValue      = 0.20
)

// Classify maps red-like colours to StateActive, green-like colours to
// StateFinalized and everything else to StateDefault.
func Classify(c color.Color) ElementState {
	if c == nil {
		return StateDefault
	}
	// Hue is judged on straight channels so translucency does not darken it.
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	if n.A == 0 {
		return StateDefault
	}

	h, s, v := hsv(float64(n.R)/0xff, float64(n.G)/0xff, float64(n.B)/0xff)
	if s < minSaturation || v < minValue {
		return StateDefault
	}

	switch {
	case h < 20 || h >= 340:
		return StateActive
	case h >= 80 && h < 170:
		return StateFinalized
	}
	return StateDefault
}

// hsv converts normalized RGB to hue in degrees [0, 360) and saturation and
// value in [0, 1].
func hsv(r, g, b float64) (h, s, v float64) {
	hi := math.Max(r, math.Max(g, b))
	lo := math.Min(r, math.Min(g, b))
	delta := hi - lo

	v = hi
	if hi > 0 {
		s = delta / hi
	}
	if delta == 0 {
		return 0, s, v
	}

	switch hi {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}
