package capture

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/audiolibrelab/vizcapture/internal/canvas"
	"github.com/audiolibrelab/vizcapture/internal/surface"
)

var errNoElements = errors.New("layout has no visible elements")

var (
	reconstructBackground = color.RGBA{255, 255, 255, 255}
	labelColor            = color.RGBA{31, 41, 55, 255}
)

// Reconstruct redraws a layout from its structure alone. Only elements with a
// positive size and a non-transparent colour are drawn, filled with the
// Palette colour of their classified state. The output depends only on the
// layout, so identical layouts give identical bitmaps.
func Reconstruct(layout surface.Layout) (*image.RGBA, error) {
	cv := canvas.New(dimension(layout.Width), dimension(layout.Height), reconstructBackground)
	bounds := cv.Image().Rect

	drawn := 0
	for _, e := range layout.Elements {
		if !finite(e.X, e.Y, e.Width, e.Height) || e.Width <= 0 || e.Height <= 0 || e.Color.A == 0 {
			continue
		}

		rect := image.Rect(
			round(e.X), round(e.Y),
			round(e.X+e.Width), round(e.Y+e.Height),
		)
		if rect.Intersect(bounds).Empty() {
			continue
		}

		cv.FillRect(rect, Palette[Classify(e.Color)])
		drawn++

		drawLabel(cv, rect, e.Text)
	}

	if drawn == 0 {
		return nil, errNoElements
	}
	return cv.Image(), nil
}

// drawLabel centers text under its element, or inside the bottom of the
// element when there is no room below.
func drawLabel(cv *canvas.Canvas, rect image.Rectangle, text string) {
	if text == "" {
		return
	}
	tw := canvas.TextWidth(text)
	if tw > rect.Dx() {
		return
	}
	x := rect.Min.X + (rect.Dx()-tw)/2

	if rect.Max.Y+canvas.LineHeight <= cv.Height() {
		cv.DrawText(x, rect.Max.Y+canvas.LineHeight-2, text, labelColor)
		return
	}
	if rect.Dy() >= canvas.LineHeight+2 {
		cv.DrawText(x, rect.Max.Y-3, text, reconstructBackground)
	}
}

func dimension(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 1 {
		return 1
	}
	if v > canvas.MaxDimension {
		return canvas.MaxDimension
	}
	return int(math.Round(v))
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func round(v float64) int {
	return int(math.Round(v))
}
