package capture

import (
	"image"
	"image/color"
	"time"

	"github.com/audiolibrelab/vizcapture/internal/canvas"
)

const maxPlaceholderTextLines = 24

var (
	placeholderBackground = color.RGBA{243, 244, 246, 255}
	placeholderBorder     = color.RGBA{156, 163, 175, 255}
	placeholderTitle      = color.RGBA{17, 24, 39, 255}
	placeholderBody       = color.RGBA{55, 65, 81, 255}
)

// Placeholder renders a diagnostic frame naming the surface, its text content
// and the capture time. It is used when neither a snapshot nor a
// reconstruction is possible.
func Placeholder(width, height int, surfaceID, text string, at time.Time) *image.RGBA {
	cv := canvas.New(width, height, placeholderBackground)
	w, h := cv.Width(), cv.Height()

	const margin = 20
	border := 2
	cv.FillRect(image.Rect(0, 0, w, border), placeholderBorder)
	cv.FillRect(image.Rect(0, h-border, w, h), placeholderBorder)
	cv.FillRect(image.Rect(0, 0, border, h), placeholderBorder)
	cv.FillRect(image.Rect(w-border, 0, w, h), placeholderBorder)

	y := margin + canvas.LineHeight
	cv.DrawText(margin, y, "Live capture unavailable", placeholderTitle)
	y += canvas.LineHeight * 2
	cv.DrawText(margin, y, "Surface: "+surfaceID, placeholderBody)
	y += canvas.LineHeight * 2

	footerY := h - margin
	available := (footerY - canvas.LineHeight - y) / canvas.LineHeight
	if available > maxPlaceholderTextLines {
		available = maxPlaceholderTextLines
	}

	if text != "" && available > 0 {
		lines := canvas.WrapText(text, w-2*margin)
		if len(lines) > available {
			lines = lines[:available]
			lines[available-1] = truncateLine(lines[available-1], w-2*margin)
		}
		for _, line := range lines {
			cv.DrawText(margin, y, line, placeholderBody)
			y += canvas.LineHeight
		}
	}

	cv.DrawText(margin, footerY, "Captured "+at.Format("2006-01-02 15:04:05.000 MST"), placeholderBody)
	return cv.Image()
}

func truncateLine(line string, maxWidth int) string {
	const ellipsis = "..."
	for line != "" && canvas.TextWidth(line+ellipsis) > maxWidth {
		r := []rune(line)
		line = string(r[:len(r)-1])
	}
	return line + ellipsis
}
