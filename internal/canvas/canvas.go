// Package canvas provides the offscreen drawing surface shared by the frame
// capturer (reconstructed and placeholder frames) and the encoder (fixed-size
// composition canvas).
package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LineHeight is the vertical advance of one line of canvas text.
const LineHeight = 13

// MaxDimension bounds either side of a canvas.
const MaxDimension = 4096

var face = basicfont.Face7x13

// Canvas is an RGBA drawing surface
type Canvas struct {
	img *image.RGBA
}

// New allocates a w x h canvas filled with bg. Dimensions are clamped to [1, MaxDimension].
func New(w, h int, bg color.Color) *Canvas {
	w = clamp(w, 1, MaxDimension)
	h = clamp(h, 1, MaxDimension)
	c := &Canvas{img: image.NewRGBA(image.Rect(0, 0, w, h))}
	c.Clear(bg)
	return c
}

// Image returns the backing image. It is nil after Release.
func (c *Canvas) Image() *image.RGBA { return c.img }

func (c *Canvas) Width() int  { return c.img.Rect.Dx() }
func (c *Canvas) Height() int { return c.img.Rect.Dy() }

// Clear fills the whole canvas with col.
func (c *Canvas) Clear(col color.Color) {
	draw.Draw(c.img, c.img.Rect, image.NewUniform(col), image.Point{}, draw.Src)
}

// FillRect fills r (clipped to the canvas) with col.
func (c *Canvas) FillRect(r image.Rectangle, col color.Color) {
	r = r.Intersect(c.img.Rect)
	if r.Empty() {
		return
	}
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Over)
}

// DrawText draws s with its baseline at (x, y).
func (c *Canvas) DrawText(x, y int, s string, col color.Color) {
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// DrawImageFit scales src to fit inside area preserving aspect ratio and
// draws it centered.
func (c *Canvas) DrawImageFit(src image.Image, area image.Rectangle) {
	if src == nil {
		return
	}
	area = area.Intersect(c.img.Rect)
	sb := src.Bounds()
	if area.Empty() || sb.Empty() {
		return
	}

	w, h := fitSize(sb.Dx(), sb.Dy(), area.Dx(), area.Dy())
	var scaled image.Image = src
	if w != sb.Dx() || h != sb.Dy() {
		scaled = imaging.Resize(src, w, h, imaging.Lanczos)
	}

	offset := image.Pt(area.Min.X+(area.Dx()-w)/2, area.Min.Y+(area.Dy()-h)/2)
	dst := image.Rectangle{Min: offset, Max: offset.Add(image.Pt(w, h))}
	draw.Draw(c.img, dst, scaled, scaled.Bounds().Min, draw.Over)
}

// Release drops the pixel buffer so it can be collected.
func (c *Canvas) Release() {
	c.img = nil
}

// TextWidth returns the pixel width of s in the canvas font.
func TextWidth(s string) int {
	return font.MeasureString(face, s).Ceil()
}

// WrapText splits s into lines no wider than maxWidth pixels. Words wider than
// the limit are hard-broken.
func WrapText(s string, maxWidth int) []string {
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		line := ""
		for _, word := range words {
			for TextWidth(word) > maxWidth && utf8.RuneCountInString(word) > 1 {
				r := []rune(word)
				cut := len(r) - 1
				for cut > 1 && TextWidth(string(r[:cut])) > maxWidth {
					cut--
				}
				if line != "" {
					lines = append(lines, line)
					line = ""
				}
				lines = append(lines, string(r[:cut]))
				word = string(r[cut:])
			}
			candidate := word
			if line != "" {
				candidate = line + " " + word
			}
			if TextWidth(candidate) > maxWidth && line != "" {
				lines = append(lines, line)
				line = word
			} else {
				line = candidate
			}
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// EncodePNG encodes img as PNG with fast compression.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img as JPEG. quality is in (0, 1].
func EncodeJPEG(img image.Image, quality float64) ([]byte, error) {
	q := int(quality*100 + 0.5)
	q = clamp(q, 1, 100)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fitSize(sw, sh, maxW, maxH int) (int, int) {
	ratioW := float64(maxW) / float64(sw)
	ratioH := float64(maxH) / float64(sh)
	ratio := ratioW
	if ratioH < ratio {
		ratio = ratioH
	}
	w := clamp(int(float64(sw)*ratio+0.5), 1, maxW)
	h := clamp(int(float64(sh)*ratio+0.5), 1, maxH)
	return w, h
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
