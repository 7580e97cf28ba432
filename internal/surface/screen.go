package surface

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/vova616/screenshot"

	"github.com/audiolibrelab/vizcapture/internal/config"
)

// ScreenHost captures regions of the local display. Surface ids are either
// "screen" for the whole display or "x,y,w,h".
type ScreenHost struct {
	grabScreen func() (*image.RGBA, error)
	grabRect   func(image.Rectangle) (*image.RGBA, error)
}

// NewScreenHost returns a host backed by the display server.
func NewScreenHost() *ScreenHost {
	return &ScreenHost{
		grabScreen: screenshot.CaptureScreen,
		grabRect:   screenshot.CaptureRect,
	}
}

func (h *ScreenHost) Name() string  { return config.HostScreen }
func (h *ScreenHost) Close() error { return nil }

// Snapshot grabs the region named by id.
func (h *ScreenHost) Snapshot(ctx context.Context, id string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if id == "" || strings.EqualFold(id, "screen") {
		return h.grabScreen()
	}

	rect, err := ParseRect(id)
	if err != nil {
		return nil, err
	}
	return h.grabRect(rect)
}

// ParseRect parses "x,y,w,h" into a rectangle.
func ParseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("screen region must be 'x,y,w,h', got: %s", s)
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("screen region component %d is not a number: %s", i, p)
		}
		v[i] = n
	}

	if v[2] <= 0 || v[3] <= 0 {
		return image.Rectangle{}, errors.New("screen region must have positive width and height")
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}
