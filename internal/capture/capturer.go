// Package capture turns a surface id into a frame bitmap, falling back from a
// native snapshot to a structural reconstruction to a diagnostic placeholder.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/media"
	"github.com/audiolibrelab/vizcapture/internal/surface"
)

// Method names the strategy that produced a frame
type Method string

const (
	MethodNative      Method = "native"
	MethodSemantic    Method = "semantic"
	MethodPlaceholder Method = "placeholder"
)

// Result is one successful capture
type Result struct {
	Image    image.Image
	Method   Method
	Duration time.Duration
}

var errUninformative = errors.New("snapshot is blank or uniform")

// Capturer runs the capture cascade against a single host
type Capturer struct {
	host   surface.Host
	cfg    config.CaptureConfig
	logger *slog.Logger
	now    func() time.Time
}

// New creates a capturer for host. A nil host behaves like surface.NoHost.
func New(host surface.Host, cfg config.CaptureConfig, logger *slog.Logger) *Capturer {
	if host == nil {
		host = surface.NoHost{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{
		host:   host,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Capture produces a bitmap of the surface. Each strategy that fails falls
// through to the next; only exhaustion is reported, as media.ErrCaptureUnavailable.
func (c *Capturer) Capture(ctx context.Context, surfaceID string) (Result, error) {
	if strings.TrimSpace(surfaceID) == "" {
		return Result{}, fmt.Errorf("%w: empty surface id", media.ErrCaptureUnavailable)
	}

	start := c.now()
	budget := time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	log := c.logger.With("surface", surfaceID, "host", c.host.Name())

	// A hung native snapshot may only spend half the budget so that the
	// semantic strategy still has time to run.
	if snap, ok := c.host.(surface.Snapshotter); ok {
		img, err := guard(MethodNative, func() (image.Image, error) {
			nctx := ctx
			if budget > 0 {
				var cancel context.CancelFunc
				nctx, cancel = context.WithTimeout(ctx, budget/2)
				defer cancel()
			}
			img, err := snap.Snapshot(nctx, surfaceID)
			if err != nil {
				return nil, err
			}
			if !Informative(img) {
				return nil, errUninformative
			}
			return img, nil
		})
		if err == nil {
			return c.result(img, MethodNative, start), nil
		}
		log.Debug("Native capture failed", "error", err)
	}

	inspector, hasInspector := c.host.(surface.Inspector)
	if hasInspector {
		img, err := guard(MethodSemantic, func() (image.Image, error) {
			layout, err := inspector.Layout(ctx, surfaceID)
			if err != nil {
				return nil, err
			}
			return Reconstruct(layout)
		})
		if err == nil {
			return c.result(img, MethodSemantic, start), nil
		}
		log.Debug("Semantic reconstruction failed", "error", err)
	}

	if !c.cfg.PlaceholderEnabled() {
		return Result{}, fmt.Errorf("%w: no strategy could capture %s", media.ErrCaptureUnavailable, surfaceID)
	}

	var text string
	if hasInspector {
		text = surfaceText(ctx, inspector, surfaceID, log)
	}

	img := Placeholder(c.cfg.PlaceholderWidth, c.cfg.PlaceholderHeight, surfaceID, text, c.now())
	log.Debug("Using placeholder frame")
	return c.result(img, MethodPlaceholder, start), nil
}

func (c *Capturer) result(img image.Image, method Method, start time.Time) Result {
	return Result{
		Image:    img,
		Method:   method,
		Duration: c.now().Sub(start),
	}
}

// surfaceText is best effort; failures only cost the placeholder its body text.
func surfaceText(ctx context.Context, in surface.Inspector, id string, log *slog.Logger) (text string) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug("Surface text panicked", "panic", r)
			text = ""
		}
	}()
	t, err := in.Text(ctx, id)
	if err != nil {
		log.Debug("Surface text unavailable", "error", err)
		return ""
	}
	return t
}

// guard runs one strategy, converting a panic in a host adapter into an error.
func guard(method Method, fn func() (image.Image, error)) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("%s capture panicked: %v", method, r)
		}
	}()
	return fn()
}

// Informative reports whether img has pixels and is not a single flat colour.
// Large images are checked on a sampled grid.
func Informative(img image.Image) bool {
	if img == nil {
		return false
	}
	b := img.Bounds()
	if b.Empty() {
		return false
	}

	const grid = 32
	stepX := max(1, b.Dx()/grid)
	stepY := max(1, b.Dy()/grid)

	r0, g0, b0, a0 := img.At(b.Min.X, b.Min.Y).RGBA()
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, a := img.At(x, y).RGBA()
			if r != r0 || g != g0 || bl != b0 || a != a0 {
				return true
			}
		}
	}
	return false
}
