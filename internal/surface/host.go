// Package surface binds surface identifiers to the host facilities that can
// render or inspect them.
package surface

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/vizcapture/internal/config"
)

// Element is one visible element of a surface, in surface-relative pixels
type Element struct {
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	Width  float64     `json:"width"`
	Height float64     `json:"height"`
	Color  color.NRGBA `json:"color"`
	Text   string      `json:"text,omitempty"`
}

// Layout is the structural view of a surface used for reconstruction
type Layout struct {
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Elements []Element `json:"elements"`
}

// Host is a source of surfaces. Capabilities are discovered through the
// optional Snapshotter and Inspector interfaces.
type Host interface {
	Name() string
	Close() error
}

// Snapshotter renders a surface region to a bitmap.
type Snapshotter interface {
	Snapshot(ctx context.Context, id string) (image.Image, error)
}

// Inspector exposes the visible structure and text of a surface.
type Inspector interface {
	Layout(ctx context.Context, id string) (Layout, error)
	Text(ctx context.Context, id string) (string, error)
}

// Open creates the host selected by cfg.Host
func Open(ctx context.Context, cfg config.CaptureConfig, logger *slog.Logger) (Host, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(cfg.Host) {
	case config.HostBrowser:
		return NewBrowserHost(ctx, cfg.Browser, logger)
	case config.HostScreen:
		return NewScreenHost(), nil
	case config.HostFile:
		return NewFileHost(), nil
	case config.HostNone, "":
		return NoHost{}, nil
	default:
		return nil, fmt.Errorf("unknown capture host: %s", cfg.Host)
	}
}

// NoHost offers no capabilities; captures fall back to the placeholder frame.
type NoHost struct{}

func (NoHost) Name() string  { return config.HostNone }
func (NoHost) Close() error { return nil }
