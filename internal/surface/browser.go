package surface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/multierr"

	"github.com/audiolibrelab/vizcapture/internal/config"
)

// ErrSurfaceNotFound is returned when no element matches the surface id.
var ErrSurfaceNotFound = errors.New("surface not found")

// layoutProbe runs with `this` bound to the surface element and reports its
// visible leaf elements relative to the surface origin.
const layoutProbe = `() => {
	const root = this.getBoundingClientRect();
	const out = [];
	for (const el of this.querySelectorAll('*')) {
		if (el.children.length > 0) continue;
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) continue;
		const s = getComputedStyle(el);
		if (s.display === 'none' || s.visibility === 'hidden' || s.opacity === '0') continue;
		const c = (el instanceof SVGElement) ? s.fill : s.backgroundColor;
		out.push({
			x: r.left - root.left,
			y: r.top - root.top,
			w: r.width,
			h: r.height,
			color: c || '',
			text: (el.textContent || '').trim().slice(0, 32),
		});
	}
	return JSON.stringify({width: root.width, height: root.height, elements: out});
}`

type probeResult struct {
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Elements []struct {
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
		W     float64 `json:"w"`
		H     float64 `json:"h"`
		Color string  `json:"color"`
		Text  string  `json:"text"`
	} `json:"elements"`
}

// BrowserHost resolves surface ids as CSS selectors on a page loaded in a
// Chrome instance driven over the DevTools protocol.
type BrowserHost struct {
	logger   *slog.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// NewBrowserHost connects to cfg.ControlURL, or launches a local browser when
// it is empty, and opens cfg.URL.
func NewBrowserHost(ctx context.Context, cfg config.BrowserConfig, logger *slog.Logger) (*BrowserHost, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &BrowserHost{logger: logger}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		h.launcher = launcher.New().Context(ctx).Headless(cfg.IsHeadless())
		u, err := h.launcher.Launch()
		if err != nil {
			return nil, fmt.Errorf("error launching browser: %w", err)
		}
		controlURL = u
	} else {
		u, err := launcher.ResolveURL(controlURL)
		if err != nil {
			return nil, fmt.Errorf("error resolving browser control URL (%s): %w", controlURL, err)
		}
		controlURL = u
	}

	logger.Info("Connecting to browser", "control_url", controlURL, "page", cfg.URL)

	h.browser = rod.New().ControlURL(controlURL).Trace(cfg.Trace)
	if err := h.browser.Connect(); err != nil {
		h.killLauncher()
		return nil, fmt.Errorf("error connecting to browser: %w", err)
	}

	target := cfg.URL
	if target == "" {
		target = "about:blank"
	}
	page, err := h.browser.Page(proto.TargetCreateTarget{URL: target})
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("error creating page: %w", err)
	}
	h.page = page

	if err := page.Context(ctx).WaitLoad(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("error loading %s: %w", target, err)
	}

	return h, nil
}

func (h *BrowserHost) Name() string { return config.HostBrowser }

// Snapshot screenshots the element matched by the selector id.
func (h *BrowserHost) Snapshot(ctx context.Context, id string) (image.Image, error) {
	el, err := h.element(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("error capturing element %s: %w", id, err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error decoding element screenshot: %w", err)
	}
	return img, nil
}

// Layout probes the element's visible leaves.
func (h *BrowserHost) Layout(ctx context.Context, id string) (Layout, error) {
	el, err := h.element(ctx, id)
	if err != nil {
		return Layout{}, err
	}

	res, err := el.Eval(layoutProbe)
	if err != nil {
		return Layout{}, fmt.Errorf("error probing layout of %s: %w", id, err)
	}

	return parseProbe(res.Value.Str())
}

// Text returns the element's rendered text.
func (h *BrowserHost) Text(ctx context.Context, id string) (string, error) {
	el, err := h.element(ctx, id)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("error reading text of %s: %w", id, err)
	}
	return strings.TrimSpace(text), nil
}

// Close releases the page, the browser connection and any launched process.
func (h *BrowserHost) Close() error {
	var err error
	if h.page != nil {
		err = multierr.Append(err, h.page.Close())
		h.page = nil
	}
	if h.browser != nil {
		err = multierr.Append(err, h.browser.Close())
		h.browser = nil
	}
	h.killLauncher()
	if err != nil {
		h.logger.Warn("Browser host cleanup reported errors", "error", err)
	}
	return err
}

func (h *BrowserHost) killLauncher() {
	if h.launcher == nil {
		return
	}
	h.launcher.Kill()
	h.launcher.Cleanup()
	h.launcher = nil
}

func (h *BrowserHost) element(ctx context.Context, id string) (*rod.Element, error) {
	if h.page == nil {
		return nil, fmt.Errorf("browser host is closed")
	}
	if id == "" {
		return nil, ErrSurfaceNotFound
	}

	has, el, err := h.page.Context(ctx).Has(id)
	if err != nil {
		return nil, fmt.Errorf("error querying %s: %w", id, err)
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", ErrSurfaceNotFound, id)
	}
	return el, nil
}

func parseProbe(raw string) (Layout, error) {
	var probe probeResult
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return Layout{}, fmt.Errorf("error parsing layout probe: %w", err)
	}

	layout := Layout{Width: probe.Width, Height: probe.Height}
	for _, e := range probe.Elements {
		layout.Elements = append(layout.Elements, Element{
			X:      e.X,
			Y:      e.Y,
			Width:  e.W,
			Height: e.H,
			Color:  ParseCSSColor(e.Color),
			Text:   e.Text,
		})
	}
	return layout, nil
}

// ParseCSSColor understands the computed-style forms rgb(), rgba() and #rrggbb.
// Alpha is straight, not premultiplied. Anything else is reported as fully
// transparent.
func ParseCSSColor(s string) color.NRGBA {
	s = strings.TrimSpace(strings.ToLower(s))

	if strings.HasPrefix(s, "#") && len(s) == 7 {
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			return color.NRGBA{}
		}
		return color.NRGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}
	}

	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return color.NRGBA{}
	}
	fn := s[:open]
	if fn != "rgb" && fn != "rgba" {
		return color.NRGBA{}
	}

	parts := strings.FieldsFunc(s[open+1:len(s)-1], func(r rune) bool {
		return r == ',' || r == ' ' || r == '/'
	})
	if len(parts) < 3 {
		return color.NRGBA{}
	}

	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return color.NRGBA{}
		}
		rgb[i] = clampByte(f)
	}

	alpha := uint8(255)
	if len(parts) >= 4 {
		a, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return color.NRGBA{}
		}
		alpha = clampByte(a * 255)
	}

	if alpha == 0 {
		return color.NRGBA{}
	}
	return color.NRGBA{rgb[0], rgb[1], rgb[2], alpha}
}

func clampByte(f float64) uint8 {
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f + 0.5)
}
