package config

import (
	"fmt"
	"strconv"

	"github.com/audiolibrelab/vizcapture/internal/media"
)

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("subject is required")
	}

	if _, err := c.Recording.Options().Normalize(); err != nil {
		return fmt.Errorf("recording: %w", err)
	}

	if err := validateCapture(c.Capture); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	if err := validateEncoder(c.Encoder); err != nil {
		return fmt.Errorf("encoder: %w", err)
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output: 'directory' is required")
	}

	if c.Server.Port != "" {
		port, err := strconv.Atoi(c.Server.Port)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("server: 'port' must be a number between 1 and 65535, got: %s", c.Server.Port)
		}
	}

	return nil
}

func validateCapture(c CaptureConfig) error {
	switch c.Host {
	case HostBrowser, HostScreen, HostFile, HostNone:
	default:
		return fmt.Errorf("'host' must be one of browser, screen, file, none, got: %s", c.Host)
	}

	if c.TimeoutMs <= 0 {
		return fmt.Errorf("'timeout_ms' must be > 0, got: %d", c.TimeoutMs)
	}

	if c.PlaceholderWidth <= 0 || c.PlaceholderHeight <= 0 {
		return fmt.Errorf("placeholder size must be positive, got: %dx%d", c.PlaceholderWidth, c.PlaceholderHeight)
	}

	if c.Host == HostBrowser && c.Browser.URL == "" && c.Browser.ControlURL == "" {
		return fmt.Errorf("browser host requires 'browser.url' or 'browser.control_url'")
	}

	return nil
}

func validateEncoder(e EncoderConfig) error {
	if len(e.Strategies) == 0 {
		return fmt.Errorf("'strategies' cannot be empty")
	}

	seen := make(map[string]bool)
	for i, name := range e.Strategies {
		switch name {
		case StrategyNative, StrategyBundle, StrategyDump:
		default:
			return fmt.Errorf("strategies[%d] must be one of native, bundle, dump, got: %s", i, name)
		}
		if seen[name] {
			return fmt.Errorf("strategies[%d]: duplicate strategy '%s'", i, name)
		}
		seen[name] = true
	}

	if e.MaxFrames <= 0 {
		return fmt.Errorf("'max_frames' must be > 0, got: %d", e.MaxFrames)
	}

	if e.FrameDurationMs <= 0 {
		return fmt.Errorf("'frame_duration_ms' must be > 0, got: %d", e.FrameDurationMs)
	}

	if e.CanvasWidth <= 0 || e.CanvasHeight <= 0 {
		return fmt.Errorf("canvas size must be positive, got: %dx%d", e.CanvasWidth, e.CanvasHeight)
	}

	if e.MinArtifactBytes < 0 {
		return fmt.Errorf("'min_artifact_bytes' must be >= 0, got: %d", e.MinArtifactBytes)
	}

	if e.TimeoutMs <= 0 {
		return fmt.Errorf("'timeout_ms' must be > 0, got: %d", e.TimeoutMs)
	}

	if seen[StrategyNative] && e.FFmpegPath == "" {
		return fmt.Errorf("'ffmpeg_path' is required when the native strategy is enabled")
	}

	return nil
}

// ParseOptions is a convenience for callers validating user-supplied options
// against the recording defaults of this config.
func (c *Config) ParseOptions(frameRate int, format string, quality float64) (media.Options, error) {
	opts := c.Recording.Options()
	if frameRate != 0 {
		opts.FrameRate = frameRate
	}
	if format != "" {
		opts.Format = media.Format(format)
	}
	if quality != 0 {
		opts.Quality = quality
	}
	return opts.Normalize()
}
