package config

import (
	"strings"
	"testing"
)

func TestValidate_DefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty subject", func(c *Config) { c.Subject = "" }, "subject is required"},
		{"frame rate", func(c *Config) { c.Recording.FrameRate = 120 }, "frame rate must be between"},
		{"format", func(c *Config) { c.Recording.Format = "avi" }, "format must be"},
		{"host", func(c *Config) { c.Capture.Host = "vnc" }, "'host' must be one of"},
		{"capture timeout", func(c *Config) { c.Capture.TimeoutMs = 0 }, "'timeout_ms' must be > 0"},
		{"browser url", func(c *Config) { c.Capture.Browser.URL = "" }, "browser host requires"},
		{"no strategies", func(c *Config) { c.Encoder.Strategies = nil }, "'strategies' cannot be empty"},
		{"unknown strategy", func(c *Config) { c.Encoder.Strategies = []string{"webm"} }, "must be one of native, bundle, dump"},
		{"duplicate strategy", func(c *Config) { c.Encoder.Strategies = []string{"dump", "dump"} }, "duplicate strategy"},
		{"max frames", func(c *Config) { c.Encoder.MaxFrames = 0 }, "'max_frames' must be > 0"},
		{"canvas", func(c *Config) { c.Encoder.CanvasHeight = -1 }, "canvas size must be positive"},
		{"ffmpeg path", func(c *Config) { c.Encoder.FFmpegPath = "" }, "'ffmpeg_path' is required"},
		{"output", func(c *Config) { c.Output.Directory = "" }, "'directory' is required"},
		{"port", func(c *Config) { c.Server.Port = "http" }, "'port' must be a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseOptions(t *testing.T) {
	cfg := Default()
	cfg.Recording.FrameRate = 5

	opts, err := cfg.ParseOptions(0, "mp4", 0)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if opts.FrameRate != 5 || opts.Format != "mp4" || opts.Quality != 0.8 {
		t.Errorf("Unexpected options: %+v", opts)
	}

	if _, err := cfg.ParseOptions(0, "", 2); err == nil {
		t.Error("Expected error for quality above 1")
	}
}
