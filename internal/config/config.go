package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/vizcapture/internal/media"
)

const (
	HostBrowser = "browser"
	HostScreen  = "screen"
	HostFile    = "file"
	HostNone    = "none"
)

const (
	StrategyNative = "native"
	StrategyBundle = "bundle"
	StrategyDump   = "dump"
)

const envPrefix = "VIZCAPTURE"

// RootConfig is the on-disk layout: a base config plus named profiles
type RootConfig struct {
	ActiveProfile string             `mapstructure:"active_profile" yaml:"active_profile"`
	Base          Config             `mapstructure:",squash" yaml:",inline"`
	Profiles      map[string]*Config `mapstructure:"profiles" yaml:"profiles,omitempty"`
}

type Config struct {
	Subject   string          `mapstructure:"subject" yaml:"subject"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Encoder   EncoderConfig   `mapstructure:"encoder" yaml:"encoder"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`

	// Name of the profile this config was resolved from
	Profile string `mapstructure:"-" yaml:"-"`
}

type RecordingConfig struct {
	FrameRate int     `mapstructure:"frame_rate" yaml:"frame_rate"`
	Format    string  `mapstructure:"format" yaml:"format"`
	Quality   float64 `mapstructure:"quality" yaml:"quality"`
}

type CaptureConfig struct {
	Host              string        `mapstructure:"host" yaml:"host"` // "browser", "screen", "file", "none"
	Surface           string        `mapstructure:"surface" yaml:"surface"`
	TimeoutMs         int           `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	Placeholder       *bool         `mapstructure:"placeholder" yaml:"placeholder,omitempty"`
	PlaceholderWidth  int           `mapstructure:"placeholder_width" yaml:"placeholder_width"`
	PlaceholderHeight int           `mapstructure:"placeholder_height" yaml:"placeholder_height"`
	Browser           BrowserConfig `mapstructure:"browser" yaml:"browser"`
}

type BrowserConfig struct {
	URL        string `mapstructure:"url" yaml:"url"`
	ControlURL string `mapstructure:"control_url" yaml:"control_url"` // connect to a running browser instead of launching
	Headless   *bool  `mapstructure:"headless" yaml:"headless,omitempty"`
	Trace      bool   `mapstructure:"trace" yaml:"trace,omitempty"` // log every DevTools call
}

type EncoderConfig struct {
	Strategies       []string `mapstructure:"strategies" yaml:"strategies"`
	MaxFrames        int      `mapstructure:"max_frames" yaml:"max_frames"`
	FrameDurationMs  int      `mapstructure:"frame_duration_ms" yaml:"frame_duration_ms"`
	CanvasWidth      int      `mapstructure:"canvas_width" yaml:"canvas_width"`
	CanvasHeight     int      `mapstructure:"canvas_height" yaml:"canvas_height"`
	MinArtifactBytes int      `mapstructure:"min_artifact_bytes" yaml:"min_artifact_bytes"`
	TimeoutMs        int      `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	FFmpegPath       string   `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

// Default returns the built-in configuration every file is layered over.
func Default() *Config {
	placeholder := true
	headless := true
	return &Config{
		Subject: "algorithm",
		Recording: RecordingConfig{
			FrameRate: media.DefaultFrameRate,
			Format:    string(media.DefaultFormat),
			Quality:   media.DefaultQuality,
		},
		Capture: CaptureConfig{
			Host:              HostBrowser,
			Surface:           "#visualizer",
			TimeoutMs:         5000,
			Placeholder:       &placeholder,
			PlaceholderWidth:  800,
			PlaceholderHeight: 600,
			Browser: BrowserConfig{
				URL:      "http://localhost:3000",
				Headless: &headless,
			},
		},
		Encoder: EncoderConfig{
			Strategies:       []string{StrategyNative, StrategyBundle, StrategyDump},
			MaxFrames:        100,
			FrameDurationMs:  800,
			CanvasWidth:      1280,
			CanvasHeight:     720,
			MinArtifactBytes: 10 * 1024,
			TimeoutMs:        30000,
			FFmpegPath:       "ffmpeg",
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Videos", "VizCapture"),
		},
		Server: ServerConfig{
			Port: "8080",
		},
	}
}

// PlaceholderEnabled reports whether the diagnostic placeholder capture is allowed.
func (c CaptureConfig) PlaceholderEnabled() bool {
	return c.Placeholder == nil || *c.Placeholder
}

// IsHeadless reports whether a launched browser runs without a window.
func (b BrowserConfig) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

// Options converts the recording section to session options.
func (r RecordingConfig) Options() media.Options {
	return media.Options{
		FrameRate: r.FrameRate,
		Format:    media.Format(r.Format),
		Quality:   r.Quality,
	}
}

// LoadWithProfile reads configFile and resolves the requested profile.
// An empty profile selects active_profile, then "default". A missing file
// yields the built-in defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.Output.Directory = expandPath(cfg.Output.Directory)
		return cfg, cfg.Validate()
	}

	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		return nil, err
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveProfile
	}
	if configName == "" {
		configName = "default"
	}

	selected := mergeConfigs(Default(), &rootConfig.Base)

	if configName != "default" {
		if _, exists := rootConfig.Profiles[configName]; !exists {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
	}

	// Selection & fallback: default profile first, then the requested one
	if defaultProfile, exists := rootConfig.Profiles["default"]; exists {
		selected = mergeConfigs(selected, defaultProfile)
	}
	if configName != "default" {
		selected = mergeConfigs(selected, rootConfig.Profiles[configName])
	}
	selected.Profile = configName

	selected.Output.Directory = expandPath(selected.Output.Directory)

	if err := selected.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selected, nil
}

// ReadRootConfig parses the config file, applying VIZCAPTURE_* environment overrides.
func ReadRootConfig(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"subject",
		"output.directory",
		"capture.host",
		"capture.surface",
		"capture.browser.url",
		"capture.browser.control_url",
		"encoder.ffmpeg_path",
		"server.port",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for name, p := range rootConfig.Profiles {
		if p == nil {
			return nil, fmt.Errorf("profile '%s' is empty", name)
		}
	}

	return &rootConfig, nil
}

// ListProfiles returns the profile names defined in configFile.
func ListProfiles(configFile string) ([]string, error) {
	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rootConfig.Profiles))
	for name := range rootConfig.Profiles {
		names = append(names, name)
	}
	return names, nil
}

// UpdateActiveProfile rewrites the active_profile field in the config file
func UpdateActiveProfile(configFile, name string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_profile", name)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// mergeConfigs overlays every non-zero field of profile onto a copy of base.
func mergeConfigs(base, profile *Config) *Config {
	result := *base
	result.Encoder.Strategies = append([]string(nil), base.Encoder.Strategies...)

	if profile == nil {
		return &result
	}

	if profile.Subject != "" {
		result.Subject = profile.Subject
	}

	if profile.Recording.FrameRate != 0 {
		result.Recording.FrameRate = profile.Recording.FrameRate
	}
	if profile.Recording.Format != "" {
		result.Recording.Format = profile.Recording.Format
	}
	if profile.Recording.Quality != 0 {
		result.Recording.Quality = profile.Recording.Quality
	}

	pc := profile.Capture
	if pc.Host != "" {
		result.Capture.Host = pc.Host
	}
	if pc.Surface != "" {
		result.Capture.Surface = pc.Surface
	}
	if pc.TimeoutMs != 0 {
		result.Capture.TimeoutMs = pc.TimeoutMs
	}
	if pc.Placeholder != nil {
		v := *pc.Placeholder
		result.Capture.Placeholder = &v
	}
	if pc.PlaceholderWidth != 0 {
		result.Capture.PlaceholderWidth = pc.PlaceholderWidth
	}
	if pc.PlaceholderHeight != 0 {
		result.Capture.PlaceholderHeight = pc.PlaceholderHeight
	}
	if pc.Browser.URL != "" {
		result.Capture.Browser.URL = pc.Browser.URL
	}
	if pc.Browser.ControlURL != "" {
		result.Capture.Browser.ControlURL = pc.Browser.ControlURL
	}
	if pc.Browser.Headless != nil {
		v := *pc.Browser.Headless
		result.Capture.Browser.Headless = &v
	}
	if pc.Browser.Trace {
		result.Capture.Browser.Trace = true
	}

	pe := profile.Encoder
	if len(pe.Strategies) > 0 {
		result.Encoder.Strategies = append([]string(nil), pe.Strategies...)
	}
	if pe.MaxFrames != 0 {
		result.Encoder.MaxFrames = pe.MaxFrames
	}
	if pe.FrameDurationMs != 0 {
		result.Encoder.FrameDurationMs = pe.FrameDurationMs
	}
	if pe.CanvasWidth != 0 {
		result.Encoder.CanvasWidth = pe.CanvasWidth
	}
	if pe.CanvasHeight != 0 {
		result.Encoder.CanvasHeight = pe.CanvasHeight
	}
	if pe.MinArtifactBytes != 0 {
		result.Encoder.MinArtifactBytes = pe.MinArtifactBytes
	}
	if pe.TimeoutMs != 0 {
		result.Encoder.TimeoutMs = pe.TimeoutMs
	}
	if pe.FFmpegPath != "" {
		result.Encoder.FFmpegPath = pe.FFmpegPath
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
	}
	if profile.Server.Port != "" {
		result.Server.Port = profile.Server.Port
	}

	return &result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
