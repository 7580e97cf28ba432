package media

import (
	"fmt"
	"image"
	"strings"
)

// Status represents the current state of a recording session
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRecording Status = "RECORDING"
	StatusEncoding  Status = "ENCODING"
)

// Format is the requested export container
type Format string

const (
	FormatGIF Format = "gif"
	FormatMP4 Format = "mp4"
)

const (
	DefaultFrameRate = 2
	MinFrameRate     = 1
	MaxFrameRate     = 60
	DefaultQuality   = 0.8
	DefaultFormat    = FormatGIF
)

// ParseFormat accepts "gif" or "mp4" in any case.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultFormat, nil
	case FormatGIF:
		return FormatGIF, nil
	case FormatMP4:
		return FormatMP4, nil
	}
	return "", fmt.Errorf("%w: format must be 'gif' or 'mp4', got: %s", ErrInvalidOptions, s)
}

// Options are the per-session recording options supplied by the UI layer.
// Subject names the artifacts; it is optional.
type Options struct {
	FrameRate int     `json:"frameRate" yaml:"frame_rate"`
	Format    Format  `json:"format" yaml:"format"`
	Quality   float64 `json:"quality" yaml:"quality"`
	Subject   string  `json:"subject,omitempty" yaml:"subject,omitempty"`
}

// DefaultOptions returns the options used when the caller supplies none.
func DefaultOptions() Options {
	return Options{
		FrameRate: DefaultFrameRate,
		Format:    DefaultFormat,
		Quality:   DefaultQuality,
	}
}

// Normalize fills zero values with defaults and rejects out-of-range values.
func (o Options) Normalize() (Options, error) {
	if o.FrameRate == 0 {
		o.FrameRate = DefaultFrameRate
	}
	if o.FrameRate < MinFrameRate || o.FrameRate > MaxFrameRate {
		return o, fmt.Errorf("%w: frame rate must be between %d and %d, got: %d",
			ErrInvalidOptions, MinFrameRate, MaxFrameRate, o.FrameRate)
	}

	format, err := ParseFormat(string(o.Format))
	if err != nil {
		return o, err
	}
	o.Format = format

	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if o.Quality < 0 || o.Quality > 1 {
		return o, fmt.Errorf("%w: quality must be in (0, 1], got: %.2f", ErrInvalidOptions, o.Quality)
	}

	return o, nil
}

// Frame is one captured bitmap plus its position in the session
type Frame struct {
	Index             int         `json:"index"`
	TimestampMs       int64       `json:"timestamp_ms"`
	Image             image.Image `json:"-"`
	Width             int         `json:"width"`
	Height            int         `json:"height"`
	CaptureDurationMs int64       `json:"capture_duration_ms"`
	Method            string      `json:"method"`
}

// Metrics are recomputed for each session and never persisted
type Metrics struct {
	TotalFrames          int     `json:"total_frames"`
	FailedCaptures       int     `json:"failed_captures"`
	AverageCaptureTimeMs float64 `json:"average_capture_time_ms"`
	LastCaptureTimeMs    int64   `json:"last_capture_time_ms"`
}

// Observe folds one successful capture duration into the running average.
func (m *Metrics) Observe(durationMs int64) {
	m.TotalFrames++
	m.LastCaptureTimeMs = durationMs
	n := float64(m.TotalFrames)
	m.AverageCaptureTimeMs += (float64(durationMs) - m.AverageCaptureTimeMs) / n
}

// Artifact is one exported file
type Artifact struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
	Primary  bool   `json:"primary"`
	Path     string `json:"path,omitempty"`
}

// Size returns the artifact payload size in bytes.
func (a Artifact) Size() int64 { return int64(len(a.Data)) }

// ExportResult is produced exactly once per stopped session
type ExportResult struct {
	Success    bool       `json:"success"`
	FrameCount int        `json:"frame_count"`
	Message    string     `json:"message"`
	Strategy   string     `json:"strategy,omitempty"`
	Stem       string     `json:"stem,omitempty"`
	Failures   []string   `json:"failures,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

// PrimaryArtifact returns the artifact flagged as primary, or the first one.
func (r ExportResult) PrimaryArtifact() (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Primary {
			return a, true
		}
	}
	if len(r.Artifacts) > 0 {
		return r.Artifacts[0], true
	}
	return Artifact{}, false
}
