// Package encode turns a buffer of frames into exportable artifacts by trying
// a list of strategies in order until one succeeds.
package encode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"

	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/media"
)

// DefaultMaxFrames is the encoder input cap used when none is configured
const DefaultMaxFrames = 100

// Options controls one encode run
type Options struct {
	Format    media.Format
	FrameRate int
	Quality   float64
	Subject   string
	Timestamp time.Time
	// Started is the session start; frame timestamps are offsets from it.
	Started time.Time
}

// Stem is the shared prefix of every artifact of this run: <subject>_<unixMs>.
func (o Options) Stem() string {
	return fmt.Sprintf("%s_%d", media.CleanFileName(o.Subject), o.Timestamp.UnixMilli())
}

// ArtifactName returns <stem>.<ext>.
func (o Options) ArtifactName(ext string) string {
	return o.Stem() + "." + ext
}

// Strategy is one way of producing artifacts from frames
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, frames []media.Frame, opts Options) (media.ExportResult, error)
}

// Encoder runs its strategies in order and returns the first success
type Encoder struct {
	strategies []Strategy
	maxFrames  int
	logger     *slog.Logger
}

// New creates an encoder. maxFrames <= 0 selects DefaultMaxFrames.
func New(strategies []Strategy, maxFrames int, logger *slog.Logger) *Encoder {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		strategies: strategies,
		maxFrames:  maxFrames,
		logger:     logger,
	}
}

// NewDefault builds the strategy cascade named by cfg.Strategies.
func NewDefault(cfg config.EncoderConfig, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	frameDuration := time.Duration(cfg.FrameDurationMs) * time.Millisecond

	var strategies []Strategy
	for _, name := range cfg.Strategies {
		switch name {
		case config.StrategyNative:
			strategies = append(strategies, NewNativeStrategy(
				NewFFmpegEncoder(cfg.FFmpegPath, logger),
				NativeConfig{
					CanvasWidth:      cfg.CanvasWidth,
					CanvasHeight:     cfg.CanvasHeight,
					FrameDuration:    frameDuration,
					MinArtifactBytes: cfg.MinArtifactBytes,
					Timeout:          time.Duration(cfg.TimeoutMs) * time.Millisecond,
				},
				logger,
			))
		case config.StrategyBundle:
			strategies = append(strategies, NewBundleStrategy(frameDuration))
		case config.StrategyDump:
			strategies = append(strategies, NewDumpStrategy(frameDuration))
		default:
			logger.Warn("Ignoring unknown encode strategy", "strategy", name)
		}
	}

	return New(strategies, cfg.MaxFrames, logger)
}

// Strategies returns the names of the configured strategies in order.
func (e *Encoder) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Encode caps frames at the configured maximum, keeping the earliest, and runs
// the cascade. When every strategy fails the result has Success=false and the
// error wraps media.ErrEncodeFailed together with each strategy's reason.
func (e *Encoder) Encode(ctx context.Context, frames []media.Frame, opts Options) (media.ExportResult, error) {
	if len(frames) == 0 {
		return media.ExportResult{Message: "No frames to encode"}, media.ErrEmptyBuffer
	}
	if opts.Timestamp.IsZero() {
		opts.Timestamp = time.Now()
	}

	if len(frames) > e.maxFrames {
		e.logger.Warn("Frame buffer exceeds encoder cap, dropping trailing frames",
			"buffered", len(frames), "max_frames", e.maxFrames)
		frames = frames[:e.maxFrames]
	}

	var (
		errs     error
		failures []string
	)

	for _, s := range e.strategies {
		start := time.Now()
		e.logger.Debug("Trying encode strategy", "strategy", s.Name(), "frames", len(frames))

		result, err := attempt(ctx, s, frames, opts)
		if err == nil {
			result.Success = true
			result.FrameCount = len(frames)
			result.Strategy = s.Name()
			result.Stem = opts.Stem()
			result.Failures = failures
			if result.Message == "" {
				result.Message = successMessage(result)
			}
			e.logger.Info("Encode succeeded",
				"strategy", s.Name(),
				"frames", len(frames),
				"artifacts", len(result.Artifacts),
				"duration", time.Since(start))
			return result, nil
		}

		e.logger.Warn("Encode strategy failed", "strategy", s.Name(), "error", err)
		failures = append(failures, fmt.Sprintf("%s: %v", s.Name(), err))
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}

	if errs == nil {
		errs = fmt.Errorf("no encode strategies configured")
		failures = append(failures, errs.Error())
	}

	result := media.ExportResult{
		Success:    false,
		FrameCount: len(frames),
		Stem:       opts.Stem(),
		Message:    "All encode strategies failed: " + strings.Join(failures, "; "),
		Failures:   failures,
	}
	return result, fmt.Errorf("%w: %w", media.ErrEncodeFailed, errs)
}

// attempt runs one strategy, converting a panic into a strategy failure.
func attempt(ctx context.Context, s Strategy, frames []media.Frame, opts Options) (result media.ExportResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = media.ExportResult{}
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	return s.Attempt(ctx, frames, opts)
}

func successMessage(r media.ExportResult) string {
	primary, ok := r.PrimaryArtifact()
	if !ok {
		return fmt.Sprintf("Exported %d frames", r.FrameCount)
	}
	return fmt.Sprintf("Exported %d frames as %s (%s)",
		r.FrameCount, primary.Name, humanize.Bytes(uint64(primary.Size())))
}
