package encode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/audiolibrelab/vizcapture/internal/canvas"
	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/media"
)

// StreamParams describe the video a StreamEncoder should produce
type StreamParams struct {
	Width         int
	Height        int
	FrameDuration time.Duration
	Format        media.Format
	Quality       float64
}

// StreamWriter accepts frames for one running stream. Close finishes the
// stream and returns once every output chunk has been delivered to the sink.
// Abort discards the stream; it is safe to call after Close.
type StreamWriter interface {
	WriteFrame(img image.Image) error
	Close() error
	Abort()
}

// StreamEncoder starts streams. Implementations return an error wrapping
// media.ErrEncodeUnsupported when they cannot run on this host.
type StreamEncoder interface {
	Start(ctx context.Context, params StreamParams, sink func(chunk []byte)) (StreamWriter, error)
}

// NativeConfig holds the native strategy settings
type NativeConfig struct {
	CanvasWidth      int
	CanvasHeight     int
	FrameDuration    time.Duration
	MinArtifactBytes int
	Timeout          time.Duration
}

const captionHeight = 28

var (
	composeBackground = color.RGBA{255, 255, 255, 255}
	captionColor      = color.RGBA{75, 85, 99, 255}
)

// NativeStrategy composes frames onto a fixed-size canvas and feeds them to a
// stream encoder, one canvas per frame duration.
type NativeStrategy struct {
	stream StreamEncoder
	cfg    NativeConfig
	logger *slog.Logger
}

func NewNativeStrategy(stream StreamEncoder, cfg NativeConfig, logger *slog.Logger) *NativeStrategy {
	def := config.Default().Encoder
	if cfg.CanvasWidth <= 0 {
		cfg.CanvasWidth = def.CanvasWidth
	}
	if cfg.CanvasHeight <= 0 {
		cfg.CanvasHeight = def.CanvasHeight
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = time.Duration(def.FrameDurationMs) * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(def.TimeoutMs) * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NativeStrategy{stream: stream, cfg: cfg, logger: logger}
}

func (s *NativeStrategy) Name() string { return config.StrategyNative }

func (s *NativeStrategy) Attempt(ctx context.Context, frames []media.Frame, opts Options) (media.ExportResult, error) {
	if s.stream == nil {
		return media.ExportResult{}, fmt.Errorf("%w: no stream encoder", media.ErrEncodeUnsupported)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		chunks [][]byte
		total  int
	)
	sink := func(chunk []byte) {
		if len(chunk) == 0 {
			return
		}
		mu.Lock()
		chunks = append(chunks, chunk)
		total += len(chunk)
		mu.Unlock()
	}

	params := StreamParams{
		Width:         s.cfg.CanvasWidth,
		Height:        s.cfg.CanvasHeight,
		FrameDuration: s.cfg.FrameDuration,
		Format:        opts.Format,
		Quality:       opts.Quality,
	}

	w, err := s.stream.Start(ctx, params, sink)
	if err != nil {
		return media.ExportResult{}, s.contextError(ctx, err)
	}

	cv := canvas.New(s.cfg.CanvasWidth, s.cfg.CanvasHeight, composeBackground)
	defer cv.Release()

	for i, f := range frames {
		if ctx.Err() != nil {
			w.Abort()
			return media.ExportResult{}, s.contextError(ctx, ctx.Err())
		}

		compose(cv, f, i, len(frames))
		if err := w.WriteFrame(cv.Image()); err != nil {
			w.Abort()
			return media.ExportResult{}, s.contextError(ctx, fmt.Errorf("writing frame %d: %w", f.Index, err))
		}
	}

	closed := make(chan error, 1)
	go func() { closed <- w.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			w.Abort()
			return media.ExportResult{}, s.contextError(ctx, err)
		}
	case <-ctx.Done():
		w.Abort()
		return media.ExportResult{}, s.contextError(ctx, ctx.Err())
	}

	mu.Lock()
	defer mu.Unlock()

	if len(chunks) == 0 || total == 0 {
		return media.ExportResult{}, media.ErrEncodeNoData
	}
	if total < s.cfg.MinArtifactBytes {
		return media.ExportResult{}, fmt.Errorf("%w: %s < %s", media.ErrEncodeTooSmall,
			humanize.Bytes(uint64(total)), humanize.Bytes(uint64(s.cfg.MinArtifactBytes)))
	}

	data := make([]byte, 0, total)
	for _, c := range chunks {
		data = append(data, c...)
	}

	ext, mime := formatInfo(opts.Format)
	return media.ExportResult{
		Artifacts: []media.Artifact{{
			Name:     opts.ArtifactName(ext),
			MIMEType: mime,
			Data:     data,
			Primary:  true,
		}},
	}, nil
}

// contextError reports a deadline as media.ErrTimeout and otherwise passes err
// through.
func (s *NativeStrategy) contextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", media.ErrTimeout, s.cfg.Timeout)
	}
	return err
}

// compose draws frame n of total onto cv, fitted above a caption strip.
func compose(cv *canvas.Canvas, f media.Frame, n, total int) {
	cv.Clear(composeBackground)
	area := image.Rect(0, 0, cv.Width(), cv.Height()-captionHeight)
	cv.DrawImageFit(f.Image, area)

	caption := fmt.Sprintf("Frame %d / %d", n+1, total)
	x := (cv.Width() - canvas.TextWidth(caption)) / 2
	y := cv.Height() - (captionHeight-canvas.LineHeight)/2 - 2
	cv.DrawText(x, y, caption, captionColor)
}

func formatInfo(f media.Format) (ext, mime string) {
	if f == media.FormatMP4 {
		return "mp4", "video/mp4"
	}
	return "gif", "image/gif"
}
