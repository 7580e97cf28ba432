package encode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc/iter"

	"github.com/audiolibrelab/vizcapture/internal/canvas"
	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/media"
)

// DumpStrategy writes every frame as a PNG and a text file explaining how to
// assemble them by hand. It succeeds whenever the frames can be encoded.
type DumpStrategy struct {
	frameDuration time.Duration
}

func NewDumpStrategy(frameDuration time.Duration) *DumpStrategy {
	if frameDuration <= 0 {
		frameDuration = time.Duration(config.Default().Encoder.FrameDurationMs) * time.Millisecond
	}
	return &DumpStrategy{frameDuration: frameDuration}
}

func (s *DumpStrategy) Name() string { return config.StrategyDump }

func (s *DumpStrategy) Attempt(ctx context.Context, frames []media.Frame, opts Options) (media.ExportResult, error) {
	if len(frames) == 0 {
		return media.ExportResult{}, media.ErrEmptyBuffer
	}

	width := frameNumberWidth(len(frames))
	stem := opts.Stem()

	pngs, err := iter.MapErr(frames, func(f *media.Frame) ([]byte, error) {
		if f.Image == nil {
			return nil, fmt.Errorf("frame %d has no image", f.Index)
		}
		return canvas.EncodePNG(f.Image)
	})
	if err != nil {
		return media.ExportResult{}, err
	}

	artifacts := make([]media.Artifact, 0, len(frames)+1)
	var total int64
	for i, data := range pngs {
		total += int64(len(data))
		artifacts = append(artifacts, media.Artifact{
			Name:     fmt.Sprintf("%s_frame_%0*d.png", stem, width, i),
			MIMEType: "image/png",
			Data:     data,
		})
	}

	instructions := s.instructions(frames, opts, width, total)
	artifacts = append([]media.Artifact{{
		Name:     stem + "_instructions.txt",
		MIMEType: "text/plain",
		Data:     []byte(instructions),
		Primary:  true,
	}}, artifacts...)

	return media.ExportResult{
		Message:   fmt.Sprintf("Exported %d frames as individual PNG files; see %s_instructions.txt", len(frames), stem),
		Artifacts: artifacts,
	}, nil
}

func (s *DumpStrategy) instructions(frames []media.Frame, opts Options, width int, total int64) string {
	stem := opts.Stem()
	delayMs := s.frameDuration.Milliseconds()
	fps := 1000 / float64(delayMs)
	pattern := fmt.Sprintf("%s_frame_%%0%dd.png", stem, width)
	glob := stem + "_frame_*.png"
	first := frames[0].TimestampMs
	last := frames[len(frames)-1].TimestampMs

	var b strings.Builder
	fmt.Fprintf(&b, "vizcapture frame export\n\n")
	fmt.Fprintf(&b, "Subject:           %s\n", opts.Subject)
	fmt.Fprintf(&b, "Frames:            %d (%s total)\n", len(frames), humanize.Bytes(uint64(total)))
	fmt.Fprintf(&b, "Recommended delay: %d ms per frame (%s fps)\n", delayMs, strconv.FormatFloat(fps, 'f', -1, 64))
	start := sessionStart(opts, last)
	fmt.Fprintf(&b, "Captured:          %s to %s (%d ms)\n",
		start.Add(time.Duration(first)*time.Millisecond).Format(time.RFC3339),
		start.Add(time.Duration(last)*time.Millisecond).Format(time.RFC3339), last-first)
	fmt.Fprintf(&b, "Requested format:  %s\n\n", opts.Format)

	fmt.Fprintf(&b, "Automatic encoding was not available. Assemble the frames with one of:\n\n")

	fmt.Fprintf(&b, "ffmpeg (GIF):\n")
	fmt.Fprintf(&b, "  ffmpeg -framerate 1000/%d -i '%s' -filter_complex \"split[a][b];[a]palettegen[p];[b][p]paletteuse\" %s.gif\n\n", delayMs, pattern, stem)
	fmt.Fprintf(&b, "ffmpeg (MP4):\n")
	fmt.Fprintf(&b, "  ffmpeg -framerate 1000/%d -i '%s' -c:v libx264 -pix_fmt yuv420p -vf \"scale=trunc(iw/2)*2:trunc(ih/2)*2\" %s.mp4\n\n", delayMs, pattern, stem)
	fmt.Fprintf(&b, "ImageMagick (delay is in hundredths of a second):\n")
	fmt.Fprintf(&b, "  convert -delay %d -loop 0 %s %s.gif\n\n", (delayMs+5)/10, glob, stem)
	fmt.Fprintf(&b, "gifski:\n")
	fmt.Fprintf(&b, "  gifski --fps %s -o %s.gif %s\n\n", strconv.FormatFloat(fps, 'f', -1, 64), stem, glob)

	fmt.Fprintf(&b, "Frames:\n")
	for i, f := range frames {
		w, h := f.Width, f.Height
		if f.Image != nil {
			w, h = f.Image.Bounds().Dx(), f.Image.Bounds().Dy()
		}
		fmt.Fprintf(&b, "  %0*d  +%d ms  %dx%d  %s\n", width, i, f.TimestampMs-first, w, h, f.Method)
	}
	return b.String()
}

// sessionStart falls back to the export time minus the last frame offset when
// the caller did not record when the session began.
func sessionStart(opts Options, lastMs int64) time.Time {
	if !opts.Started.IsZero() {
		return opts.Started
	}
	return opts.Timestamp.Add(-time.Duration(lastMs) * time.Millisecond)
}

// frameNumberWidth is the zero-padded width of frame numbers, at least 3.
func frameNumberWidth(n int) int {
	w := len(strconv.Itoa(n - 1))
	if w < 3 {
		w = 3
	}
	return w
}
