package encode

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/vizcapture/internal/canvas"
	"github.com/audiolibrelab/vizcapture/internal/media"
)

const (
	chunkSize      = 32 * 1024
	stderrTailSize = 8
)

// FFmpegEncoder streams PNG frames into an ffmpeg process and collects the
// encoded GIF or fragmented MP4 from its stdout.
type FFmpegEncoder struct {
	path   string
	logger *slog.Logger
}

func NewFFmpegEncoder(path string, logger *slog.Logger) *FFmpegEncoder {
	if path == "" {
		path = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegEncoder{path: path, logger: logger}
}

// Available reports whether the ffmpeg binary can be found.
func (e *FFmpegEncoder) Available() (string, error) {
	bin, err := exec.LookPath(e.path)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found: %v", media.ErrEncodeUnsupported, e.path, err)
	}
	return bin, nil
}

func (e *FFmpegEncoder) Start(ctx context.Context, p StreamParams, sink func([]byte)) (StreamWriter, error) {
	bin, err := e.Available()
	if err != nil {
		return nil, err
	}

	args := ffmpegArgs(p)
	e.logger.Debug("Starting FFmpeg", "command", bin+" "+strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, bin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start FFmpeg: %v", media.ErrEncodeUnsupported, err)
	}

	w := &ffmpegWriter{
		cmd:    cmd,
		stdin:  stdin,
		logger: e.logger,
	}
	w.readers.Add(2)
	go w.readChunks(stdout, sink)
	go w.readOutput(stderr)

	return w, nil
}

type ffmpegWriter struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	logger  *slog.Logger
	readers sync.WaitGroup

	stdinOnce sync.Once
	waitOnce  sync.Once
	waitErr   error

	tailMu sync.Mutex
	tail   []string
}

func (w *ffmpegWriter) WriteFrame(img image.Image) error {
	data, err := canvas.EncodePNG(img)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if _, err := w.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write frame to FFmpeg: %w (%s)", err, w.stderrTail())
	}
	return nil
}

// Close ends the input and waits for ffmpeg to flush and exit.
func (w *ffmpegWriter) Close() error {
	w.closeStdin()
	if err := w.wait(); err != nil {
		return fmt.Errorf("FFmpeg process failed: %w (%s)", err, w.stderrTail())
	}
	w.logger.Debug("FFmpeg exited successfully")
	return nil
}

// Abort kills ffmpeg and waits for it to be reaped.
func (w *ffmpegWriter) Abort() {
	w.closeStdin()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.wait()
}

func (w *ffmpegWriter) closeStdin() {
	w.stdinOnce.Do(func() {
		_ = w.stdin.Close()
	})
}

// wait drains the output readers before reaping, since Wait closes the pipes.
func (w *ffmpegWriter) wait() error {
	w.waitOnce.Do(func() {
		w.readers.Wait()
		w.waitErr = w.cmd.Wait()
	})
	return w.waitErr
}

// readChunks forwards stdout to sink in chunks
func (w *ffmpegWriter) readChunks(pipe io.Reader, sink func([]byte)) {
	defer w.readers.Done()
	buf := make([]byte, chunkSize)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink(chunk)
		}
		if err != nil {
			return
		}
	}
}

// readOutput logs stderr and keeps its last lines for error messages
func (w *ffmpegWriter) readOutput(pipe io.Reader) {
	defer w.readers.Done()
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		w.logger.Debug("FFmpeg output", "stream", "stderr", "line", line)

		w.tailMu.Lock()
		w.tail = append(w.tail, line)
		if len(w.tail) > stderrTailSize {
			w.tail = w.tail[len(w.tail)-stderrTailSize:]
		}
		w.tailMu.Unlock()
	}
}

func (w *ffmpegWriter) stderrTail() string {
	w.tailMu.Lock()
	defer w.tailMu.Unlock()
	if len(w.tail) == 0 {
		return "no output"
	}
	return strings.Join(w.tail, " | ")
}

// ffmpegArgs builds the command line for p. Output always goes to stdout.
func ffmpegArgs(p StreamParams) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "image2pipe",
		"-c:v", "png",
		"-framerate", frameRateArg(p.FrameDuration),
		"-i", "-",
	}

	if p.Format == media.FormatMP4 {
		return append(args,
			"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2,format=yuv420p",
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-crf", strconv.Itoa(crfFromQuality(p.Quality)),
			"-movflags", "frag_keyframe+empty_moov",
			"-f", "mp4",
			"-",
		)
	}

	return append(args,
		"-filter_complex", "[0:v]split[a][b];[a]palettegen[p];[b][p]paletteuse",
		"-loop", "0",
		"-f", "gif",
		"-",
	)
}

// frameRateArg expresses one image per d as an exact ffmpeg rational.
func frameRateArg(d time.Duration) string {
	ms := d.Milliseconds()
	if ms <= 0 {
		ms = 1000
	}
	return fmt.Sprintf("1000/%d", ms)
}

// crfFromQuality maps quality (0, 1] onto x264 CRF 51..18.
func crfFromQuality(q float64) int {
	if q <= 0 || q > 1 {
		q = media.DefaultQuality
	}
	return int(math.Round(18 + (1-q)*33))
}
