package encode

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/media"
)

type fakeStream struct {
	startErr  error
	chunk     int
	writeErr  error
	hangClose bool

	mu      sync.Mutex
	params  StreamParams
	written int
	sizes   []image.Rectangle
	aborted bool
	closed  bool
	release chan struct{}
}

func (s *fakeStream) Start(ctx context.Context, p StreamParams, sink func([]byte)) (StreamWriter, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.params = p
	s.release = make(chan struct{})
	return &fakeWriter{s: s, sink: sink}, nil
}

type fakeWriter struct {
	s    *fakeStream
	sink func([]byte)
	once sync.Once
}

func (w *fakeWriter) WriteFrame(img image.Image) error {
	if w.s.writeErr != nil {
		return w.s.writeErr
	}
	w.s.mu.Lock()
	w.s.written++
	w.s.sizes = append(w.s.sizes, img.Bounds())
	w.s.mu.Unlock()
	if w.s.chunk > 0 {
		w.sink(make([]byte, w.s.chunk))
	}
	return nil
}

func (w *fakeWriter) Close() error {
	if w.s.hangClose {
		<-w.s.release
		return errors.New("aborted")
	}
	w.s.mu.Lock()
	w.s.closed = true
	w.s.mu.Unlock()
	return nil
}

func (w *fakeWriter) Abort() {
	w.once.Do(func() {
		w.s.mu.Lock()
		w.s.aborted = true
		w.s.mu.Unlock()
		close(w.s.release)
	})
}

type failingStrategy struct {
	name string
	err  error
	hits int
}

func (s *failingStrategy) Name() string { return s.name }

func (s *failingStrategy) Attempt(ctx context.Context, frames []media.Frame, opts Options) (media.ExportResult, error) {
	s.hits++
	return media.ExportResult{}, s.err
}

type panickingStrategy struct{}

func (panickingStrategy) Name() string { return "panics" }

func (panickingStrategy) Attempt(ctx context.Context, frames []media.Frame, opts Options) (media.ExportResult, error) {
	panic("boom")
}

func testFrames(n int) []media.Frame {
	frames := make([]media.Frame, n)
	for i := range frames {
		img := image.NewRGBA(image.Rect(0, 0, 32, 24))
		for x := 0; x < 32; x++ {
			img.Set(x, i%24, color.RGBA{uint8(i * 7), 80, 200, 255})
		}
		frames[i] = media.Frame{
			Index:       i,
			TimestampMs: int64(i) * 500,
			Image:       img,
			Width:       32,
			Height:      24,
			Method:      "native",
		}
	}
	return frames
}

func testOptions(format media.Format) Options {
	return Options{
		Format:    format,
		FrameRate: 2,
		Quality:   0.8,
		Subject:   "bubble sort",
		Timestamp: time.UnixMilli(1700000000000),
		Started:   time.UnixMilli(1699999990000),
	}
}

func nativeConfig() NativeConfig {
	return NativeConfig{
		CanvasWidth:      1280,
		CanvasHeight:     720,
		FrameDuration:    800 * time.Millisecond,
		MinArtifactBytes: 10 * 1024,
		Timeout:          time.Second,
	}
}

func TestOptions_Naming(t *testing.T) {
	opts := testOptions(media.FormatGIF)
	assert.Equal(t, "bubble_sort_1700000000000", opts.Stem())
	assert.Equal(t, "bubble_sort_1700000000000.gif", opts.ArtifactName("gif"))
}

func TestNative_Success(t *testing.T) {
	stream := &fakeStream{chunk: 4096}
	s := NewNativeStrategy(stream, nativeConfig(), nil)

	res, err := s.Attempt(context.Background(), testFrames(5), testOptions(media.FormatMP4))
	require.NoError(t, err)

	require.Len(t, res.Artifacts, 1)
	a := res.Artifacts[0]
	assert.Equal(t, "bubble_sort_1700000000000.mp4", a.Name)
	assert.Equal(t, "video/mp4", a.MIMEType)
	assert.True(t, a.Primary)
	assert.Len(t, a.Data, 5*4096)

	assert.Equal(t, 5, stream.written)
	assert.True(t, stream.closed)
	assert.False(t, stream.aborted)
	for _, r := range stream.sizes {
		assert.Equal(t, image.Rect(0, 0, 1280, 720), r)
	}
	assert.Equal(t, 800*time.Millisecond, stream.params.FrameDuration)
	assert.Equal(t, media.FormatMP4, stream.params.Format)
}

func TestNative_Failures(t *testing.T) {
	tests := []struct {
		name   string
		stream *fakeStream
		want   error
	}{
		{"unsupported", &fakeStream{startErr: media.ErrEncodeUnsupported}, media.ErrEncodeUnsupported},
		{"no data", &fakeStream{chunk: 0}, media.ErrEncodeNoData},
		{"too small", &fakeStream{chunk: 100}, media.ErrEncodeTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewNativeStrategy(tt.stream, nativeConfig(), nil)
			_, err := s.Attempt(context.Background(), testFrames(3), testOptions(media.FormatGIF))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestNative_WriteErrorAborts(t *testing.T) {
	stream := &fakeStream{writeErr: errors.New("broken pipe")}
	s := NewNativeStrategy(stream, nativeConfig(), nil)

	_, err := s.Attempt(context.Background(), testFrames(3), testOptions(media.FormatGIF))
	require.Error(t, err)
	assert.True(t, stream.aborted)
}

func TestNative_Timeout(t *testing.T) {
	stream := &fakeStream{chunk: 4096, hangClose: true}
	cfg := nativeConfig()
	cfg.Timeout = 50 * time.Millisecond
	s := NewNativeStrategy(stream, cfg, nil)

	start := time.Now()
	_, err := s.Attempt(context.Background(), testFrames(2), testOptions(media.FormatGIF))
	assert.True(t, errors.Is(err, media.ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)

	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.True(t, stream.aborted)
}

func TestEncoder_FallsBackToBundle(t *testing.T) {
	native := NewNativeStrategy(&fakeStream{startErr: media.ErrEncodeUnsupported}, nativeConfig(), nil)
	dump := &failingStrategy{name: "dump", err: errors.New("should not run")}
	enc := New([]Strategy{native, NewBundleStrategy(800 * time.Millisecond), dump}, 100, nil)

	res, err := enc.Encode(context.Background(), testFrames(120), testOptions(media.FormatGIF))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 100, res.FrameCount)
	assert.Equal(t, "bundle", res.Strategy)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0], "native")
	assert.Equal(t, 0, dump.hits)

	primary, ok := res.PrimaryArtifact()
	require.True(t, ok)
	assert.Equal(t, "bubble_sort_1700000000000.html", primary.Name)
	assert.Equal(t, 100, bytes.Count(primary.Data, []byte("data:image/jpeg;base64,")))
	assert.Contains(t, res.Message, primary.Name)

	require.Len(t, res.Artifacts, 2)
	assert.Equal(t, "bubble_sort_1700000000000_preview.png", res.Artifacts[1].Name)
}

func TestEncoder_KeepsFirstFrames(t *testing.T) {
	enc := New([]Strategy{NewDumpStrategy(800 * time.Millisecond)}, 4, nil)

	res, err := enc.Encode(context.Background(), testFrames(10), testOptions(media.FormatGIF))
	require.NoError(t, err)
	assert.Equal(t, 4, res.FrameCount)

	primary, _ := res.PrimaryArtifact()
	text := string(primary.Data)
	assert.Contains(t, text, "Frames:            4")
	assert.NotContains(t, text, "  004  ")
}

func TestEncoder_AllFail(t *testing.T) {
	a := &failingStrategy{name: "native", err: media.ErrEncodeUnsupported}
	b := &failingStrategy{name: "bundle", err: errors.New("disk full")}
	enc := New([]Strategy{a, panickingStrategy{}, b}, 100, nil)

	res, err := enc.Encode(context.Background(), testFrames(2), testOptions(media.FormatGIF))
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrEncodeFailed))
	assert.Equal(t, "EncodeFailed", media.KindOf(err))
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.FrameCount)
	assert.Len(t, res.Failures, 3)
	assert.Contains(t, res.Message, "disk full")
	assert.Contains(t, res.Message, "panicked")
	assert.Equal(t, 1, a.hits)
	assert.Equal(t, 1, b.hits)
}

func TestEncoder_Empty(t *testing.T) {
	enc := New([]Strategy{NewDumpStrategy(0)}, 0, nil)
	_, err := enc.Encode(context.Background(), nil, testOptions(media.FormatGIF))
	assert.True(t, errors.Is(err, media.ErrEmptyBuffer))
}

func TestNewDefault(t *testing.T) {
	cfg := config.Default().Encoder
	assert.Equal(t, []string{"native", "bundle", "dump"}, NewDefault(cfg, nil).Strategies())

	cfg.Strategies = []string{"dump"}
	assert.Equal(t, []string{"dump"}, NewDefault(cfg, nil).Strategies())
}

func TestDump_Artifacts(t *testing.T) {
	s := NewDumpStrategy(800 * time.Millisecond)
	res, err := s.Attempt(context.Background(), testFrames(3), testOptions(media.FormatMP4))
	require.NoError(t, err)

	require.Len(t, res.Artifacts, 4)
	primary, ok := res.PrimaryArtifact()
	require.True(t, ok)
	assert.Equal(t, "bubble_sort_1700000000000_instructions.txt", primary.Name)

	for i, want := range []string{
		"bubble_sort_1700000000000_frame_000.png",
		"bubble_sort_1700000000000_frame_001.png",
		"bubble_sort_1700000000000_frame_002.png",
	} {
		a := res.Artifacts[i+1]
		assert.Equal(t, want, a.Name)
		assert.Equal(t, "image/png", a.MIMEType)
		assert.True(t, bytes.HasPrefix(a.Data, []byte("\x89PNG")))
	}

	text := string(primary.Data)
	assert.Contains(t, text, "800 ms per frame")
	assert.Contains(t, text, "bubble_sort_1700000000000_frame_%03d.png")
	assert.Contains(t, text, "convert -delay 80 -loop 0")
	assert.Contains(t, text, "gifski --fps 1.25")
	assert.Contains(t, text, "+1000 ms")
	assert.Contains(t, text, "Captured:          "+
		time.UnixMilli(1699999990000).Format(time.RFC3339)+" to "+
		time.UnixMilli(1699999991000).Format(time.RFC3339)+" (1000 ms)")
}

func TestDump_CapturedWindowWithoutSessionStart(t *testing.T) {
	opts := testOptions(media.FormatGIF)
	opts.Started = time.Time{}

	res, err := NewDumpStrategy(0).Attempt(context.Background(), testFrames(3), opts)
	require.NoError(t, err)
	primary, ok := res.PrimaryArtifact()
	require.True(t, ok)
	assert.Contains(t, string(primary.Data), "Captured:          "+
		time.UnixMilli(1699999999000).Format(time.RFC3339)+" to "+
		time.UnixMilli(1700000000000).Format(time.RFC3339))
}

func TestFrameNumberWidth(t *testing.T) {
	assert.Equal(t, 3, frameNumberWidth(1))
	assert.Equal(t, 3, frameNumberWidth(1000))
	assert.Equal(t, 4, frameNumberWidth(1001))
}

func TestFFmpegArgs(t *testing.T) {
	mp4 := strings.Join(ffmpegArgs(StreamParams{FrameDuration: 800 * time.Millisecond, Format: media.FormatMP4, Quality: 0.8}), " ")
	assert.Contains(t, mp4, "-framerate 1000/800")
	assert.Contains(t, mp4, "libx264")
	assert.Contains(t, mp4, "-crf 25")
	assert.Contains(t, mp4, "frag_keyframe+empty_moov")

	gif := strings.Join(ffmpegArgs(StreamParams{FrameDuration: 800 * time.Millisecond, Format: media.FormatGIF}), " ")
	assert.Contains(t, gif, "palettegen")
	assert.True(t, strings.HasSuffix(gif, "-f gif -"))

	assert.Equal(t, 18, crfFromQuality(1))
	assert.Equal(t, 51, crfFromQuality(0.0001))
}

func TestFFmpegEncoder_Unavailable(t *testing.T) {
	enc := NewFFmpegEncoder("/nonexistent/ffmpeg-binary", nil)
	_, err := enc.Start(context.Background(), StreamParams{}, func([]byte) {})
	assert.True(t, errors.Is(err, media.ErrEncodeUnsupported))

	s := NewNativeStrategy(enc, nativeConfig(), nil)
	_, err = s.Attempt(context.Background(), testFrames(1), testOptions(media.FormatGIF))
	assert.True(t, errors.Is(err, media.ErrEncodeUnsupported))
}

func TestFFmpegEncoder_GIF(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffmpeg integration test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	cfg := nativeConfig()
	cfg.CanvasWidth, cfg.CanvasHeight = 160, 120
	cfg.MinArtifactBytes = 0
	cfg.Timeout = 30 * time.Second
	s := NewNativeStrategy(NewFFmpegEncoder("ffmpeg", nil), cfg, nil)

	res, err := s.Attempt(context.Background(), testFrames(3), testOptions(media.FormatGIF))
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 1)
	assert.True(t, bytes.HasPrefix(res.Artifacts[0].Data, []byte("GIF8")))
}
