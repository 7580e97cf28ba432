package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/vizcapture/internal/media"
)

type fakeTarget struct {
	recording atomic.Bool
	calls     atomic.Int32
	block     chan struct{}
	err       error
}

func (f *fakeTarget) Recording() bool { return f.recording.Load() }

func (f *fakeTarget) CaptureFrame(ctx context.Context, id string) error {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func recordingTarget() *fakeTarget {
	t := &fakeTarget{}
	t.recording.Store(true)
	return t
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 2*time.Millisecond)
}

func TestInterval(t *testing.T) {
	for rate := media.MinFrameRate; rate <= media.MaxFrameRate; rate++ {
		got := float64(Interval(rate)) / float64(time.Millisecond)
		assert.InDelta(t, 1000.0/float64(rate), got, 0.001, "rate %d", rate)
	}
	assert.Equal(t, time.Second, Interval(0))
	assert.Equal(t, Interval(60), Interval(1000))
}

func TestStart_InvalidRate(t *testing.T) {
	s := New(recordingTarget(), "#viz", nil)
	assert.True(t, errors.Is(s.Start(0), media.ErrInvalidOptions))
	assert.True(t, errors.Is(s.Start(61), media.ErrInvalidOptions))
	assert.False(t, s.Stats().Running)
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(recordingTarget(), "#viz", nil)
	s.Stop()

	require.NoError(t, s.Start(10))
	s.Stop()
	s.Stop()
	assert.False(t, s.Stats().Running)
}

func TestTicksCaptureWhileRecording(t *testing.T) {
	target := recordingTarget()
	s := New(target, "#viz", nil)
	require.NoError(t, s.Start(60))

	eventually(t, func() bool { return s.Stats().Captures >= 3 })
	s.Stop()

	ticks := s.Stats().Ticks
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, ticks, s.Stats().Ticks, "ticks fired after Stop returned")
}

func TestTicksIgnoredWhenNotRecording(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, "#viz", nil)
	require.NoError(t, s.Start(60))
	defer s.Stop()

	eventually(t, func() bool { return s.Stats().Ticks >= 3 })
	assert.Equal(t, int32(0), target.calls.Load())
}

func TestSlowCaptureSkipsTicks(t *testing.T) {
	target := recordingTarget()
	target.block = make(chan struct{})
	s := New(target, "#viz", nil)
	require.NoError(t, s.Start(60))

	eventually(t, func() bool { return s.Stats().SkippedTicks >= 3 })
	assert.Equal(t, int32(1), target.calls.Load())

	s.Stop()
	close(target.block)
	eventually(t, func() bool { return s.Stats().Captures == 1 })
}

func TestStartReplacesTicker(t *testing.T) {
	s := New(recordingTarget(), "#viz", nil)
	require.NoError(t, s.Start(1))
	require.NoError(t, s.Start(50))
	defer s.Stop()

	st := s.Stats()
	assert.True(t, st.Running)
	assert.Equal(t, 20*time.Millisecond, st.Interval)
}

func TestCaptureNow(t *testing.T) {
	target := recordingTarget()
	target.err = media.ErrCaptureUnavailable
	s := New(target, "#viz", nil)

	err := s.CaptureNow(context.Background())
	assert.True(t, errors.Is(err, media.ErrCaptureUnavailable))
	assert.Equal(t, int32(1), target.calls.Load())
	assert.Equal(t, int64(1), s.Stats().Failures)
}

func TestCaptureTimeout(t *testing.T) {
	target := recordingTarget()
	target.block = make(chan struct{})
	defer close(target.block)

	s := New(target, "#viz", nil)
	s.SetCaptureTimeout(20 * time.Millisecond)

	err := s.CaptureNow(context.Background())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
