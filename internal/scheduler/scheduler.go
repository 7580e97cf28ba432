// Package scheduler drives periodic frame captures for a recording session.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/vizcapture/internal/media"
)

const (
	DefaultCaptureTimeout = 5 * time.Second
	statsLogInterval      = 10 * time.Second
)

// Target is what the scheduler captures into
type Target interface {
	Recording() bool
	CaptureFrame(ctx context.Context, surfaceID string) error
}

// Stats are cumulative since the scheduler was created
type Stats struct {
	Running        bool          `json:"running"`
	Interval       time.Duration `json:"interval"`
	Ticks          int64         `json:"ticks"`
	Captures       int64         `json:"captures"`
	SkippedTicks   int64         `json:"skipped_ticks"`
	Failures       int64         `json:"failures"`
	LastLatency    time.Duration `json:"last_latency"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Interval is the tick period for frameRate captures per second. Rates
// outside [media.MinFrameRate, media.MaxFrameRate] are clamped.
func Interval(frameRate int) time.Duration {
	if frameRate < media.MinFrameRate {
		frameRate = media.MinFrameRate
	}
	if frameRate > media.MaxFrameRate {
		frameRate = media.MaxFrameRate
	}
	return time.Second / time.Duration(frameRate)
}

// Scheduler ticks at the session frame rate and runs at most one capture at a
// time. A tick that finds a capture still running is skipped, not queued.
type Scheduler struct {
	target    Target
	surfaceID string
	logger    *slog.Logger
	timeout   time.Duration

	mutex    sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	interval time.Duration

	inFlight atomic.Bool

	ticks        atomic.Int64
	captures     atomic.Int64
	skipped      atomic.Int64
	failures     atomic.Int64
	lastLatency  atomic.Int64
	totalLatency atomic.Int64
}

func New(target Target, surfaceID string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		target:    target,
		surfaceID: surfaceID,
		logger:    logger,
		timeout:   DefaultCaptureTimeout,
	}
}

// SetCaptureTimeout bounds each scheduled capture. Values <= 0 are ignored.
func (s *Scheduler) SetCaptureTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.timeout = d
}

// SurfaceID returns the surface the scheduler captures.
func (s *Scheduler) SurfaceID() string { return s.surfaceID }

// Start begins ticking at frameRate, replacing any running ticker.
func (s *Scheduler) Start(frameRate int) error {
	if frameRate < media.MinFrameRate || frameRate > media.MaxFrameRate {
		return fmt.Errorf("%w: frame rate must be between %d and %d, got: %d",
			media.ErrInvalidOptions, media.MinFrameRate, media.MaxFrameRate, frameRate)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.stopLocked()

	s.interval = Interval(frameRate)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done, s.interval, s.timeout)

	s.logger.Debug("Capture scheduler started", "surface", s.surfaceID, "interval", s.interval)
	return nil
}

// Stop halts the ticker. No tick fires after it returns. Calling it when the
// scheduler is not running does nothing.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
	s.logger.Debug("Capture scheduler stopped", "surface", s.surfaceID)
}

// CaptureNow runs one capture immediately, independent of the ticker.
func (s *Scheduler) CaptureNow(ctx context.Context) error {
	s.mutex.Lock()
	timeout := s.timeout
	s.mutex.Unlock()
	return s.capture(ctx, timeout)
}

// Stats returns the scheduler telemetry.
func (s *Scheduler) Stats() Stats {
	s.mutex.Lock()
	running := s.stop != nil
	interval := s.interval
	s.mutex.Unlock()

	st := Stats{
		Running:      running,
		Interval:     interval,
		Ticks:        s.ticks.Load(),
		Captures:     s.captures.Load(),
		SkippedTicks: s.skipped.Load(),
		Failures:     s.failures.Load(),
		LastLatency:  time.Duration(s.lastLatency.Load()),
	}
	if n := st.Captures + st.Failures; n > 0 {
		st.AverageLatency = time.Duration(s.totalLatency.Load() / n)
	}
	return st
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}, interval, timeout time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(statsLogInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-stop:
			return

		case <-ticker.C:
			s.tick(timeout)

		case <-statsTicker.C:
			// Stop holds the mutex while waiting for this loop, so only the
			// atomic counters are read here
			s.logger.Debug("capture.stats",
				"ticks", s.ticks.Load(),
				"captures", s.captures.Load(),
				"skipped", s.skipped.Load(),
				"failures", s.failures.Load(),
				"last_latency", time.Duration(s.lastLatency.Load()))
		}
	}
}

func (s *Scheduler) tick(timeout time.Duration) {
	s.ticks.Add(1)

	if !s.target.Recording() {
		return
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debug("Skipping tick, capture still in flight", "surface", s.surfaceID)
		return
	}

	go func() {
		defer s.inFlight.Store(false)
		_ = s.capture(context.Background(), timeout)
	}()
}

func (s *Scheduler) capture(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := s.target.CaptureFrame(ctx, s.surfaceID)
	latency := time.Since(start)

	s.lastLatency.Store(int64(latency))
	s.totalLatency.Add(int64(latency))
	if err != nil {
		s.failures.Add(1)
		return err
	}
	s.captures.Add(1)
	return nil
}
