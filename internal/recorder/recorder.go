// Package recorder owns a recording session: its state machine, the ordered
// frame buffer and the per-session metrics.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/vizcapture/internal/capture"
	"github.com/audiolibrelab/vizcapture/internal/encode"
	"github.com/audiolibrelab/vizcapture/internal/media"
)

// Capturer produces one frame bitmap for a surface
type Capturer interface {
	Capture(ctx context.Context, surfaceID string) (capture.Result, error)
}

// Encoder turns the buffered frames into artifacts
type Encoder interface {
	Encode(ctx context.Context, frames []media.Frame, opts encode.Options) (media.ExportResult, error)
}

// Snapshot is a point-in-time copy of the recorder state
type Snapshot struct {
	Status      media.Status  `json:"status"`
	IsRecording bool          `json:"is_recording"`
	FrameCount  int           `json:"frame_count"`
	ElapsedMs   int64         `json:"elapsed_ms"`
	Metrics     media.Metrics `json:"metrics"`
	Options     media.Options `json:"options"`
	SessionID   string        `json:"session_id,omitempty"`
}

// Recorder is the session state machine: IDLE -> RECORDING -> ENCODING -> IDLE
type Recorder struct {
	capturer Capturer
	encoder  Encoder
	logger   *slog.Logger
	now      func() time.Time

	// captureMu serializes captures; StopSession takes it to wait out an
	// in-flight capture before leaving RECORDING.
	captureMu sync.Mutex

	mutex     sync.RWMutex
	status    media.Status
	sessionID string
	opts      media.Options
	startTime time.Time
	frames    []media.Frame
	metrics   media.Metrics
	// final is the state of the last session as it left RECORDING
	final Snapshot
}

func New(capturer Capturer, encoder Encoder, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		capturer: capturer,
		encoder:  encoder,
		logger:   logger,
		now:      time.Now,
		status:   media.StatusIdle,
	}
}

// StartSession begins a new session with a fresh buffer and metrics.
func (r *Recorder) StartSession(opts media.Options) error {
	normalized, err := opts.Normalize()
	if err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	switch r.status {
	case media.StatusRecording:
		return media.ErrAlreadyRecording
	case media.StatusEncoding:
		return media.ErrBusy
	}

	r.frames = nil
	r.metrics = media.Metrics{}
	r.opts = normalized
	r.startTime = r.now()
	r.sessionID = uuid.NewString()
	r.status = media.StatusRecording

	r.logger.Info("Recording session started",
		"session_id", r.sessionID,
		"frame_rate", normalized.FrameRate,
		"format", normalized.Format,
		"quality", normalized.Quality)
	return nil
}

// Recording reports whether a session is accepting frames.
func (r *Recorder) Recording() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.status == media.StatusRecording
}

// CaptureFrame captures the surface and appends the frame to the buffer. It is
// a no-op outside RECORDING. Capture failures are counted and returned but
// never end the session.
func (r *Recorder) CaptureFrame(ctx context.Context, surfaceID string) error {
	if !r.Recording() {
		return nil
	}

	r.captureMu.Lock()
	defer r.captureMu.Unlock()

	r.mutex.RLock()
	sessionID := r.sessionID
	recording := r.status == media.StatusRecording
	r.mutex.RUnlock()
	if !recording {
		return nil
	}

	res, err := r.capturer.Capture(ctx, surfaceID)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.status != media.StatusRecording || r.sessionID != sessionID {
		r.logger.Debug("Discarding capture that finished after the session ended", "session_id", sessionID)
		return nil
	}

	if err != nil {
		r.metrics.FailedCaptures++
		r.logger.Warn("Frame capture failed",
			"session_id", sessionID,
			"surface", surfaceID,
			"failed_captures", r.metrics.FailedCaptures,
			"error", err)
		return fmt.Errorf("capture frame %d: %w", len(r.frames), err)
	}

	ts := r.now().Sub(r.startTime).Milliseconds()
	if n := len(r.frames); n > 0 && ts < r.frames[n-1].TimestampMs {
		ts = r.frames[n-1].TimestampMs
	}

	b := res.Image.Bounds()
	frame := media.Frame{
		Index:             len(r.frames),
		TimestampMs:       ts,
		Image:             res.Image,
		Width:             b.Dx(),
		Height:            b.Dy(),
		CaptureDurationMs: res.Duration.Milliseconds(),
		Method:            string(res.Method),
	}
	r.frames = append(r.frames, frame)
	r.metrics.Observe(frame.CaptureDurationMs)

	r.logger.Debug("Frame captured",
		"session_id", sessionID,
		"frame", frame.Index,
		"method", frame.Method,
		"duration", res.Duration)
	return nil
}

// StopSession ends the session and encodes the buffer. The recorder is back
// in IDLE when it returns, whatever the outcome.
func (r *Recorder) StopSession(ctx context.Context) (media.ExportResult, error) {
	if !r.Recording() {
		return media.ExportResult{}, media.ErrNotRecording
	}

	r.captureMu.Lock()
	r.mutex.Lock()
	if r.status != media.StatusRecording {
		r.mutex.Unlock()
		r.captureMu.Unlock()
		return media.ExportResult{}, media.ErrNotRecording
	}
	r.final = r.snapshotLocked()
	r.status = media.StatusEncoding
	frames := r.frames
	opts := r.opts
	sessionID := r.sessionID
	started := r.startTime
	elapsed := r.now().Sub(started)
	r.mutex.Unlock()
	r.captureMu.Unlock()

	defer r.finish()

	log := r.logger.With("session_id", sessionID)

	if len(frames) == 0 {
		log.Warn("Recording stopped with no frames", "elapsed", elapsed)
		return media.ExportResult{Message: "No frames captured"}, media.ErrEmptyBuffer
	}

	log.Info("Recording stopped, encoding", "frames", len(frames), "elapsed", elapsed)

	result, err := r.encoder.Encode(ctx, frames, encode.Options{
		Format:    opts.Format,
		FrameRate: opts.FrameRate,
		Quality:   opts.Quality,
		Subject:   opts.Subject,
		Timestamp: r.now(),
		Started:   started,
	})
	if err != nil {
		result.Success = false
		if !errors.Is(err, media.ErrEncodeFailed) && !errors.Is(err, media.ErrEmptyBuffer) {
			err = fmt.Errorf("%w: %w", media.ErrEncodeFailed, err)
		}
		log.Error("Encoding failed", "error", err)
		return result, err
	}

	log.Info("Encoding complete", "strategy", result.Strategy, "artifacts", len(result.Artifacts))
	return result, nil
}

// finish returns to IDLE and releases the buffer.
func (r *Recorder) finish() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.status = media.StatusIdle
	r.frames = nil
}

// Status returns a copy of the current state.
func (r *Recorder) Status() Snapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.snapshotLocked()
}

// LastSession returns the state of the most recent session at the moment it
// stopped, after any in-flight capture had landed.
func (r *Recorder) LastSession() Snapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.final
}

func (r *Recorder) snapshotLocked() Snapshot {
	s := Snapshot{
		Status:      r.status,
		IsRecording: r.status == media.StatusRecording,
		FrameCount:  len(r.frames),
		Metrics:     r.metrics,
		Options:     r.opts,
		SessionID:   r.sessionID,
	}
	if s.IsRecording {
		s.ElapsedMs = r.now().Sub(r.startTime).Milliseconds()
	}
	return s
}

// Frames returns a copy of the buffered frames.
func (r *Recorder) Frames() []media.Frame {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]media.Frame(nil), r.frames...)
}
