package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/vizcapture/internal/canvas"
	"github.com/audiolibrelab/vizcapture/internal/capture"
	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/encode"
	"github.com/audiolibrelab/vizcapture/internal/media"
	"github.com/audiolibrelab/vizcapture/internal/recorder"
	"github.com/audiolibrelab/vizcapture/internal/scheduler"
	"github.com/audiolibrelab/vizcapture/internal/surface"
)

// ErrArtifactNotFound is returned for unknown or unsafe artifact names
var ErrArtifactNotFound = errors.New("artifact not found")

// Service represents the core VizCapture service interface
type Service interface {
	// Recording operations
	StartRecording(opts media.Options) error
	StopRecording(ctx context.Context) (media.ExportResult, error)
	CaptureFrame(ctx context.Context) error
	GetStatus() StatusReport

	// Single frame export, independent of any session
	DownloadFrame(ctx context.Context, surfaceID string) (string, error)

	// Output directory operations
	ListArtifacts() ([]ArtifactInfo, error)
	ArtifactPath(name string) (string, error)

	GetConfig() *config.Config
	GetLastError() string

	// Teardown stops everything and releases the host. Errors are only logged.
	Teardown(ctx context.Context)
}

// StatusReport is the polled view of the service
type StatusReport struct {
	recorder.Snapshot
	Surface    string              `json:"surface"`
	Host       string              `json:"host"`
	Scheduler  scheduler.Stats     `json:"scheduler"`
	LastResult *media.ExportResult `json:"last_result,omitempty"`
	LastError  string              `json:"last_error,omitempty"`
}

// ArtifactInfo describes a file in the output directory
type ArtifactInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	MIMEType     string    `json:"mime_type"`
	DownloadURL  string    `json:"download_url"`
}

// SessionManifest is written next to the artifacts of every stopped session
type SessionManifest struct {
	Subject    string        `yaml:"subject"`
	SessionID  string        `yaml:"session_id"`
	Surface    string        `yaml:"surface"`
	Host       string        `yaml:"host"`
	Success    bool          `yaml:"success"`
	Strategy   string        `yaml:"strategy,omitempty"`
	FrameCount int           `yaml:"frame_count"`
	Options    media.Options `yaml:"options"`
	Metrics    media.Metrics `yaml:"metrics"`
	Failures   []string      `yaml:"failures,omitempty"`
	Artifacts  []string      `yaml:"artifacts,omitempty"`
	CreatedAt  time.Time     `yaml:"created_at"`
}

// VizCaptureService is the main service implementation
type VizCaptureService struct {
	cfg       *config.Config
	host      surface.Host
	capturer  *capture.Capturer
	recorder  *recorder.Recorder
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	resultMutex sync.RWMutex
	lastResult  *media.ExportResult

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New wires a capturer, encoder, recorder and scheduler around host. The
// service owns host from here on and closes it in Teardown.
func New(cfg *config.Config, host surface.Host, logger *slog.Logger) Service {
	return newService(cfg, host, encode.NewDefault(cfg.Encoder, logger), logger)
}

func newService(cfg *config.Config, host surface.Host, encoder recorder.Encoder, logger *slog.Logger) *VizCaptureService {
	if logger == nil {
		logger = slog.Default()
	}
	if host == nil {
		host = surface.NoHost{}
	}

	capturer := capture.New(host, cfg.Capture, logger)
	rec := recorder.New(capturer, encoder, logger)
	sched := scheduler.New(rec, cfg.Capture.Surface, logger)
	sched.SetCaptureTimeout(time.Duration(cfg.Capture.TimeoutMs) * time.Millisecond)

	return &VizCaptureService{
		cfg:       cfg,
		host:      host,
		capturer:  capturer,
		recorder:  rec,
		scheduler: sched,
		logger:    logger,
	}
}

// StartRecording starts a session and its capture ticker. Zero-valued options
// fall back to the configured recording defaults.
func (s *VizCaptureService) StartRecording(opts media.Options) error {
	s.logger.Debug("Service.StartRecording called", "options", opts)
	s.clearLastError()

	def := s.cfg.Recording.Options()
	if opts.FrameRate == 0 {
		opts.FrameRate = def.FrameRate
	}
	if opts.Format == "" {
		opts.Format = def.Format
	}
	if opts.Quality == 0 {
		opts.Quality = def.Quality
	}
	if opts.Subject == "" {
		opts.Subject = s.cfg.Subject
	}

	if err := s.recorder.StartSession(opts); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}

	rate := s.recorder.Status().Options.FrameRate
	if err := s.scheduler.Start(rate); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start capture scheduler: %v", err))
		if _, stopErr := s.recorder.StopSession(context.Background()); stopErr != nil {
			s.logger.Debug("Discarding session after scheduler failure", "error", stopErr)
		}
		return err
	}

	s.logger.Info("Recording started", "subject", opts.Subject, "surface", s.scheduler.SurfaceID(), "frame_rate", rate)
	return nil
}

// StopRecording stops the ticker, encodes the buffer and writes the artifacts
// to the output directory.
func (s *VizCaptureService) StopRecording(ctx context.Context) (media.ExportResult, error) {
	s.scheduler.Stop()

	result, err := s.recorder.StopSession(ctx)
	if errors.Is(err, media.ErrNotRecording) {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return result, err
	}

	if writeErr := s.writeArtifacts(&result, s.recorder.LastSession()); writeErr != nil {
		err = multierr.Append(err, writeErr)
	}

	if !errors.Is(err, media.ErrEmptyBuffer) {
		s.setLastResult(result)
	}

	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to export recording: %v", err))
		return result, err
	}

	s.clearLastError()
	return result, nil
}

// CaptureFrame takes one frame immediately, outside the ticker cadence.
func (s *VizCaptureService) CaptureFrame(ctx context.Context) error {
	if !s.recorder.Recording() {
		return media.ErrNotRecording
	}
	return s.scheduler.CaptureNow(ctx)
}

// DownloadFrame captures surfaceID once and writes it as <subject>_<unixMs>.png.
// An empty surfaceID selects the configured surface.
func (s *VizCaptureService) DownloadFrame(ctx context.Context, surfaceID string) (string, error) {
	if surfaceID == "" {
		surfaceID = s.cfg.Capture.Surface
	}

	res, err := s.capturer.Capture(ctx, surfaceID)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to capture frame: %v", err))
		return "", err
	}

	data, err := canvas.EncodePNG(res.Image)
	if err != nil {
		return "", fmt.Errorf("failed to encode frame: %w", err)
	}

	if err := os.MkdirAll(s.cfg.Output.Directory, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("%s_%d.png", media.CleanFileName(s.cfg.Subject), time.Now().UnixMilli())
	path := filepath.Join(s.cfg.Output.Directory, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write frame: %w", err)
	}

	s.logger.Info("Frame saved", "path", path, "method", res.Method, "size", humanize.Bytes(uint64(len(data))))
	return path, nil
}

// GetStatus returns the combined recorder and scheduler state.
func (s *VizCaptureService) GetStatus() StatusReport {
	report := StatusReport{
		Snapshot:  s.recorder.Status(),
		Surface:   s.scheduler.SurfaceID(),
		Host:      s.host.Name(),
		Scheduler: s.scheduler.Stats(),
		LastError: s.GetLastError(),
	}

	s.resultMutex.RLock()
	if s.lastResult != nil {
		r := *s.lastResult
		report.LastResult = &r
	}
	s.resultMutex.RUnlock()

	return report
}

// ListArtifacts returns the files in the output directory, newest first.
func (s *VizCaptureService) ListArtifacts() ([]ArtifactInfo, error) {
	dir := s.cfg.Output.Directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var artifacts []ArtifactInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("Failed to get file info", "file", entry.Name(), "error", err)
			continue
		}

		artifacts = append(artifacts, ArtifactInfo{
			Name:         entry.Name(),
			Path:         filepath.Join(dir, entry.Name()),
			Size:         info.Size(),
			SizeHuman:    humanize.Bytes(uint64(info.Size())),
			ModTime:      info.ModTime(),
			ModTimeHuman: humanize.Time(info.ModTime()),
			MIMEType:     MIMEType(entry.Name()),
			DownloadURL:  "/api/artifacts/" + entry.Name(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].ModTime.Equal(artifacts[j].ModTime) {
			return artifacts[i].Name < artifacts[j].Name
		}
		return artifacts[i].ModTime.After(artifacts[j].ModTime)
	})

	return artifacts, nil
}

// ArtifactPath resolves a bare file name inside the output directory.
func (s *VizCaptureService) ArtifactPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrArtifactNotFound, name)
	}

	path := filepath.Join(s.cfg.Output.Directory, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return path, nil
}

// GetConfig returns the current configuration
func (s *VizCaptureService) GetConfig() *config.Config {
	return s.cfg
}

// Teardown stops the ticker, force-stops an active session so its frames are
// still exported, and closes the host.
func (s *VizCaptureService) Teardown(ctx context.Context) {
	s.scheduler.Stop()

	if s.recorder.Recording() {
		s.logger.Info("Stopping active recording during teardown")
		if res, err := s.StopRecording(ctx); err != nil {
			s.logger.Warn("Recording export during teardown failed", "error", err)
		} else {
			s.logger.Info("Recording exported during teardown", "message", res.Message)
		}
	}

	if err := s.host.Close(); err != nil {
		s.logger.Warn("Failed to close capture host", "host", s.host.Name(), "error", err)
	}
}

// writeArtifacts stores every artifact plus the session manifest in the
// output directory. Artifact payloads are dropped once written.
func (s *VizCaptureService) writeArtifacts(result *media.ExportResult, snapshot recorder.Snapshot) error {
	if len(result.Artifacts) == 0 && result.Stem == "" {
		return nil
	}

	dir := s.cfg.Output.Directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var errs error
	names := make([]string, 0, len(result.Artifacts))
	for i := range result.Artifacts {
		a := &result.Artifacts[i]
		path := filepath.Join(dir, a.Name)
		if err := os.WriteFile(path, a.Data, 0644); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to write %s: %w", a.Name, err))
			continue
		}
		a.Path = path
		a.Data = nil
		names = append(names, a.Name)
	}

	if result.Stem != "" {
		manifest := SessionManifest{
			Subject:    snapshot.Options.Subject,
			SessionID:  snapshot.SessionID,
			Surface:    s.scheduler.SurfaceID(),
			Host:       s.host.Name(),
			Success:    result.Success,
			Strategy:   result.Strategy,
			FrameCount: result.FrameCount,
			Options:    snapshot.Options,
			Metrics:    snapshot.Metrics,
			Failures:   result.Failures,
			Artifacts:  names,
			CreatedAt:  time.Now(),
		}
		data, err := yaml.Marshal(&manifest)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to marshal session manifest: %w", err))
		} else if err := os.WriteFile(filepath.Join(dir, result.Stem+"_session.yaml"), data, 0644); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to write session manifest: %w", err))
		}
	}

	if errs == nil {
		s.logger.Info("Artifacts written", "directory", dir, "count", len(names))
	}
	return errs
}

func (s *VizCaptureService) setLastResult(r media.ExportResult) {
	s.resultMutex.Lock()
	defer s.resultMutex.Unlock()
	s.lastResult = &r
}

// GetLastError returns the last error message
func (s *VizCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message
func (s *VizCaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
	if err != "" {
		s.logger.Error("Service error", "error", err)
	}
}

// clearLastError clears the last error message
func (s *VizCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// MIMEType guesses the content type of an artifact from its extension
func MIMEType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
