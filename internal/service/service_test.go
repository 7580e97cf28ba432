package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/media"
	"github.com/audiolibrelab/vizcapture/internal/surface"
)

type closingHost struct {
	surface.NoHost
	closed bool
}

func (h *closingHost) Close() error {
	h.closed = true
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Subject = "merge sort"
	cfg.Capture.Host = config.HostNone
	cfg.Capture.PlaceholderWidth = 160
	cfg.Capture.PlaceholderHeight = 120
	cfg.Recording.FrameRate = 1
	cfg.Encoder.Strategies = []string{config.StrategyDump}
	cfg.Output.Directory = t.TempDir()
	return cfg
}

func TestRecordAndExport(t *testing.T) {
	cfg := testConfig(t)
	svc := New(cfg, surface.NoHost{}, nil)

	require.NoError(t, svc.StartRecording(media.Options{}))
	status := svc.GetStatus()
	assert.True(t, status.IsRecording)
	assert.True(t, status.Scheduler.Running)
	assert.Equal(t, "merge sort", status.Options.Subject)
	assert.Equal(t, media.FormatGIF, status.Options.Format)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.CaptureFrame(context.Background()))
	}

	res, err := svc.StopRecording(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, res.FrameCount, 3)
	assert.Equal(t, "dump", res.Strategy)

	for _, a := range res.Artifacts {
		assert.Nil(t, a.Data)
		assert.FileExists(t, a.Path)
		assert.True(t, strings.HasPrefix(a.Name, "merge_sort_"))
	}

	manifestPath := filepath.Join(cfg.Output.Directory, res.Stem+"_session.yaml")
	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	var manifest SessionManifest
	require.NoError(t, yaml.Unmarshal(data, &manifest))
	assert.Equal(t, "merge sort", manifest.Subject)
	assert.Equal(t, res.FrameCount, manifest.FrameCount)
	assert.Equal(t, res.FrameCount, manifest.Metrics.TotalFrames)
	assert.NotEmpty(t, manifest.SessionID)
	assert.Len(t, manifest.Artifacts, len(res.Artifacts))

	status = svc.GetStatus()
	assert.False(t, status.IsRecording)
	assert.False(t, status.Scheduler.Running)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, res.Stem, status.LastResult.Stem)
	assert.Empty(t, status.LastError)

	artifacts, err := svc.ListArtifacts()
	require.NoError(t, err)
	assert.Len(t, artifacts, len(res.Artifacts)+1)

	primary, ok := res.PrimaryArtifact()
	require.True(t, ok)
	path, err := svc.ArtifactPath(primary.Name)
	require.NoError(t, err)
	assert.Equal(t, primary.Path, path)
}

func TestStopWithoutFrames(t *testing.T) {
	svc := New(testConfig(t), surface.NoHost{}, nil)

	require.NoError(t, svc.StartRecording(media.Options{Format: media.FormatMP4}))
	_, err := svc.StopRecording(context.Background())
	assert.True(t, errors.Is(err, media.ErrEmptyBuffer))
	assert.NotEmpty(t, svc.GetLastError())

	status := svc.GetStatus()
	assert.Equal(t, media.StatusIdle, status.Status)
	assert.Nil(t, status.LastResult)
}

func TestLifecycleErrors(t *testing.T) {
	svc := New(testConfig(t), surface.NoHost{}, nil)

	_, err := svc.StopRecording(context.Background())
	assert.True(t, errors.Is(err, media.ErrNotRecording))
	assert.True(t, errors.Is(svc.CaptureFrame(context.Background()), media.ErrNotRecording))

	assert.True(t, errors.Is(svc.StartRecording(media.Options{FrameRate: 90}), media.ErrInvalidOptions))
	assert.False(t, svc.GetStatus().Scheduler.Running)

	require.NoError(t, svc.StartRecording(media.Options{}))
	assert.True(t, errors.Is(svc.StartRecording(media.Options{}), media.ErrAlreadyRecording))
	svc.Teardown(context.Background())
}

func TestDownloadFrame(t *testing.T) {
	cfg := testConfig(t)
	svc := New(cfg, surface.NoHost{}, nil)

	path, err := svc.DownloadFrame(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, cfg.Output.Directory, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "merge_sort_"))
	assert.Equal(t, ".png", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))
}

func TestArtifactPath_RejectsTraversal(t *testing.T) {
	svc := New(testConfig(t), surface.NoHost{}, nil)

	for _, name := range []string{"", "../secret", "a/b.png", ".hidden", "missing.gif"} {
		_, err := svc.ArtifactPath(name)
		assert.True(t, errors.Is(err, ErrArtifactNotFound), name)
	}
}

func TestTeardownExportsActiveSession(t *testing.T) {
	cfg := testConfig(t)
	host := &closingHost{}
	svc := New(cfg, host, nil)

	require.NoError(t, svc.StartRecording(media.Options{}))
	require.NoError(t, svc.CaptureFrame(context.Background()))

	svc.Teardown(context.Background())

	assert.True(t, host.closed)
	status := svc.GetStatus()
	assert.False(t, status.IsRecording)
	require.NotNil(t, status.LastResult)
	assert.True(t, status.LastResult.Success)

	entries, err := os.ReadDir(cfg.Output.Directory)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
