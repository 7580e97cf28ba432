// Package play opens exported artifacts with whatever viewer is installed.
package play

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Player struct {
	logger   *slog.Logger
	lookPath func(string) (string, error)
	run      func(name string, args ...string) error
}

func New(logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		logger:   logger,
		lookPath: exec.LookPath,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Play opens path with the first viewer available for its type and blocks
// until the viewer exits.
func (p *Player) Play(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("artifact not found: %s", path)
	}

	viewer, err := p.findViewer(path)
	if err != nil {
		return err
	}

	args := viewerArgs(viewer, path)
	p.logger.Info("Opening artifact", "path", path, "viewer", viewer)

	if err := p.run(viewer, args...); err != nil {
		return fmt.Errorf("playback failed with %s: %w", viewer, err)
	}
	return nil
}

func (p *Player) findViewer(path string) (string, error) {
	candidates := viewersFor(path)
	if len(candidates) == 0 {
		return "", fmt.Errorf("no viewer for %s files", filepath.Ext(path))
	}

	for _, v := range candidates {
		if _, err := p.lookPath(v); err == nil {
			return v, nil
		}
	}
	return "", fmt.Errorf("no viewer found (tried: %s)", strings.Join(candidates, ", "))
}

// viewersFor lists viewers in order of preference
func viewersFor(path string) []string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gif", ".mp4":
		return []string{"mpv", "vlc", "ffplay", "xdg-open", "open"}
	case ".html", ".png", ".txt", ".yaml":
		return []string{"xdg-open", "open"}
	}
	return nil
}

func viewerArgs(viewer, path string) []string {
	switch viewer {
	case "mpv":
		return []string{"--loop-file=inf", path}
	case "vlc":
		return []string{"--loop", path}
	case "ffplay":
		return []string{"-loop", "0", path}
	}
	return []string{path}
}
