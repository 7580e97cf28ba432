package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/vizcapture/internal/play"
	"github.com/audiolibrelab/vizcapture/internal/service"
	"github.com/audiolibrelab/vizcapture/internal/surface"
)

var playCmd = &cobra.Command{
	Use:   "play [artifact]",
	Short: "Open an exported recording",
	Long: `Open an artifact from the output directory with an installed viewer
(mpv, vlc or ffplay for GIF and MP4; the system opener for HTML bundles).
Without an argument the most recent recording is opened.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Only the output directory is needed, so no capture host is opened
		svc := service.New(cfg, surface.NoHost{}, slog.Default())
		defer svc.Teardown(context.Background())

		var path string
		var err error
		if len(args) == 1 {
			path, err = svc.ArtifactPath(args[0])
		} else {
			path, err = latestRecording(svc)
		}
		if err != nil {
			return err
		}

		return play.New(slog.Default()).Play(path)
	},
}

// latestRecording returns the newest GIF, MP4 or HTML bundle in the output directory.
func latestRecording(svc service.Service) (string, error) {
	artifacts, err := svc.ListArtifacts()
	if err != nil {
		return "", err
	}
	// ListArtifacts is sorted newest first
	for _, a := range artifacts {
		switch filepath.Ext(a.Name) {
		case ".gif", ".mp4", ".html":
			return a.Path, nil
		}
	}
	return "", fmt.Errorf("no recordings found in %s", cfg.Output.Directory)
}
