package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/encode"
	"github.com/audiolibrelab/vizcapture/internal/media"
)

var infoCmd = &cobra.Command{
	Use:   "info [subject]",
	Short: "Show resolved configuration, encoder availability and artifact names",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject := cfg.Subject
		if len(args) == 1 {
			subject = args[0]
		}

		profileName := cfg.Profile
		if profileName == "" {
			profileName = "(base)"
		}

		fmt.Printf("=== CONFIGURATION ===\n")
		fmt.Printf("config_file: %s\n", cfgFile)
		fmt.Printf("profile: %s\n", profileName)

		fmt.Printf("\n[Capture]\n")
		fmt.Printf("host: %s\n", cfg.Capture.Host)
		fmt.Printf("surface: %s\n", cfg.Capture.Surface)
		if cfg.Capture.Host == config.HostBrowser {
			fmt.Printf("url: %s\n", cfg.Capture.Browser.URL)
			if cfg.Capture.Browser.ControlURL != "" {
				fmt.Printf("control_url: %s\n", cfg.Capture.Browser.ControlURL)
			}
		}
		fmt.Printf("timeout: %s\n", time.Duration(cfg.Capture.TimeoutMs)*time.Millisecond)
		fmt.Printf("placeholder: %t (%dx%d)\n", cfg.Capture.PlaceholderEnabled(),
			cfg.Capture.PlaceholderWidth, cfg.Capture.PlaceholderHeight)

		fmt.Printf("\n[Recording]\n")
		fmt.Printf("frame_rate: %d fps\n", cfg.Recording.FrameRate)
		fmt.Printf("format: %s\n", cfg.Recording.Format)
		fmt.Printf("quality: %.2f\n", cfg.Recording.Quality)

		fmt.Printf("\n[Encoder]\n")
		enc := encode.NewDefault(cfg.Encoder, slog.Default())
		fmt.Printf("strategies: %s\n", strings.Join(enc.Strategies(), " -> "))
		fmt.Printf("max_frames: %d\n", cfg.Encoder.MaxFrames)
		fmt.Printf("canvas: %dx%d\n", cfg.Encoder.CanvasWidth, cfg.Encoder.CanvasHeight)
		fmt.Printf("min_artifact: %s\n", humanize.Bytes(uint64(cfg.Encoder.MinArtifactBytes)))
		if bin, err := encode.NewFFmpegEncoder(cfg.Encoder.FFmpegPath, nil).Available(); err != nil {
			fmt.Printf("ffmpeg: unavailable (%v)\n", err)
		} else {
			fmt.Printf("ffmpeg: %s\n", bin)
		}

		format, err := media.ParseFormat(cfg.Recording.Format)
		if err != nil {
			return err
		}
		opts := encode.Options{Subject: subject, Timestamp: time.Now()}

		fmt.Printf("\n=== OUTPUT ===\n")
		fmt.Printf("directory: %s\n", cfg.Output.Directory)
		fmt.Printf("clean_name: %s\n", media.CleanFileName(subject))
		fmt.Printf("artifact: %s\n", opts.ArtifactName(string(format)))
		fmt.Printf("manifest: %s_session.yaml\n", opts.Stem())

		return nil
	},
}
