package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/service"
	"github.com/audiolibrelab/vizcapture/internal/surface"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	outputDir    string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "vizcapture [subject]",
	Short: "Record algorithm visualizations as GIF or MP4",
	Long: `VizCapture records a rendered visualization surface frame by frame and
exports the session as an animated GIF or MP4.

When live capture is not possible it reconstructs frames from the visible
layout, and when encoding fails it falls back to an HTML player bundle or a
directory of PNG frames with assembly instructions.

When a subject is provided, it acts as 'vizcapture record [subject]'.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/vizcapture.yaml")
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if outputDir != "" {
			cfg.Output.Directory = outputDir
		}
		if verboseLevel >= 2 {
			cfg.Capture.Browser.Trace = true
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return recordCmd.RunE(cmd, args)
		}
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/vizcapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output directory (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg and browser tracing")

	addRecordFlags(rootCmd)

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(infoCmd)
}

// openService opens the configured capture host and wires a service around it.
// The service owns the host; callers release both with Teardown.
func openService(ctx context.Context) (service.Service, error) {
	host, err := surface.Open(ctx, cfg.Capture, slog.Default())
	if err != nil {
		if !cfg.Capture.PlaceholderEnabled() {
			return nil, fmt.Errorf("failed to open capture host: %w", err)
		}
		slog.Warn("Capture host unavailable, frames will use the placeholder", "host", cfg.Capture.Host, "error", err)
		host = surface.NoHost{}
	}
	return service.New(cfg, host, slog.Default()), nil
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))
}
