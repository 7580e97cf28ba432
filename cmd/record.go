package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/vizcapture/internal/media"
	"github.com/audiolibrelab/vizcapture/internal/play"
)

var recordCmd = &cobra.Command{
	Use:   "record [subject]",
	Short: "Record a visualization surface",
	Long: `Record the configured surface at the given frame rate until Ctrl+C is
pressed or --duration elapses, then export the frames. The subject names the
exported files.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if s, _ := cmd.Flags().GetString("surface"); s != "" {
			cfg.Capture.Surface = s
		}
		rate, _ := cmd.Flags().GetInt("rate")
		format, _ := cmd.Flags().GetString("format")
		quality, _ := cmd.Flags().GetFloat64("quality")
		duration, _ := cmd.Flags().GetDuration("duration")

		opts, err := cfg.ParseOptions(rate, format, quality)
		if err != nil {
			return err
		}
		opts.Subject = cfg.Subject
		if len(args) == 1 {
			opts.Subject = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Teardown(context.Background())

		if err := svc.StartRecording(opts); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		if duration > 0 {
			slog.Info("Recording... Press Ctrl+C to stop early", "subject", opts.Subject, "duration", duration)
			select {
			case <-ctx.Done():
			case <-time.After(duration):
			}
		} else {
			slog.Info("Recording... Press Ctrl+C to stop", "subject", opts.Subject)
			<-ctx.Done()
		}

		slog.Info("Stopping recording...")
		result, err := svc.StopRecording(context.Background())
		printResult(result)
		if err != nil {
			return fmt.Errorf("failed to export recording: %w", err)
		}

		if open, _ := cmd.Flags().GetBool("play"); open {
			if primary, ok := result.PrimaryArtifact(); ok {
				return play.New(slog.Default()).Play(primary.Path)
			}
		}
		return nil
	},
}

func printResult(r media.ExportResult) {
	if r.Message != "" {
		fmt.Println(r.Message)
	}
	for _, f := range r.Failures {
		fmt.Printf("  failed: %s\n", f)
	}
	for _, a := range r.Artifacts {
		marker := " "
		if a.Primary {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, a.Path)
	}
}

func addRecordFlags(c *cobra.Command) {
	c.Flags().StringP("surface", "s", "", "surface id to capture (overrides config)")
	c.Flags().IntP("rate", "r", 0, "frames per second, 1-60 (overrides config)")
	c.Flags().StringP("format", "f", "", "export format: gif or mp4 (overrides config)")
	c.Flags().Float64P("quality", "q", 0, "quality in (0, 1] (overrides config)")
	c.Flags().DurationP("duration", "d", 0, "stop automatically after this long")
	c.Flags().Bool("play", false, "open the exported recording when done")
}

func init() {
	addRecordFlags(recordCmd)
}
