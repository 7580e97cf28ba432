package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [surface]",
	Short: "Save a single frame of a surface as PNG",
	Long: `Capture one frame of the given surface (or the configured one) and save it
to the output directory, independent of any recording session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if subject, _ := cmd.Flags().GetString("subject"); subject != "" {
			cfg.Subject = subject
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Teardown(context.Background())

		var surfaceID string
		if len(args) == 1 {
			surfaceID = args[0]
		}

		path, err := svc.DownloadFrame(ctx, surfaceID)
		if err != nil {
			return fmt.Errorf("failed to capture frame: %w", err)
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().String("subject", "", "subject used to name the file (overrides config)")
}
