package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/vizcapture/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the VizCapture web server to control recording through a web page or
the JSON API. The server keeps one capture host open for its whole lifetime.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := openService(ctx)
		if err != nil {
			return err
		}

		slog.Info("VizCapture web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

		// Start blocks until the signal context is cancelled and tears the service down
		if err := server.New(svc, port, slog.Default()).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (default from config, 8080)")
}
