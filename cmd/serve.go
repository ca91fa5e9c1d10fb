package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/stagedeck/internal/proc"
	"github.com/audiolibrelab/stagedeck/internal/server"
	"github.com/audiolibrelab/stagedeck/internal/session"
	"github.com/audiolibrelab/stagedeck/internal/transport"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transport engine with its HTTP control surface",
	Long: `Open the session directory, start the transport engine, and serve
the control API so any device on the network can drive recording and
playback.

A SIGINT or SIGTERM performs a clean shutdown: a live recording is
stopped and its take finalized before the engine exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("listen")

		sess, err := session.Open(cfg.Session.Directory, cfg.Session.Tag, cfg.Device.Channels, cfg.Device.SampleRate)
		if err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}
		defer sess.Close()

		sup := proc.New(cfg.Process.CaptureBin, cfg.Process.PlaybackBin, cfg.Process.SpawnProbe)
		engine := transport.New(cfg, sess, sup)

		srv := server.New(addr, engine, sess)

		// Engine exit code propagates to the process exit code, so a
		// failed finalization during shutdown is visible to systemd.
		exitCh := make(chan int, 1)
		go func() { exitCh <- engine.Run() }()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			slog.Info("signal received, shutting down", "signal", sig)
			engine.Shutdown()
			srv.Close()
		}()

		if err := srv.Start(); err != nil {
			return err
		}

		code := <-exitCh
		if code != 0 {
			sess.Close()
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "listen address for the control API")
}
