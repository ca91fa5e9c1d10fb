package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/stagedeck/internal/proc"
	"github.com/audiolibrelab/stagedeck/internal/session"
	"github.com/audiolibrelab/stagedeck/internal/transport"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a take from the command line",
	Long: `Start recording a new take immediately and stop on Ctrl+C. The
take is finalized before the command returns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := session.Open(cfg.Session.Directory, cfg.Session.Tag, cfg.Device.Channels, cfg.Device.SampleRate)
		if err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}
		defer sess.Close()

		sup := proc.New(cfg.Process.CaptureBin, cfg.Process.PlaybackBin, cfg.Process.SpawnProbe)
		engine := transport.New(cfg, sess, sup)
		go engine.Run()

		res := engine.Record()
		if res.Err != nil {
			engine.Shutdown()
			return fmt.Errorf("failed to start recording: %w", res.Err)
		}
		slog.Info("recording, press Ctrl+C to stop", "take", res.CurrentTake.ID)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		if res := engine.Stop(); res.Err != nil {
			engine.Shutdown()
			return fmt.Errorf("failed to stop recording: %w", res.Err)
		}
		if take := sess.Current(); take != nil {
			fmt.Printf("Recorded %s (%.1fs, %d channels) -> %s\n", take.ID, take.Duration, take.Channels, take.Path)
		}

		engine.Shutdown()
		return nil
	},
}
