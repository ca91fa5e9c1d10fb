package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/stagedeck/internal/proc"
	"github.com/audiolibrelab/stagedeck/internal/session"
	"github.com/audiolibrelab/stagedeck/internal/transport"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [take-id]",
	Short: "Play the current (or named) take",
	Long: `Play a finished take through the configured device. Without an
argument the session's current take is played; playback stops at end
of file or on Ctrl+C.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := session.Open(cfg.Session.Directory, cfg.Session.Tag, cfg.Device.Channels, cfg.Device.SampleRate)
		if err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}
		defer sess.Close()

		// Position the pointer on the requested take, if named.
		if len(args) == 1 {
			take := sess.ByID(args[0])
			if take == nil {
				return fmt.Errorf("take %q not found in %s", args[0], sess.Dir())
			}
			if take.Status != session.StatusComplete && take.Status != session.StatusIncomplete {
				return fmt.Errorf("take %q is %s and cannot be played", args[0], take.Status)
			}
			for cur := sess.Current(); cur != nil && cur.Sequence > take.Sequence; cur = sess.AdvancePrevious() {
			}
			for cur := sess.Current(); cur != nil && cur.Sequence < take.Sequence; cur = sess.AdvanceNext() {
			}
		}

		sup := proc.New(cfg.Process.CaptureBin, cfg.Process.PlaybackBin, cfg.Process.SpawnProbe)
		engine := transport.New(cfg, sess, sup)
		go engine.Run()
		defer engine.Shutdown()

		res := engine.Play()
		if res.Err != nil {
			return fmt.Errorf("playback failed: %w", res.Err)
		}
		fmt.Printf("Playing %s, press Ctrl+C to stop\n", res.CurrentTake.ID)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-sigChan:
				engine.Stop()
				return nil
			case <-ticker.C:
				if engine.Status().State == transport.StateIdle {
					fmt.Println("Playback finished")
					return nil
				}
			}
		}
	},
}
