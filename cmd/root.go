package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/stagedeck/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	device       string
	sessionDir   string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "stagedeck",
	Short: "Transport control engine for multichannel mixer recording",
	Long: `Stagedeck records and plays back the USB multitrack stream of a
digital mixer (XR18 or X32) by supervising arecord/aplay subprocesses
against a session directory of takes.

Run 'stagedeck serve' to expose the transport (record, pause, resume,
stop, play, rewind, next) to a remote control surface over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		var err error
		cfg, err = config.Load(cfgFile, device)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if sessionDir != "" {
			cfg.Session.Directory = sessionDir
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "D", "", "device profile: xr18 or x32 (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&sessionDir, "dir", "d", "", "session directory (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(takesCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
}
