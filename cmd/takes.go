package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/audiolibrelab/stagedeck/internal/session"

	"github.com/spf13/cobra"
)

var takesCmd = &cobra.Command{
	Use:   "takes",
	Short: "List the takes in the session directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := session.Open(cfg.Session.Directory, cfg.Session.Tag, cfg.Device.Channels, cfg.Device.SampleRate)
		if err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}
		defer sess.Close()

		takes := sess.Takes()
		if len(takes) == 0 {
			fmt.Printf("No takes in %s\n", sess.Dir())
			return nil
		}

		current := sess.Current()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\tTAKE\tSTATUS\tDURATION\tCHANNELS\tPATH")
		for _, t := range takes {
			marker := " "
			if current != nil && t.Sequence == current.Sequence {
				marker = "*"
			}
			duration := "-"
			if t.Duration > 0 {
				duration = fmt.Sprintf("%.1fs", t.Duration)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", marker, t.ID, t.Status, duration, t.Channels, t.Path)
		}
		return w.Flush()
	},
}
