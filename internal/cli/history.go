package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dictabridge/internal/journal"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent dictation sessions",
		Long: `List the most recent sessions recorded in the journal, newest first.
Transcript text is never stored; only timing, outcome and character counts are shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(cmd.ErrOrStderr(), cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			j, err := journal.Open(cfg.Journal.Path, cfg.JournalRetention(), logger)
			if err != nil {
				return fmt.Errorf("open journal (is dictabridge running?): %w", err)
			}
			defer j.Close()

			outcomes, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			if len(outcomes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENDED\tDURATION\tOUTCOME\tCHARS\tTARGET")
			for _, o := range outcomes {
				target := o.Target
				if target == "" {
					target = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					humanize.Time(o.EndedAt),
					o.EndedAt.Sub(o.StartedAt).Round(100*time.Millisecond),
					o.Reason,
					o.Chars,
					target,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to show")
	return cmd
}
