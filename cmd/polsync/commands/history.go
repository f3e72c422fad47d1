package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		status string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past runs",
		Long: `List recorded runs, newest first, or show the outcomes of one run.
Only outcomes are recorded; payloads are never stored in the history.`,
		Example: `  polsync history
  polsync history --status partial --limit 5
  polsync history 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer store.Close()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, run)
				}
				printRun(out, run)
				return nil
			}

			filter := stores.RunFilter{Status: engine.RunStatus(status), Limit: limit}
			if status != "" {
				if err := filter.Status.Validate(); err != nil {
					return err
				}
			}
			runs, err := store.ListRuns(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, runs)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tMODE\tSTATUS\tCREATED\tUPDATED\tDELETED\tUNCHANGED\tFAILED")
			for _, run := range runs {
				mode := "apply"
				if run.DryRun {
					mode = "plan"
				}
				s := run.Summary
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					run.ID, run.StartedAt.Local().Format(time.DateTime), mode, run.Status,
					s.Created, s.Updated, s.Deleted, s.Unchanged, s.Failed)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.Flags().StringVar(&status, "status", "", "only list runs with this status")

	return cmd
}
