package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSchemasCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas [type]",
		Short: "List resource types or describe one",
		Example: `  polsync schemas
  polsync schemas security_rule
  polsync schemas address --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			registry, err := loadRegistry(settings)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				s, err := registry.Get(args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, s)
				}
				fmt.Fprint(out, s.Describe())
				return nil
			}

			if jsonOutput {
				return writeJSON(out, registry.Types())
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tDESCRIPTION")
			for _, s := range registry.List() {
				fmt.Fprintf(tw, "%s\t%s\n", s.Type, s.Description)
			}
			return tw.Flush()
		},
	}

	return cmd
}
