package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies [name]",
		Short: "List guardrail policies or show one",
		Long: `List the built-in and loaded guardrail policies with their severity and
whether they are enabled, or print the Rego source of one policy.`,
		Example: `  polsync policies
  polsync policies delete-guard`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if !settings.Policy.Enabled {
				return fmt.Errorf("policies are disabled in the settings")
			}
			guard, err := newGuard(cmd.Context(), settings, log.Logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				p, err := guard.GetPolicy(args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, p)
				}
				fmt.Fprintf(out, "# %s (%s)\n# %s\n\n%s\n", p.Name, p.Severity, p.Description, strings.TrimSpace(p.Rego))
				return nil
			}

			policies := guard.ListPolicies()
			if jsonOutput {
				return writeJSON(out, policies)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return tw.Flush()
		},
	}

	return cmd
}
