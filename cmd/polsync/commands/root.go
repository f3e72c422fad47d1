package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	storePath  string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polsync",
		Short: "polsync - Declarative network security policy convergence",
		Long: `polsync converges network security objects (addresses, tags, services,
security rules, IKE gateways and more) to a declared desired state.

Features:
  - Desired state documents in CUE, YAML or JSON
  - Schema-driven diffing with complete carry-forward patches
  - Dry-run plans with field-level changes
  - Guardrail policies in Rego
  - A local SQLite sandbox standing in for the management API
  - Run history and watch mode`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default "+defaultSettingsHint+")")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "sandbox database path (overrides the settings file)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand(version))
	rootCmd.AddCommand(newApplyCommand(version))
	rootCmd.AddCommand(newSchemasCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPoliciesCommand())

	return rootCmd
}
