package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate documents without contacting the store",
		Long: `Validate desired-state documents offline.

This command:
  - Parses CUE, YAML and JSON documents
  - Validates them against the document schema
  - Checks every resource against its resource schema
  - Resolves container and variant selections`,
		Example: `  polsync validate -f desired/
  polsync validate -f tags.yaml -f addresses.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			registry, err := loadRegistry(settings)
			if err != nil {
				return err
			}

			parsed, err := parseDocuments(cmd.Context(), files)
			if err != nil {
				return err
			}
			items, err := buildItems(registry, parsed.Resources, nil)
			if err != nil {
				return err
			}

			log.Info().Int("resources", len(items)).Msg("Documents are valid")

			out := cmd.OutOrStdout()
			if jsonOutput {
				type entry struct {
					ID    string `json:"id"`
					Type  string `json:"type"`
					Name  string `json:"name"`
					State string `json:"state"`
				}
				entries := make([]entry, len(items))
				for i, item := range items {
					entries[i] = entry{item.Key, item.Schema.Type, item.Desired.Name(), string(item.State)}
				}
				return writeJSON(out, entries)
			}

			fmt.Fprintf(out, "%d resources in %d files are valid\n", len(items), len(parsed.SourceFiles))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "document files or directories")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
