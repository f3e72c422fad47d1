package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/polsync/pkg/config"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write default settings and create the sandbox store",
		Long: `Initialize a working directory.

This command:
  - Writes polsync.yaml with default settings (or the --config path)
  - Creates the sandbox database and applies its migrations`,
		Example: `  polsync init
  polsync init --config lab.yaml --store lab.db --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultSettingsFile
			}

			settings := config.DefaultSettings()
			if storePath != "" {
				settings.Store.Path = storePath
			}
			if err := config.WriteSettings(path, settings, force); err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer store.Close()

			log.Info().
				Str("settings", path).
				Str("store", settings.Store.Path).
				Msg("Initialized")
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s, store ready at %s\n", path, settings.Store.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")

	return cmd
}
