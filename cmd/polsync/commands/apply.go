package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/polsync/pkg/config"
	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/policy"
	"github.com/openfroyo/polsync/pkg/schema"
	"github.com/openfroyo/polsync/pkg/telemetry"
)

type applyOptions struct {
	files       []string
	check       bool
	parallelism int
	watch       bool
}

func newApplyCommand(version string) *cobra.Command {
	opts := &applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge resources to the desired state",
		Long: `Converge every resource in the given documents to its desired state.

For each resource this command:
  - Resolves its container and variant selections
  - Looks it up by name in its container
  - Creates, updates with a complete patch, deletes, or leaves it alone
  - Checks the planned change against guardrail policies first
  - Records the run in the history`,
		Example: `  # Apply all documents in a directory
  polsync apply -f desired/

  # Show what would change without changing anything
  polsync apply -f desired/ --check

  # Re-apply whenever a document or policy changes
  polsync apply -f desired/ --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), cmd.OutOrStdout(), opts, version)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.files, "file", "f", nil, "document files or directories")
	cmd.Flags().BoolVar(&opts.check, "check", false, "dry run: report changes without making them")
	cmd.Flags().IntVar(&opts.parallelism, "parallel", 0, "max parallel reconciliations (default from settings)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-apply when documents or policies change")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newPlanCommand(version string) *cobra.Command {
	opts := &applyOptions{check: true}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the changes apply would make",
		Long: `Compute the changes needed to converge the given documents without
making any of them. Guardrail policies are evaluated, so denials show up
in the plan.`,
		Example: `  polsync plan -f desired/
  polsync plan -f desired/addresses.cue --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), cmd.OutOrStdout(), opts, version)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.files, "file", "f", nil, "document files or directories")
	cmd.Flags().IntVar(&opts.parallelism, "parallel", 0, "max parallel reconciliations (default from settings)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runApply(ctx context.Context, out io.Writer, opts *applyOptions, version string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if opts.parallelism > 0 {
		settings.Engine.Parallelism = opts.parallelism
	}

	registry, err := loadRegistry(settings)
	if err != nil {
		return err
	}

	ctx, tel, err := startTelemetry(ctx, settings, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	store, err := openStore(ctx, settings)
	if err != nil {
		return err
	}
	defer store.Close()

	guard, err := newGuard(ctx, settings, log.Logger)
	if err != nil {
		return err
	}

	batchOpts := []engine.BatchOption{
		engine.WithParallelism(settings.Engine.Parallelism),
		engine.WithJournal(store),
	}
	if guard != nil {
		batchOpts = append(batchOpts, engine.WithBatchGuard(guard))
	}

	a := &applier{
		out:      out,
		settings: settings,
		registry: registry,
		clients:  newClientFactory(store, settings),
		runner:   engine.NewBatchRunner(batchOpts...),
		guard:    guard,
		events:   tel.Events,
		dryRun:   opts.check,
	}

	if !opts.watch {
		return a.apply(ctx, opts.files)
	}
	return a.watch(ctx, opts.files)
}

// applier runs one convergence pass per call.
type applier struct {
	out      io.Writer
	settings *config.Settings
	registry *schema.Registry
	clients  *clientFactory
	runner   *engine.BatchRunner
	guard    *policy.Engine
	events   *telemetry.EventPublisher
	dryRun   bool
}

func (a *applier) apply(ctx context.Context, files []string) error {
	if timeout := a.settings.Engine.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	parsed, err := parseDocuments(ctx, files)
	if err != nil {
		return err
	}
	items, err := buildItems(a.registry, parsed.Resources, a.clients.client)
	if err != nil {
		return err
	}

	log.Info().
		Str("workspace", parsed.Workspace.Name).
		Int("resources", len(items)).
		Bool("dry_run", a.dryRun).
		Msg("Converging resources")

	run, err := a.runner.Run(ctx, items, a.dryRun)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := writeJSON(a.out, run); err != nil {
			return err
		}
	} else {
		printRun(a.out, run)
	}

	if run.Summary.Failed > 0 {
		return fmt.Errorf("%d of %d resources failed", run.Summary.Failed, run.Summary.Total)
	}
	return nil
}

// watch applies once, then again after every change to a document or
// policy file until ctx is done. Failed passes are logged, not fatal.
func (a *applier) watch(ctx context.Context, files []string) error {
	a.events.Subscribe(func(e telemetry.Event) {
		log.Warn().
			Str("event", e.Type).
			Str("run_id", e.RunID).
			Str("resource", e.Resource).
			Msg(e.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	if err := a.apply(ctx, files); err != nil {
		log.Error().Err(err).Msg("Apply failed")
	}

	paths := append([]string{}, files...)
	if a.guard != nil {
		paths = append(paths, a.settings.Policy.Paths...)
	}

	w := config.NewWatcher(log.Logger,
		config.WithDebounce(a.settings.Engine.WatchDebounce),
		config.WithFilter(func(path string) bool {
			return config.IsDocumentFile(path) || policy.IsPolicyFile(path)
		}),
	)

	return w.Watch(ctx, paths, func(ctx context.Context, changed []string) {
		log.Info().Strs("files", changed).Msg("Changes detected, re-applying")

		if a.guard != nil {
			err := a.guard.ReloadPolicies(ctx)
			if err == nil {
				err = configurePolicies(ctx, a.guard, a.settings.Policy)
			}
			if err != nil {
				log.Error().Err(err).Msg("Failed to reload policies")
				return
			}
		}
		if err := a.apply(ctx, files); err != nil {
			log.Error().Err(err).Msg("Apply failed")
		}
	})
}
