package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/openfroyo/polsync/pkg/config"
	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/policy"
	"github.com/openfroyo/polsync/pkg/schema"
	"github.com/openfroyo/polsync/pkg/stores"
	"github.com/openfroyo/polsync/pkg/telemetry"
	"github.com/openfroyo/polsync/pkg/transport"
)

const defaultSettingsHint = config.DefaultSettingsFile

// loadSettings reads the settings file named by --config. Without the flag a
// missing polsync.yaml yields the defaults.
func loadSettings() (*config.Settings, error) {
	path := configPath
	allowMissing := false
	if path == "" {
		path = config.DefaultSettingsFile
		allowMissing = true
	}

	settings, err := config.LoadSettings(path, allowMissing)
	if err != nil {
		return nil, err
	}
	if storePath != "" {
		settings.Store.Path = storePath
	}
	if verbose {
		settings.Telemetry.LogLevel = "debug"
	}
	return settings, nil
}

// loadRegistry returns the built-in schemas plus any configured definitions.
func loadRegistry(settings *config.Settings) (*schema.Registry, error) {
	registry, err := schema.NewBuiltinRegistry()
	if err != nil {
		return nil, err
	}
	for _, path := range settings.Schemas.Paths {
		if err := schema.LoadDefinitions(registry, path); err != nil {
			return nil, fmt.Errorf("failed to load schema definitions: %w", err)
		}
	}
	return registry, nil
}

// openStore opens and migrates the sandbox database.
func openStore(ctx context.Context, settings *config.Settings) (*stores.SQLiteStore, error) {
	path := settings.Store.Path
	if path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// startTelemetry builds the telemetry stack from settings and attaches it to ctx.
func startTelemetry(ctx context.Context, settings *config.Settings, version string) (context.Context, *telemetry.Telemetry, error) {
	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig(version))
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		_ = tel.Shutdown(context.Background())
		return ctx, nil, err
	}
	return tel.WithContext(ctx), tel, nil
}

// newGuard returns the policy engine, or nil when policies are disabled.
func newGuard(ctx context.Context, settings *config.Settings, logger zerolog.Logger) (*policy.Engine, error) {
	if !settings.Policy.Enabled {
		return nil, nil
	}
	pe, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if err := configurePolicies(ctx, pe, settings.Policy); err != nil {
		return nil, err
	}
	return pe, nil
}

// configurePolicies loads the user policies on top of the built-ins, then
// applies the enable and disable lists.
func configurePolicies(ctx context.Context, pe *policy.Engine, ps config.PolicySettings) error {
	if len(ps.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, ps.Paths); err != nil {
			return err
		}
	}
	for _, name := range ps.Enable {
		if err := pe.EnablePolicy(name); err != nil {
			return err
		}
	}
	for _, name := range ps.Disable {
		if err := pe.DisablePolicy(name); err != nil {
			return err
		}
	}
	return nil
}

// parseDocuments parses the desired-state documents and fails on any
// validation error, logging each one.
func parseDocuments(ctx context.Context, files []string) (*config.ParsedConfig, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no documents given, use -f")
	}

	parsed, err := config.NewCUEParser().Parse(ctx, files)
	if err != nil {
		return nil, err
	}
	for _, ve := range parsed.Errors {
		log.Error().
			Str("file", ve.File).
			Int("line", ve.Line).
			Str("path", ve.Path).
			Msg(ve.Message)
	}
	if err := parsed.Err(); err != nil {
		return nil, err
	}

	log.Debug().
		Int("files", len(parsed.SourceFiles)).
		Int("resources", len(parsed.Resources)).
		Msg("Documents parsed")
	return parsed, nil
}

// clientFactory hands out one decorated client per resource type.
type clientFactory struct {
	store   *stores.SQLiteStore
	limiter *rate.Limiter
	clients map[string]engine.Client
}

func newClientFactory(store *stores.SQLiteStore, settings *config.Settings) *clientFactory {
	return &clientFactory{
		store:   store,
		limiter: transport.NewLimiter(settings.Engine.RateLimit, settings.Engine.Burst),
		clients: make(map[string]engine.Client),
	}
}

func (f *clientFactory) client(s *schema.ResourceSchema) engine.Client {
	if c, ok := f.clients[s.Type]; ok {
		return c
	}
	c := transport.Instrumented(transport.RateLimited(f.store.Client(s), f.limiter), s.Type)
	f.clients[s.Type] = c
	return c
}

// buildItems turns parsed resources into batch items. Every resource is
// checked offline first so one bad entry stops the run before any call.
// A nil clientFor leaves the items without clients.
func buildItems(registry *schema.Registry, resources []config.ResourceConfig, clientFor func(*schema.ResourceSchema) engine.Client) ([]engine.Item, error) {
	items := make([]engine.Item, 0, len(resources))
	var problems []string

	for _, rc := range resources {
		item, err := buildItem(registry, rc)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s (%s): %v", rc.ID, rc.Source, err))
			continue
		}
		if clientFor != nil {
			item.Client = clientFor(item.Schema)
		}
		items = append(items, item)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%d invalid resources:\n  %s", len(problems), strings.Join(problems, "\n  "))
	}
	return items, nil
}

func buildItem(registry *schema.Registry, rc config.ResourceConfig) (engine.Item, error) {
	s, err := registry.Get(rc.Type)
	if err != nil {
		return engine.Item{}, err
	}

	desired, err := engine.BuildDesiredState(rc.Config, s)
	if err != nil {
		return engine.Item{}, err
	}
	if _, err := engine.ResolveContainer(desired, s); err != nil {
		return engine.Item{}, err
	}
	if rc.Lifecycle() == engine.StatePresent {
		if _, err := engine.ResolveVariants(desired, s); err != nil {
			return engine.Item{}, err
		}
	}

	return engine.Item{
		Key:     rc.ID,
		Schema:  s,
		Desired: desired,
		State:   rc.Lifecycle(),
	}, nil
}
