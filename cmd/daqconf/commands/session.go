package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/daqconf/pkg/config"
	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/engine"
	"github.com/openfroyo/daqconf/pkg/stores"
	"github.com/openfroyo/daqconf/pkg/telemetry"
)

// session is one loaded configuration with its resolved partition.
type session struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	loader   *config.Loader
	db       *confdb.DB
	engine   *engine.Engine
	state    *stores.SQLiteStore
	sources  []string
}

// loadSettings reads the settings file and applies the environment and the
// global flags on top of it.
func loadSettings() (*config.Settings, error) {
	settings := config.DefaultSettings()
	if configPath != "" {
		loaded, err := config.NewCUEParser().LoadSettings(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
		settings = loaded
	}
	settings.ApplyEnv(os.LookupEnv)

	if partitionID != "" {
		settings.Partition = partitionID
	}
	if len(dataPaths) > 0 {
		settings.Sources.Files = dataPaths
	}
	if settings.Telemetry == nil {
		settings.Telemetry = telemetry.DefaultConfig()
	}
	if verbose {
		settings.Telemetry.Logging.Level = "debug"
	}
	return settings, nil
}

// sourcePaths lists the local documents of settings, including the
// directory remote documents are fetched into once it exists.
func sourcePaths(settings *config.Settings) []string {
	paths := append([]string(nil), settings.Sources.Files...)
	if r := settings.Sources.Remote; r != nil && r.Dir != "" {
		if _, err := os.Stat(r.Dir); err == nil {
			paths = append(paths, r.Dir)
		}
	}
	return paths
}

func defaultStatePath() (string, error) {
	if statePath != "" {
		return statePath, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daqconf", "state.db"), nil
}

// openState opens the state database, creating its directory.
func openState(ctx context.Context) (*stores.SQLiteStore, error) {
	path, err := defaultStatePath()
	if err != nil {
		return nil, fmt.Errorf("cannot locate state database: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create state directory: %w", err)
	}
	return stores.Open(ctx, path)
}

// openSession loads the sources, opens the partition and replays the
// overrides saved in the state database.
func openSession(ctx context.Context) (*session, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	if settings.Partition == "" {
		return nil, fmt.Errorf("no partition given: use --partition or %s", config.EnvPartition)
	}

	tel, err := telemetry.NewTelemetry(settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	s := &session{settings: settings, tel: tel, sources: sourcePaths(settings)}
	if len(s.sources) == 0 {
		s.Close(ctx)
		return nil, fmt.Errorf("no configuration sources: use --data or sources.files")
	}

	s.loader = config.NewLoader(tel.Logger.NewComponentLogger("loader").Zerolog(), map[string]interface{}{
		"partition": settings.Partition,
	})
	doc, err := s.loader.LoadSources(ctx, s.sources)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.db = confdb.New(confdb.WithLogger(tel.Logger.NewComponentLogger("confdb").Zerolog()))
	if err := s.db.Load(doc); err != nil {
		s.Close(ctx)
		return nil, err
	}

	opts := engine.Options{
		FuseLimit:     settings.Limits.FuseDepth,
		MaxIterations: settings.Limits.MaxIterations,
		Parallelism:   settings.Limits.Parallelism,
		Telemetry:     tel,
	}
	if h := settings.Hostname; h != "" {
		opts.Hostname = func() (string, error) { return h, nil }
	}
	s.engine, err = engine.Open(s.db, settings.Partition, opts)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}

	state, err := openState(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("State database unavailable, overrides are not applied")
		return s, nil
	}
	s.state = state
	if err := s.applyOverrides(ctx); err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *session) applyOverrides(ctx context.Context) error {
	overrides, err := s.state.Overrides(ctx, s.settings.Partition)
	if err != nil {
		return err
	}
	disabledIDs, enabledIDs := stores.SplitOverrides(overrides)
	if len(disabledIDs) > 0 {
		s.engine.SetUserDisabled(ctx, disabledIDs)
	}
	if len(enabledIDs) > 0 {
		s.engine.SetUserEnabled(ctx, enabledIDs)
	}
	log.Debug().
		Strs("disabled", disabledIDs).
		Strs("enabled", enabledIDs).
		Msg("Overrides applied")
	return nil
}

// Close releases the engine, the state database and the telemetry exporters.
func (s *session) Close(ctx context.Context) {
	if s.engine != nil {
		s.engine.Close()
	}
	if s.state != nil {
		_ = s.state.Close()
	}
	if s.tel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.tel.Shutdown(shutdownCtx); err != nil {
			log.Debug().Err(err).Msg("Telemetry shutdown failed")
		}
	}
}

// withSession runs fn with a session opened for the command.
func withSession(ctx context.Context, fn func(*session) error) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	return fn(s)
}
