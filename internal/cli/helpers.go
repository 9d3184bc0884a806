package cli

import (
	"context"
	"fmt"

	"github.com/picklr-io/converge/internal/config"
	"github.com/picklr-io/converge/internal/configure"
	"github.com/picklr-io/converge/internal/directory"
	"github.com/picklr-io/converge/internal/engine"
	"github.com/picklr-io/converge/internal/lock"
	"github.com/picklr-io/converge/internal/logging"
	"github.com/picklr-io/converge/internal/provider"
	"github.com/spf13/cobra"
)

// loadConfig reads settings, applies the command's flag overrides and
// initializes logging at the resulting level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.ResolveEnvFile(envFile))
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("provider") {
		if cfg.Provider, err = flags.GetString("provider"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("parallelism") {
		if cfg.Parallelism, err = flags.GetInt("parallelism"); err != nil {
			return nil, err
		}
	}

	logging.Init(cfg.LogLevel)
	return cfg, nil
}

// loadDirectory loads the configured provider and returns its directory.
func loadDirectory(ctx context.Context, cfg *config.Config) (directory.Directory, error) {
	registry := provider.NewRegistry()
	if err := registry.LoadProvider(ctx, cfg.Provider, provider.Options{
		Region:    cfg.Region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	}); err != nil {
		return nil, fmt.Errorf("failed to load provider %s: %w", cfg.Provider, err)
	}
	return registry.Get(cfg.Provider)
}

func newEngine(cfg *config.Config, dir directory.Directory, skipConfigure bool) *engine.Engine {
	eng := engine.NewEngine(dir, engine.Options{
		Parallelism:       cfg.Parallelism,
		LaunchTimeout:     cfg.LaunchTimeout,
		ReadinessTimeout:  cfg.ReadinessTimeout,
		StoppedInstances:  cfg.StoppedPolicy(),
		SkipConfiguration: skipConfigure,
	})
	eng.Runner = &configure.Ansible{
		Binary: cfg.AnsibleBinary,
		User:   cfg.SSHUser,
		Dir:    cfg.PlaybookDir,
	}
	return eng
}

// releaseLock releases l, logging rather than returning a failure so that
// it never masks the run's own error.
func releaseLock(l *lock.Lock) {
	if err := l.Release(); err != nil {
		logging.Warn("failed to release run lock", "path", l.Path(), "error", err)
	}
}

// logStage reports stage progress through the global logger.
func logStage(event engine.StageEvent) {
	switch event.Status {
	case engine.StatusStarted:
		logging.Info("stage started", "stage", event.Stage)
	case engine.StatusCompleted:
		logging.Info("stage completed", "stage", event.Stage, "duration", event.Duration)
	case engine.StatusFailed:
		// the cause is logged once by the caller
		logging.Debug("stage failed", "stage", event.Stage, "duration", event.Duration)
	}
}
