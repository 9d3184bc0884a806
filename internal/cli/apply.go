package cli

import (
	"fmt"

	"github.com/picklr-io/converge/internal/ir"
	"github.com/picklr-io/converge/internal/lock"
	"github.com/picklr-io/converge/internal/logging"
	"github.com/picklr-io/converge/internal/provider"
	"github.com/picklr-io/converge/internal/reconcile"
	"github.com/spf13/cobra"
)

var (
	applySkipConfigure bool
	applyReport        string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Converge the deployment",
	Long: `Discovers the keypair, security groups, instances and DNS zone, creates
whatever is missing, waits for the configured hosts to accept SSH, runs
their playbooks and upserts the address records.

A successful run prints nothing. Use --log-level info to follow progress.`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().String("provider", "", "Provider to run against: aws or null (overrides CONVERGE_PROVIDER)")
	applyCmd.Flags().Int("parallelism", 0, "Concurrent launches and playbooks (overrides CONVERGE_PARALLELISM)")
	applyCmd.Flags().BoolVar(&applySkipConfigure, "skip-configure", false, "Skip the readiness and configuration stages")
	applyCmd.Flags().StringVar(&applyReport, "report", "", "Write the resolved handles to this file as YAML")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// 1. Load and check settings
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	topo := ir.DefaultTopology(cfg.Params())

	skipConfigure := applySkipConfigure
	if cfg.Provider == provider.Null && !skipConfigure {
		logging.Warn("null provider has no reachable hosts, skipping configuration")
		skipConfigure = true
	}

	// 2. Lock the domain
	l, err := lock.Acquire(cfg.LockDir, cfg.Domain)
	if err != nil {
		return err
	}
	defer releaseLock(l)

	// 3. Converge
	dir, err := loadDirectory(ctx, cfg)
	if err != nil {
		return err
	}
	eng := newEngine(cfg, dir, skipConfigure)

	handles, err := eng.ApplyWithCallback(ctx, topo, logStage)
	if err != nil {
		attrs := []any{"error", err}
		if resp, ok := reconcile.ResponseOf(err); ok {
			attrs = append(attrs, "response", fmt.Sprintf("%+v", resp))
		}
		logging.Error("apply failed", attrs...)
		return fmt.Errorf("apply failed: %w", err)
	}

	// 4. Report
	if applyReport != "" {
		if err := writeReport(applyReport, newReport(cfg, handles)); err != nil {
			return err
		}
	}

	logging.Info("apply complete",
		"instances", len(handles.Instances),
		"configured", len(handles.Configured),
		"records", len(handles.Records),
	)
	return nil
}
