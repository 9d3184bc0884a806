package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:   "converge",
	Short: "Idempotent provisioning for a small AWS deployment",
	Long: `Converge provisions a fixed deployment on AWS: a root keypair, ssh and web
security groups, two instances, host configuration through Ansible and a
Route53 zone with address records.

Every run discovers what already exists and creates only what is missing,
so it is safe to re-run after a partial failure. Settings come from the
environment and an optional .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command. Cancelling ctx aborts a run
// between stages.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides CONVERGE_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Read settings from this file (default .env when present)")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(topologyCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(versionCmd)
}
