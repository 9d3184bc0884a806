package cli

import (
	"fmt"

	"github.com/picklr-io/converge/internal/ir"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate settings and the topology",
	Long: `Loads settings from the environment and .env file, checks them and builds
the topology. Nothing is sent to the cloud.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Validating configuration...")

	fmt.Fprint(out, "Checking settings... ")
	cfg, err := loadConfig(cmd)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintln(out, "OK")

	fmt.Fprint(out, "Checking topology... ")
	if err := ir.DefaultTopology(cfg.Params()).Validate(); err != nil {
		fmt.Fprintln(out, "FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintln(out, "OK")

	fmt.Fprintln(out, "\nConfiguration is valid!")
	return nil
}
