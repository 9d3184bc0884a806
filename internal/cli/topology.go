package cli

import (
	"fmt"

	"github.com/picklr-io/converge/internal/ir"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Print the resources a run converges",
	Long:  `Prints the topology built from the current settings as YAML. Secrets are masked.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(ir.DefaultTopology(cfg.Params()).Redacted())
		if err != nil {
			return fmt.Errorf("failed to encode topology: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
