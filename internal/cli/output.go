package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	outputJSON bool
)

var outputCmd = &cobra.Command{
	Use:   "output <report> [name]",
	Short: "Show values from an apply report",
	Long: `Reads the report written by "apply --report".

If no name is given, all values are displayed. If a name is given,
only that value is printed, e.g. "instance.drive.address".`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runOutput,
}

func init() {
	outputCmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
}

func runOutput(cmd *cobra.Command, args []string) error {
	r, err := readReport(args[0])
	if err != nil {
		return err
	}
	values := r.values()
	out := cmd.OutOrStdout()

	if len(args) > 1 {
		// Show a single value
		name := args[1]
		val, ok := values[name]
		if !ok {
			return fmt.Errorf("output %q not found", name)
		}
		if outputJSON {
			data, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("failed to encode output: %w", err)
			}
			fmt.Fprintln(out, string(data))
		} else {
			fmt.Fprintln(out, val)
		}
		return nil
	}

	if len(values) == 0 {
		fmt.Fprintln(out, "No outputs recorded.")
		return nil
	}

	if outputJSON {
		data, err := json.MarshalIndent(values, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode outputs: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	for _, k := range sortedKeys(values) {
		fmt.Fprintf(out, "%s = %s\n", k, values[k])
	}
	return nil
}
