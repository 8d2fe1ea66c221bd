package cli

import (
	"github.com/spf13/cobra"

	"github.com/anstrom/netinventory/internal/cancel"
)

// cancelCmd represents the cancel command
var cancelCmd = &cobra.Command{
	Use:   "cancel <output-dir>",
	Short: "Request cancellation of a running scan",
	Long: `Create the cancel marker in the output directory of a running scan. The
scan stops at its next checkpoint, records the cancelled state in its status
file and writes no results.`,
	Example: `  netinventory cancel ./out`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, err := cancel.Request(args[0], cfg.Output.CancelFile)
	if err != nil {
		return err
	}
	writeLine(cmd.OutOrStdout(), "Cancellation requested: %s", path)
	return nil
}
