package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netinventory/internal/status"
)

var outputJSON bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <output-dir>",
	Short: "Show the status of a scan",
	Long:  `Read the status file of a scan from its output directory and print it.`,
	Example: `  netinventory status ./out
  netinventory status ./out --json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

// resultsCmd represents the results command
var resultsCmd = &cobra.Command{
	Use:   "results <output-dir>",
	Short: "Show the host inventory of a completed scan",
	Long: `Read the results file of a completed scan from its output directory and
print one row per host.`,
	Example: `  netinventory results ./out
  netinventory results ./out --json`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultsCmd)

	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "print the raw status document")
	resultsCmd.Flags().BoolVar(&outputJSON, "json", false, "print the raw results document")
}

func storeFor(dir string) (*status.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return status.NewFileStore(dir, cfg.Output.StatusFile, cfg.Output.ResultsFile), nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := storeFor(args[0])
	if err != nil {
		return err
	}
	st, err := store.ReadStatus()
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(cmd, st)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Field", "Value")
	rows := [][]string{
		{"Scan ID", st.ScanID},
		{"State", describeState(st)},
		{"Profile", st.ScanType},
		{"Targets", strings.Join(st.Targets, ", ")},
		{"Message", st.Message},
		{"Started", formatTime(st.StartTime)},
		{"Finished", formatTime(st.EndTime)},
	}
	if st.HostCount != nil {
		rows = append(rows, []string{"Hosts", strconv.Itoa(*st.HostCount)})
	}
	for _, row := range rows {
		_ = table.Append(row)
	}
	return table.Render()
}

func runResults(cmd *cobra.Command, args []string) error {
	store, err := storeFor(args[0])
	if err != nil {
		return err
	}
	hosts, err := store.ReadResults()
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(cmd, hosts)
	}

	if len(hosts) == 0 {
		writeLine(cmd.OutOrStdout(), "No hosts in results.")
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Address", "Status", "Device", "Hostname", "MAC", "Vendor", "Open Ports", "OS")
	for _, h := range hosts {
		osGuess := h.OSGuess
		if h.Failed() {
			osGuess = "error: " + h.ProbeError
		}
		_ = table.Append([]string{
			h.Address,
			h.Status(),
			string(h.DeviceType),
			h.Hostname,
			h.MACAddress,
			h.Vendor,
			formatPorts(h.OpenPorts),
			osGuess,
		})
	}
	return table.Render()
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	writeLine(cmd.OutOrStdout(), "%s", data)
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
