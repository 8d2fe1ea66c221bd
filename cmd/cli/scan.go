package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/netinventory/internal/config"
	"github.com/anstrom/netinventory/internal/inventory"
	"github.com/anstrom/netinventory/internal/logging"
	"github.com/anstrom/netinventory/internal/metrics"
	"github.com/anstrom/netinventory/internal/probe"
	"github.com/anstrom/netinventory/internal/scanning"
	"github.com/anstrom/netinventory/internal/status"
	"github.com/anstrom/netinventory/internal/workers"
)

// newEngine builds the probe engine for a scan. Tests replace it.
var newEngine = func(cfg *config.Config, logger *logging.Logger) probe.Engine {
	opts := []probe.EngineOption{
		probe.WithDiscoveryTimeout(cfg.Scanning.DiscoveryTimeout),
		probe.WithHostTimeout(cfg.Scanning.HostTimeout),
		probe.WithLogger(logger),
	}
	if cfg.Scanning.Enrich {
		opts = append(opts, probe.WithEnrichers(
			probe.NewDNSResolver(cfg.Scanning.DNSServer, cfg.Scanning.SNMPTimeout),
			probe.NewSNMPProber(cfg.Scanning.SNMPCommunity, cfg.Scanning.SNMPTimeout),
		))
	}
	return probe.NewNmapEngine(opts...)
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <targets> <profile> <output-dir>",
	Short: "Discover and characterize hosts on the network",
	Long: `Sweep the targets for live hosts and characterize them according to the
profile. Targets are a comma separated list of IPv4 addresses and CIDR ranges.

Profiles:
  quick          host discovery only
  full           discovery, then services, OS and device type per host
  port           discovery, then the most common ports per host
  os             accepted, completes with no results
  vulnerability  accepted, completes with no results

The status file in <output-dir> is rewritten at every step. The results file
is written once the scan completes. Run 'netinventory cancel <output-dir>'
from another shell to stop a running scan.`,
	Example: `  netinventory scan 192.168.1.0/24 quick ./out
  netinventory scan "10.0.0.1,10.0.1.0/28" full /var/lib/netinventory/run1
  netinventory scan 172.16.5.10 port ./out`,
	Args: cobra.ExactArgs(3),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	req, err := scanning.NewScanRequest(args[0], args[1], args[2])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.Default()
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewPrometheusMetrics()
	}

	pool := workers.DefaultConfig()
	pool.Size = cfg.Scanning.WorkerPoolSize
	pool.RateLimit = cfg.Scanning.RateLimit
	pool.MaxRetries = cfg.Scanning.MaxRetries
	pool.RetryDelay = cfg.Scanning.RetryDelay

	orch := scanning.New(newEngine(cfg, logger),
		scanning.WithPoolConfig(pool),
		scanning.WithArtifactNames(cfg.Output.StatusFile, cfg.Output.ResultsFile, cfg.Output.CancelFile),
		scanning.WithLogger(logger),
		scanning.WithMetrics(m))

	outcome, runErr := orch.Run(cmd.Context(), req)

	if path := cfg.MetricsPath(req.OutputDir); path != "" && m != nil {
		if err := m.WriteTextfile(path); err != nil {
			logger.Warn("Failed to write metrics textfile", "path", path, "error", err)
		}
	}

	if outcome.ScanID != "" {
		printOutcome(cmd, req, outcome)
	}
	return runErr
}

func printOutcome(cmd *cobra.Command, req scanning.ScanRequest, outcome scanning.Outcome) {
	out := cmd.OutOrStdout()
	writeLine(out, "Scan %s %s", outcome.ScanID, outcome.State)
	writeLine(out, "  Profile:  %s", req.Profile)
	writeLine(out, "  Targets:  %d", len(req.Targets))
	writeLine(out, "  Message:  %s", outcome.Status.Message)

	if start, end := outcome.Status.StartTime, outcome.Status.EndTime; start != nil && end != nil {
		writeLine(out, "  Duration: %s", end.Sub(*start).Round(time.Millisecond))
	}

	switch outcome.State {
	case status.StateCompleted:
		writeLine(out, "  Hosts:    %d", len(outcome.Hosts))
		writeLine(out, "  Online:   %d", countStatus(outcome.Hosts, inventory.StatusOnline))
		if failed := countStatus(outcome.Hosts, inventory.StatusError); failed > 0 {
			writeLine(out, "  Errors:   %d", failed)
		}
	case status.StateCancelled:
		writeLine(out, "  No results were written.")
	}
}

func countStatus(hosts []inventory.HostFacts, s string) int {
	n := 0
	for _, h := range hosts {
		if h.Status() == s {
			n++
		}
	}
	return n
}

// describeState renders a state for tables and summaries.
func describeState(st status.ScanStatus) string {
	if st.State == status.StateRunning {
		return fmt.Sprintf("%s (%d%%)", st.State, st.Progress)
	}
	return string(st.State)
}
