// Package cli provides the command-line interface for netinventory.
// This package implements the Cobra-based CLI structure with commands for
// running scans and inspecting or cancelling them through their output
// directory.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/netinventory/internal/config"
	"github.com/anstrom/netinventory/internal/errors"
	"github.com/anstrom/netinventory/internal/logging"
)

const envPrefix = "NETINVENTORY"

var (
	cfgFile string
	envFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netinventory",
	Short: "Network asset discovery and inventory",
	Long: `netinventory sweeps IPv4 targets for live hosts, characterizes each one
with nmap and infers its role on the network. Progress is written to a status
file in the output directory, the inventory to a results file once the scan
completes. Creating a cancel marker in the same directory stops the scan.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Run executes the root command with args and returns the process exit
// code. This is called by main.main(). Errors are printed to the command's
// error stream.
func Run(ctx context.Context, args []string) int {
	rootCmd.SetArgs(args)
	// cobra only hands the context to subcommands that have none yet, so an
	// earlier Run would otherwise pin its context on them.
	setContext(ctx, rootCmd)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

func setContext(ctx context.Context, cmd *cobra.Command) {
	cmd.SetContext(ctx)
	for _, sub := range cmd.Commands() {
		setContext(ctx, sub)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with NETINVENTORY_* settings (default is ./.env if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Bind flags to viper
	bindFlags(rootCmd.PersistentFlags(), "verbose")
}

// bindFlags binds the named flags of fs to viper keys of the same name.
func bindFlags(fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, fs.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Variables already set in the environment win over the dotenv file.
	loadEnvFile()

	// Read in environment variables that match, e.g.
	// NETINVENTORY_SCANNING_WORKER_POOL_SIZE
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setConfigDefaults(config.Default())

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	// Initialize structured logging after config is loaded
	initLogging()
}

func loadEnvFile() {
	if envFile == "" {
		_ = godotenv.Load()
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load env file %s: %v\n", envFile, err)
	}
}

// setConfigDefaults registers every configuration key with viper so that
// environment overrides apply even when no config file sets the key.
func setConfigDefaults(d *config.Config) {
	// Scanning configuration
	viper.SetDefault("scanning.worker_pool_size", d.Scanning.WorkerPoolSize)
	viper.SetDefault("scanning.rate_limit", d.Scanning.RateLimit)
	viper.SetDefault("scanning.max_retries", d.Scanning.MaxRetries)
	viper.SetDefault("scanning.retry_delay", d.Scanning.RetryDelay)
	viper.SetDefault("scanning.discovery_timeout", d.Scanning.DiscoveryTimeout)
	viper.SetDefault("scanning.host_timeout", d.Scanning.HostTimeout)
	viper.SetDefault("scanning.enrich", d.Scanning.Enrich)
	viper.SetDefault("scanning.dns_server", d.Scanning.DNSServer)
	viper.SetDefault("scanning.snmp_community", d.Scanning.SNMPCommunity)
	viper.SetDefault("scanning.snmp_timeout", d.Scanning.SNMPTimeout)

	// Output artifacts
	viper.SetDefault("output.status_file", d.Output.StatusFile)
	viper.SetDefault("output.results_file", d.Output.ResultsFile)
	viper.SetDefault("output.cancel_file", d.Output.CancelFile)

	// Logging configuration
	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
	viper.SetDefault("logging.output", d.Logging.Output)
	viper.SetDefault("logging.add_source", d.Logging.AddSource)

	// Metrics configuration
	viper.SetDefault("metrics.enabled", d.Metrics.Enabled)
	viper.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

// loadConfig builds the effective configuration from defaults, the config
// file and the environment, and validates it.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to decode configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		// Invalid configuration is reported by the command itself.
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.LogConfig()
	if verbose {
		logConfig.Level = logging.LevelDebug
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		// Fall back to default if creation fails
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}

// writeLine prints to w, ignoring write errors on the terminal.
func writeLine(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}
