package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netinventory/internal/config"
)

var configForce bool

// configCmd groups the configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage netinventory configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with the default settings",
	Example: `  netinventory config init
  netinventory config init /etc/netinventory/config.yaml --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and NETINVENTORY_*
environment variables have been applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configValidateCmd, configShowCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

// getConfigFilePath returns the config file in use, or the default name.
func getConfigFilePath() string {
	if path := viper.ConfigFileUsed(); path != "" {
		return path
	}
	return "config.yaml"
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return getConfigFilePath()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := pathArg(args)
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	writeLine(cmd.OutOrStdout(), "Wrote default configuration to %s", path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := pathArg(args)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s not found", path)
	}
	if _, err := config.Load(path); err != nil {
		return err
	}
	writeLine(cmd.OutOrStdout(), "%s is valid", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
