// Package config loads and validates netinventory configuration. Settings come
// from a YAML file with defaults for everything; the CLI overlays environment
// variables and flags on top through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netinventory/internal/errors"
	"github.com/anstrom/netinventory/internal/logging"
)

// Config represents the complete scanner configuration
type Config struct {
	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning" mapstructure:"scanning"`

	// Output artifact names
	Output OutputConfig `yaml:"output" json:"output" mapstructure:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging" mapstructure:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
}

// ScanningConfig holds probe and concurrency settings
type ScanningConfig struct {
	// Number of concurrent workers for the full profile
	WorkerPoolSize int `yaml:"worker_pool_size" json:"worker_pool_size" mapstructure:"worker_pool_size" validate:"min=1,max=256"`

	// Maximum per-host probes started per second (0 = unlimited)
	RateLimit int `yaml:"rate_limit" json:"rate_limit" mapstructure:"rate_limit" validate:"min=0,max=10000"`

	// Retries of a failed host characterization in the full profile
	MaxRetries int `yaml:"max_retries" json:"max_retries" mapstructure:"max_retries" validate:"min=0,max=10"`

	// Delay between retries of a failed host characterization
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" mapstructure:"retry_delay" validate:"min=0"`

	// Per-host timeout passed to the discovery sweep
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" json:"discovery_timeout" mapstructure:"discovery_timeout" validate:"min=0"`

	// Upper bound for a single host characterization
	HostTimeout time.Duration `yaml:"host_timeout" json:"host_timeout" mapstructure:"host_timeout" validate:"min=0"`

	// Best effort DNS and SNMP enrichment in the full profile. SNMP sysDescr
	// fills a missing OS guess, so enabling it can change the device type.
	Enrich bool `yaml:"enrich" json:"enrich" mapstructure:"enrich"`

	// DNS server used for reverse lookups (host:port); empty uses resolv.conf
	DNSServer string `yaml:"dns_server" json:"dns_server" mapstructure:"dns_server" validate:"omitempty,hostname_port"`

	// SNMP community for sysDescr reads
	SNMPCommunity string `yaml:"snmp_community" json:"snmp_community" mapstructure:"snmp_community" validate:"max=64"`

	// SNMP request timeout
	SNMPTimeout time.Duration `yaml:"snmp_timeout" json:"snmp_timeout" mapstructure:"snmp_timeout" validate:"min=0"`
}

// OutputConfig holds artifact file names inside the output directory
type OutputConfig struct {
	StatusFile  string `yaml:"status_file" json:"status_file" mapstructure:"status_file" validate:"required,excludesall=/"`
	ResultsFile string `yaml:"results_file" json:"results_file" mapstructure:"results_file" validate:"required,excludesall=/"`
	CancelFile  string `yaml:"cancel_file" json:"cancel_file" mapstructure:"cancel_file" validate:"required,excludesall=/"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" mapstructure:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" mapstructure:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output" mapstructure:"output" validate:"required,max=255"`

	// Include source locations
	AddSource bool `yaml:"add_source" json:"add_source" mapstructure:"add_source"`
}

// MetricsConfig holds Prometheus textfile export settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`

	// Path of the textfile; relative paths are resolved against the output directory
	Textfile string `yaml:"textfile" json:"textfile" mapstructure:"textfile" validate:"required_if=Enabled true"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			WorkerPoolSize:   10,
			RateLimit:        0,
			MaxRetries:       0,
			RetryDelay:       time.Second,
			DiscoveryTimeout: 30 * time.Second,
			HostTimeout:      10 * time.Minute,
			Enrich:           false,
			DNSServer:        "",
			SNMPCommunity:    "public",
			SNMPTimeout:      2 * time.Second,
		},
		Output: OutputConfig{
			StatusFile:  "status.json",
			ResultsFile: "results.json",
			CancelFile:  "cancel",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Textfile: "metrics.prom",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of JSON, so one decoder serves both extensions.
	if err := yaml.Unmarshal(data, config); err != nil {
		format := "YAML"
		if strings.EqualFold(filepath.Ext(path), ".json") {
			format = "JSON"
		}
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse %s config", format), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New()

// Validate validates the configuration. The first failing field is reported
// as a ConfigError carrying the YAML path of the field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.WrapConfigError(errors.CodeValidation, "configuration validation failed", err)
	}

	fe := fieldErrs[0]
	cfgErr := errors.ErrConfigInvalid(yamlPath(fe.Namespace()), fe.Value())
	cfgErr.Message = fmt.Sprintf("Invalid configuration value (failed %q)", fe.Tag())
	cfgErr.Cause = err
	return cfgErr
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors) //nolint:errorlint // validator returns the concrete type
	if ok {
		*target = ve
	}
	return ok
}

// yamlPath turns a validator namespace such as Config.Scanning.WorkerPoolSize
// into scanning.worker_pool_size.
func yamlPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			prevLower := i > 0 && runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			prevUpper := i > 0 && runes[i-1] >= 'A' && runes[i-1] <= 'Z'
			if i > 0 && (prevLower || (prevUpper && nextLower)) {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LogConfig converts the logging section for the logging package.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:     logging.LogLevel(c.Logging.Level),
		Format:    logging.LogFormat(c.Logging.Format),
		Output:    c.Logging.Output,
		AddSource: c.Logging.AddSource,
	}
}

// MetricsPath returns the textfile path for a scan writing to outputDir, or
// "" when metrics export is disabled.
func (c *Config) MetricsPath(outputDir string) string {
	if !c.Metrics.Enabled || c.Metrics.Textfile == "" {
		return ""
	}
	if filepath.IsAbs(c.Metrics.Textfile) {
		return c.Metrics.Textfile
	}
	return filepath.Join(outputDir, c.Metrics.Textfile)
}
