// Package config loads the contributor application configuration from a
// yaml file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/zkceremony/contributor/server/api"
	"github.com/zkceremony/contributor/x/artifact"
	"github.com/zkceremony/contributor/x/coordination"
	"github.com/zkceremony/contributor/x/identity"
)

// Config holds the complete application configuration
type Config struct {
	Log          LogConfig          `mapstructure:"log"          yaml:"log"`
	API          api.Config         `mapstructure:"api"          yaml:"api"`
	Coordination CoordinationConfig `mapstructure:"coordination" yaml:"coordination"`
	Storage      artifact.Config    `mapstructure:"storage"      yaml:"storage"`
	Identity     IdentityConfig     `mapstructure:"identity"     yaml:"identity"`
	Ceremony     CeremonyConfig     `mapstructure:"ceremony"     yaml:"ceremony"`
	Metrics      MetricsConfig      `mapstructure:"metrics"      yaml:"metrics"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// CoordinationConfig holds the coordination store endpoints.
type CoordinationConfig struct {
	BaseURL string             `mapstructure:"base_url" yaml:"base_url" env:"COORDINATION_BASE_URL"`
	WSURL   string             `mapstructure:"ws_url"   yaml:"ws_url"   env:"COORDINATION_WS_URL"`
	Terms   coordination.Terms `mapstructure:"terms"    yaml:"terms"`
}

// IdentityConfig holds the identity-provider settings.
type IdentityConfig struct {
	APIBase    string              `mapstructure:"api_base"   yaml:"api_base"`
	StorePath  string              `mapstructure:"store_path" yaml:"store_path"`
	Thresholds identity.Thresholds `mapstructure:"thresholds" yaml:"thresholds"`
}

// CeremonyConfig holds per-deployment ceremony parameters.
type CeremonyConfig struct {
	VerifyURL     string `mapstructure:"verify_contribution_url" yaml:"verify_contribution_url" env:"VERIFY_CONTRIBUTION_URL"`
	BucketPostfix string `mapstructure:"bucket_postfix"          yaml:"bucket_postfix"          env:"BUCKET_POSTFIX"`
	WorkDir       string `mapstructure:"work_dir"                yaml:"work_dir"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvAliases(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvAliases honors the short-form environment names the original
// deployment used.
func applyEnvAliases(cfg *Config) {
	if v, ok := envInt("GITHUB_REPOS"); ok {
		cfg.Identity.Thresholds.MinRepos = v
	}
	if v, ok := envInt("GITHUB_FOLLOWERS"); ok {
		cfg.Identity.Thresholds.MinFollowers = v
	}
	if v, ok := envInt("GITHUB_FOLLOWING"); ok {
		cfg.Identity.Thresholds.MinFollowing = v
	}
	if v := strings.TrimSpace(os.Getenv("VERIFY_CONTRIBUTION_URL")); v != "" {
		cfg.Ceremony.VerifyURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BUCKET_POSTFIX")); v != "" {
		cfg.Ceremony.BucketPostfix = v
	}
}

func envInt(name string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("api.listen_addr", ":8081")
	v.SetDefault("api.read_header_timeout", "5s")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")
	v.SetDefault("api.max_header_bytes", 1048576)

	v.SetDefault("coordination.base_url", "")
	v.SetDefault("coordination.ws_url", "")
	v.SetDefault("coordination.terms.ceremonies", "ceremonies")
	v.SetDefault("coordination.terms.participants", "participants")
	v.SetDefault("coordination.terms.circuits", "circuits")
	v.SetDefault("coordination.terms.contributions", "contributions")
	v.SetDefault("coordination.terms.timeouts", "timeouts")

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.part_size", 50*1024*1024)
	v.SetDefault("storage.concurrency", 4)
	v.SetDefault("storage.force_path_style", false)

	v.SetDefault("identity.api_base", "")
	v.SetDefault("identity.store_path", "")
	v.SetDefault("identity.thresholds.min_repos", 1)
	v.SetDefault("identity.thresholds.min_followers", 5)
	v.SetDefault("identity.thresholds.min_following", 5)

	v.SetDefault("ceremony.verify_contribution_url", "")
	v.SetDefault("ceremony.bucket_postfix", "-ph2-ceremony")
	v.SetDefault("ceremony.work_dir", "")

	v.SetDefault("metrics.enabled", true)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateCoordination(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateIdentity(); err != nil {
		return err
	}
	return nil
}

// validateCoordination checks the terms table only; the base URL is
// required per-command, not for local commands like logout.
func (c *Config) validateCoordination() error {
	if strings.TrimSpace(c.Coordination.Terms.Ceremonies) == "" {
		return fmt.Errorf("coordination.terms.ceremonies must not be empty")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.PartSize < 5*1024*1024 {
		return fmt.Errorf("storage.part_size must be at least 5MiB, got %d", c.Storage.PartSize)
	}
	if c.Storage.Concurrency <= 0 {
		return fmt.Errorf("storage.concurrency must be positive, got %d", c.Storage.Concurrency)
	}
	return nil
}

func (c *Config) validateIdentity() error {
	th := c.Identity.Thresholds
	if th.MinRepos < 0 || th.MinFollowers < 0 || th.MinFollowing < 0 {
		return fmt.Errorf("identity.thresholds must not be negative")
	}
	return nil
}
