// Package config loads the immutable run configuration: the remote
// list (whose order is the keep-priority rank), the dedup policy, and
// the pipeline tuning knobs. One Config value is threaded explicitly
// through the collector, planner, and executor; there is no ambient
// mutable state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// Defaults applied when the config file leaves values unset.
const (
	DefaultGatherWorkers   = 4
	DefaultGatherTimeout   = 5 * time.Minute
	DefaultGatherRetries   = 3
	DefaultRetryBackoff    = time.Second
	DefaultPrecheckRetries = 2
)

// RemoteConfig describes one storage backend.
type RemoteConfig struct {
	// ID is the stable remote identifier used everywhere downstream.
	ID string `mapstructure:"id"`

	// Type selects the backend implementation. "localdir" scans a
	// locally-mapped cloud sync folder.
	Type string `mapstructure:"type"`

	// Root is the backend root (a directory for localdir).
	Root string `mapstructure:"root"`

	// Exclude contains glob patterns skipped during listing.
	Exclude []string `mapstructure:"exclude"`
}

// GatherConfig tunes manifest collection.
type GatherConfig struct {
	Workers      int           `mapstructure:"workers"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Scope        string        `mapstructure:"scope"`
}

// ExecuteConfig tunes plan execution.
type ExecuteConfig struct {
	PrecheckRetries int           `mapstructure:"precheck_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// Config is the application configuration. The order of Remotes is
// the priority rank: earlier remotes win keep-selection ties.
type Config struct {
	Remotes       []RemoteConfig `mapstructure:"remotes"`
	Policy        types.Policy   `mapstructure:"policy"`
	HoldingPrefix string         `mapstructure:"holding_prefix"`
	Gather        GatherConfig   `mapstructure:"gather"`
	Execute       ExecuteConfig  `mapstructure:"execute"`
	Logging       LoggingConfig  `mapstructure:"logging"`
}

// RemoteOrder returns the configured remote ids in priority order.
func (c *Config) RemoteOrder() []string {
	order := make([]string, 0, len(c.Remotes))
	for _, r := range c.Remotes {
		order = append(order, r.ID)
	}
	return order
}

// Remote returns the configuration of one remote by id.
func (c *Config) Remote(id string) (RemoteConfig, bool) {
	for _, r := range c.Remotes {
		if r.ID == id {
			return r, true
		}
	}
	return RemoteConfig{}, false
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Remotes))
	for i, r := range c.Remotes {
		if r.ID == "" {
			return fmt.Errorf("remote %d has no id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate remote id: %s", r.ID)
		}
		seen[r.ID] = true

		switch r.Type {
		case "localdir":
			if r.Root == "" {
				return fmt.Errorf("remote %s: localdir requires a root", r.ID)
			}
		default:
			return fmt.Errorf("remote %s: unknown type %q", r.ID, r.Type)
		}
	}

	if rule := string(c.Policy.SelectionRule); strings.HasPrefix(rule, types.KeepRemotePrefix) {
		want := strings.TrimPrefix(rule, types.KeepRemotePrefix)
		if !seen[want] {
			return fmt.Errorf("policy keeps remote %q, which is not configured", want)
		}
	}

	return nil
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/detangle/config.yaml
//   - $HOME/.config/detangle/config.yaml
//
// Environment variables are prefixed with DETANGLE_.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration like Load, but reads the given config
// file instead of searching the standard locations when path is set.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "detangle"))
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", "detangle"))
	}

	v.SetEnvPrefix("DETANGLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is acceptable; we use defaults.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Expand ~ in remote roots.
	for i := range cfg.Remotes {
		if strings.HasPrefix(cfg.Remotes[i].Root, "~") {
			cfg.Remotes[i].Root = filepath.Join(homeDir, cfg.Remotes[i].Root[1:])
		}
	}

	return &cfg, nil
}

// setDefaults registers every default value with viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("policy.selection_rule", string(types.SelectNewest))
	v.SetDefault("policy.mode", string(types.ModeSafe))
	v.SetDefault("holding_prefix", types.DefaultHoldingPrefix)
	v.SetDefault("gather.workers", DefaultGatherWorkers)
	v.SetDefault("gather.timeout", DefaultGatherTimeout)
	v.SetDefault("gather.max_retries", DefaultGatherRetries)
	v.SetDefault("gather.retry_backoff", DefaultRetryBackoff)
	v.SetDefault("execute.precheck_retries", DefaultPrecheckRetries)
	v.SetDefault("execute.retry_backoff", DefaultRetryBackoff)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"collector": "info",
		"index":     "info",
		"planner":   "info",
		"executor":  "info",
		"custody":   "info",
	})
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "detangle"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "detangle"), nil
}

// DataDir returns $XDG_DATA_HOME/detangle/ for the manifest store and
// pipeline artifacts.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "detangle")
}

// StateDir returns $XDG_STATE_HOME/detangle/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "detangle")
}

// ManifestStorePath returns the default manifest store location.
func ManifestStorePath() string {
	return filepath.Join(DataDir(), "manifests")
}

// IndexPath returns the default index artifact location.
func IndexPath() string {
	return filepath.Join(DataDir(), "index.json")
}

// PlanDir returns the default plan artifact directory.
func PlanDir() string {
	return filepath.Join(DataDir(), "plans")
}

// CustodyLogPath returns the default chain-of-custody log location.
func CustodyLogPath() string {
	return filepath.Join(DataDir(), "custody.log")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// WriteDefault writes a default config file if none exists.
// Returns nil if a config file already exists.
func WriteDefault() error {
	configDir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := `# Detangle configuration

# Storage backends, in keep-priority order: when a duplicate group
# ties on the selection rule, the earliest remote here wins.
remotes: []
#  - id: gdrive
#    type: localdir
#    root: ~/Google Drive
#  - id: onedrive
#    type: localdir
#    root: ~/OneDrive
#    exclude:
#      - "*.tmp"

# Dedup policy.
policy:
  # keep-newest, keep-remote:<id>, or manual
  selection_rule: keep-newest
  # safe (move duplicates to a holding area) or destructive (delete)
  mode: safe

# Holding area root within each remote. Listings skip this prefix so
# parked copies never re-enter dedup grouping.
holding_prefix: .detangle/holding

# Manifest collection.
gather:
  workers: 4
  timeout: 5m
  max_retries: 3
  retry_backoff: 1s

# Plan execution.
execute:
  precheck_retries: 2
  retry_backoff: 1s

# Logging configuration.
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means $XDG_STATE_HOME/detangle/detangle.log)
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  # Per-component log levels
  components:
    collector: info
    index: info
    planner: info
    executor: info
    custody: info
`

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}
