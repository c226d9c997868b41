package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Environment overrides. WARDEN_HOME moves the config directory (and with
// it the lock file, so it is what scopes the singleton guarantee);
// WARDEN_PORT overrides the preferred service port.
const (
	EnvHome = "WARDEN_HOME"
	EnvPort = "WARDEN_PORT"
)

const (
	DefaultPort            = 8765
	DefaultHost            = "127.0.0.1"
	DefaultSessionBasePort = 9222
	DefaultHealthInterval  = 30 * time.Second
)

// Config is the supervisor configuration, persisted as YAML in the config
// directory.
type Config struct {
	Host    string        `yaml:"host" mapstructure:"host"`
	Port    int           `yaml:"port" mapstructure:"port"`
	Browser BrowserConfig `yaml:"browser" mapstructure:"browser"`
	Health  HealthConfig  `yaml:"health" mapstructure:"health"`
}

// BrowserConfig holds settings for the remotely-debuggable browser sessions.
type BrowserConfig struct {
	// Binary overrides browser binary discovery when set.
	Binary string `yaml:"binary,omitempty" mapstructure:"binary"`
	// SessionBasePort is where the per-session debug port pool starts.
	// Kept distinct from the main service port range.
	SessionBasePort int `yaml:"session_base_port" mapstructure:"session_base_port"`
	// ProfileRoot is where per-session isolated profiles live. Defaults to
	// <config-dir>/profiles.
	ProfileRoot string `yaml:"profile_root,omitempty" mapstructure:"profile_root"`
	// AutoLaunchOnIdle launches a default browser session even when no
	// client is connected. Off by default: unattended launches risk
	// uncontrolled process growth, so this is an explicit opt-in.
	AutoLaunchOnIdle bool `yaml:"auto_launch_on_idle" mapstructure:"auto_launch_on_idle"`
}

// HealthConfig controls the monitoring cycle.
type HealthConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" mapstructure:"interval_seconds"`
}

// Interval returns the health-check interval as a duration.
func (h HealthConfig) Interval() time.Duration {
	if h.IntervalSeconds <= 0 {
		return DefaultHealthInterval
	}
	return time.Duration(h.IntervalSeconds) * time.Second
}

// Dir resolves the config directory: WARDEN_HOME when set, otherwise
// .warden under the current working directory.
func Dir() (string, error) {
	if home := os.Getenv(EnvHome); home != "" {
		return home, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return filepath.Join(cwd, ".warden"), nil
}

// Default returns the built-in configuration for a given config dir.
func Default(dir string) *Config {
	return &Config{
		Host: DefaultHost,
		Port: DefaultPort,
		Browser: BrowserConfig{
			SessionBasePort: DefaultSessionBasePort,
			ProfileRoot:     filepath.Join(dir, "profiles"),
		},
		Health: HealthConfig{
			IntervalSeconds: int(DefaultHealthInterval.Seconds()),
		},
	}
}

// Load reads the configuration, creating the directory and a default config
// file on first run. WARDEN_PORT takes precedence over the file value.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom is Load with an explicit config directory.
func LoadFrom(dir string) (*Config, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default(dir)
		if err := Save(dir, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		applyEnv(cfg)
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default(dir)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("WARDEN")
	_ = v.BindEnv("port")
	if port := v.GetInt("port"); port > 0 {
		cfg.Port = port
	}
}

// Save writes the configuration to <dir>/config.yaml with restrictive
// permissions.
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
