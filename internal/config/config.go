package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timfallmk/node-local-monitor/internal/logging"
	"github.com/timfallmk/node-local-monitor/internal/node"
)

const appName = "localmond"

type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	API        APIConfig        `yaml:"api"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// NodeConfig names the directories whose volumes are monitored.
type NodeConfig struct {
	DataDirectory  string `yaml:"data_directory"`
	CacheDirectory string `yaml:"cache_directory"`
}

type MonitorConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout"`
	// MaxStaleness is how old the last successful refresh may get before
	// the node reports unhealthy.
	MaxStaleness time.Duration `yaml:"max_staleness"`
}

type ThresholdsConfig struct {
	MinFreeBytes           uint64  `yaml:"min_free_bytes"`
	MinFreePercentWarning  float64 `yaml:"min_free_percent_warning"`
	MinFreePercentCritical float64 `yaml:"min_free_percent_critical"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type DaemonConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			DataDirectory:  "/var/lib/localmon/data",
			CacheDirectory: "",
		},
		Monitor: MonitorConfig{
			RefreshInterval: 10 * time.Second,
			RefreshTimeout:  5 * time.Second,
			MaxStaleness:    time.Minute,
		},
		Thresholds: ThresholdsConfig{
			MinFreeBytes:           0,
			MinFreePercentWarning:  20.0,
			MinFreePercentCritical: 5.0,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9644",
		},
		Daemon: DaemonConfig{
			Name:        appName,
			Description: "Node local resource monitor",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadConfig reads path, applies environment overrides and validates the
// result. With an empty path the default location is read and a missing
// file yields the defaults; a missing explicit path is an error.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = getDefaultConfigPath()
	}

	config := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) SaveConfig(path string) error {
	if path == "" {
		path = getDefaultConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Node.DataDirectory == "" {
		return fmt.Errorf("node data_directory must be set: %w", node.ErrNoPaths)
	}

	if c.Monitor.RefreshInterval <= 0 {
		return fmt.Errorf("monitor refresh_interval must be positive")
	}

	if c.Monitor.RefreshTimeout <= 0 {
		return fmt.Errorf("monitor refresh_timeout must be positive")
	}

	if c.Monitor.RefreshTimeout > c.Monitor.RefreshInterval {
		return fmt.Errorf("monitor refresh_timeout must not exceed refresh_interval")
	}

	if c.Monitor.MaxStaleness < 0 {
		return fmt.Errorf("monitor max_staleness must not be negative")
	}

	t := c.Thresholds
	if t.MinFreePercentWarning < 0 || t.MinFreePercentWarning > 100 {
		return fmt.Errorf("min_free_percent_warning must be within [0, 100]")
	}

	if t.MinFreePercentCritical < 0 || t.MinFreePercentCritical > 100 {
		return fmt.Errorf("min_free_percent_critical must be within [0, 100]")
	}

	if t.MinFreePercentCritical > t.MinFreePercentWarning {
		return fmt.Errorf("min_free_percent_critical must not exceed min_free_percent_warning")
	}

	if c.API.Enabled {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			return fmt.Errorf("invalid api listen address %q: %w", c.API.Listen, err)
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	validFormats := map[string]bool{
		"":     true,
		"text": true,
		"json": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// MonitoredPaths returns the directories to probe in reporting order: the
// data directory first, then the cache directory when it is set and differs
// from the data directory.
func (c *Config) MonitoredPaths() []string {
	paths := []string{c.Node.DataDirectory}

	cache := c.Node.CacheDirectory
	if cache != "" && filepath.Clean(cache) != filepath.Clean(c.Node.DataDirectory) {
		paths = append(paths, cache)
	}

	return paths
}

// LoggerConfig converts the logging section into a logging.Config.
func (c *Config) LoggerConfig() logging.Config {
	lc := logging.DefaultConfig()

	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		lc.Level = level
	}
	if c.Logging.Format != "" {
		lc.Format = logging.LogFormat(c.Logging.Format)
	}
	if c.Logging.Output != "" {
		lc.Output = c.Logging.Output
	}

	return lc
}

func getDefaultConfigPath() string {
	if configDir := os.Getenv("XDG_CONFIG_HOME"); configDir != "" {
		return filepath.Join(configDir, appName, "config.yaml")
	}

	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".config", appName, "config.yaml")
	}

	return "./config.yaml"
}

func GetConfigPaths() []string {
	var paths []string

	paths = append(paths, getDefaultConfigPath())

	if configDir := os.Getenv("XDG_CONFIG_HOME"); configDir != "" {
		paths = append(paths, filepath.Join(configDir, appName+".yaml"))
	}

	paths = append(paths, "/etc/"+appName+"/config.yaml")
	paths = append(paths, "/usr/local/etc/"+appName+"/config.yaml")
	paths = append(paths, "./configs/config.yaml")

	return paths
}

func FindConfig() (string, error) {
	for _, path := range GetConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err != nil {
				return path, nil // fallback to original path
			}
			return absPath, nil
		}
	}
	return "", fmt.Errorf("no config file found in standard locations")
}
