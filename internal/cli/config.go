package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigVersion is the current config file version
const ConfigVersion = "1.0"

// APIConfig holds gateway API configuration
type APIConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AdminConfig holds the identity used for admin tokens. The signing secret
// itself lives in the OS keyring, never in this file.
type AdminConfig struct {
	Subject  string `yaml:"subject"`
	LoggedIn bool   `yaml:"logged_in"`
}

// CLIConfig holds the complete CLI configuration
type CLIConfig struct {
	Version string      `yaml:"version"`
	API     APIConfig   `yaml:"api"`
	Admin   AdminConfig `yaml:"admin"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		Version: ConfigVersion,
		API: APIConfig{
			Endpoint: DefaultAPIEndpoint,
			Timeout:  DefaultAPITimeout,
		},
		Admin: AdminConfig{
			Subject: DefaultAdminUser,
		},
	}
}

// ConfigDir returns the configuration directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".keygate")
}

// ConfigPath returns the full path to the config file
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadConfig loads the configuration from disk
func LoadConfig() (*CLIConfig, error) {
	configPath := ConfigPath()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Version == "" {
		config.Version = ConfigVersion
	}
	config.API.Endpoint = strings.TrimRight(config.API.Endpoint, "/")

	return config, nil
}

// Save saves the configuration to disk
func (c *CLIConfig) Save() error {
	if err := os.MkdirAll(ConfigDir(), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
