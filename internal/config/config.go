// Package config provides loading of the middleware service configuration
// from an optional YAML file, a local .env file and the environment.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultListenAddr is used when neither file nor environment set a port.
const DefaultListenAddr = ":3000"

// GitLab holds tracker connection settings shared by every channel.
type GitLab struct {
	// BaseURL points at the API root; empty means gitlab.com.
	BaseURL string `yaml:"base_url"`
	// Auth selects how stored credentials are sent: "private-token"
	// (default) or "oauth" for bearer tokens.
	Auth string `yaml:"auth"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url"`
	GitLab      GitLab `yaml:"gitlab"`
}

// Load reads the configuration file (skipped when missing), overlays
// environment variables and applies defaults. A .env file in the working
// directory is loaded first, if present.
func Load(filename string) (*Config, error) {
	// Missing .env is fine; it only exists in local setups.
	_ = godotenv.Load()

	var config Config
	data, err := os.ReadFile(filename) //nolint:gosec // Config filename is from command-line flag
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// File is optional; environment alone can configure the service.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&config)
	applyDefaults(&config)

	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is not configured (set database_url or DATABASE_URL)")
	}
	if config.GitLab.Auth != "private-token" && config.GitLab.Auth != "oauth" {
		return nil, fmt.Errorf("invalid gitlab auth scheme %q (want private-token or oauth)", config.GitLab.Auth)
	}

	return &config, nil
}

func applyEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		config.ListenAddr = ":" + port
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.DatabaseURL = dbURL
	}
	if baseURL := os.Getenv("GITLAB_BASE_URL"); baseURL != "" {
		config.GitLab.BaseURL = baseURL
	}
	if auth := os.Getenv("GITLAB_AUTH"); auth != "" {
		config.GitLab.Auth = auth
	}
}

func applyDefaults(config *Config) {
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.GitLab.Auth == "" {
		config.GitLab.Auth = "private-token"
	}
}
