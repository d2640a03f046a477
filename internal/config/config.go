// ABOUTME: Configuration loading and parsing for forge
// ABOUTME: Supports YAML files with environment variable expansion

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete forge configuration
type Config struct {
	Database Database `yaml:"database"`
	Logging  Logging  `yaml:"logging"`
	Model    Model    `yaml:"model"`
	Tools    Tools    `yaml:"tools"`
	Discord  Discord  `yaml:"discord"`
	Context  Context  `yaml:"context"`
}

// Database holds storage configuration
type Database struct {
	Path string `yaml:"path"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Model holds model provider configuration
type Model struct {
	Provider  string `yaml:"provider"` // currently only "anthropic"
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
	System    string `yaml:"system"`
}

// Tools holds tool policy configuration
type Tools struct {
	// PreApproved tool names run without asking the approver
	PreApproved []string `yaml:"pre_approved"`
}

// Discord holds Discord frontend configuration
type Discord struct {
	Enabled         bool     `yaml:"enabled"`
	Token           string   `yaml:"token"`
	AllowedChannels []string `yaml:"allowed_channels"`
}

// Context holds conversation context configuration
type Context struct {
	// Window is the number of recent context messages sent to the model
	Window int `yaml:"window"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "anthropic"
	}
	if c.Context.Window <= 0 {
		c.Context.Window = 100
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Model.Provider != "anthropic" {
		return fmt.Errorf("model.provider %q is not supported", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required when discord is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not valid", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not valid", c.Logging.Format)
	}

	return nil
}
