// ABOUTME: Configuration loading and parsing for the coven-acp bridge.
// ABOUTME: TOML config with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the complete bridge configuration.
type Config struct {
	Matrix   MatrixConfig   `toml:"matrix"`
	Agents   AgentsConfig   `toml:"agents"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
}

// MatrixConfig holds Matrix homeserver and access control configuration.
type MatrixConfig struct {
	Homeserver   string   `toml:"homeserver"`
	Username     string   `toml:"username"`
	Password     string   `toml:"password"`
	RecoveryKey  string   `toml:"recovery_key"`
	AllowedUsers []string `toml:"allowed_users"`
	AllowedRooms []string `toml:"allowed_rooms"`
}

// AgentsConfig holds agent subprocess launch configuration.
type AgentsConfig struct {
	// Command is the argv prefix agents are launched with.
	Command []string `toml:"command"`

	// DefinitionsPath points at the YAML agent-definitions file.
	DefinitionsPath string `toml:"definitions_path"`

	// DefaultAgent is started at boot and launched without an --agent flag.
	DefaultAgent string `toml:"default_agent"`

	// DefaultDir is the working directory for agents without one of their own.
	DefaultDir string `toml:"default_dir"`

	// PassAgentFlag adds "--agent <name>" for non-default agents.
	PassAgentFlag bool `toml:"pass_agent_flag"`

	RequestTimeout time.Duration `toml:"-"`

	// Raw string value for TOML unmarshaling
	RequestTimeoutRaw string `toml:"request_timeout"`
}

// BridgeConfig holds frontend behavior configuration.
type BridgeConfig struct {
	CommandPrefix   string `toml:"command_prefix"`
	TypingIndicator bool   `toml:"typing_indicator"`
	StatePath       string `toml:"state_path"`
}

// DatabaseConfig holds the conversation ledger location.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.Username == "" {
		return fmt.Errorf("matrix.username is required")
	}
	if c.Matrix.Password == "" {
		return fmt.Errorf("matrix.password is required")
	}
	if len(c.Agents.Command) == 0 {
		return fmt.Errorf("agents.command is required")
	}
	if c.Agents.DefaultAgent == "" {
		return fmt.Errorf("agents.default_agent is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.RequestTimeoutRaw != "" {
		cfg.Agents.RequestTimeout, err = time.ParseDuration(cfg.Agents.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Agents.RequestTimeoutRaw, err)
		}
	}

	return nil
}
