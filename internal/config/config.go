// ABOUTME: Configuration loading and parsing for intake-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete intake-gateway configuration
type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Database DatabaseConfig         `yaml:"database"`
	Auth     AuthConfig             `yaml:"auth"`
	Logging  LoggingConfig          `yaml:"logging"`
	Hub      HubConfig              `yaml:"hub"`
	Agents   map[string]AgentConfig `yaml:"agents"`
	Facility FacilityConfig         `yaml:"facility"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HubConfig holds connection hub timing configuration
type HubConfig struct {
	ProbeInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ProbeIntervalRaw string `yaml:"probe_interval"`
}

// AgentConfig describes one upstream language-model endpoint plus its
// retry budget and optional fallback. Immutable after Load; shared
// read-only by concurrent calls.
type AgentConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
	MaxRetries  int     `yaml:"max_retries"`
	Output      string  `yaml:"output"` // "json" (default) or "text"

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`

	Fallback *FallbackConfig `yaml:"fallback"`
}

// FallbackConfig describes the secondary endpoint tried exactly once
// after the primary's retry budget is exhausted.
type FallbackConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

// FacilityConfig holds facility-lookup (OSM) configuration
type FacilityConfig struct {
	NominatimURL string `yaml:"nominatim_url"`
	OverpassURL  string `yaml:"overpass_url"`
	ContactEmail string `yaml:"contact_email"`
	RadiusMeters int    `yaml:"radius_m"`
	Limit        int    `yaml:"limit"`
	Language     string `yaml:"language"`
}

// Agent names the intake pipeline expects in the agents map.
const (
	AgentIntake   = "intake"
	AgentParser   = "parser"
	AgentDoctor   = "doctor"
	AgentReport   = "report"
	AgentLanguage = "language"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
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

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	required := []string{AgentIntake, AgentParser, AgentDoctor, AgentReport, AgentLanguage}
	for _, name := range required {
		ac, ok := c.Agents[name]
		if !ok {
			return fmt.Errorf("agents.%s is required", name)
		}
		if ac.BaseURL == "" {
			return fmt.Errorf("agents.%s.base_url is required", name)
		}
		if ac.Model == "" {
			return fmt.Errorf("agents.%s.model is required", name)
		}
		if ac.Output != "" && ac.Output != "json" && ac.Output != "text" {
			return fmt.Errorf("agents.%s.output must be \"json\" or \"text\"", name)
		}
		if fb := ac.Fallback; fb != nil && (fb.BaseURL == "" || fb.Model == "") {
			return fmt.Errorf("agents.%s.fallback requires base_url and model", name)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Hub.ProbeIntervalRaw != "" {
		cfg.Hub.ProbeInterval, err = time.ParseDuration(cfg.Hub.ProbeIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing hub.probe_interval %q: %w", cfg.Hub.ProbeIntervalRaw, err)
		}
	}

	for name, ac := range cfg.Agents {
		if ac.TimeoutRaw != "" {
			ac.Timeout, err = time.ParseDuration(ac.TimeoutRaw)
			if err != nil {
				return fmt.Errorf("parsing agents.%s.timeout %q: %w", name, ac.TimeoutRaw, err)
			}
			cfg.Agents[name] = ac
		}
	}

	return nil
}
