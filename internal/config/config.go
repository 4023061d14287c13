// Package config provides configuration parsing and validation for confirmd.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config represents the complete receiver configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Receiver ReceiverConfig `yaml:"receiver"`
	Health   HealthConfig   `yaml:"health"`
	Probe    ProbeConfig    `yaml:"probe"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ReceiverConfig defines the UDP ports and socket settings.
type ReceiverConfig struct {
	BindAddress      string        `yaml:"bind_address"`       // empty = all interfaces
	Ports            []int         `yaml:"ports"`              // ports to listen on
	BufferSize       string        `yaml:"buffer_size"`        // e.g. "64KiB"
	SkipInUse        bool          `yaml:"skip_in_use"`        // warn instead of failing on a busy port
	ErrorLogInterval time.Duration `yaml:"error_log_interval"` // throttle for error diagnostics
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ProbeConfig defines defaults for the probe client.
type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// maxBufferSize caps the receive buffer; no UDP payload is larger.
const maxBufferSize = 64 * 1024

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Receiver: ReceiverConfig{
			BindAddress:      "",
			Ports:            []int{},
			BufferSize:       "64KiB",
			SkipInUse:        false,
			ErrorLogInterval: 10 * time.Second,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Probe: ProbeConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default when VAR is unset; unknown
// references are left as they are.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if c.Receiver.BindAddress != "" {
		if _, err := netip.ParseAddr(c.Receiver.BindAddress); err != nil {
			errs = append(errs, fmt.Sprintf("receiver.bind_address: invalid IP address: %s", c.Receiver.BindAddress))
		}
	}

	seen := make(map[int]bool, len(c.Receiver.Ports))
	for i, port := range c.Receiver.Ports {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("receiver.ports[%d]: %d is out of range 1-65535", i, port))
			continue
		}
		if seen[port] {
			errs = append(errs, fmt.Sprintf("receiver.ports[%d]: duplicate port %d", i, port))
		}
		seen[port] = true
	}

	if _, err := c.Receiver.BufferBytes(); err != nil {
		errs = append(errs, fmt.Sprintf("receiver.buffer_size: %v", err))
	}
	if c.Receiver.ErrorLogInterval < 0 {
		errs = append(errs, "receiver.error_log_interval must not be negative")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if c.Probe.Timeout <= 0 {
		errs = append(errs, "probe.timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// BufferBytes parses BufferSize, accepting plain numbers and units such as
// 1500B, 32KB or 64KiB.
func (r ReceiverConfig) BufferBytes() (int, error) {
	s := strings.TrimSpace(r.BufferSize)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size format '%s': %w", s, err)
	}
	if n < 1 || n > maxBufferSize {
		return 0, fmt.Errorf("%s is out of range 1B-%s", s, humanize.IBytes(maxBufferSize))
	}

	return int(n), nil
}

// ListenPorts returns the configured ports as uint16 values.
// Call it on a validated config.
func (r ReceiverConfig) ListenPorts() []uint16 {
	ports := make([]uint16, 0, len(r.Ports))
	for _, p := range r.Ports {
		ports = append(ports, uint16(p))
	}
	return ports
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// String returns a string representation of the config (for debugging).
func (c *Config) String() string {
	data, _ := c.Marshal()
	return string(data)
}
