// Package config provides YAML configuration parsing for the itemstore binary.
//
// This package enables running the item store as a standalone server with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	batch_size: 5
//	id_strategy: counter
//
//	failure_rate: 0.2
//	failure_rates:
//	  load: 0.5
//	seed: 42
//
//	latency:
//	  load: 2s
//	  refresh: 1500ms
//	  add: ${ADD_LATENCY:-500ms}
//
//	items:
//	  - id: welcome
//	    title: Welcome
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort        = 8080
	defaultBatchSize   = 5
	defaultFailureRate = 0.2
)

// operations lists the operation names accepted as latency and
// failure_rates keys.
var operations = []string{"load", "refresh", "add", "remove", "update"}

// Config is the root configuration structure for the itemstore binary.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// BatchSize is how many items load and refresh install. Defaults to 5.
	BatchSize int `yaml:"batch_size"`

	// IDStrategy is "counter" (item_1, item_2, ...) or "uuid".
	// Defaults to counter.
	IDStrategy string `yaml:"id_strategy"`

	// Workers is how many operations may run at once. Defaults to 1.
	Workers int `yaml:"workers"`

	// QueueSize is how many operations may wait for a worker. Defaults to 64.
	QueueSize int `yaml:"queue_size"`

	// FailureRate is the probability in [0, 1] that an operation fails.
	// Defaults to 0.2. Set to 0 to disable failures.
	FailureRate *float64 `yaml:"failure_rate"`

	// FailureRates overrides FailureRate for individual operations.
	FailureRates map[string]float64 `yaml:"failure_rates"`

	// Seed makes failure injection reproducible. 0 seeds from the clock.
	Seed int64 `yaml:"seed"`

	// NoLatency disables every simulated delay.
	NoLatency bool `yaml:"no_latency"`

	// Latency overrides the simulated latency of individual operations.
	// Accepts duration strings like "2s", "500ms".
	Latency map[string]Duration `yaml:"latency"`

	// Items is an initial list installed without running a load.
	Items []ItemConfig `yaml:"items"`
}

// ItemConfig defines an item in the initial list.
type ItemConfig struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`

	// Timestamp is in unix milliseconds. 0 means the time the server starts.
	Timestamp int64 `yaml:"timestamp"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Rate returns the effective default failure rate.
func (c *Config) Rate() float64 {
	if c.FailureRate == nil {
		return defaultFailureRate
	}
	return *c.FailureRate
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		varName := submatches[1]
		hasDefault := submatches[2] != ""

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return submatches[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded across the whole document, so any
// scalar may use ${VAR} or ${VAR:-default}. Defaults are applied for Port
// (8080), BatchSize (5) and IDStrategy (counter).
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.IDStrategy == "" {
		cfg.IDStrategy = "counter"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks ranges and cross-field constraints.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size cannot be negative, got %d", c.BatchSize)
	}
	if c.IDStrategy != "counter" && c.IDStrategy != "uuid" {
		return fmt.Errorf("id_strategy must be counter or uuid, got %q", c.IDStrategy)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size cannot be negative, got %d", c.QueueSize)
	}

	if c.FailureRate != nil {
		if err := validateRate("failure_rate", *c.FailureRate); err != nil {
			return err
		}
	}
	for _, op := range sortedKeys(c.FailureRates) {
		if !knownOperation(op) {
			return fmt.Errorf("failure_rates[%s]: unknown operation (expected one of %v)", op, operations)
		}
		if err := validateRate(fmt.Sprintf("failure_rates[%s]", op), c.FailureRates[op]); err != nil {
			return err
		}
	}

	for _, op := range sortedKeys(c.Latency) {
		if !knownOperation(op) {
			return fmt.Errorf("latency[%s]: unknown operation (expected one of %v)", op, operations)
		}
		if d := c.Latency[op].Duration(); d < 0 {
			return fmt.Errorf("latency[%s]: cannot be negative, got %s", op, d)
		}
	}

	seen := make(map[string]int, len(c.Items))
	for i, it := range c.Items {
		if it.ID == "" {
			return fmt.Errorf("items[%d]: id is required", i)
		}
		if first, dup := seen[it.ID]; dup {
			return fmt.Errorf("items[%d] (%s): duplicate id, first defined at items[%d]", i, it.ID, first)
		}
		seen[it.ID] = i
	}

	return nil
}

func validateRate(field string, p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", field, p)
	}
	return nil
}

func knownOperation(op string) bool {
	for _, known := range operations {
		if op == known {
			return true
		}
	}
	return false
}

// sortedKeys returns map keys in order so validation errors are deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
