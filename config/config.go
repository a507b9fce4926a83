// Package config loads stixgraph.yaml configuration files.
//
// Load reads the YAML, fills defaults for anything left unset and validates
// the result with struct tags. Durations are Go duration strings ("30s",
// "5m") and are parsed through the Get* accessors.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default values applied by SetDefaults.
const (
	DefaultSpecVersion     = "2.1"
	DefaultExtensionPrefix = "x_opencti_"
	DefaultPolicy          = "skip"
	DefaultConcurrency     = 4
	DefaultTimeout         = 5 * time.Minute
	DefaultStoreDriver     = "sqlite"
	DefaultStoreDSN        = "stixgraph.db"
	DefaultRedisURL        = "redis://localhost:6379"
	DefaultQueueName       = "stixgraph:import"
	DefaultResultsChannel  = "stixgraph:results"
	DefaultShutdownTimeout = 30 * time.Second
)

// FileNames are the names searched for by LoadFromDir, in order.
var FileNames = []string{"stixgraph.yaml", "stixgraph.yml"}

// Config represents a stixgraph.yaml configuration file.
type Config struct {
	// SpecVersion is the STIX version emitted on export: "2.0" or "2.1".
	SpecVersion string `yaml:"spec_version" validate:"oneof=2.0 2.1"`

	// ExtensionPrefix marks attributes with no native STIX slot.
	ExtensionPrefix string `yaml:"extension_prefix" validate:"required,startswith=x_"`

	// UnknownTypePolicy decides what import does with unmapped object types.
	UnknownTypePolicy string `yaml:"unknown_type_policy" validate:"oneof=skip fail"`

	// MappingPolicy decides what export does with entities that fail to map.
	MappingPolicy string `yaml:"mapping_policy" validate:"oneof=skip fail"`

	// Concurrency bounds parallel writes within one import.
	Concurrency int `yaml:"concurrency" validate:"min=1,max=64"`

	// Timeout bounds one import call. Zero disables it.
	Timeout string `yaml:"timeout,omitempty"`

	Export ExportConfig `yaml:"export"`
	Store  StoreConfig  `yaml:"store"`
	Queue  QueueConfig  `yaml:"queue"`
}

// ExportConfig holds exporter settings.
type ExportConfig struct {
	// MaxDepth bounds the full-mode walk. Zero means unbounded.
	MaxDepth int `yaml:"max_depth" validate:"min=0"`
}

// StoreConfig selects the graph store.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite memory"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver sqlite"`
}

// QueueConfig configures the Redis import queue and its workers.
type QueueConfig struct {
	RedisURL       string `yaml:"redis_url" validate:"required,url"`
	Name           string `yaml:"name" validate:"required"`
	ResultsChannel string `yaml:"results_channel" validate:"required"`

	// Workers is the number of concurrent jobs per worker process.
	// Default: 4
	Workers int `yaml:"workers" validate:"min=1"`

	// JobTimeout bounds a single queued import. Empty means Config.Timeout.
	JobTimeout string `yaml:"job_timeout,omitempty"`

	// ShutdownTimeout is the time to wait for running jobs on shutdown.
	// Default: 30s
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields with their default values.
func (c *Config) SetDefaults() {
	if c.SpecVersion == "" {
		c.SpecVersion = DefaultSpecVersion
	}
	if c.ExtensionPrefix == "" {
		c.ExtensionPrefix = DefaultExtensionPrefix
	}
	if c.UnknownTypePolicy == "" {
		c.UnknownTypePolicy = DefaultPolicy
	}
	if c.MappingPolicy == "" {
		c.MappingPolicy = DefaultPolicy
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout == "" {
		c.Timeout = DefaultTimeout.String()
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.DSN == "" && c.Store.Driver == DefaultStoreDriver {
		c.Store.DSN = DefaultStoreDSN
	}
	if c.Queue.RedisURL == "" {
		c.Queue.RedisURL = DefaultRedisURL
	}
	if c.Queue.Name == "" {
		c.Queue.Name = DefaultQueueName
	}
	if c.Queue.ResultsChannel == "" {
		c.Queue.ResultsChannel = DefaultResultsChannel
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = DefaultConcurrency
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report YAML key names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration against its struct tags and parses the
// duration fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	for _, f := range []struct{ name, value string }{
		{"timeout", c.Timeout},
		{"queue.job_timeout", c.Queue.JobTimeout},
		{"queue.shutdown_timeout", c.Queue.ShutdownTimeout},
	} {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", f.name, f.value)
		}
		if d < 0 {
			return fmt.Errorf("%s: must not be negative", f.name)
		}
	}
	return nil
}

// GetTimeout returns the import timeout. Zero means no timeout.
func (c *Config) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, DefaultTimeout)
}

// GetJobTimeout returns the per-job timeout, falling back to the import timeout.
func (q *QueueConfig) GetJobTimeout(fallback time.Duration) time.Duration {
	return parseDuration(q.JobTimeout, fallback)
}

// GetShutdownTimeout returns the worker shutdown timeout.
func (q *QueueConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(q.ShutdownTimeout, DefaultShutdownTimeout)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Parse decodes YAML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Load reads and parses a configuration file. If path is a directory, it
// looks for one of FileNames in it.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range FileNames {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no %s found in %s", strings.Join(FileNames, " or "), path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault loads path when it is set and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")

	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
