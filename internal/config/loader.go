package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// DefaultFilename is looked up when Load is given a directory.
const DefaultFilename = "config.yaml"

// Load reads, interpolates, defaults, verifies and validates a config file.
// A directory argument means "<dir>/config.yaml".
func Load(configPath string) (*Config, error) {
	absPath, err := Resolve(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	applyConfigDefaults(cfg)

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Resolve turns a file or directory argument into the absolute config file path.
func Resolve(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFilename)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", DefaultFilename, absPath)
		}
	}
	return absPath, nil
}

// Discover finds a config file when none is given on the command line.
// Priority: $SWITCHYARD_CONFIG, ./config.yaml, ~/.config/switchyard/config.yaml.
func Discover() (string, error) {
	if p := os.Getenv("SWITCHYARD_CONFIG"); p != "" {
		return p, nil
	}
	if _, err := os.Stat(DefaultFilename); err == nil {
		return DefaultFilename, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "switchyard", DefaultFilename)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config found (set --config or $SWITCHYARD_CONFIG)")
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// applyConfigDefaults fills every unset field from Defaults().
func applyConfigDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = d.Service.TickInterval
	}

	if cfg.State.Path == "" {
		cfg.State.Path = d.State.Path
	}

	// An untouched api section means the default listener.
	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Enabled = d.API.Enabled
		cfg.API.Listen = d.API.Listen
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}
	if cfg.API.EventBuffer == 0 {
		cfg.API.EventBuffer = d.API.EventBuffer
	}

	if cfg.Gateway.BaseURI == "" {
		cfg.Gateway.BaseURI = d.Gateway.BaseURI
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = d.Gateway.Timeout
	}
	if cfg.Gateway.MaxOutstanding == nil {
		cfg.Gateway.MaxOutstanding = d.Gateway.MaxOutstanding
	}
	if cfg.Gateway.FlushInterval == 0 {
		cfg.Gateway.FlushInterval = d.Gateway.FlushInterval
	}

	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = d.Dispatch.BatchSize
	}
	if cfg.Dispatch.FlushInterval == 0 {
		cfg.Dispatch.FlushInterval = d.Dispatch.FlushInterval
	}
	if cfg.Dispatch.Capacity == 0 {
		cfg.Dispatch.Capacity = d.Dispatch.Capacity
	}

	if !cfg.Journal.Enabled && cfg.Journal.Retention == 0 && cfg.Journal.Buffer == 0 {
		cfg.Journal.Enabled = d.Journal.Enabled
	}
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = d.Journal.Retention
	}
	if cfg.Journal.Buffer == 0 {
		cfg.Journal.Buffer = d.Journal.Buffer
	}

	if cfg.Relay.Kind == "" {
		cfg.Relay.Kind = d.Relay.Kind
	}
	if cfg.Relay.SubjectPrefix == "" {
		cfg.Relay.SubjectPrefix = d.Relay.SubjectPrefix
	}
	if cfg.Relay.ConnTimeout == 0 {
		cfg.Relay.ConnTimeout = d.Relay.ConnTimeout
	}
	if cfg.Relay.Buffer == 0 {
		cfg.Relay.Buffer = d.Relay.Buffer
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and fail validation where it matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Service.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("service.tick_interval must be positive"))
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		errs = append(errs, fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel))
	}

	if cfg.Journal.Enabled && cfg.State.Path == "" {
		errs = append(errs, fmt.Errorf("state.path is required when the journal is enabled"))
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		errs = append(errs, fmt.Errorf("api.listen is required when the api is enabled"))
	}

	if !strings.HasPrefix(cfg.Gateway.BaseURI, "/") {
		errs = append(errs, fmt.Errorf("gateway.base_uri must start with '/' (got %q)", cfg.Gateway.BaseURI))
	}
	if cfg.Gateway.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout must be positive"))
	}
	if cfg.Gateway.MaxOutstanding != nil && *cfg.Gateway.MaxOutstanding < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_outstanding must not be negative"))
	}
	if cfg.Gateway.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("gateway.flush_interval must not be negative"))
	}

	if cfg.Dispatch.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("dispatch.batch_size must be at least 1"))
	}
	if cfg.Dispatch.Capacity < 1 {
		errs = append(errs, fmt.Errorf("dispatch.capacity must be at least 1"))
	}
	if cfg.Dispatch.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.flush_interval must be positive"))
	}

	if cfg.Journal.Retention < 0 {
		errs = append(errs, fmt.Errorf("journal.retention must not be negative"))
	}

	errs = append(errs, validateRelay(cfg.Relay)...)

	return errors.Join(errs...)
}

func validateRelay(r RelayConfig) []error {
	var errs []error
	switch r.Kind {
	case "none":
	case "nats", "amqp":
		if r.URL == "" {
			errs = append(errs, fmt.Errorf("relay.url is required for relay kind %q", r.Kind))
		}
	case "kafka":
		if len(r.Brokers) == 0 {
			errs = append(errs, fmt.Errorf("relay.brokers is required for relay kind %q", r.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("relay.kind must be one of: none, nats, amqp, kafka (got %q)", r.Kind))
	}
	if strings.Contains(r.URL, "${") {
		errs = append(errs, fmt.Errorf("relay.url references an unset environment variable: %s", r.URL))
	}
	return errs
}
