package config

import "time"

// Config represents the complete switchyard configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Journal  JournalConfig  `yaml:"journal"`
	Relay    RelayConfig    `yaml:"relay"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// TickInterval drives the idle loop: queue flushes and timeout sweeps.
	TickInterval time.Duration `yaml:"tick_interval"`
	// Demo mounts the employee hiring example services.
	Demo bool `yaml:"demo"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP transport settings.
type APIConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	EventBuffer int    `yaml:"event_buffer"`
}

// GatewayConfig defines request routing and the outstanding-request table.
type GatewayConfig struct {
	BaseURI string        `yaml:"base_uri"`
	Timeout time.Duration `yaml:"timeout"`
	// MaxOutstanding caps concurrent reply-expecting requests. Zero rejects
	// all of them; absent means the default.
	MaxOutstanding *int          `yaml:"max_outstanding"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
}

// DispatchConfig defines per-service queue batching.
type DispatchConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Capacity      int           `yaml:"capacity"`
}

// JournalConfig defines the call outcome journal.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Retention time.Duration `yaml:"retention"`
	Buffer    int           `yaml:"buffer"`
}

// RelayConfig defines the optional external broker bridge.
type RelayConfig struct {
	Kind          string        `yaml:"kind"`
	URL           string        `yaml:"url"`
	Brokers       []string      `yaml:"brokers"`
	Exchange      string        `yaml:"exchange"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ConnTimeout   time.Duration `yaml:"conn_timeout"`
	Buffer        int           `yaml:"buffer"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	maxOutstanding := 20000
	return &Config{
		Service: ServiceConfig{
			Name:         "switchyard",
			LogLevel:     "info",
			TickInterval: 50 * time.Millisecond,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled:     true,
			Listen:      "127.0.0.1:8080",
			EventBuffer: 256,
		},
		Gateway: GatewayConfig{
			BaseURI:        "/services",
			Timeout:        30 * time.Second,
			MaxOutstanding: &maxOutstanding,
			FlushInterval:  50 * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			BatchSize:     100,
			FlushInterval: 50 * time.Millisecond,
			Capacity:      1024,
		},
		Journal: JournalConfig{
			Enabled:   true,
			Retention: 7 * 24 * time.Hour,
			Buffer:    1024,
		},
		Relay: RelayConfig{
			Kind:          "none",
			SubjectPrefix: "switchyard.",
			ConnTimeout:   5 * time.Second,
			Buffer:        1024,
		},
	}
}
