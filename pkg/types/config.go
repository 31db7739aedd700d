package types

import "time"

// Config is the application configuration, merged from config files,
// environment variables, and defaults.
type Config struct {
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// DatabasePath is the SQLite file. Defaults under the data dir.
	DatabasePath string `json:"databasePath,omitempty" yaml:"databasePath,omitempty"`

	// Model is "provider/model", e.g. "anthropic/claude-sonnet-4".
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	ContextLimit        int64   `json:"contextLimit,omitempty" yaml:"contextLimit,omitempty"`
	CompactionThreshold float64 `json:"compactionThreshold,omitempty" yaml:"compactionThreshold,omitempty"`

	Provider map[string]ProviderConfig `json:"provider,omitempty" yaml:"provider,omitempty"`

	Server      *ServerConfig      `json:"server,omitempty" yaml:"server,omitempty"`
	Log         *LogConfig         `json:"log,omitempty" yaml:"log,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty" yaml:"maintenance,omitempty"`
	Watcher     *WatcherConfig     `json:"watcher,omitempty" yaml:"watcher,omitempty"`
}

// ProviderConfig configures one provider adapter.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	// Class selects token accounting: "cache_separating" or "full_context".
	Class    string `json:"class,omitempty" yaml:"class,omitempty"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port       int  `json:"port,omitempty" yaml:"port,omitempty"`
	EnableCORS bool `json:"enableCORS,omitempty" yaml:"enableCORS,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty" yaml:"pretty,omitempty"`
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
}

// MaintenanceConfig configures out-of-band store maintenance.
type MaintenanceConfig struct {
	Enabled       bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Interval      time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	PruneMaxAge   time.Duration `json:"pruneMaxAge,omitempty" yaml:"pruneMaxAge,omitempty"`
	PruneTypeGlob string        `json:"pruneTypeGlob,omitempty" yaml:"pruneTypeGlob,omitempty"`
}

// WatcherConfig controls config hot-reload.
type WatcherConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ContextLimit:        200_000,
		CompactionThreshold: 0.85,
		Provider:            make(map[string]ProviderConfig),
		Server:              &ServerConfig{Port: 8080, EnableCORS: true},
		Log:                 &LogConfig{Level: "info"},
	}
}
