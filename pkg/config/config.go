package config

// Config is the umbrella configuration object returned by Initialize and
// threaded through the rest of the application. It carries only static
// bootstrap settings — anything that can change at runtime (plugin
// activation, per-plugin settings) lives in the Settings Store instead.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults and tunables.
	Defaults *Defaults

	// HTTP/WS server configuration.
	Server *ServerConfig

	// Plugin root directory and declared catalog sources.
	Plugins *PluginsConfig

	// Task Manager scheduling configuration.
	TaskManager *TaskManagerConfig

	// Retention and cleanup configuration.
	Retention *RetentionConfig
}

// ServerConfig contains HTTP/WS listener configuration.
type ServerConfig struct {
	// Port is the TCP port the HTTP API and WebSocket endpoint listen on.
	Port int `yaml:"port"`

	// AllowedWSOrigins is the set of Origin header values accepted for
	// WebSocket upgrade requests. Empty means same-origin only.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// SharedAPIKeyEnv names an environment variable for a shared API
	// secret. Nothing in this module reads it: pkg/api's shared-secret
	// check compares against the UI_SHARED_API_KEY system setting.
	SharedAPIKeyEnv string `yaml:"shared_api_key_env"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		SharedAPIKeyEnv: "ORCHESTRATOR_API_KEY",
	}
}

// PluginsConfig contains the Plugin Loader's root directory and declared
// catalog sources.
type PluginsConfig struct {
	// RootDir is the directory containing installed plugin directories,
	// each with its own plugin.yml manifest.
	RootDir string `yaml:"root_dir"`

	// Sources maps a source name to its catalog configuration. The
	// "local" source always exists implicitly for filesystem-only
	// plugins and does not need a declared entry.
	Sources map[string]PluginSourceConfig `yaml:"sources"`
}

// PluginSourceConfig describes one plugin catalog source.
type PluginSourceConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// DefaultPluginsConfig returns the built-in plugins defaults.
func DefaultPluginsConfig() *PluginsConfig {
	return &PluginsConfig{
		RootDir: "./plugins",
		Sources: map[string]PluginSourceConfig{},
	}
}

// ConfigStats contains statistics about loaded configuration, useful for
// startup logging.
type ConfigStats struct {
	PluginSources int
	ServiceLimits int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		PluginSources: len(c.Plugins.Sources),
		ServiceLimits: len(c.TaskManager.ServiceConcurrency),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
