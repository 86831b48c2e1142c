package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// OrchestratorYAMLConfig represents the complete orchestrator.yaml file
// structure.
type OrchestratorYAMLConfig struct {
	Server      *ServerConfig      `yaml:"server"`
	Plugins     *PluginsYAMLConfig `yaml:"plugins"`
	TaskManager *TaskManagerConfig `yaml:"task_manager"`
	Retention   *RetentionConfig   `yaml:"retention"`
	Defaults    *Defaults          `yaml:"defaults"`
}

// PluginsYAMLConfig is the YAML shape of the plugins section; Sources is
// a map so user config can declare catalog sources by name.
type PluginsYAMLConfig struct {
	RootDir string                         `yaml:"root_dir"`
	Sources map[string]PluginSourceConfig  `yaml:"sources"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load orchestrator.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in defaults with user-supplied overrides
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"plugin_sources", stats.PluginSources,
		"service_limits", stats.ServiceLimits)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadOrchestratorYAML()
	if err != nil {
		return nil, NewLoadError("orchestrator.yaml", err)
	}

	server := DefaultServerConfig()
	if yamlCfg.Server != nil {
		if err := mergo.Merge(server, yamlCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	plugins := DefaultPluginsConfig()
	if yamlCfg.Plugins != nil {
		if yamlCfg.Plugins.RootDir != "" {
			plugins.RootDir = yamlCfg.Plugins.RootDir
		}
		plugins.Sources = mergePluginSources(plugins.Sources, yamlCfg.Plugins.Sources)
	}

	taskManager, err := mergeTaskManagerConfig(DefaultTaskManagerConfig(), yamlCfg.TaskManager)
	if err != nil {
		return nil, fmt.Errorf("failed to merge task manager config: %w", err)
	}

	retention := DefaultRetentionConfig()
	if yamlCfg.Retention != nil {
		if err := mergo.Merge(retention, yamlCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	defaults := DefaultDefaults()
	if yamlCfg.Defaults != nil {
		if err := mergo.Merge(defaults, yamlCfg.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge defaults: %w", err)
		}
	}

	return &Config{
		configDir:   configDir,
		Defaults:    defaults,
		Server:      server,
		Plugins:     plugins,
		TaskManager: taskManager,
		Retention:   retention,
	}, nil
}

// validate performs validation on loaded configuration.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return NewValidationError("server", "server", "port", fmt.Errorf("%w: must be between 1 and 65535", ErrInvalidValue))
	}
	if cfg.Plugins.RootDir == "" {
		return NewValidationError("plugins", "plugins", "root_dir", ErrMissingRequiredField)
	}
	if cfg.TaskManager.DefaultConcurrency < 1 {
		return NewValidationError("task_manager", "task_manager", "default_concurrency", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	for service, limit := range cfg.TaskManager.ServiceConcurrency {
		if limit < 1 {
			return NewValidationError("task_manager", service, "service_concurrency", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
	}
	if cfg.Retention.TaskHistoryTo > cfg.Retention.TaskHistoryMax {
		return NewValidationError("retention", "retention", "task_history_to", fmt.Errorf("%w: cannot exceed task_history_max", ErrInvalidValue))
	}
	return nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Note: ExpandEnv cannot fail; unset variables expand to empty
	// strings and any malformed content is left for the YAML parser to
	// report.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadOrchestratorYAML() (*OrchestratorYAMLConfig, error) {
	var cfg OrchestratorYAMLConfig

	if err := l.loadYAML("orchestrator.yaml", &cfg); err != nil {
		return nil, err
	}

	if cfg.Plugins != nil && cfg.Plugins.Sources == nil {
		cfg.Plugins.Sources = make(map[string]PluginSourceConfig)
	}

	return &cfg, nil
}
