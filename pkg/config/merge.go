package config

import "dario.cat/mergo"

// mergeServiceConcurrency merges built-in and user-defined per-service
// concurrency limits. User-defined limits override built-in limits for
// the same service name.
func mergeServiceConcurrency(builtin map[string]int, user map[string]int) map[string]int {
	result := make(map[string]int, len(builtin)+len(user))

	for name, limit := range builtin {
		result[name] = limit
	}
	for name, limit := range user {
		result[name] = limit
	}

	return result
}

// mergePluginSources merges built-in and user-declared plugin sources.
// User-declared sources override a built-in source of the same name.
func mergePluginSources(builtin map[string]PluginSourceConfig, user map[string]PluginSourceConfig) map[string]PluginSourceConfig {
	result := make(map[string]PluginSourceConfig, len(builtin)+len(user))

	for name, src := range builtin {
		result[name] = src
	}
	for name, src := range user {
		result[name] = src
	}

	return result
}

// mergeTaskManagerConfig overlays user-supplied Task Manager settings on
// top of the built-in defaults, leaving zero-valued user fields alone.
func mergeTaskManagerConfig(builtin *TaskManagerConfig, user *TaskManagerConfig) (*TaskManagerConfig, error) {
	merged := *builtin
	if user == nil {
		return &merged, nil
	}
	if err := mergo.Merge(&merged, user, mergo.WithOverride); err != nil {
		return nil, err
	}
	merged.ServiceConcurrency = mergeServiceConcurrency(builtin.ServiceConcurrency, user.ServiceConcurrency)
	return &merged, nil
}
