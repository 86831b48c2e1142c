package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeServiceConcurrency(t *testing.T) {
	builtin := map[string]int{
		"thumbnailer": 2,
		"transcoder":  1,
	}
	user := map[string]int{
		"transcoder": 4,
		"indexer":    1,
	}

	result := mergeServiceConcurrency(builtin, user)

	assert.Len(t, result, 3)
	assert.Equal(t, 2, result["thumbnailer"])
	assert.Equal(t, 4, result["transcoder"])
	assert.Equal(t, 1, result["indexer"])
}

func TestMergePluginSources(t *testing.T) {
	builtin := map[string]PluginSourceConfig{
		"official": {URL: "https://plugins.example.com/official.json", Enabled: true},
	}
	user := map[string]PluginSourceConfig{
		"official": {URL: "https://mirror.example.com/official.json", Enabled: true},
		"private":  {URL: "https://internal.example.com/catalog.json", Enabled: false},
	}

	result := mergePluginSources(builtin, user)

	assert.Len(t, result, 2)
	assert.Equal(t, "https://mirror.example.com/official.json", result["official"].URL)
	assert.False(t, result["private"].Enabled)
}

func TestMergeTaskManagerConfig(t *testing.T) {
	builtin := DefaultTaskManagerConfig()
	user := &TaskManagerConfig{
		DefaultConcurrency: 5,
		ServiceConcurrency: map[string]int{"thumbnailer": 2},
	}

	merged, err := mergeTaskManagerConfig(builtin, user)
	require.NoError(t, err)

	assert.Equal(t, 5, merged.DefaultConcurrency)
	assert.Equal(t, 2, merged.ServiceConcurrency["thumbnailer"])
	assert.Equal(t, builtin.LoopInterval, merged.LoopInterval)
}

func TestMergeTaskManagerConfig_NilUser(t *testing.T) {
	builtin := DefaultTaskManagerConfig()

	merged, err := mergeTaskManagerConfig(builtin, nil)
	require.NoError(t, err)

	assert.Equal(t, builtin.DefaultConcurrency, merged.DefaultConcurrency)
}
