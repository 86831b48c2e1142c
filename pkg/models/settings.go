package models

import "encoding/json"

// SettingType enumerates the coercion rule applied to a PluginSetting's value.
type SettingType string

const (
	SettingTypeString   SettingType = "string"
	SettingTypeNumber   SettingType = "number"
	SettingTypeBoolean  SettingType = "boolean"
	SettingTypeSelect   SettingType = "select"
	SettingTypeJSON     SettingType = "json"
	SettingTypePathMap  SettingType = "path_map"
)

// SystemPluginName is the distinguished plugin name for global settings.
const SystemPluginName = "__system__"

// LocalSourceName is the immutable distinguished plugin source.
const LocalSourceName = "local"

// SlashMode controls path separator rewriting for a PathMapEntry.
type SlashMode string

const (
	SlashModeAuto      SlashMode = "auto"
	SlashModeUnix      SlashMode = "unix"
	SlashModeWindows   SlashMode = "win"
	SlashModeUnchanged SlashMode = "unchanged"
)

// PathMapEntry is one element of a "path_map"-typed setting value.
type PathMapEntry struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	SlashMode SlashMode `json:"slash_mode"`
}

// PluginSetting is a (plugin_name, key) -> typed value definition.
type PluginSetting struct {
	PluginName  string          `json:"plugin_name" db:"plugin_name"`
	Key         string          `json:"key" db:"key"`
	Type        SettingType     `json:"type" db:"type"`
	Label       string          `json:"label" db:"label"`
	Description string          `json:"description" db:"description"`
	Default     json.RawMessage `json:"default" db:"default_value"`
	Options     json.RawMessage `json:"options,omitempty" db:"options"`
	Value       json.RawMessage `json:"value" db:"value"` // nil/null means "use default"
}

// PluginSource is a named remote plugin index.
type PluginSource struct {
	Name          string `json:"name" db:"name"`
	URL           string `json:"url" db:"url"`
	Enabled       bool   `json:"enabled" db:"enabled"`
	LastRefreshAt *int64 `json:"last_refresh_at,omitempty" db:"last_refresh_at"`
	LastRefreshOK *bool  `json:"last_refresh_ok,omitempty" db:"last_refresh_ok"`
}

// PluginCatalogEntry is a (source, plugin_name) -> catalog metadata row.
type PluginCatalogEntry struct {
	Source       string          `json:"source" db:"source"`
	PluginName   string          `json:"plugin_name" db:"plugin_name"`
	Version      string          `json:"version" db:"version"`
	Description  string          `json:"description" db:"description"`
	HumanName    string          `json:"human_name,omitempty" db:"human_name"`
	ServerLink   string          `json:"server_link,omitempty" db:"server_link"`
	DependsOn    []string        `json:"depends_on" db:"-"`
	ManifestBlob json.RawMessage `json:"manifest_blob" db:"manifest_blob"`
}

// PluginStatus enumerates installed-plugin runtime state.
type PluginStatus string

const (
	PluginStatusNew                 PluginStatus = "new"
	PluginStatusActive              PluginStatus = "active"
	PluginStatusError               PluginStatus = "error"
	PluginStatusIncompatible        PluginStatus = "incompatible"
	PluginStatusDependencyMissing   PluginStatus = "dependency_missing"
	PluginStatusDependencyInactive  PluginStatus = "dependency_inactive"
	PluginStatusDependencyCycle     PluginStatus = "dependency_cycle"
	PluginStatusRemoved             PluginStatus = "removed"
)

// PluginMeta is the loader's installed-plugin runtime state row.
type PluginMeta struct {
	Name             string       `json:"name" db:"name"`
	Version          string       `json:"version" db:"version"`
	RequiredBackend  string       `json:"required_backend" db:"required_backend"`
	Status           PluginStatus `json:"status" db:"status"`
	MigrationHead    string       `json:"migration_head" db:"migration_head"`
	LastError        string       `json:"last_error,omitempty" db:"last_error"`
	DependsOn        []string     `json:"depends_on" db:"-"`
}
