// Package plugin implements the Plugin Loader (spec §4.2): manifest
// discovery, dependency-ordered loading, per-plugin migrations, and
// catalog install/remove/reload.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest is the parsed contents of a plugin's plugin.yml.
type Manifest struct {
	Name            string   `yaml:"name"`
	Version         string   `yaml:"version"`
	RequiredBackend string   `yaml:"required_backend"`
	Files           []string `yaml:"files"`
	DependsOn       []string `yaml:"depends_on"`
	HumanName       string   `yaml:"human_name,omitempty"`
	ServerLink      string   `yaml:"server_link,omitempty"`
	PipDependencies []string     `yaml:"pip_dependencies,omitempty"`
	Settings        []SettingDef `yaml:"settings,omitempty"`
}

// SettingDef is one declared plugin setting from the manifest's settings
// schema section.
type SettingDef struct {
	Key         string `yaml:"key"`
	Type        string `yaml:"type"`
	Label       string `yaml:"label,omitempty"`
	Description string `yaml:"description,omitempty"`
	Default     any    `yaml:"default,omitempty"`
	Options     any    `yaml:"options,omitempty"`
}

// LoadManifest parses <dir>/plugin.yml and validates that the folder name
// matches the manifest's declared name.
func LoadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, "plugin.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Name == "" {
		return Manifest{}, fmt.Errorf("%s: missing name", path)
	}
	if folder := filepath.Base(dir); folder != m.Name {
		return Manifest{}, fmt.Errorf("%s: folder name %q does not match manifest name %q", path, folder, m.Name)
	}
	return m, nil
}

// DiscoverManifests walks pluginsRoot for */plugin.yml and parses each,
// skipping directories that aren't plugins.
func DiscoverManifests(pluginsRoot string) ([]Manifest, error) {
	entries, err := os.ReadDir(pluginsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugins root %s: %w", pluginsRoot, err)
	}

	var manifests []Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(pluginsRoot, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "plugin.yml")); err != nil {
			continue
		}
		m, err := LoadManifest(dir)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
