package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stashsense/orchestrator/pkg/apierr"
	"github.com/stashsense/orchestrator/pkg/models"
)

func (l *Loader) pluginDir(name string) string {
	return filepath.Join(l.root, name)
}

func (l *Loader) absoluteFiles(m Manifest) []string {
	out := make([]string, len(m.Files))
	for i, f := range m.Files {
		out[i] = filepath.Join(l.pluginDir(m.Name), f)
	}
	return out
}

// Installed returns every plugin's current runtime state.
func (l *Loader) Installed(ctx context.Context) ([]models.PluginMeta, error) {
	return listMeta(ctx, l.pool)
}

// Remove implements spec §4.2's removal protocol: unload registrations,
// purge files, drop settings and the meta row, and cascade direct
// dependents to dependency_missing.
func (l *Loader) Remove(ctx context.Context, name string) error {
	meta, err := loadMeta(ctx, l.pool, name)
	if err != nil {
		return err
	}
	if meta == nil {
		return apierr.WithCode(apierr.CodePluginNotFound, fmt.Errorf("plugin %q not found", name))
	}

	if regCtx, ok := l.contexts[name]; ok {
		regCtx.teardown()
		delete(l.contexts, name)
	}

	if err := os.RemoveAll(l.pluginDir(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove plugin files: %w", err)
	}

	if _, err := l.pool.Exec(ctx, `DELETE FROM plugin_settings WHERE plugin_name = $1`, name); err != nil {
		return fmt.Errorf("delete plugin settings: %w", err)
	}

	if err := deleteMeta(ctx, l.pool, name); err != nil {
		return fmt.Errorf("delete plugin meta: %w", err)
	}
	delete(l.cachedStatus, name)

	return l.cascadeDependencyMissing(ctx, name)
}

func (l *Loader) cascadeDependencyMissing(ctx context.Context, removed string) error {
	all, err := listMeta(ctx, l.pool)
	if err != nil {
		return err
	}
	for _, m := range all {
		for _, dep := range m.DependsOn {
			if dep == removed {
				if err := l.setStatus(ctx, m.Name, models.PluginStatusDependencyMissing, ""); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

// Reload implements spec §4.2's single-plugin reload: unload without
// deleting files, then re-run the migration + import sequence.
func (l *Loader) Reload(ctx context.Context, name string) error {
	meta, err := loadMeta(ctx, l.pool, name)
	if err != nil {
		return err
	}
	if meta == nil {
		return apierr.WithCode(apierr.CodePluginNotFound, fmt.Errorf("plugin %q not found", name))
	}

	manifest, err := LoadManifest(l.pluginDir(name))
	if err != nil {
		return apierr.WithCode(apierr.CodePluginNotFound, fmt.Errorf("manifest for %q: %w", name, err))
	}

	ok, err := SatisfiesConstraint(manifest.RequiredBackend, l.backend)
	if err != nil {
		return err
	}
	if !ok {
		_ = l.setStatus(ctx, name, models.PluginStatusIncompatible, "backend version incompatible")
		return apierr.WithCode(apierr.CodeBackendTooOld, fmt.Errorf("plugin %q requires backend %q", name, manifest.RequiredBackend))
	}

	if regCtx, had := l.contexts[name]; had {
		regCtx.teardown()
		delete(l.contexts, name)
	}

	if err := l.runLoadSequence(ctx, manifest); err != nil {
		_ = l.setStatus(ctx, name, models.PluginStatusError, err.Error())
		return apierr.WithCode(apierr.CodeReloadFailed, fmt.Errorf("reload %q: %w", name, err))
	}

	return l.setStatus(ctx, name, models.PluginStatusActive, "")
}
