package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stashsense/orchestrator/pkg/apierr"
	"github.com/stashsense/orchestrator/pkg/models"
)

// catalogIndexEntry mirrors one element of a source's plugins_index.json.
type catalogIndexEntry struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	HumanName   string   `json:"humanName"`
	ServerLink  string   `json:"serverLink"`
	DependsOn   []string `json:"dependsOn"`
	Path        string   `json:"path"`
}

type catalogIndex struct {
	SchemaVersion int                 `json:"schemaVersion"`
	Plugins       []catalogIndexEntry `json:"plugins"`
}

// InstallPlan is the response shape for a dry-run install, spec §4.2.
type InstallPlan struct {
	Order         []string          `json:"order"`
	Dependencies  []string          `json:"dependencies"`
	AlreadyActive []string          `json:"already_active"`
	Missing       []string          `json:"missing"`
	HumanNames    map[string]string `json:"human_names"`
}

// RemovePlan previews the dependents-first removal order for a plugin.
type RemovePlan struct {
	Order []string `json:"order"`
}

func loadSource(ctx context.Context, pool *pgxpool.Pool, name string) (*models.PluginSource, error) {
	var s models.PluginSource
	var lastRefreshAt *time.Time
	err := pool.QueryRow(ctx, `
		SELECT name, url, enabled, last_refresh_at, last_refresh_ok
		FROM plugin_sources WHERE name = $1`, name).Scan(
		&s.Name, &s.URL, &s.Enabled, &lastRefreshAt, &s.LastRefreshOK)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastRefreshAt != nil {
		ts := lastRefreshAt.Unix()
		s.LastRefreshAt = &ts
	}
	return &s, nil
}

// ListSources returns every configured plugin source.
func (l *Loader) ListSources(ctx context.Context) ([]models.PluginSource, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT name, url, enabled, last_refresh_at, last_refresh_ok
		FROM plugin_sources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PluginSource
	for rows.Next() {
		var s models.PluginSource
		var lastRefreshAt *time.Time
		if err := rows.Scan(&s.Name, &s.URL, &s.Enabled, &lastRefreshAt, &s.LastRefreshOK); err != nil {
			return nil, err
		}
		if lastRefreshAt != nil {
			ts := lastRefreshAt.Unix()
			s.LastRefreshAt = &ts
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func upsertCatalogEntries(ctx context.Context, pool *pgxpool.Pool, source string, entries []catalogIndexEntry) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM plugin_catalog_entries WHERE source = $1`, source); err != nil {
		return fmt.Errorf("clear stale catalog entries: %w", err)
	}

	for _, e := range entries {
		dependsOn, err := json.Marshal(e.DependsOn)
		if err != nil {
			return err
		}
		manifestBlob, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO plugin_catalog_entries (source, plugin_name, version, description, human_name, server_link, depends_on, manifest_blob)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			source, e.Name, e.Version, e.Description, e.HumanName, e.ServerLink, dependsOn, manifestBlob); err != nil {
			return fmt.Errorf("insert catalog entry %s: %w", e.Name, err)
		}
	}
	return tx.Commit(ctx)
}

func markSourceRefreshed(ctx context.Context, pool *pgxpool.Pool, source string, ok bool, at time.Time) error {
	_, err := pool.Exec(ctx, `
		UPDATE plugin_sources SET last_refresh_at = $2, last_refresh_ok = $3 WHERE name = $1`,
		source, at, ok)
	return err
}

// RefreshSource fetches {source.URL}/plugins_index.json and replaces the
// source's cached catalog entries with its contents.
func (l *Loader) RefreshSource(ctx context.Context, sourceName string) error {
	source, err := loadSource(ctx, l.pool, sourceName)
	if err != nil {
		return err
	}
	if source == nil {
		return apierr.WithCode(apierr.CodeSourceNotFound, fmt.Errorf("plugin source %q not found", sourceName))
	}
	if source.Name == models.LocalSourceName {
		return nil
	}

	index, err := fetchCatalogIndex(ctx, source.URL)
	now := time.Now()
	if err != nil {
		_ = markSourceRefreshed(ctx, l.pool, sourceName, false, now)
		return fmt.Errorf("refresh %s: %w", sourceName, err)
	}

	if err := upsertCatalogEntries(ctx, l.pool, sourceName, index.Plugins); err != nil {
		_ = markSourceRefreshed(ctx, l.pool, sourceName, false, now)
		return err
	}
	return markSourceRefreshed(ctx, l.pool, sourceName, true, now)
}

func fetchCatalogIndex(ctx context.Context, sourceURL string) (*catalogIndex, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL+"/plugins_index.json", nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch plugins_index.json: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch plugins_index.json: HTTP %d", resp.StatusCode)
	}

	var index catalogIndex
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		return nil, fmt.Errorf("decode plugins_index.json: %w", err)
	}
	return &index, nil
}

func listCatalogEntries(ctx context.Context, pool *pgxpool.Pool, source string) ([]models.PluginCatalogEntry, error) {
	rows, err := pool.Query(ctx, `
		SELECT source, plugin_name, version, description, human_name, server_link, depends_on, manifest_blob
		FROM plugin_catalog_entries WHERE source = $1`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PluginCatalogEntry
	for rows.Next() {
		var e models.PluginCatalogEntry
		var dependsOn []byte
		if err := rows.Scan(&e.Source, &e.PluginName, &e.Version, &e.Description, &e.HumanName, &e.ServerLink, &dependsOn, &e.ManifestBlob); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(dependsOn, &e.DependsOn)
		out = append(out, e)
	}
	return out, rows.Err()
}

func getCatalogEntry(ctx context.Context, pool *pgxpool.Pool, source, pluginName string) (*models.PluginCatalogEntry, error) {
	var e models.PluginCatalogEntry
	var dependsOn []byte
	err := pool.QueryRow(ctx, `
		SELECT source, plugin_name, version, description, human_name, server_link, depends_on, manifest_blob
		FROM plugin_catalog_entries WHERE source = $1 AND plugin_name = $2`, source, pluginName).Scan(
		&e.Source, &e.PluginName, &e.Version, &e.Description, &e.HumanName, &e.ServerLink, &dependsOn, &e.ManifestBlob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(dependsOn, &e.DependsOn)
	return &e, nil
}

// Catalog returns source's cached catalog entries, for the admin surface's
// GET /plugins/catalog/{source} route.
func (l *Loader) Catalog(ctx context.Context, source string) ([]models.PluginCatalogEntry, error) {
	return listCatalogEntries(ctx, l.pool, source)
}

// PlanInstall walks pluginName's dependency tree within source's cached
// catalog and returns the install order a caller would need to approve,
// matching spec §4.2's plan_install response shape.
func (l *Loader) PlanInstall(ctx context.Context, source, pluginName string) (*InstallPlan, error) {
	entries, err := listCatalogEntries(ctx, l.pool, source)
	if err != nil {
		return nil, err
	}
	bySource := make(map[string]models.PluginCatalogEntry, len(entries))
	for _, e := range entries {
		bySource[e.PluginName] = e
	}

	root, ok := bySource[pluginName]
	if !ok {
		return nil, apierr.WithCode(apierr.CodePluginNotFound, fmt.Errorf("plugin %q not found in catalog %q", pluginName, source))
	}

	installedMeta, err := listMeta(ctx, l.pool)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(installedMeta))
	for _, m := range installedMeta {
		if m.Status == models.PluginStatusActive {
			active[m.Name] = true
		}
	}

	deps := make(map[string][]string)
	humanNames := make(map[string]string)
	var missing []string
	visited := make(map[string]bool)

	var walk func(name string)
	walk = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		entry, ok := bySource[name]
		if !ok {
			if !active[name] {
				missing = append(missing, name)
			}
			return
		}
		humanNames[name] = entry.HumanName
		deps[name] = entry.DependsOn
		for _, dep := range entry.DependsOn {
			walk(dep)
		}
	}
	walk(pluginName)
	humanNames[pluginName] = root.HumanName

	order, stuck := topoOrder(deps)
	order = append(order, stuck...)

	plan := &InstallPlan{HumanNames: humanNames, Missing: missing}
	for _, name := range order {
		if active[name] {
			plan.AlreadyActive = append(plan.AlreadyActive, name)
			continue
		}
		if name == pluginName {
			continue
		}
		plan.Dependencies = append(plan.Dependencies, name)
	}
	plan.Order = order
	sort.Strings(plan.Missing)
	return plan, nil
}

// Install downloads pluginName (and, if installDependencies is set, every
// not-yet-active dependency) from source into the plugins root, then runs
// the same migration + registration sequence as Initialize.
func (l *Loader) Install(ctx context.Context, source, pluginName string, installDependencies, overwrite bool, token string) error {
	plan, err := l.PlanInstall(ctx, source, pluginName)
	if err != nil {
		return err
	}
	if len(plan.Missing) > 0 {
		return apierr.WithCode(apierr.CodeDependencyMissing, fmt.Errorf("plugin %q has unresolvable dependencies: %v", pluginName, plan.Missing))
	}
	if len(plan.Dependencies) > 0 && !installDependencies {
		return apierr.WithCode(apierr.CodeDependenciesRequired, fmt.Errorf("plugin %q requires dependencies %v; set install_dependencies=true", pluginName, plan.Dependencies))
	}

	sourceRow, err := loadSource(ctx, l.pool, source)
	if err != nil {
		return err
	}
	if sourceRow == nil {
		return apierr.WithCode(apierr.CodeSourceNotFound, fmt.Errorf("plugin source %q not found", source))
	}

	fetcher := newGitHubFetcher(token)
	for _, name := range plan.Order {
		entry, err := getCatalogEntry(ctx, l.pool, source, name)
		if err != nil {
			return err
		}
		if entry == nil {
			continue
		}

		existing, err := loadMeta(ctx, l.pool, name)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == models.PluginStatusActive && !overwrite {
			continue
		}

		destDir := l.pluginDir(name)
		if err := fetcher.downloadSubtree(ctx, entry.ServerLink+"/"+entry.PluginName, destDir); err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}

		manifest, err := LoadManifest(destDir)
		if err != nil {
			return fmt.Errorf("load manifest for %s after download: %w", name, err)
		}
		if err := l.ensureMeta(ctx, manifest); err != nil {
			return err
		}
		l.loadOne(ctx, manifest)
	}
	return nil
}

// PlanRemove previews the dependents-first order required to remove
// pluginName cleanly: pluginName itself plus every known plugin, whatever
// its status, that transitively depends on it.
func (l *Loader) PlanRemove(ctx context.Context, pluginName string) (*RemovePlan, error) {
	all, err := listMeta(ctx, l.pool)
	if err != nil {
		return nil, err
	}

	deps := make(map[string][]string, len(all))
	for _, m := range all {
		deps[m.Name] = m.DependsOn
	}

	affected := make(map[string]bool)
	var mark func(name string)
	mark = func(name string) {
		if affected[name] {
			return
		}
		affected[name] = true
		for _, m := range all {
			for _, dep := range m.DependsOn {
				if dep == name {
					mark(m.Name)
				}
			}
		}
	}
	mark(pluginName)

	restricted := make(map[string][]string, len(affected))
	for name := range affected {
		restricted[name] = deps[name]
	}

	return &RemovePlan{Order: reverseTopoOrder(restricted)}, nil
}
