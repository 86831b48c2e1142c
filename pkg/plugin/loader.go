package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stashsense/orchestrator/pkg/models"
	"github.com/stashsense/orchestrator/pkg/registry"
	"github.com/stashsense/orchestrator/pkg/settings"
)

// Loader implements the Plugin Loader (spec §4.2): discovery, dependency
// ordering, migrations, and registration against the shared registries.
type Loader struct {
	pool    *pgxpool.Pool
	root    string
	backend string

	actions      *registry.ActionRegistry
	services     *registry.ServiceRegistry
	recommenders *registry.RecommenderRegistry
	settingsStore *settings.Store

	contexts     map[string]*RegistrationContext
	cachedStatus map[string]models.PluginStatus
	logger       *slog.Logger
}

// New creates a Loader rooted at pluginsRoot, reporting backendVersion for
// compatibility checks.
func New(pool *pgxpool.Pool, pluginsRoot, backendVersion string, actions *registry.ActionRegistry, services *registry.ServiceRegistry, recommenders *registry.RecommenderRegistry, settingsStore *settings.Store) *Loader {
	return &Loader{
		pool:          pool,
		root:          pluginsRoot,
		backend:       backendVersion,
		actions:       actions,
		services:      services,
		recommenders:  recommenders,
		settingsStore: settingsStore,
		contexts:      make(map[string]*RegistrationContext),
		cachedStatus:  make(map[string]models.PluginStatus),
		logger:        slog.Default(),
	}
}

// Initialize runs the full discovery + dependency-ordered load protocol.
func (l *Loader) Initialize(ctx context.Context) error {
	manifests, err := DiscoverManifests(l.root)
	if err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}

	discovered := make(map[string]Manifest, len(manifests))
	for _, m := range manifests {
		discovered[m.Name] = m
		if err := l.ensureMeta(ctx, m); err != nil {
			return fmt.Errorf("ensure plugin meta for %s: %w", m.Name, err)
		}
	}

	missing := make(map[string]bool)
	for _, m := range manifests {
		for _, dep := range m.DependsOn {
			if _, ok := discovered[dep]; !ok {
				missing[m.Name] = true
			}
		}
	}
	for name := range missing {
		if err := l.setStatus(ctx, name, models.PluginStatusDependencyMissing, ""); err != nil {
			return err
		}
	}

	deps := make(map[string][]string, len(manifests))
	for _, m := range manifests {
		if missing[m.Name] {
			continue
		}
		deps[m.Name] = m.DependsOn
	}

	remaining := deps
	for len(remaining) > 0 {
		loadableNow := l.loadablePass(remaining)
		if len(loadableNow) == 0 {
			break
		}
		for _, name := range loadableNow {
			l.loadOne(ctx, discovered[name])
			delete(remaining, name)
		}
	}

	return l.classifyRemainder(ctx, remaining, missing)
}

// loadablePass returns names from remaining whose every dependency is
// already active (i.e. no longer in remaining and not itself errored out).
func (l *Loader) loadablePass(remaining map[string][]string) []string {
	var loadable []string
	for name, deps := range remaining {
		ready := true
		for _, dep := range deps {
			if _, stillPending := remaining[dep]; stillPending {
				ready = false
				break
			}
			if meta, ok := l.cachedStatus[dep]; ok && meta != models.PluginStatusActive {
				ready = false
				break
			}
		}
		if ready {
			loadable = append(loadable, name)
		}
	}
	return loadable
}

func (l *Loader) classifyRemainder(ctx context.Context, remaining map[string][]string, missing map[string]bool) error {
	for name, deps := range remaining {
		cycle := false
		for _, dep := range deps {
			if _, stillRemaining := remaining[dep]; stillRemaining {
				cycle = true
				break
			}
		}
		status := models.PluginStatusDependencyInactive
		if cycle {
			status = models.PluginStatusDependencyCycle
		}
		if err := l.setStatus(ctx, name, status, ""); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) ensureMeta(ctx context.Context, m Manifest) error {
	existing, err := loadMeta(ctx, l.pool, m.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.Version = m.Version
		existing.RequiredBackend = m.RequiredBackend
		existing.DependsOn = m.DependsOn
		l.cachedStatus[m.Name] = existing.Status
		return upsertMeta(ctx, l.pool, *existing)
	}
	meta := models.PluginMeta{
		Name:            m.Name,
		Version:         m.Version,
		RequiredBackend: m.RequiredBackend,
		Status:          models.PluginStatusNew,
		DependsOn:       m.DependsOn,
	}
	l.cachedStatus[m.Name] = meta.Status
	return upsertMeta(ctx, l.pool, meta)
}

func (l *Loader) setStatus(ctx context.Context, name string, status models.PluginStatus, lastError string) error {
	meta, err := loadMeta(ctx, l.pool, name)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	meta.Status = status
	meta.LastError = lastError
	l.cachedStatus[name] = status
	return upsertMeta(ctx, l.pool, *meta)
}

// loadOne runs the per-plugin load sequence: version check, migrations,
// settings registration, module import. Any failure is recorded on the
// plugin and does not abort loading the rest of the set.
func (l *Loader) loadOne(ctx context.Context, m Manifest) {
	ok, err := SatisfiesConstraint(m.RequiredBackend, l.backend)
	if err != nil || !ok {
		detail := "backend version incompatible"
		if err != nil {
			detail = err.Error()
		}
		_ = l.setStatus(ctx, m.Name, models.PluginStatusIncompatible, detail)
		return
	}

	if err := l.runLoadSequence(ctx, m); err != nil {
		l.logger.Warn("plugin load failed", "plugin", m.Name, "error", err)
		_ = l.setStatus(ctx, m.Name, models.PluginStatusError, err.Error())
		return
	}

	_ = l.setStatus(ctx, m.Name, models.PluginStatusActive, "")
}

func (l *Loader) runLoadSequence(ctx context.Context, m Manifest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	meta, loadErr := loadMeta(ctx, l.pool, m.Name)
	if loadErr != nil {
		return loadErr
	}
	head := ""
	if meta != nil {
		head = meta.MigrationHead
	}

	dir := l.pluginDir(m.Name)
	newHead, migErr := applyMigrations(ctx, l.pool, dir, head)
	if meta != nil {
		meta.MigrationHead = newHead
		_ = upsertMeta(ctx, l.pool, *meta)
	}
	if migErr != nil {
		return fmt.Errorf("migrations: %w", migErr)
	}

	for _, pip := range m.PipDependencies {
		l.logger.Info("plugin declares an external package dependency (informational only; the orchestrator binary is statically linked and cannot install it at runtime)", "plugin", m.Name, "dependency", pip)
	}

	if err := declareSettings(ctx, l.settingsStore.Declare, m.Name, m.Settings); err != nil {
		return fmt.Errorf("declare settings: %w", err)
	}

	regCtx := newRegistrationContext(m.Name, l.actions, l.services, l.recommenders)
	if err := importModules(l.absoluteFiles(m), regCtx); err != nil {
		return fmt.Errorf("import modules: %w", err)
	}
	l.contexts[m.Name] = regCtx
	return nil
}
