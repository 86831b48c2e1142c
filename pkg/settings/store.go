// Package settings implements the Settings Store: a typed, per-plugin
// key/value configuration surface backed by Postgres, with coercion on
// write and a backend-refresh hook chain for keys that require live
// reconnection (e.g. an external service URL).
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stashsense/orchestrator/pkg/apierr"
	"github.com/stashsense/orchestrator/pkg/models"
)

// RefreshHook is invoked after a successful write to a specific
// (plugin, key) pair, e.g. to reconnect a client that depends on the
// new value.
type RefreshHook func(ctx context.Context, plugin, key string, value json.RawMessage)

// Store is the Settings Store. One Store is shared process-wide.
type Store struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	cache map[string]map[string]*models.PluginSetting // plugin -> key -> definition

	hooksMu sync.RWMutex
	hooks   map[string][]RefreshHook // "plugin/key" -> hooks

	logger *slog.Logger
}

// New creates a Settings Store over the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		cache:  make(map[string]map[string]*models.PluginSetting),
		hooks:  make(map[string][]RefreshHook),
		logger: slog.Default().With("component", "settings"),
	}
}

// OnRefresh registers a hook fired after a successful write to
// (plugin, key). Hooks are invoked synchronously in registration order;
// a panicking hook is recovered and logged, not propagated.
func (s *Store) OnRefresh(plugin, key string, hook RefreshHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	k := hookKey(plugin, key)
	s.hooks[k] = append(s.hooks[k], hook)
}

func hookKey(plugin, key string) string {
	return plugin + "/" + key
}

// Get returns the effective value for (plugin, key): the override if
// one is set, else the declared default. Returns apierr.ErrNotFound when
// no row exists for (plugin, key), for the system plugin and other plugins
// alike; plugin settings only come into existence when declared or written.
func (s *Store) Get(ctx context.Context, plugin, key string) (json.RawMessage, error) {
	def, err := s.lookup(ctx, plugin, key)
	if err != nil {
		return nil, err
	}
	if def.Value != nil && string(def.Value) != "null" {
		return def.Value, nil
	}
	return def.Default, nil
}

// List returns every declared setting for a plugin, sorted by key.
func (s *Store) List(ctx context.Context, plugin string) ([]*models.PluginSetting, error) {
	if defs, ok := s.cachedPlugin(plugin); ok {
		return sortedSettings(defs), nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT plugin_name, key, type, label, description, default_value, options, value
		 FROM plugin_settings WHERE plugin_name = $1 ORDER BY key`, plugin)
	if err != nil {
		return nil, fmt.Errorf("list settings for %q: %w", plugin, err)
	}
	defer rows.Close()

	defs := make(map[string]*models.PluginSetting)
	for rows.Next() {
		var d models.PluginSetting
		if err := rows.Scan(&d.PluginName, &d.Key, &d.Type, &d.Label, &d.Description, &d.Default, &d.Options, &d.Value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		defs[d.Key] = &d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[plugin] = defs
	s.mu.Unlock()

	return sortedSettings(defs), nil
}

// Set writes a value for (plugin, key), coercing it according to the
// setting's declared type. Writing nil clears the override, falling
// back to the default on subsequent reads. On success the plugin's
// cache entry is invalidated and any registered refresh hooks fire.
func (s *Store) Set(ctx context.Context, plugin, key string, value any) error {
	def, err := s.lookup(ctx, plugin, key)
	if err != nil {
		if plugin == models.SystemPluginName {
			return err // system settings must pre-exist
		}
		def = &models.PluginSetting{PluginName: plugin, Key: key, Type: models.SettingTypeJSON}
	}

	var raw json.RawMessage
	if value == nil {
		raw = nil
	} else {
		raw, err = coerce(def, value)
		if err != nil {
			return err
		}
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO plugin_settings (plugin_name, key, type, label, description, default_value, options, value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (plugin_name, key) DO UPDATE SET value = EXCLUDED.value`,
		def.PluginName, def.Key, def.Type, def.Label, def.Description, def.Default, def.Options, raw,
	); err != nil {
		return fmt.Errorf("write setting %s/%s: %w", plugin, key, err)
	}

	s.invalidate(plugin)
	s.fireHooks(ctx, plugin, key, raw)
	return nil
}

// Declare registers (or updates) a plugin setting's schema, used by the
// Plugin Loader when importing a manifest's settings block. It does not
// touch an existing override value.
func (s *Store) Declare(ctx context.Context, def *models.PluginSetting) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO plugin_settings (plugin_name, key, type, label, description, default_value, options, value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
		ON CONFLICT (plugin_name, key) DO UPDATE SET
			type = EXCLUDED.type, label = EXCLUDED.label, description = EXCLUDED.description,
			default_value = EXCLUDED.default_value, options = EXCLUDED.options`,
		def.PluginName, def.Key, def.Type, def.Label, def.Description, def.Default, def.Options,
	); err != nil {
		return fmt.Errorf("declare setting %s/%s: %w", def.PluginName, def.Key, err)
	}
	s.invalidate(def.PluginName)
	return nil
}

func (s *Store) lookup(ctx context.Context, plugin, key string) (*models.PluginSetting, error) {
	if defs, ok := s.cachedPlugin(plugin); ok {
		if d, ok := defs[key]; ok {
			return d, nil
		}
		return nil, apierr.WithCode(apierr.CodeNotFound, apierr.ErrNotFound)
	}

	var d models.PluginSetting
	err := s.pool.QueryRow(ctx,
		`SELECT plugin_name, key, type, label, description, default_value, options, value
		 FROM plugin_settings WHERE plugin_name = $1 AND key = $2`, plugin, key,
	).Scan(&d.PluginName, &d.Key, &d.Type, &d.Label, &d.Description, &d.Default, &d.Options, &d.Value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apierr.WithCode(apierr.CodeNotFound, apierr.ErrNotFound)
		}
		return nil, fmt.Errorf("lookup setting %s/%s: %w", plugin, key, err)
	}
	return &d, nil
}

func (s *Store) cachedPlugin(plugin string) (map[string]*models.PluginSetting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs, ok := s.cache[plugin]
	return defs, ok
}

func (s *Store) invalidate(plugin string) {
	s.mu.Lock()
	delete(s.cache, plugin)
	s.mu.Unlock()
}

func (s *Store) fireHooks(ctx context.Context, plugin, key string, value json.RawMessage) {
	s.hooksMu.RLock()
	hooks := append([]RefreshHook(nil), s.hooks[hookKey(plugin, key)]...)
	s.hooksMu.RUnlock()

	for _, hook := range hooks {
		s.runHook(ctx, hook, plugin, key, value)
	}
}

func (s *Store) runHook(ctx context.Context, hook RefreshHook, plugin, key string, value json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("settings refresh hook panicked", "plugin", plugin, "key", key, "panic", r)
		}
	}()
	hook(ctx, plugin, key, value)
}

func sortedSettings(defs map[string]*models.PluginSetting) []*models.PluginSetting {
	out := make([]*models.PluginSetting, 0, len(defs))
	for _, d := range defs {
		out = append(out, d)
	}
	sortSettings(out)
	return out
}

func sortSettings(defs []*models.PluginSetting) {
	for i := 1; i < len(defs); i++ {
		for j := i; j > 0 && defs[j-1].Key > defs[j].Key; j-- {
			defs[j-1], defs[j] = defs[j], defs[j-1]
		}
	}
}

// coerce validates and normalizes value according to def.Type, returning
// the canonical JSON encoding to persist.
func coerce(def *models.PluginSetting, value any) (json.RawMessage, error) {
	switch def.Type {
	case models.SettingTypeNumber:
		return coerceNumber(value)
	case models.SettingTypeBoolean:
		return coerceBoolean(value)
	case models.SettingTypeSelect:
		return coerceSelect(def, value)
	case models.SettingTypeJSON:
		return coerceJSON(value)
	case models.SettingTypePathMap:
		return coercePathMap(value)
	default: // string, or unknown type: accept as opaque JSON
		return json.Marshal(value)
	}
}

func coerceNumber(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case float64:
		return json.Marshal(v)
	case int:
		return json.Marshal(float64(v))
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, apierr.NewValidationError(apierr.CodeInvalidNumber, "%q is not a number", v)
		}
		return json.Marshal(f)
	default:
		return nil, apierr.NewValidationError(apierr.CodeInvalidNumber, "%v is not a number", value)
	}
}

func coerceBoolean(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case bool:
		return json.Marshal(v)
	case float64:
		if v == 0 || v == 1 {
			return json.Marshal(v == 1)
		}
	case int:
		if v == 0 || v == 1 {
			return json.Marshal(v == 1)
		}
	case string:
		switch strings.ToLower(v) {
		case "true":
			return json.Marshal(true)
		case "false":
			return json.Marshal(false)
		}
	}
	return nil, apierr.NewValidationError(apierr.CodeInvalidBoolean, "%v is not a boolean", value)
}

func coerceSelect(def *models.PluginSetting, value any) (json.RawMessage, error) {
	s, ok := value.(string)
	if !ok {
		return nil, apierr.NewValidationError(apierr.CodeInvalidOption, "%v is not a valid option", value)
	}
	var options []string
	if len(def.Options) > 0 {
		if err := json.Unmarshal(def.Options, &options); err != nil {
			return nil, fmt.Errorf("decode declared options: %w", err)
		}
	}
	for _, opt := range options {
		if opt == s {
			return json.Marshal(s)
		}
	}
	return nil, apierr.NewValidationError(apierr.CodeInvalidOption, "%q is not one of %v", s, options)
}

func coerceJSON(value any) (json.RawMessage, error) {
	if s, ok := value.(string); ok {
		var probe any
		if err := json.Unmarshal([]byte(s), &probe); err != nil {
			return nil, apierr.NewValidationError(apierr.CodeInvalidJSON, "invalid JSON string: %v", err)
		}
		return json.RawMessage(s), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, apierr.NewValidationError(apierr.CodeInvalidJSON, "value is not JSON-encodable: %v", err)
	}
	return raw, nil
}

func coercePathMap(value any) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, apierr.NewValidationError(apierr.CodeInvalidJSON, "path_map is not JSON-encodable: %v", err)
	}
	var entries []models.PathMapEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, apierr.NewValidationError(apierr.CodeInvalidJSON, "path_map must be a list of {source,target,slash_mode}: %v", err)
	}
	for i, e := range entries {
		switch e.SlashMode {
		case models.SlashModeAuto, models.SlashModeUnix, models.SlashModeWindows, models.SlashModeUnchanged, "":
		default:
			return nil, apierr.NewValidationError(apierr.CodeInvalidJSON, "path_map[%d].slash_mode %q is invalid", i, e.SlashMode)
		}
	}
	return raw, nil
}
