package plugin

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stashsense/orchestrator/pkg/models"
)

func loadMeta(ctx context.Context, pool *pgxpool.Pool, name string) (*models.PluginMeta, error) {
	var m models.PluginMeta
	var dependsOn []byte
	err := pool.QueryRow(ctx, `
		SELECT name, version, required_backend, status, migration_head, last_error, depends_on
		FROM plugin_meta WHERE name = $1`, name).Scan(
		&m.Name, &m.Version, &m.RequiredBackend, &m.Status, &m.MigrationHead, &m.LastError, &dependsOn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(dependsOn, &m.DependsOn)
	return &m, nil
}

func listMeta(ctx context.Context, pool *pgxpool.Pool) ([]models.PluginMeta, error) {
	rows, err := pool.Query(ctx, `
		SELECT name, version, required_backend, status, migration_head, last_error, depends_on
		FROM plugin_meta ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PluginMeta
	for rows.Next() {
		var m models.PluginMeta
		var dependsOn []byte
		if err := rows.Scan(&m.Name, &m.Version, &m.RequiredBackend, &m.Status, &m.MigrationHead, &m.LastError, &dependsOn); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(dependsOn, &m.DependsOn)
		out = append(out, m)
	}
	return out, rows.Err()
}

func upsertMeta(ctx context.Context, pool *pgxpool.Pool, m models.PluginMeta) error {
	dependsOn, err := json.Marshal(m.DependsOn)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO plugin_meta (name, version, required_backend, status, migration_head, last_error, depends_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			version = EXCLUDED.version,
			required_backend = EXCLUDED.required_backend,
			status = EXCLUDED.status,
			migration_head = EXCLUDED.migration_head,
			last_error = EXCLUDED.last_error,
			depends_on = EXCLUDED.depends_on`,
		m.Name, m.Version, m.RequiredBackend, m.Status, m.MigrationHead, m.LastError, dependsOn)
	return err
}

func deleteMeta(ctx context.Context, pool *pgxpool.Pool, name string) error {
	_, err := pool.Exec(ctx, `DELETE FROM plugin_meta WHERE name = $1`, name)
	return err
}

func declareSettings(ctx context.Context, declare func(context.Context, *models.PluginSetting) error, pluginName string, defs []SettingDef) error {
	for _, d := range defs {
		var defaultRaw, optionsRaw json.RawMessage
		var err error
		if d.Default != nil {
			if defaultRaw, err = json.Marshal(d.Default); err != nil {
				return err
			}
		}
		if d.Options != nil {
			if optionsRaw, err = json.Marshal(d.Options); err != nil {
				return err
			}
		}
		setting := &models.PluginSetting{
			PluginName:  pluginName,
			Key:         d.Key,
			Type:        models.SettingType(d.Type),
			Label:       d.Label,
			Description: d.Description,
			Default:     defaultRaw,
			Options:     optionsRaw,
		}
		if err := declare(ctx, setting); err != nil {
			return err
		}
	}
	return nil
}
