// Package airesults implements the AI Results Store (spec §4.7):
// persisting model runs, per-frame timespans, and per-(category, label)
// duration aggregates for one (service, entity) pair, and the read paths
// that serve them back out.
package airesults

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stashsense/orchestrator/pkg/models"
)

// ResolveReferenceFunc resolves a (label, category) pair to an external
// catalog id, called once per distinct pair in a payload.
type ResolveReferenceFunc func(ctx context.Context, label, category string) (*int64, error)

// Store persists and queries AI model run results.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RequestedModel is one model exercised by a run, with its own input params
// and frame interval (a payload can blend models with different sampling
// rates).
type RequestedModel struct {
	Service       string
	ModelID       string
	Name          string
	Version       string
	Type          string
	Extra         json.RawMessage
	InputParams   json.RawMessage
	FrameInterval float64
}

// StoreSceneRunInput bundles store_scene_run's parameters (spec §4.7).
type StoreSceneRunInput struct {
	Service          string
	Plugin           string
	SceneID          string
	InputParams      json.RawMessage
	Payload          models.ModelPayload
	RequestedModels  []RequestedModel
	ResolveReference ResolveReferenceFunc
}

// StoreSceneRun persists one completed model run and its derived rows in a
// single transaction, per spec §5's "AIModelRun writes are done in a single
// transaction per scene" resource policy.
func (s *Store) StoreSceneRun(ctx context.Context, in StoreSceneRunInput) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin scene run transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	runID, err := s.insertRun(ctx, tx, in)
	if err != nil {
		return 0, err
	}

	for _, rm := range in.RequestedModels {
		modelID, err := s.upsertModel(ctx, tx, rm)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO ai_model_run_models (run_id, model_id, input_params, frame_interval)
			VALUES ($1, $2, $3, $4)`,
			runID, modelID, nullableJSON(rm.InputParams), rm.FrameInterval); err != nil {
			return 0, fmt.Errorf("link model to run: %w", err)
		}
	}

	refCache := make(map[string]*int64)
	resolve := func(label, category string) (*int64, error) {
		key := category + "\x00" + label
		if id, ok := refCache[key]; ok {
			return id, nil
		}
		var id *int64
		var err error
		if in.ResolveReference != nil {
			id, err = in.ResolveReference(ctx, label, category)
			if err != nil {
				return nil, err
			}
		}
		refCache[key] = id
		return id, nil
	}

	type accKey struct{ category, label string }
	totals := make(map[accKey]float64)

	categories := sortedKeys(in.Payload.Timespans)
	for _, category := range categories {
		labels := in.Payload.Timespans[category]
		for _, label := range sortedKeys(labels) {
			frames := labels[label]
			refID, err := resolve(label, category)
			if err != nil {
				return 0, fmt.Errorf("resolve reference for %s/%s: %w", category, label, err)
			}

			for _, f := range frames {
				end := frameEnd(f, in.Payload.FrameInterval)
				if _, err := tx.Exec(ctx, `
					INSERT INTO ai_result_timespans (run_id, entity_id, payload_type, category, label, reference_id, start_s, end_s, confidence)
					VALUES ($1, $2, 'scene', $3, $4, $5, $6, $7, $8)`,
					runID, in.SceneID, category, label, refID, f.Start, end, f.Confidence); err != nil {
					return 0, fmt.Errorf("insert timespan %s/%s: %w", category, label, err)
				}
				totals[accKey{category, label}] += end - f.Start
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO ai_result_aggregates (run_id, entity_id, payload_type, category, label, reference_id, metric, value_float)
				VALUES ($1, $2, 'scene', $3, $4, $5, 'duration_s', $6)`,
				runID, in.SceneID, category, label, refID, totals[accKey{category, label}]); err != nil {
				return 0, fmt.Errorf("insert aggregate %s/%s: %w", category, label, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit scene run: %w", err)
	}
	return runID, nil
}

func (s *Store) insertRun(ctx context.Context, tx pgx.Tx, in StoreSceneRunInput) (int64, error) {
	metadata, err := json.Marshal(map[string]any{
		"schema_version": in.Payload.SchemaVersion,
		"plugin":         in.Plugin,
		"frame_interval": in.Payload.FrameInterval,
	})
	if err != nil {
		return 0, err
	}

	var runID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO ai_model_runs (service, entity_type, entity_id, status, started_at, completed_at, input_params, result_metadata)
		VALUES ($1, 'scene', $2, $3, $4, $4, $5, $6)
		RETURNING id`,
		in.Service, in.SceneID, models.AIModelRunStatusCompleted, time.Now(), nullableJSON(in.InputParams), metadata).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

func (s *Store) upsertModel(ctx context.Context, tx pgx.Tx, rm RequestedModel) (int64, error) {
	var modelID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO ai_models (service, model_id, name, version, type, extra)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (service, model_id, name) DO UPDATE SET
			version = EXCLUDED.version,
			type = EXCLUDED.type,
			extra = COALESCE(EXCLUDED.extra, ai_models.extra)
		RETURNING id`,
		rm.Service, rm.ModelID, rm.Name, rm.Version, rm.Type, nullableJSON(rm.Extra)).Scan(&modelID)
	if err != nil {
		return 0, fmt.Errorf("upsert model %s/%s: %w", rm.Service, rm.Name, err)
	}
	return modelID, nil
}

// GetLatestSceneRun returns the most recently started run for (service, sceneID).
func (s *Store) GetLatestSceneRun(ctx context.Context, service, sceneID string) (*models.AIModelRun, error) {
	var run models.AIModelRun
	err := s.pool.QueryRow(ctx, `
		SELECT id, service, entity_type, entity_id, status, started_at, completed_at, input_params, result_metadata
		FROM ai_model_runs
		WHERE service = $1 AND entity_type = 'scene' AND entity_id = $2
		ORDER BY started_at DESC
		LIMIT 1`, service, sceneID).Scan(
		&run.ID, &run.Service, &run.EntityType, &run.EntityID, &run.Status,
		&run.StartedAt, &run.CompletedAt, &run.InputParams, &run.ResultMetadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// SceneTimespanFilter narrows get_scene_timespans to a payload type/category/label.
type SceneTimespanFilter struct {
	PayloadType string
	Category    string
	Label       string
}

// GetSceneTimespans returns every timespan for sceneID matching the filter,
// optionally restricted to one run.
func (s *Store) GetSceneTimespans(ctx context.Context, sceneID string, runID *int64, filter SceneTimespanFilter) ([]models.AIResultTimespan, error) {
	query := `
		SELECT id, run_id, entity_id, payload_type, category, label, reference_id, start_s, end_s, confidence
		FROM ai_result_timespans WHERE entity_id = $1`
	args := []any{sceneID}

	if runID != nil {
		args = append(args, *runID)
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
	}
	if filter.PayloadType != "" {
		args = append(args, filter.PayloadType)
		query += fmt.Sprintf(" AND payload_type = $%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Label != "" {
		args = append(args, filter.Label)
		query += fmt.Sprintf(" AND label = $%d", len(args))
	}
	query += " ORDER BY start_s"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AIResultTimespan
	for rows.Next() {
		var t models.AIResultTimespan
		if err := rows.Scan(&t.ID, &t.RunID, &t.EntityID, &t.PayloadType, &t.Category, &t.Label, &t.ReferenceID, &t.StartS, &t.EndS, &t.Confidence); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetSceneTagTotals returns, for each (category, label), the most recent
// duration_s aggregate for sceneID — one row per tag, from that tag's
// latest run only.
func (s *Store) GetSceneTagTotals(ctx context.Context, sceneID string) ([]models.AIResultAggregate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (a.category, a.label)
			a.id, a.run_id, a.entity_id, a.payload_type, a.category, a.label, a.reference_id, a.metric, a.value_float
		FROM ai_result_aggregates a
		JOIN ai_model_runs r ON r.id = a.run_id
		WHERE a.entity_id = $1 AND a.metric = 'duration_s'
		ORDER BY a.category, a.label, r.started_at DESC`, sceneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AIResultAggregate
	for rows.Next() {
		var a models.AIResultAggregate
		if err := rows.Scan(&a.ID, &a.RunID, &a.EntityID, &a.PayloadType, &a.Category, &a.Label, &a.ReferenceID, &a.Metric, &a.ValueFloat); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// frameEnd resolves a frame's end timestamp: explicit if given, otherwise
// start + the payload's sampling interval.
func frameEnd(f models.Frame, frameInterval float64) float64 {
	if f.End != nil {
		return *f.End
	}
	return f.Start + frameInterval
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
