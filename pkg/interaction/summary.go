package interaction

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stashsense/orchestrator/pkg/models"
)

// updateSceneSummary implements spec §4.6 phase 3 for one (session, scene)
// pair touched by the batch: page-time bookkeeping, segment recomputation
// when a watch-related event is present, and view-count aggregation.
func (ig *Ingestor) updateSceneSummary(ctx context.Context, tx pgx.Tx, sessionID, sceneID string, batch []models.IncomingEvent) error {
	pairEvents := filterPair(batch, sessionID, sceneID)
	if len(pairEvents) == 0 {
		return nil
	}

	if err := ig.ensureSceneWatch(ctx, tx, sessionID, sceneID); err != nil {
		return err
	}
	if err := ig.upsertPageTimes(ctx, tx, sessionID, sceneID, pairEvents); err != nil {
		return err
	}

	if hasWatchRelatedEvent(pairEvents) {
		if err := ig.recomputeSegments(ctx, tx, sessionID, sceneID, pairEvents); err != nil {
			return err
		}
	}

	return ig.bumpSceneDerived(ctx, tx, sceneID, pairEvents)
}

func filterPair(batch []models.IncomingEvent, sessionID, sceneID string) []models.IncomingEvent {
	var out []models.IncomingEvent
	for _, ev := range batch {
		if ev.SessionID == sessionID && ev.EntityType == "scene" && ev.EntityID == sceneID {
			out = append(out, ev)
		}
	}
	return out
}

func hasWatchRelatedEvent(events []models.IncomingEvent) bool {
	for _, ev := range events {
		switch ev.EventType {
		case models.EventTypeSceneWatchStart, models.EventTypeSceneWatchPause,
			models.EventTypeSceneWatchComplete, models.EventTypeSceneWatchProgress, models.EventTypeSceneSeek:
			return true
		}
	}
	return false
}

func (ig *Ingestor) ensureSceneWatch(ctx context.Context, tx pgx.Tx, sessionID, sceneID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO scene_watches (session_id, scene_id) VALUES ($1, $2)
		ON CONFLICT (session_id, scene_id) DO NOTHING`, sessionID, sceneID)
	return err
}

// upsertPageTimes records the earliest page-enter/view and, only once the
// session has demonstrably moved its attention elsewhere, the latest
// page-leave for this pair.
func (ig *Ingestor) upsertPageTimes(ctx context.Context, tx pgx.Tx, sessionID, sceneID string, events []models.IncomingEvent) error {
	var earliestEnter, latestLeave *time.Time
	for _, ev := range events {
		switch ev.EventType {
		case models.EventTypeScenePageEnter, models.EventTypeSceneView:
			if earliestEnter == nil || ev.ClientTS.Before(*earliestEnter) {
				ts := ev.ClientTS
				earliestEnter = &ts
			}
		case models.EventTypeScenePageLeave:
			if latestLeave == nil || ev.ClientTS.After(*latestLeave) {
				ts := ev.ClientTS
				latestLeave = &ts
			}
		}
	}
	if earliestEnter == nil && latestLeave == nil {
		return nil
	}

	if earliestEnter != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE scene_watches SET page_entered_at = LEAST(COALESCE(page_entered_at, $3), $3)
			WHERE session_id = $1 AND scene_id = $2`, sessionID, sceneID, *earliestEnter); err != nil {
			return err
		}
	}

	if latestLeave != nil {
		var lastEntityID string
		navigatedAway := true
		if err := tx.QueryRow(ctx, `SELECT last_entity_id FROM interaction_sessions WHERE session_id = $1`, sessionID).Scan(&lastEntityID); err == nil {
			navigatedAway = lastEntityID != sceneID
		}
		if navigatedAway {
			if _, err := tx.Exec(ctx, `
				UPDATE scene_watches SET page_left_at = GREATEST(COALESCE(page_left_at, $3), $3)
				WHERE session_id = $1 AND scene_id = $2`, sessionID, sceneID, *latestLeave); err != nil {
				return err
			}
		}
	}

	return nil
}

func (ig *Ingestor) bumpSceneDerived(ctx context.Context, tx pgx.Tx, sceneID string, events []models.IncomingEvent) error {
	var views int64
	var latest time.Time
	for _, ev := range events {
		if ev.EventType == models.EventTypeSceneView {
			views++
			if ev.ClientTS.After(latest) {
				latest = ev.ClientTS
			}
		}
	}
	if views == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO scene_derived (entity_id, view_count, last_viewed_at) VALUES ($1, $2, $3)
		ON CONFLICT (entity_id) DO UPDATE SET
			view_count = scene_derived.view_count + EXCLUDED.view_count,
			last_viewed_at = GREATEST(scene_derived.last_viewed_at, EXCLUDED.last_viewed_at)`,
		sceneID, views, latest)
	return err
}
