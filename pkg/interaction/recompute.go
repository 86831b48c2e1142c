package interaction

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stashsense/orchestrator/pkg/models"
)

// recomputeSegments implements spec §4.6 step 3's windowed segment
// reconstruction: only the neighborhood of the batch is replayed, not the
// scene's whole history, and the result is reconciled against whatever is
// already persisted.
func (ig *Ingestor) recomputeSegments(ctx context.Context, tx pgx.Tx, sessionID, sceneID string, pairEvents []models.IncomingEvent) error {
	marginSeconds := time.Duration(ig.segmentMargin * float64(time.Second))
	batchMin, batchMax := pairEvents[0].ClientTS, pairEvents[0].ClientTS
	for _, ev := range pairEvents {
		if ev.ClientTS.Before(batchMin) {
			batchMin = ev.ClientTS
		}
		if ev.ClientTS.After(batchMax) {
			batchMax = ev.ClientTS
		}
	}
	windowMin := batchMin.Add(-marginSeconds)
	windowMax := batchMax.Add(marginSeconds)

	var lastProcessed *time.Time
	err := tx.QueryRow(ctx, `SELECT last_processed_event_ts FROM scene_watches WHERE session_id = $1 AND scene_id = $2`, sessionID, sceneID).Scan(&lastProcessed)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	appendFast := lastProcessed != nil && batchMin.After(lastProcessed.Add(marginSeconds))

	priorEvents, err := ig.fetchPriorEvents(ctx, tx, sessionID, sceneID, windowMin)
	if err != nil {
		return err
	}
	windowedEvents, err := ig.fetchWindowedEvents(ctx, tx, sessionID, sceneID, windowMin, windowMax)
	if err != nil {
		return err
	}
	var nextEvent []dbEvent
	if !appendFast {
		nextEvent, err = ig.fetchNextEventAfter(ctx, tx, sessionID, sceneID, windowMax)
		if err != nil {
			return err
		}
	}

	replay := buildReplaySequence(priorEvents, windowedEvents, nextEvent, pairEvents)
	newIntervals := replaySegments(replay, ig.segmentMergeGap)

	existingSegments, err := ig.fetchSegments(ctx, tx, sessionID, sceneID)
	if err != nil {
		return err
	}

	if len(newIntervals) == 0 {
		if extension := ig.extendContinuousPlayback(pairEvents, existingSegments); extension != nil {
			if err := ig.applySegmentExtension(ctx, tx, *extension); err != nil {
				return err
			}
			return ig.updateWatchTotals(ctx, tx, sessionID, sceneID, pairEvents, batchMax)
		}
		return ig.updateWatchTotals(ctx, tx, sessionID, sceneID, pairEvents, batchMax)
	}

	combined := append(append([]models.Interval{}, newIntervals...), segmentsToIntervals(existingSegments)...)
	merged := filterByMinDuration(mergeIntervals(combined, ig.segmentMergeGap), ig.segmentMinDuration)

	plan := reconcileSegments(merged, existingSegments, ig.segmentMinDuration)
	if err := ig.applySegmentPlan(ctx, tx, sessionID, sceneID, plan); err != nil {
		return err
	}

	return ig.updateWatchTotals(ctx, tx, sessionID, sceneID, pairEvents, batchMax)
}

// fetchPriorEvents returns the 5 most recent persisted events before the
// window, in chronological order, plus the single most recent control event
// before the window if none of those 5 was already a control event — the
// replay needs to know the playback state it's walking into.
func (ig *Ingestor) fetchPriorEvents(ctx context.Context, tx pgx.Tx, sessionID, sceneID string, windowMin time.Time) ([]dbEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT event_type, client_ts, metadata FROM interaction_events
		WHERE session_id = $1 AND entity_type = 'scene' AND entity_id = $2 AND client_ts < $3
		ORDER BY client_ts DESC LIMIT 5`, sessionID, sceneID, windowMin)
	if err != nil {
		return nil, err
	}
	events, err := scanDBEvents(rows)
	if err != nil {
		return nil, err
	}

	hasControl := false
	for _, e := range events {
		if controlEventTypes[e.eventType] {
			hasControl = true
			break
		}
	}
	if !hasControl {
		var e dbEvent
		err := tx.QueryRow(ctx, `
			SELECT event_type, client_ts, metadata FROM interaction_events
			WHERE session_id = $1 AND entity_type = 'scene' AND entity_id = $2 AND client_ts < $3
				AND event_type IN ('scene_watch_start', 'scene_watch_pause', 'scene_watch_complete', 'scene_seek')
			ORDER BY client_ts DESC LIMIT 1`, sessionID, sceneID, windowMin).Scan(&e.eventType, &e.clientTS, &e.metadata)
		if err == nil {
			events = append(events, e)
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].clientTS.Before(events[j].clientTS) })
	return events, nil
}

func (ig *Ingestor) fetchWindowedEvents(ctx context.Context, tx pgx.Tx, sessionID, sceneID string, windowMin, windowMax time.Time) ([]dbEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT event_type, client_ts, metadata FROM interaction_events
		WHERE session_id = $1 AND entity_type = 'scene' AND entity_id = $2 AND client_ts BETWEEN $3 AND $4
		ORDER BY client_ts ASC`, sessionID, sceneID, windowMin, windowMax)
	if err != nil {
		return nil, err
	}
	return scanDBEvents(rows)
}

func (ig *Ingestor) fetchNextEventAfter(ctx context.Context, tx pgx.Tx, sessionID, sceneID string, windowMax time.Time) ([]dbEvent, error) {
	var e dbEvent
	err := tx.QueryRow(ctx, `
		SELECT event_type, client_ts, metadata FROM interaction_events
		WHERE session_id = $1 AND entity_type = 'scene' AND entity_id = $2 AND client_ts > $3
		ORDER BY client_ts ASC LIMIT 1`, sessionID, sceneID, windowMax).Scan(&e.eventType, &e.clientTS, &e.metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return []dbEvent{e}, nil
}

func (ig *Ingestor) fetchSegments(ctx context.Context, tx pgx.Tx, sessionID, sceneID string) ([]models.SceneWatchSegment, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, scene_watch_id, session_id, scene_id, start_s, end_s, watched_s
		FROM scene_watch_segments WHERE session_id = $1 AND scene_id = $2 ORDER BY start_s ASC`, sessionID, sceneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.SceneWatchSegment
	for rows.Next() {
		var s models.SceneWatchSegment
		if err := rows.Scan(&s.ID, &s.SceneWatchID, &s.SessionID, &s.SceneID, &s.StartS, &s.EndS, &s.WatchedS); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// buildReplaySequence merges persisted context events with the batch's
// unpersisted progress events into one chronological replay input.
func buildReplaySequence(prior, windowed, next []dbEvent, batch []models.IncomingEvent) []ReplayEvent {
	type timed struct {
		ts time.Time
		ev ReplayEvent
	}
	var all []timed
	for _, group := range [][]dbEvent{prior, windowed, next} {
		for _, e := range group {
			all = append(all, timed{e.clientTS, toReplayEvent(e.eventType, e.metadata)})
		}
	}
	for _, ev := range batch {
		if ev.EventType == models.EventTypeSceneWatchProgress {
			all = append(all, timed{ev.ClientTS, toReplayEvent(ev.EventType, ev.Metadata)})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })

	out := make([]ReplayEvent, len(all))
	for i, t := range all {
		out[i] = t.ev
	}
	return out
}

func segmentsToIntervals(segments []models.SceneWatchSegment) []models.Interval {
	out := make([]models.Interval, len(segments))
	for i, s := range segments {
		out[i] = models.Interval{Start: s.StartS, End: s.EndS}
	}
	return out
}

func filterByMinDuration(intervals []models.Interval, min float64) []models.Interval {
	var out []models.Interval
	for _, iv := range intervals {
		if iv.End-iv.Start >= min {
			out = append(out, iv)
		}
	}
	return out
}

// extendContinuousPlayback handles the case where the batch contains only
// progress pings (no control transitions) and replay produced no fresh
// intervals of its own: if the reported position has crept past the latest
// existing segment by no more than 4x the merge gap, that's the same
// playback continuing, not a new session of viewing.
func (ig *Ingestor) extendContinuousPlayback(pairEvents []models.IncomingEvent, existing []models.SceneWatchSegment) *SegmentExpansion {
	if len(existing) == 0 {
		return nil
	}
	onlyProgress := true
	var maxPos *float64
	for _, ev := range pairEvents {
		if ev.EventType != models.EventTypeSceneWatchProgress {
			onlyProgress = false
			break
		}
		if pos := eventMetadataFloat(ev.Metadata, "position"); pos != nil {
			if maxPos == nil || *pos > *maxPos {
				maxPos = pos
			}
		}
	}
	if !onlyProgress || maxPos == nil {
		return nil
	}

	latest := existing[0]
	for _, s := range existing {
		if s.EndS > latest.EndS {
			latest = s
		}
	}
	extension := *maxPos - latest.EndS
	if extension <= 0 || extension > 4*ig.segmentMergeGap {
		return nil
	}
	return &SegmentExpansion{ID: latest.ID, Start: latest.StartS, End: *maxPos}
}

func (ig *Ingestor) applySegmentExtension(ctx context.Context, tx pgx.Tx, exp SegmentExpansion) error {
	_, err := tx.Exec(ctx, `UPDATE scene_watch_segments SET end_s = $2, watched_s = $2 - start_s WHERE id = $1`, exp.ID, exp.End)
	return err
}

func (ig *Ingestor) applySegmentPlan(ctx context.Context, tx pgx.Tx, sessionID, sceneID string, plan SegmentPlan) error {
	var watchID int64
	if err := tx.QueryRow(ctx, `SELECT id FROM scene_watches WHERE session_id = $1 AND scene_id = $2`, sessionID, sceneID).Scan(&watchID); err != nil {
		return err
	}

	for _, exp := range plan.Expand {
		if _, err := tx.Exec(ctx, `UPDATE scene_watch_segments SET start_s = $2, end_s = $3, watched_s = $3 - $2 WHERE id = $1`, exp.ID, exp.Start, exp.End); err != nil {
			return err
		}
	}
	for _, iv := range plan.Insert {
		if _, err := tx.Exec(ctx, `
			INSERT INTO scene_watch_segments (scene_watch_id, session_id, scene_id, start_s, end_s, watched_s)
			VALUES ($1, $2, $3, $4, $5, $5 - $4)`, watchID, sessionID, sceneID, iv.Start, iv.End); err != nil {
			return err
		}
	}
	if len(plan.DeleteIDs) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM scene_watch_segments WHERE id = ANY($1)`, plan.DeleteIDs); err != nil {
			return err
		}
	}
	return nil
}

// updateWatchTotals recomputes total_watched_s from the persisted segments
// and derives watch_percent from a reported scene duration when one is
// available, falling back to the page-time span otherwise.
func (ig *Ingestor) updateWatchTotals(ctx context.Context, tx pgx.Tx, sessionID, sceneID string, pairEvents []models.IncomingEvent, batchMax time.Time) error {
	var total float64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(watched_s), 0) FROM scene_watch_segments WHERE session_id = $1 AND scene_id = $2`, sessionID, sceneID).Scan(&total); err != nil {
		return err
	}

	var watchPercent any
	if duration := extractReportedDuration(pairEvents); duration != nil && *duration > 0 {
		watchPercent = total / *duration * 100
	} else {
		var pageEntered, pageLeft *time.Time
		if err := tx.QueryRow(ctx, `SELECT page_entered_at, page_left_at FROM scene_watches WHERE session_id = $1 AND scene_id = $2`, sessionID, sceneID).Scan(&pageEntered, &pageLeft); err == nil && pageEntered != nil && pageLeft != nil {
			if span := pageLeft.Sub(*pageEntered).Seconds(); span > 0 {
				watchPercent = total / span * 100
			}
		}
	}

	_, err := tx.Exec(ctx, `
		UPDATE scene_watches SET total_watched_s = $3, watch_percent = $4, last_processed_event_ts = $5
		WHERE session_id = $1 AND scene_id = $2`, sessionID, sceneID, total, watchPercent, batchMax)
	return err
}

func extractReportedDuration(events []models.IncomingEvent) *float64 {
	for _, ev := range events {
		switch ev.EventType {
		case models.EventTypeSceneWatchStart, models.EventTypeSceneWatchPause,
			models.EventTypeSceneWatchComplete, models.EventTypeSceneWatchProgress, models.EventTypeSceneSeek:
			if d := eventMetadataFloat(ev.Metadata, "duration"); d != nil {
				return d
			}
		}
	}
	return nil
}
