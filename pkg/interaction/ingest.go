package interaction

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stashsense/orchestrator/pkg/config"
	"github.com/stashsense/orchestrator/pkg/models"
)

// IngestResult is the outcome of one ingest_events batch call (spec §4.6).
type IngestResult struct {
	Accepted   int
	Duplicates int
	Errors     []string
}

// Ingestor implements the Interaction Ingestor described in spec §4.6: it
// turns a batch of raw client events into persisted InteractionEvents,
// resolved sessions, and recomputed scene-watch segments.
type Ingestor struct {
	pool *pgxpool.Pool

	mergeTTL           time.Duration
	minSessionDuration time.Duration
	segmentMinDuration float64
	segmentMergeGap    float64
	segmentMargin      float64
}

// NewIngestor builds an Ingestor from the system Defaults.
func NewIngestor(pool *pgxpool.Pool, defaults *config.Defaults) *Ingestor {
	if defaults == nil {
		defaults = config.DefaultDefaults()
	}
	return &Ingestor{
		pool:               pool,
		mergeTTL:           defaults.MergeTTL,
		minSessionDuration: defaults.MinSessionSeconds,
		segmentMinDuration: defaults.SegmentMinDuration.Seconds(),
		segmentMergeGap:    defaults.SegmentMergeGap.Seconds(),
		segmentMargin:      defaults.SegmentMargin.Seconds(),
	}
}

type scenePairKey struct {
	session string
	scene   string
}

// IngestEvents implements spec §4.6's ingest_events entry point: the whole
// batch commits (or rolls back) as one transaction, but a malformed
// individual event is isolated behind its own savepoint so it can't sink
// the rest of the batch.
func (ig *Ingestor) IngestEvents(ctx context.Context, batch []models.IncomingEvent, clientFingerprint string) (IngestResult, error) {
	if len(batch) == 0 {
		return IngestResult{}, nil
	}

	sorted := make([]models.IncomingEvent, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ClientTS.Before(sorted[j].ClientTS) })

	tx, err := ig.pool.Begin(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("begin ingest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existingIDs, err := ig.existingClientEventIDs(ctx, tx, sorted)
	if err != nil {
		return IngestResult{}, fmt.Errorf("dedupe lookup: %w", err)
	}

	now := time.Now()
	canonical := make(map[string]string, len(sorted))
	result := IngestResult{}
	touchedPairs := make(map[scenePairKey]bool)

	for i := range sorted {
		ev := &sorted[i]
		if ev.SessionID == "" {
			result.Errors = append(result.Errors, "event missing session_id")
			continue
		}
		if _, ok := canonical[ev.SessionID]; !ok {
			id, resolveErr := ig.resolveSession(ctx, tx, ev.SessionID, clientFingerprint, now)
			if resolveErr != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("session resolution failed for %q: %v", ev.SessionID, resolveErr))
				continue
			}
			canonical[ev.SessionID] = id
		}
		resolvedSession, ok := canonical[ev.SessionID]
		if !ok {
			continue
		}
		ev.SessionID = resolvedSession

		accepted, duplicate, commitErr := ig.commitEvent(ctx, tx, *ev, existingIDs)
		if commitErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("event %s failed: %v", ev.ClientEventID, commitErr))
			continue
		}
		if duplicate {
			result.Duplicates++
			continue
		}
		if accepted {
			result.Accepted++
		}
		if ev.EntityType == "scene" && ev.EntityID != "" {
			touchedPairs[scenePairKey{session: ev.SessionID, scene: ev.EntityID}] = true
		}
	}

	for pair := range touchedPairs {
		if err := ig.updateSceneSummary(ctx, tx, pair.session, pair.scene, sorted); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("scene summary failed for session=%s scene=%s: %v", pair.session, pair.scene, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return IngestResult{}, fmt.Errorf("commit ingest transaction: %w", err)
	}
	return result, nil
}

func (ig *Ingestor) existingClientEventIDs(ctx context.Context, tx pgx.Tx, batch []models.IncomingEvent) (map[string]bool, error) {
	ids := make([]string, 0, len(batch))
	for _, ev := range batch {
		if ev.ClientEventID != "" {
			ids = append(ids, ev.ClientEventID)
		}
	}
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	rows, err := tx.Query(ctx, `SELECT client_event_id FROM interaction_events WHERE client_event_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// commitEvent persists one event under its own savepoint. scene_watch_progress
// is never persisted as a row (§3); it only ever feeds the session's
// last-entity fields and the in-memory replay sequence for segment recompute.
func (ig *Ingestor) commitEvent(ctx context.Context, tx pgx.Tx, ev models.IncomingEvent, existingIDs map[string]bool) (accepted, duplicate bool, err error) {
	if ev.ClientEventID != "" && existingIDs[ev.ClientEventID] {
		return false, true, nil
	}

	spName := savepointName(ev)
	if _, err = tx.Exec(ctx, "SAVEPOINT "+spName); err != nil {
		return false, false, err
	}
	defer func() {
		if err != nil {
			_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+spName)
		} else {
			_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+spName)
		}
	}()

	if ev.EventType != models.EventTypeSceneWatchProgress {
		var clientEventID any
		if ev.ClientEventID != "" {
			clientEventID = ev.ClientEventID
		}
		if _, execErr := tx.Exec(ctx, `
			INSERT INTO interaction_events (client_event_id, session_id, event_type, entity_type, entity_id, client_ts, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			clientEventID, ev.SessionID, ev.EventType, ev.EntityType, ev.EntityID, ev.ClientTS, nullableRaw(ev.Metadata)); execErr != nil {
			err = execErr
			return false, false, err
		}
	}

	if touchErr := ig.touchSession(ctx, tx, ev); touchErr != nil {
		err = touchErr
		return false, false, err
	}

	return true, false, nil
}

// touchSession implements spec §4.6's "update the session's last-entity
// pointer" rule: scene/image/gallery events set it directly; session-scoped
// events may carry an explicit last_entity override in their metadata.
func (ig *Ingestor) touchSession(ctx context.Context, tx pgx.Tx, ev models.IncomingEvent) error {
	switch ev.EntityType {
	case "scene", "image", "gallery":
		_, err := tx.Exec(ctx, `
			UPDATE interaction_sessions
			SET last_event_ts = $2, last_entity_type = $3, last_entity_id = $4, last_entity_event_ts = $2
			WHERE session_id = $1`, ev.SessionID, ev.ClientTS, ev.EntityType, ev.EntityID)
		return err
	case "session":
		if entityType, entityID, ts, ok := parseLastEntityMetadata(ev.Metadata); ok {
			_, err := tx.Exec(ctx, `
				UPDATE interaction_sessions
				SET last_event_ts = $2, last_entity_type = $3, last_entity_id = $4, last_entity_event_ts = $5
				WHERE session_id = $1`, ev.SessionID, ev.ClientTS, entityType, entityID, ts)
			return err
		}
		fallthrough
	default:
		_, err := tx.Exec(ctx, `UPDATE interaction_sessions SET last_event_ts = $2 WHERE session_id = $1`, ev.SessionID, ev.ClientTS)
		return err
	}
}

func savepointName(ev models.IncomingEvent) string {
	if ev.ClientEventID != "" {
		return "sp_" + sanitizeIdentifier(ev.ClientEventID)
	}
	return fmt.Sprintf("sp_%d", ev.ClientTS.UnixNano())
}

func sanitizeIdentifier(s string) string {
	out := make([]byte, 0, len(s))
	hasAlnum := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
			hasAlnum = true
		default:
			out = append(out, '_')
		}
	}
	if !hasAlnum {
		return "x"
	}
	return string(out)
}
