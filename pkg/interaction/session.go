package interaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// resolveSession implements spec §4.6's "_find_or_create_session_id":
// canonical lookup, then alias, then fingerprint-based merge into a recent
// non-finalized session, then stale-finalization-and-create.
func (ig *Ingestor) resolveSession(ctx context.Context, tx pgx.Tx, incoming, fingerprint string, now time.Time) (string, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT true FROM interaction_sessions WHERE session_id = $1`, incoming).Scan(&exists)
	if err == nil {
		return incoming, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	var canonical string
	err = tx.QueryRow(ctx, `SELECT canonical_session_id FROM interaction_session_aliases WHERE alias_session_id = $1`, incoming).Scan(&canonical)
	if err == nil {
		return canonical, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	if fingerprint != "" {
		mergeSince := now.Add(-ig.mergeTTL)
		err = tx.QueryRow(ctx, `
			SELECT session_id FROM interaction_sessions
			WHERE client_fingerprint = $1 AND ended_at IS NULL AND last_event_ts >= $2
			ORDER BY last_event_ts DESC LIMIT 1`, fingerprint, mergeSince).Scan(&canonical)
		if err == nil {
			if _, aliasErr := tx.Exec(ctx, `
				INSERT INTO interaction_session_aliases (alias_session_id, canonical_session_id)
				VALUES ($1, $2) ON CONFLICT DO NOTHING`, incoming, canonical); aliasErr != nil {
				return "", aliasErr
			}
			return canonical, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", err
		}

		if finalizeErr := ig.finalizeStaleSessions(ctx, tx, fingerprint, now); finalizeErr != nil {
			return "", finalizeErr
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO interaction_sessions (session_id, client_fingerprint, session_start_ts, last_event_ts)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (session_id) DO NOTHING`, incoming, fingerprint, now)
	if err != nil {
		return "", err
	}
	return incoming, nil
}

// finalizeStaleSessions implements spec §4.6's "Stale finalization": any
// non-ended session for this fingerprint whose last activity predates the
// merge window is closed, and long-enough sessions bump their last entity's
// derived_o_count by one.
func (ig *Ingestor) finalizeStaleSessions(ctx context.Context, tx pgx.Tx, fingerprint string, now time.Time) error {
	stale, err := ig.queryStaleSessions(ctx, tx, fingerprint, ig.mergeTTL, now)
	if err != nil {
		return err
	}
	return ig.closeStaleSessions(ctx, tx, stale)
}

// FinalizeAllStaleSessions sweeps every fingerprint for sessions that have
// gone quiet past ttl, independent of any particular incoming event. Unlike
// finalizeStaleSessions (invoked inline from resolveSession for the
// fingerprint of the event currently being ingested), this covers
// fingerprints that simply never send another event — without it those
// sessions would stay open (ended_at NULL) forever. Intended to be called
// periodically by pkg/cleanup with a longer backstop ttl than the merge
// window (a crashed tab is not the same signal as a normal merge gap).
// Runs in its own transaction and returns the number of sessions closed.
func (ig *Ingestor) FinalizeAllStaleSessions(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	tx, err := ig.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stale, err := ig.queryStaleSessions(ctx, tx, "", ttl, now)
	if err != nil {
		return 0, err
	}
	if err := ig.closeStaleSessions(ctx, tx, stale); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(stale), nil
}

type staleSession struct {
	sessionID            string
	start, last          time.Time
	entityType, entityID string
}

// queryStaleSessions finds open sessions whose last activity predates
// now-ttl. When fingerprint is empty, it sweeps across all fingerprints.
func (ig *Ingestor) queryStaleSessions(ctx context.Context, tx pgx.Tx, fingerprint string, ttl time.Duration, now time.Time) ([]staleSession, error) {
	cutoff := now.Add(-ttl)

	var rows pgx.Rows
	var err error
	if fingerprint != "" {
		rows, err = tx.Query(ctx, `
			SELECT session_id, session_start_ts, last_event_ts, last_entity_type, last_entity_id
			FROM interaction_sessions
			WHERE client_fingerprint = $1 AND ended_at IS NULL AND last_event_ts < $2`, fingerprint, cutoff)
	} else {
		rows, err = tx.Query(ctx, `
			SELECT session_id, session_start_ts, last_event_ts, last_entity_type, last_entity_id
			FROM interaction_sessions
			WHERE ended_at IS NULL AND last_event_ts < $1`, cutoff)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []staleSession
	for rows.Next() {
		var s staleSession
		if err := rows.Scan(&s.sessionID, &s.start, &s.last, &s.entityType, &s.entityID); err != nil {
			return nil, err
		}
		stale = append(stale, s)
	}
	return stale, rows.Err()
}

func (ig *Ingestor) closeStaleSessions(ctx context.Context, tx pgx.Tx, stale []staleSession) error {
	for _, s := range stale {
		if _, err := tx.Exec(ctx, `UPDATE interaction_sessions SET ended_at = $2 WHERE session_id = $1`, s.sessionID, s.last); err != nil {
			return err
		}
		if s.last.Sub(s.start) >= ig.minSessionDuration && s.entityType != "" && s.entityID != "" {
			if err := ig.incrementDerivedOCount(ctx, tx, s.entityType, s.entityID); err != nil {
				return err
			}
		}
	}
	return nil
}

// incrementDerivedOCount bumps the o-counter on the scene_derived or
// image_derived row for entityID, creating it if absent. The table name is
// one of two hardcoded literals, never caller-supplied, so interpolation
// here carries no injection risk.
func (ig *Ingestor) incrementDerivedOCount(ctx context.Context, tx pgx.Tx, entityType, entityID string) error {
	var table string
	switch entityType {
	case "scene":
		table = "scene_derived"
	case "image":
		table = "image_derived"
	default:
		return nil
	}
	_, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (entity_id, derived_o_count) VALUES ($1, 1)
		ON CONFLICT (entity_id) DO UPDATE SET derived_o_count = %s.derived_o_count + 1`, table, table), entityID)
	return err
}
