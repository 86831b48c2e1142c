package stash

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGReflector reads scene metadata directly out of Stash's own catalog
// database, read-only, over the same jackc/pgx/v5 driver the rest of this
// system uses. It never writes — tag mutations go through
// HTTPGraphQLClient, since Stash's own write path enforces invariants
// (gallery linking, file rescans) this system has no business bypassing.
type PGReflector struct {
	pool *pgxpool.Pool
}

// NewPGReflector wraps an existing connection pool to Stash's catalog
// database.
func NewPGReflector(pool *pgxpool.Pool) *PGReflector {
	return &PGReflector{pool: pool}
}

var _ Client = (*PGReflector)(nil)

func (r *PGReflector) FindScene(ctx context.Context, sceneID string) (*Scene, error) {
	var s Scene
	var tagIDs []string
	err := r.pool.QueryRow(ctx, `
		SELECT s.id::text, s.title, COALESCE(array_agg(st.tag_id::text) FILTER (WHERE st.tag_id IS NOT NULL), '{}')
		FROM scenes s
		LEFT JOIN scenes_tags st ON st.scene_id = s.id
		WHERE s.id::text = $1
		GROUP BY s.id, s.title`, sceneID).Scan(&s.ID, &s.Title, &tagIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find scene %s: %w", sceneID, err)
	}
	s.TagIDs = tagIDs
	return &s, nil
}

// UpdateSceneTags is not supported by the read-only reflector; callers
// needing writes must use HTTPGraphQLClient.
func (r *PGReflector) UpdateSceneTags(ctx context.Context, sceneID string, tagIDs []string) error {
	return fmt.Errorf("PGReflector is read-only: cannot update tags for scene %s", sceneID)
}

func (r *PGReflector) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
