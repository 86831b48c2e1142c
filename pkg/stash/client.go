// Package stash implements the external Stash Reflector Client (SPEC_FULL
// §4.8): an opaque collaborator over the separate media-catalog
// application's own database and GraphQL-ish mutation endpoint. It exposes
// only the two operations the rest of this system needs — scene lookup and
// tag-write — never a general query planner, per Non-goals.
package stash

import (
	"context"
)

// Scene is the subset of Stash's own scene record this system cares about.
type Scene struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	TagIDs []string `json:"tag_ids"`
}

// Client is the external-collaborator interface the Task Manager's
// handlers and the AI Results Store's resolve_reference callback call
// against. Two implementations exist: PGReflector (read-only, direct to
// Stash's own Postgres catalog) and HTTPGraphQLClient (mutations, over
// Stash's GraphQL API).
type Client interface {
	FindScene(ctx context.Context, sceneID string) (*Scene, error)
	UpdateSceneTags(ctx context.Context, sceneID string, tagIDs []string) error
	Ping(ctx context.Context) error
}
