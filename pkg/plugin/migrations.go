package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// applyMigrations runs every pending <dir>/migrations/NNNN_*.sql file, in
// lexicographic order, whose stem sorts after currentHead. Spec §4.2 frames
// a migration as exposing an `upgrade(connection)` routine; the idiomatic
// Go rendition of that — matching the core schema's own golang-migrate
// convention in pkg/database — is a plain SQL file run inside one
// transaction per file. Returns the head reached before any failure, so a
// partial run is still recorded correctly.
func applyMigrations(ctx context.Context, pool *pgxpool.Pool, pluginDir, currentHead string) (newHead string, err error) {
	migrationsDir := filepath.Join(pluginDir, "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return currentHead, nil
		}
		return currentHead, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	head := currentHead
	for _, name := range files {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if stem <= head {
			continue
		}

		body, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return head, fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return head, fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, execErr := tx.Exec(ctx, string(body)); execErr != nil {
			_ = tx.Rollback(ctx)
			return head, fmt.Errorf("apply migration %s: %w", name, execErr)
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return head, fmt.Errorf("commit migration %s: %w", name, commitErr)
		}
		head = stem
	}
	return head, nil
}
