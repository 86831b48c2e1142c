// Package database provides a shared, schema-isolated Postgres test
// client for integration tests across packages.
package database

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stashsense/orchestrator/pkg/database"
	"github.com/stashsense/orchestrator/test/util"
)

// NewTestClient returns a *database.Client connected to a fresh schema
// within the shared test Postgres instance (CI_DATABASE_URL in CI, a
// single testcontainer locally), with the embedded migrations applied.
// The schema is dropped and the pool closed via t.Cleanup.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	baseConnStr := util.GetBaseConnectionString(t)
	schemaName := util.GenerateSchemaName(t)
	util.CreateSchema(t, baseConnStr, schemaName)

	cfg, err := configFromConnString(baseConnStr)
	require.NoError(t, err)
	cfg.SearchPath = schemaName
	cfg.MaxOpenConns = 10
	cfg.MaxIdleConns = 5
	cfg.ConnMaxLifetime = time.Hour
	cfg.ConnMaxIdleTime = 15 * time.Minute

	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(client.Close)

	return client
}

// configFromConnString extracts host/port/user/password/dbname from a
// postgres:// URL connection string as returned by testcontainers.
func configFromConnString(connStr string) (database.Config, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return database.Config{}, err
	}

	port := 5432
	if p := u.Port(); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}

	password, _ := u.User.Password()

	return database.Config{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  "disable",
	}, nil
}
