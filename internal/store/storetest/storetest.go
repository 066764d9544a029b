// Package storetest opens isolated Postgres stores for integration tests.
package storetest

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"moderation-queue/internal/store"
)

// DSN returns a DATABASE_URL whose connections use schema as search_path,
// recreating the schema first. Tests are skipped when DATABASE_URL is unset.
func DSN(t *testing.T, schema string) string {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := pgx.Connect(ctx, databaseURL)
	require.NoError(t, err)
	defer conn.Close(ctx)

	ident := pgx.Identifier{schema}.Sanitize()
	_, err = conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE; CREATE SCHEMA "+ident)
	require.NoError(t, err)

	u, err := url.Parse(databaseURL)
	require.NoError(t, err)
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String()
}

// New opens a store on a fresh schema with every migration applied.
func New(t *testing.T, schema string) *store.Store {
	t.Helper()
	ctx := context.Background()

	st, err := store.New(ctx, DSN(t, schema), store.PoolOptions{MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(st.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	_, err = st.RunMigrations(ctx, store.MigratorOptions{
		LockKey:      lockKey(schema),
		LockTimeout:  30 * time.Second,
		PollInterval: 50 * time.Millisecond,
		Logger:       logger,
	})
	require.NoError(t, err)
	return st
}

// lockKey keeps test schemas from contending on one migration lock.
func lockKey(schema string) int64 {
	var h int64 = 0x7465737473746f72
	for _, c := range schema {
		h = h*31 + int64(c)
	}
	return h
}
