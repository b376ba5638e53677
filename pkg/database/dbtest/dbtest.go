// Package dbtest connects repository tests to a real Postgres named by
// DATABASE_URL. Tests that need it are skipped when the variable is unset.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/classlive/backend/pkg/database"
)

const migrateLock = 7401

// Pool opens a migrated pool or skips t.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, dsn, 5*time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	// test binaries of several packages may migrate at the same time
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()
	_, err = conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrateLock)
	require.NoError(t, err)
	defer conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrateLock) //nolint:errcheck

	require.NoError(t, database.Migrate(ctx, pool))
	return pool
}

// Course inserts a fresh course with the given members and returns its ID.
// Every test gets its own course, so tests never see each other's rows.
func Course(t *testing.T, pool *pgxpool.Pool, members map[uuid.UUID]string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	var id uuid.UUID
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO courses (title) VALUES ($1) RETURNING id`, t.Name()).Scan(&id))
	for user, role := range members {
		_, err := pool.Exec(ctx, `INSERT INTO course_members (course_id, user_id, role) VALUES ($1, $2, $3)`, id, user, role)
		require.NoError(t, err)
	}
	return id
}

// LiveSession starts a live session of course directly in the table.
func LiveSession(t *testing.T, pool *pgxpool.Pool, course, startedBy uuid.UUID) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := pool.QueryRow(context.Background(), `INSERT INTO live_sessions (course_id, status, started_by, participant_count)
		VALUES ($1, 'live', $2, 0) RETURNING id`, course, startedBy).Scan(&id)
	require.NoError(t, err)
	return id
}

// EndSession marks a session ended without touching its polls.
func EndSession(t *testing.T, pool *pgxpool.Pool, id uuid.UUID) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `UPDATE live_sessions SET status = 'ended', ended_at = NOW() WHERE id = $1`, id)
	require.NoError(t, err)
}
