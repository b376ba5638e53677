package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/classlive/backend/internal/models"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "live_sessions_one_live_per_course"})

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "live_sessions_one_live_per_course"))
	assert.False(t, IsUniqueViolation(err, "doubts_session_id_seq_key"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("plain"), ""))
}

func TestIsUnavailable(t *testing.T) {
	assert.True(t, IsUnavailable(context.DeadlineExceeded))
	assert.True(t, IsUnavailable(&pgconn.PgError{Code: "08006"}))
	assert.True(t, IsUnavailable(&pgconn.PgError{Code: "57P01"}))
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	assert.True(t, IsUnavailable(fmt.Errorf("failed to connect: %w", dial)))
	assert.False(t, IsUnavailable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUnavailable(pgx.ErrNoRows))
	assert.False(t, IsUnavailable(nil))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("op", nil))

	err := Wrap("upvote", context.DeadlineExceeded)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.True(t, models.Retryable(err))

	err = Wrap("answer", models.ErrAlreadyAnswered)
	assert.ErrorIs(t, err, models.ErrAlreadyAnswered)
	assert.NotErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestWriteContextIgnoresCallerCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, done := WriteContext(parent, time.Second)
	defer done()

	cancel()

	assert.NoError(t, ctx.Err())
	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline)
}

func TestReadContextFollowsCallerCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, done := ReadContext(parent, time.Second)
	defer done()

	cancel()

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	assert.NoError(t, err)
	assert.Equal(t, []string{"001_live.sql"}, names)
}
