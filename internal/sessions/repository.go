package sessions

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/pkg/database"
)

const (
	sessionColumns = `id, course_id, title, status, started_by, started_at, ended_at, participant_count`
	pollColumns    = `id, session_id, question, options, status, created_by, created_at, ended_at`

	oneLivePerCourse = "live_sessions_one_live_per_course"
)

// Repository handles session persistence in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.CourseID, &s.Title, &s.Status, &s.StartedBy, &s.StartedAt, &s.EndedAt, &s.ParticipantCount)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateLive inserts a live session and its starter as the first participant.
// The partial unique index on live sessions rejects a second live session
// for the same course even when two starts race.
func (r *Repository) CreateLive(ctx context.Context, s *models.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return database.Wrap("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insert = `INSERT INTO live_sessions (course_id, title, status, started_by, participant_count)
		VALUES ($1, $2, 'live', $3, 1)
		RETURNING ` + sessionColumns
	created, err := scanSession(tx.QueryRow(ctx, insert, s.CourseID, s.Title, s.StartedBy))
	if database.IsUniqueViolation(err, oneLivePerCourse) {
		return models.ErrAlreadyLive
	}
	if err != nil {
		return database.Wrap("insert session", err)
	}
	const member = `INSERT INTO session_participants (session_id, user_id) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, member, created.ID, s.StartedBy); err != nil {
		return database.Wrap("insert starter", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return database.Wrap("commit", err)
	}
	*s = *created
	return nil
}

// Get returns a session by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, database.Wrap("get session", err)
	}
	return s, nil
}

// ListByCourse returns a course's sessions, newest first.
func (r *Repository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM live_sessions
		WHERE course_id = $1 ORDER BY started_at DESC`, courseID)
	if err != nil {
		return nil, database.Wrap("list sessions", err)
	}
	defer rows.Close()
	list := []models.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, database.Wrap("scan session", err)
		}
		list = append(list, *s)
	}
	return list, database.Wrap("list sessions", rows.Err())
}

// End ends a live session and closes its active polls in one transaction.
func (r *Repository) End(ctx context.Context, id uuid.UUID) (*models.Session, []models.Poll, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, database.Wrap("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const end = `UPDATE live_sessions SET status = 'ended', ended_at = NOW()
		WHERE id = $1 AND status = 'live'
		RETURNING ` + sessionColumns
	s, err := scanSession(tx.QueryRow(ctx, end, id))
	if database.IsNoRows(err) {
		return nil, nil, r.notLiveOrMissing(ctx, tx, id, models.ErrNotLive)
	}
	if err != nil {
		return nil, nil, database.Wrap("end session", err)
	}

	const closePolls = `UPDATE polls SET status = 'closed', ended_at = NOW()
		WHERE session_id = $1 AND status = 'active'
		RETURNING ` + pollColumns
	rows, err := tx.Query(ctx, closePolls, id)
	if err != nil {
		return nil, nil, database.Wrap("close polls", err)
	}
	var closed []models.Poll
	for rows.Next() {
		var p models.Poll
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Question, &p.Options, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.EndedAt); err != nil {
			rows.Close()
			return nil, nil, database.Wrap("scan poll", err)
		}
		closed = append(closed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, database.Wrap("close polls", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, database.Wrap("commit", err)
	}
	return s, closed, nil
}

// lockLive takes a row lock on the session for the rest of tx and returns its
// status and count. Joins and leaves of one session are serialized by it.
func lockLive(ctx context.Context, tx pgx.Tx, id uuid.UUID) (models.SessionStatus, int, error) {
	var status models.SessionStatus
	var count int
	err := tx.QueryRow(ctx, `SELECT status, participant_count FROM live_sessions
		WHERE id = $1 FOR NO KEY UPDATE`, id).Scan(&status, &count)
	if database.IsNoRows(err) {
		return "", 0, models.ErrNotFound
	}
	if err != nil {
		return "", 0, database.Wrap("lock session", err)
	}
	return status, count, nil
}

// AddParticipant inserts into the membership set and bumps the counter only
// when the insert took effect.
func (r *Repository) AddParticipant(ctx context.Context, sessionID, userID uuid.UUID) (int, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, false, database.Wrap("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	status, count, err := lockLive(ctx, tx, sessionID)
	if err != nil {
		return 0, false, err
	}
	if status != models.SessionLive {
		return 0, false, models.ErrSessionNotLive
	}
	tag, err := tx.Exec(ctx, `INSERT INTO session_participants (session_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, sessionID, userID)
	if err != nil {
		return 0, false, database.Wrap("insert participant", err)
	}
	if tag.RowsAffected() == 0 {
		return count, false, nil
	}
	err = tx.QueryRow(ctx, `UPDATE live_sessions SET participant_count = participant_count + 1
		WHERE id = $1 RETURNING participant_count`, sessionID).Scan(&count)
	if err != nil {
		return 0, false, database.Wrap("increment participants", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, database.Wrap("commit", err)
	}
	return count, true, nil
}

// RemoveParticipant deletes from the membership set of a live session and
// decrements the counter only when a row was deleted.
func (r *Repository) RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) (int, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, false, database.Wrap("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	status, count, err := lockLive(ctx, tx, sessionID)
	if err != nil {
		return 0, false, err
	}
	if status != models.SessionLive {
		return count, false, nil
	}
	tag, err := tx.Exec(ctx, `DELETE FROM session_participants WHERE session_id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return 0, false, database.Wrap("delete participant", err)
	}
	if tag.RowsAffected() == 0 {
		return count, false, nil
	}
	err = tx.QueryRow(ctx, `UPDATE live_sessions SET participant_count = GREATEST(participant_count - 1, 0)
		WHERE id = $1 RETURNING participant_count`, sessionID).Scan(&count)
	if err != nil {
		return 0, false, database.Wrap("decrement participants", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, database.Wrap("commit", err)
	}
	return count, true, nil
}

// notLiveOrMissing tells a missing row from one in the wrong state after a
// conditional UPDATE matched nothing.
func (r *Repository) notLiveOrMissing(ctx context.Context, tx pgx.Tx, id uuid.UUID, stateErr error) error {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM live_sessions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return database.Wrap("check session", err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return stateErr
}

var _ Store = (*Repository)(nil)
