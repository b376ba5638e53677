package doubts

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/pkg/database"
)

const doubtColumns = `id, session_id, author_id, text, anonymous, upvote_count, answered,
	answer_text, answered_by, seq, created_at, answered_at`

// Repository handles doubt persistence in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a doubts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanDoubt(row pgx.Row) (*models.Doubt, error) {
	var d models.Doubt
	err := row.Scan(&d.ID, &d.SessionID, &d.AuthorID, &d.Text, &d.Anonymous, &d.UpvoteCount, &d.Answered,
		&d.AnswerText, &d.AnsweredBy, &d.Seq, &d.CreatedAt, &d.AnsweredAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create allocates the next sequence of a live session and inserts the doubt.
// The sequence UPDATE both checks the session is live and locks it until commit.
func (r *Repository) Create(ctx context.Context, d *models.Doubt) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return database.Wrap("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var seq int64
	err = tx.QueryRow(ctx, `UPDATE live_sessions SET doubt_seq = doubt_seq + 1
		WHERE id = $1 AND status = 'live' RETURNING doubt_seq`, d.SessionID).Scan(&seq)
	if database.IsNoRows(err) {
		return sessionNotLiveOrMissing(ctx, tx, d.SessionID)
	}
	if err != nil {
		return database.Wrap("next doubt seq", err)
	}

	const insert = `INSERT INTO doubts (session_id, author_id, text, anonymous, seq)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + doubtColumns
	created, err := scanDoubt(tx.QueryRow(ctx, insert, d.SessionID, d.AuthorID, d.Text, d.Anonymous, seq))
	if err != nil {
		return database.Wrap("insert doubt", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return database.Wrap("commit", err)
	}
	*d = *created
	return nil
}

// Get returns a doubt by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Doubt, error) {
	d, err := scanDoubt(r.pool.QueryRow(ctx, `SELECT `+doubtColumns+` FROM doubts WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, database.Wrap("get doubt", err)
	}
	return d, nil
}

// ListBySession returns a session's doubts by ascending seq.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Doubt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+doubtColumns+` FROM doubts
		WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, database.Wrap("list doubts", err)
	}
	defer rows.Close()
	list := []models.Doubt{}
	for rows.Next() {
		d, err := scanDoubt(rows)
		if err != nil {
			return nil, database.Wrap("scan doubt", err)
		}
		list = append(list, *d)
	}
	return list, database.Wrap("list doubts", rows.Err())
}

// AddUpvote inserts the (doubt, voter) key and increments upvote_count only
// when the insert took effect.
func (r *Repository) AddUpvote(ctx context.Context, doubtID, voterID uuid.UUID) (*models.Doubt, bool, error) {
	return r.applyVote(ctx, doubtID,
		`INSERT INTO doubt_upvotes (doubt_id, voter_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		`UPDATE doubts SET upvote_count = upvote_count + 1 WHERE id = $1 RETURNING `+doubtColumns,
		voterID)
}

// RemoveUpvote deletes the (doubt, voter) key and decrements upvote_count only
// when a row was deleted.
func (r *Repository) RemoveUpvote(ctx context.Context, doubtID, voterID uuid.UUID) (*models.Doubt, bool, error) {
	return r.applyVote(ctx, doubtID,
		`DELETE FROM doubt_upvotes WHERE doubt_id = $1 AND voter_id = $2`,
		`UPDATE doubts SET upvote_count = GREATEST(upvote_count - 1, 0) WHERE id = $1 RETURNING `+doubtColumns,
		voterID)
}

func (r *Repository) applyVote(ctx context.Context, doubtID uuid.UUID, change, count string, voterID uuid.UUID) (*models.Doubt, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, database.Wrap("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// A share lock on the session keeps End from committing mid-vote.
	var status models.SessionStatus
	err = tx.QueryRow(ctx, `SELECT s.status FROM doubts d
		JOIN live_sessions s ON s.id = d.session_id
		WHERE d.id = $1 FOR SHARE OF s`, doubtID).Scan(&status)
	if database.IsNoRows(err) {
		return nil, false, models.ErrNotFound
	}
	if err != nil {
		return nil, false, database.Wrap("lock session", err)
	}
	if status != models.SessionLive {
		return nil, false, models.ErrSessionNotLive
	}

	tag, err := tx.Exec(ctx, change, doubtID, voterID)
	if err != nil {
		return nil, false, database.Wrap("change upvote", err)
	}
	if tag.RowsAffected() == 0 {
		d, err := scanDoubt(tx.QueryRow(ctx, `SELECT `+doubtColumns+` FROM doubts WHERE id = $1`, doubtID))
		if err != nil {
			return nil, false, database.Wrap("get doubt", err)
		}
		return d, false, nil
	}
	d, err := scanDoubt(tx.QueryRow(ctx, count, doubtID))
	if err != nil {
		return nil, false, database.Wrap("update upvote count", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, database.Wrap("commit", err)
	}
	return d, true, nil
}

// MarkAnswered sets the answer only if the doubt is still unanswered.
func (r *Repository) MarkAnswered(ctx context.Context, doubtID, answeredBy uuid.UUID, text string) (*models.Doubt, error) {
	const q = `UPDATE doubts SET answered = TRUE, answer_text = $2, answered_by = $3, answered_at = NOW()
		WHERE id = $1 AND NOT answered
		RETURNING ` + doubtColumns
	d, err := scanDoubt(r.pool.QueryRow(ctx, q, doubtID, text, answeredBy))
	if database.IsNoRows(err) {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doubts WHERE id = $1)`, doubtID).Scan(&exists); err != nil {
			return nil, database.Wrap("check doubt", err)
		}
		if !exists {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrAlreadyAnswered
	}
	if err != nil {
		return nil, database.Wrap("answer doubt", err)
	}
	return d, nil
}

func sessionNotLiveOrMissing(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM live_sessions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return database.Wrap("check session", err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrSessionNotLive
}

var _ Store = (*Repository)(nil)
