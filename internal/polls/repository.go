package polls

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/pkg/database"
)

const pollColumns = `id, session_id, question, options, status, created_by, created_at, ended_at`

// Repository handles poll persistence in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanPoll(row pgx.Row) (*models.Poll, error) {
	var p models.Poll
	err := row.Scan(&p.ID, &p.SessionID, &p.Question, &p.Options, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.EndedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts an active poll. The share lock on the session keeps End
// from committing between the live check and the insert.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return database.Wrap("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status models.SessionStatus
	err = tx.QueryRow(ctx, `SELECT status FROM live_sessions WHERE id = $1 FOR SHARE`, p.SessionID).Scan(&status)
	if database.IsNoRows(err) {
		return models.ErrNotFound
	}
	if err != nil {
		return database.Wrap("lock session", err)
	}
	if status != models.SessionLive {
		return models.ErrSessionNotLive
	}

	const insert = `INSERT INTO polls (session_id, question, options, status, created_by)
		VALUES ($1, $2, $3, 'active', $4)
		RETURNING ` + pollColumns
	created, err := scanPoll(tx.QueryRow(ctx, insert, p.SessionID, p.Question, p.Options, p.CreatedBy))
	if err != nil {
		return database.Wrap("insert poll", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return database.Wrap("commit", err)
	}
	*p = *created
	return nil
}

// Get returns a poll by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	p, err := scanPoll(r.pool.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, database.Wrap("get poll", err)
	}
	return p, nil
}

// ListBySession returns a session's polls, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Poll, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pollColumns+` FROM polls
		WHERE session_id = $1 ORDER BY created_at ASC, id`, sessionID)
	if err != nil {
		return nil, database.Wrap("list polls", err)
	}
	defer rows.Close()
	list := []models.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, database.Wrap("scan poll", err)
		}
		list = append(list, *p)
	}
	return list, database.Wrap("list polls", rows.Err())
}

// Close closes an active poll.
func (r *Repository) Close(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	const q = `UPDATE polls SET status = 'closed', ended_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + pollColumns
	p, err := scanPoll(r.pool.QueryRow(ctx, q, id))
	if database.IsNoRows(err) {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM polls WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, database.Wrap("check poll", err)
		}
		if !exists {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrAlreadyClosed
	}
	if err != nil {
		return nil, database.Wrap("close poll", err)
	}
	return p, nil
}

// Respond upserts the voter's selection under a share lock on the poll, so a
// concurrent Close either sees the response or the response sees the close.
func (r *Repository) Respond(ctx context.Context, pollID, voterID uuid.UUID, optionIndex int) (models.Tally, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Tally{}, false, database.Wrap("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status models.PollStatus
	var optionCount int
	err = tx.QueryRow(ctx, `SELECT status, cardinality(options) FROM polls WHERE id = $1 FOR SHARE`, pollID).
		Scan(&status, &optionCount)
	if database.IsNoRows(err) {
		return models.Tally{}, false, models.ErrNotFound
	}
	if err != nil {
		return models.Tally{}, false, database.Wrap("lock poll", err)
	}
	if status != models.PollActive {
		return models.Tally{}, false, models.ErrPollClosed
	}
	if err := models.CheckOption(optionIndex, optionCount); err != nil {
		return models.Tally{}, false, err
	}

	const upsert = `INSERT INTO poll_responses (poll_id, voter_id, option_index) VALUES ($1, $2, $3)
		ON CONFLICT (poll_id, voter_id) DO UPDATE
		SET option_index = EXCLUDED.option_index, responded_at = NOW()
		WHERE poll_responses.option_index <> EXCLUDED.option_index`
	tag, err := tx.Exec(ctx, upsert, pollID, voterID, optionIndex)
	if err != nil {
		return models.Tally{}, false, database.Wrap("upsert response", err)
	}
	t, err := tally(ctx, tx, pollID, optionCount)
	if err != nil {
		return models.Tally{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Tally{}, false, database.Wrap("commit", err)
	}
	return t, tag.RowsAffected() > 0, nil
}

// Tally counts responses per option and distinct voters.
func (r *Repository) Tally(ctx context.Context, pollID uuid.UUID) (models.Tally, error) {
	var optionCount int
	err := r.pool.QueryRow(ctx, `SELECT cardinality(options) FROM polls WHERE id = $1`, pollID).Scan(&optionCount)
	if database.IsNoRows(err) {
		return models.Tally{}, models.ErrNotFound
	}
	if err != nil {
		return models.Tally{}, database.Wrap("get poll", err)
	}
	return tally(ctx, r.pool, pollID, optionCount)
}

func tally(ctx context.Context, q querier, pollID uuid.UUID, optionCount int) (models.Tally, error) {
	rows, err := q.Query(ctx, `SELECT option_index, COUNT(*) FROM poll_responses
		WHERE poll_id = $1 GROUP BY option_index`, pollID)
	if err != nil {
		return models.Tally{}, database.Wrap("tally", err)
	}
	byOption := make(map[int]int)
	for rows.Next() {
		var idx, n int
		if err := rows.Scan(&idx, &n); err != nil {
			rows.Close()
			return models.Tally{}, database.Wrap("scan tally", err)
		}
		byOption[idx] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.Tally{}, database.Wrap("tally", err)
	}

	var voters int
	err = q.QueryRow(ctx, `SELECT COUNT(DISTINCT voter_id) FROM poll_responses WHERE poll_id = $1`, pollID).Scan(&voters)
	if err != nil {
		return models.Tally{}, database.Wrap("count voters", err)
	}
	return models.NewTally(pollID, optionCount, byOption, voters), nil
}

var _ Store = (*Repository)(nil)
