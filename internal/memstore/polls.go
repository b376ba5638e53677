package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// PollRepository implements polls.Store.
type PollRepository struct {
	db *DB
}

// NewPollRepository creates a poll repository over db.
func NewPollRepository(db *DB) *PollRepository {
	return &PollRepository{db: db}
}

// Create implements polls.Store.
func (r *PollRepository) Create(_ context.Context, p *models.Poll) error {
	if err := r.db.begin(); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[p.SessionID]
	if !ok {
		return models.ErrNotFound
	}
	if s.session.Status != models.SessionLive {
		return models.ErrSessionNotLive
	}
	p.ID = uuid.New()
	p.Status = models.PollActive
	p.CreatedAt = r.db.now()
	p.EndedAt = nil
	p.Options = append([]string(nil), p.Options...)
	r.db.polls[p.ID] = &pollRow{poll: *p, responses: make(map[uuid.UUID]int)}
	return nil
}

// Get implements polls.Store.
func (r *PollRepository) Get(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	row, ok := r.db.polls[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyPoll(row), nil
}

// ListBySession implements polls.Store.
func (r *PollRepository) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.Poll, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var rows []*pollRow
	for _, row := range r.db.polls {
		if row.poll.SessionID == sessionID {
			rows = append(rows, row)
		}
	}
	return sortedPolls(rows), nil
}

// Close implements polls.Store.
func (r *PollRepository) Close(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	if err := r.db.begin(); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	row, ok := r.db.polls[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if row.poll.Status != models.PollActive {
		return nil, models.ErrAlreadyClosed
	}
	now := r.db.now()
	row.poll.Status = models.PollClosed
	row.poll.EndedAt = &now
	return copyPoll(row), nil
}

// Respond implements polls.Store.
func (r *PollRepository) Respond(_ context.Context, pollID, voterID uuid.UUID, optionIndex int) (models.Tally, bool, error) {
	if err := r.db.begin(); err != nil {
		return models.Tally{}, false, err
	}
	defer r.db.mu.Unlock()

	row, ok := r.db.polls[pollID]
	if !ok {
		return models.Tally{}, false, models.ErrNotFound
	}
	if row.poll.Status != models.PollActive {
		return models.Tally{}, false, models.ErrPollClosed
	}
	if err := models.CheckOption(optionIndex, len(row.poll.Options)); err != nil {
		return models.Tally{}, false, err
	}
	prev, had := row.responses[voterID]
	if had && prev == optionIndex {
		return tallyOf(row), false, nil
	}
	row.responses[voterID] = optionIndex
	return tallyOf(row), true, nil
}

// Tally implements polls.Store.
func (r *PollRepository) Tally(_ context.Context, pollID uuid.UUID) (models.Tally, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	row, ok := r.db.polls[pollID]
	if !ok {
		return models.Tally{}, models.ErrNotFound
	}
	return tallyOf(row), nil
}
