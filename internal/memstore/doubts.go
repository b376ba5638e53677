package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// DoubtRepository implements doubts.Store.
type DoubtRepository struct {
	db *DB
}

// NewDoubtRepository creates a doubt repository over db.
func NewDoubtRepository(db *DB) *DoubtRepository {
	return &DoubtRepository{db: db}
}

// Create implements doubts.Store.
func (r *DoubtRepository) Create(_ context.Context, d *models.Doubt) error {
	if err := r.db.begin(); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[d.SessionID]
	if !ok {
		return models.ErrNotFound
	}
	if s.session.Status != models.SessionLive {
		return models.ErrSessionNotLive
	}
	s.doubtSeq++
	d.ID = uuid.New()
	d.Seq = s.doubtSeq
	d.CreatedAt = r.db.now()
	d.UpvoteCount = 0
	d.Answered = false
	d.AnswerText, d.AnsweredBy, d.AnsweredAt = nil, nil, nil
	r.db.doubts[d.ID] = &doubtRow{doubt: *d, voters: make(map[uuid.UUID]struct{})}
	return nil
}

// Get implements doubts.Store.
func (r *DoubtRepository) Get(_ context.Context, id uuid.UUID) (*models.Doubt, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	row, ok := r.db.doubts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyDoubt(row), nil
}

// ListBySession implements doubts.Store.
func (r *DoubtRepository) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.Doubt, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	list := []models.Doubt{}
	for _, row := range r.db.doubts {
		if row.doubt.SessionID == sessionID {
			list = append(list, *copyDoubt(row))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return list, nil
}

// AddUpvote implements doubts.Store.
func (r *DoubtRepository) AddUpvote(_ context.Context, doubtID, voterID uuid.UUID) (*models.Doubt, bool, error) {
	return r.vote(doubtID, func(row *doubtRow) bool {
		if _, ok := row.voters[voterID]; ok {
			return false
		}
		row.voters[voterID] = struct{}{}
		row.doubt.UpvoteCount++
		return true
	})
}

// RemoveUpvote implements doubts.Store.
func (r *DoubtRepository) RemoveUpvote(_ context.Context, doubtID, voterID uuid.UUID) (*models.Doubt, bool, error) {
	return r.vote(doubtID, func(row *doubtRow) bool {
		if _, ok := row.voters[voterID]; !ok {
			return false
		}
		delete(row.voters, voterID)
		row.doubt.UpvoteCount--
		return true
	})
}

func (r *DoubtRepository) vote(doubtID uuid.UUID, apply func(*doubtRow) bool) (*models.Doubt, bool, error) {
	if err := r.db.begin(); err != nil {
		return nil, false, err
	}
	defer r.db.mu.Unlock()

	row, ok := r.db.doubts[doubtID]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	if s := r.db.sessions[row.doubt.SessionID]; s == nil || s.session.Status != models.SessionLive {
		return nil, false, models.ErrSessionNotLive
	}
	changed := apply(row)
	return copyDoubt(row), changed, nil
}

// MarkAnswered implements doubts.Store.
func (r *DoubtRepository) MarkAnswered(_ context.Context, doubtID, answeredBy uuid.UUID, text string) (*models.Doubt, error) {
	if err := r.db.begin(); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	row, ok := r.db.doubts[doubtID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if row.doubt.Answered {
		return nil, models.ErrAlreadyAnswered
	}
	now := r.db.now()
	by := answeredBy
	row.doubt.Answered = true
	row.doubt.AnswerText = &text
	row.doubt.AnsweredBy = &by
	row.doubt.AnsweredAt = &now
	return copyDoubt(row), nil
}
