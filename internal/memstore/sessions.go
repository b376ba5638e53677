package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// SessionRepository implements sessions.Store.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a session repository over db.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateLive implements sessions.Store.
func (r *SessionRepository) CreateLive(_ context.Context, s *models.Session) error {
	if err := r.db.begin(); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	for _, row := range r.db.sessions {
		if row.session.CourseID == s.CourseID && row.session.Status == models.SessionLive {
			return models.ErrAlreadyLive
		}
	}
	s.ID = uuid.New()
	s.Status = models.SessionLive
	s.StartedAt = r.db.now()
	s.EndedAt = nil
	s.ParticipantCount = 1
	r.db.sessions[s.ID] = &sessionRow{
		session:      *s,
		participants: map[uuid.UUID]struct{}{s.StartedBy: {}},
	}
	return nil
}

// Get implements sessions.Store.
func (r *SessionRepository) Get(_ context.Context, id uuid.UUID) (*models.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	row, ok := r.db.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copySession(row), nil
}

// ListByCourse implements sessions.Store.
func (r *SessionRepository) ListByCourse(_ context.Context, courseID uuid.UUID) ([]models.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	list := []models.Session{}
	for _, row := range r.db.sessions {
		if row.session.CourseID == courseID {
			list = append(list, *copySession(row))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	return list, nil
}

// End implements sessions.Store.
func (r *SessionRepository) End(_ context.Context, id uuid.UUID) (*models.Session, []models.Poll, error) {
	if err := r.db.begin(); err != nil {
		return nil, nil, err
	}
	defer r.db.mu.Unlock()

	row, ok := r.db.sessions[id]
	if !ok {
		return nil, nil, models.ErrNotFound
	}
	if row.session.Status != models.SessionLive {
		return nil, nil, models.ErrNotLive
	}
	now := r.db.now()
	row.session.Status = models.SessionEnded
	row.session.EndedAt = &now

	var closed []*pollRow
	for _, p := range r.db.polls {
		if p.poll.SessionID == id && p.poll.Status == models.PollActive {
			at := now
			p.poll.Status = models.PollClosed
			p.poll.EndedAt = &at
			closed = append(closed, p)
		}
	}
	return copySession(row), sortedPolls(closed), nil
}

// AddParticipant implements sessions.Store.
func (r *SessionRepository) AddParticipant(_ context.Context, sessionID, userID uuid.UUID) (int, bool, error) {
	if err := r.db.begin(); err != nil {
		return 0, false, err
	}
	defer r.db.mu.Unlock()

	row, ok := r.db.sessions[sessionID]
	if !ok {
		return 0, false, models.ErrNotFound
	}
	if row.session.Status != models.SessionLive {
		return 0, false, models.ErrSessionNotLive
	}
	if _, in := row.participants[userID]; in {
		return row.session.ParticipantCount, false, nil
	}
	row.participants[userID] = struct{}{}
	row.session.ParticipantCount++
	return row.session.ParticipantCount, true, nil
}

// RemoveParticipant implements sessions.Store.
func (r *SessionRepository) RemoveParticipant(_ context.Context, sessionID, userID uuid.UUID) (int, bool, error) {
	if err := r.db.begin(); err != nil {
		return 0, false, err
	}
	defer r.db.mu.Unlock()

	row, ok := r.db.sessions[sessionID]
	if !ok {
		return 0, false, models.ErrNotFound
	}
	if row.session.Status != models.SessionLive {
		return row.session.ParticipantCount, false, nil
	}
	if _, in := row.participants[userID]; !in {
		return row.session.ParticipantCount, false, nil
	}
	delete(row.participants, userID)
	if row.session.ParticipantCount > 0 {
		row.session.ParticipantCount--
	}
	return row.session.ParticipantCount, true, nil
}
