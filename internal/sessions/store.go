package sessions

import (
	"context"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// Store persists sessions and their membership set. Implementations serialize
// writes to one session at the store, never by read-modify-write in the caller.
type Store interface {
	// CreateLive inserts s as live with its starter as the only participant and
	// fills ID, StartedAt and ParticipantCount. ErrAlreadyLive if the course has a live session.
	CreateLive(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// ListByCourse returns sessions newest first.
	ListByCourse(ctx context.Context, courseID uuid.UUID) ([]models.Session, error)
	// End marks a live session ended and closes its active polls in the same
	// commit, returning the polls it closed. ErrNotLive if already ended.
	End(ctx context.Context, id uuid.UUID) (*models.Session, []models.Poll, error)
	// AddParticipant inserts userID into the membership set. added is false when
	// the user was already counted. ErrSessionNotLive unless live.
	AddParticipant(ctx context.Context, sessionID, userID uuid.UUID) (count int, added bool, err error)
	// RemoveParticipant deletes userID from the membership set of a live session.
	// On a session that is no longer live it changes nothing.
	RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) (count int, removed bool, err error)
}
