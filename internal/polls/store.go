package polls

import (
	"context"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// Store persists polls and responses. A response is an upsert keyed by
// (poll, voter); closing a poll freezes its responses.
type Store interface {
	// Create inserts p as active in a live session and fills ID and CreatedAt.
	Create(ctx context.Context, p *models.Poll) error
	Get(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	// ListBySession returns polls oldest first.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Poll, error)
	// Close closes an active poll. ErrAlreadyClosed otherwise.
	Close(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	// Respond upserts voterID's selection and returns the tally after it.
	// changed is false when the voter already had optionIndex selected.
	Respond(ctx context.Context, pollID, voterID uuid.UUID, optionIndex int) (t models.Tally, changed bool, err error)
	Tally(ctx context.Context, pollID uuid.UUID) (models.Tally, error)
}
