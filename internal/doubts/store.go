package doubts

import (
	"context"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// Store persists doubts and upvotes. Upvotes are unique per (doubt, voter)
// and upvote_count moves only when an upvote row is inserted or deleted.
type Store interface {
	// Create appends d to a live session and fills ID, Seq and CreatedAt.
	// Seq is allocated in the same commit that checks the session is live.
	Create(ctx context.Context, d *models.Doubt) error
	Get(ctx context.Context, id uuid.UUID) (*models.Doubt, error)
	// ListBySession returns doubts in ascending Seq.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Doubt, error)
	// AddUpvote records voterID's upvote. changed is false when it already existed.
	// ErrSessionNotLive unless the doubt's session is live.
	AddUpvote(ctx context.Context, doubtID, voterID uuid.UUID) (d *models.Doubt, changed bool, err error)
	// RemoveUpvote deletes voterID's upvote. changed is false when there was none.
	RemoveUpvote(ctx context.Context, doubtID, voterID uuid.UUID) (d *models.Doubt, changed bool, err error)
	// MarkAnswered answers a doubt once. ErrAlreadyAnswered leaves it unchanged.
	MarkAnswered(ctx context.Context, doubtID, answeredBy uuid.UUID, text string) (*models.Doubt, error)
}
