package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/roster"
)

// Roster implements roster.Provider over members added with DB.AddMember.
// Roster reads never consume injected failures.
type Roster struct {
	db *DB
}

// NewRoster creates a roster reader over db.
func NewRoster(db *DB) *Roster {
	return &Roster{db: db}
}

// IsAuthorizedInstructor implements roster.Provider.
func (r *Roster) IsAuthorizedInstructor(_ context.Context, courseID, userID uuid.UUID) (bool, error) {
	return r.role(courseID, userID) == roster.RoleInstructor, nil
}

// IsEnrolled implements roster.Provider.
func (r *Roster) IsEnrolled(_ context.Context, courseID, userID uuid.UUID) (bool, error) {
	return r.role(courseID, userID) == roster.RoleStudent, nil
}

func (r *Roster) role(courseID, userID uuid.UUID) string {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.members[courseID][userID]
}
