// Package roster reads course membership. The enrollment workflow owns the
// data; this service only asks who may teach and who may take part.
package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/pkg/database"
)

// Roles stored in course_members.role and carried in JWT claims.
const (
	RoleInstructor = "instructor"
	RoleStudent    = "student"
)

// Provider answers roster questions for a course.
type Provider interface {
	IsAuthorizedInstructor(ctx context.Context, courseID, userID uuid.UUID) (bool, error)
	IsEnrolled(ctx context.Context, courseID, userID uuid.UUID) (bool, error)
}

// CanParticipate reports whether userID may join, ask, upvote or vote in a
// session of courseID: enrolled students and instructors may.
func CanParticipate(ctx context.Context, p Provider, courseID, userID uuid.UUID) (bool, error) {
	ok, err := p.IsAuthorizedInstructor(ctx, courseID, userID)
	if err != nil || ok {
		return ok, err
	}
	return p.IsEnrolled(ctx, courseID, userID)
}

// Bounded returns p with every lookup cut off after timeout. A lookup that
// runs out of time fails with models.ErrStoreUnavailable.
func Bounded(p Provider, timeout time.Duration) Provider {
	if b, ok := p.(bounded); ok {
		p = b.p
	}
	return bounded{p: p, timeout: timeout}
}

type bounded struct {
	p       Provider
	timeout time.Duration
}

func (b bounded) IsAuthorizedInstructor(ctx context.Context, courseID, userID uuid.UUID) (bool, error) {
	rctx, cancel := database.ReadContext(ctx, b.timeout)
	defer cancel()
	ok, err := b.p.IsAuthorizedInstructor(rctx, courseID, userID)
	return ok, b.check(rctx, "instructor lookup", err)
}

func (b bounded) IsEnrolled(ctx context.Context, courseID, userID uuid.UUID) (bool, error) {
	rctx, cancel := database.ReadContext(ctx, b.timeout)
	defer cancel()
	ok, err := b.p.IsEnrolled(rctx, courseID, userID)
	return ok, b.check(rctx, "enrollment lookup", err)
}

func (b bounded) check(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrStoreUnavailable) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
	}
	return database.Wrap(op, err)
}

// Repository implements Provider over course_members.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a roster repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// IsAuthorizedInstructor returns true if the user teaches the course.
func (r *Repository) IsAuthorizedInstructor(ctx context.Context, courseID, userID uuid.UUID) (bool, error) {
	return r.hasRole(ctx, courseID, userID, RoleInstructor)
}

// IsEnrolled returns true if the user is a student of the course.
func (r *Repository) IsEnrolled(ctx context.Context, courseID, userID uuid.UUID) (bool, error) {
	return r.hasRole(ctx, courseID, userID, RoleStudent)
}

func (r *Repository) hasRole(ctx context.Context, courseID, userID uuid.UUID, role string) (bool, error) {
	const q = `SELECT 1 FROM course_members WHERE course_id = $1 AND user_id = $2 AND role = $3`
	var exists int
	err := r.pool.QueryRow(ctx, q, courseID, userID, role).Scan(&exists)
	if database.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, database.Wrap("roster lookup", err)
	}
	return true, nil
}
