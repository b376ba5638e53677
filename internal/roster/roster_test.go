package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/backend/internal/models"
)

type fakeProvider struct {
	instructors map[uuid.UUID]bool
	students    map[uuid.UUID]bool
	err         error
}

func (f fakeProvider) IsAuthorizedInstructor(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return f.instructors[userID], f.err
}

func (f fakeProvider) IsEnrolled(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return f.students[userID], f.err
}

func TestCanParticipate(t *testing.T) {
	instructor, student, stranger := uuid.New(), uuid.New(), uuid.New()
	p := fakeProvider{
		instructors: map[uuid.UUID]bool{instructor: true},
		students:    map[uuid.UUID]bool{student: true},
	}
	ctx := context.Background()
	course := uuid.New()

	for name, tc := range map[string]struct {
		user uuid.UUID
		want bool
	}{
		"instructor": {instructor, true},
		"student":    {student, true},
		"stranger":   {stranger, false},
	} {
		t.Run(name, func(t *testing.T) {
			ok, err := CanParticipate(ctx, p, course, tc.user)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestCanParticipate_PropagatesError(t *testing.T) {
	p := fakeProvider{err: errors.New("db down")}
	ok, err := CanParticipate(context.Background(), p, uuid.New(), uuid.New())
	assert.Error(t, err)
	assert.False(t, ok)
}

type stalledProvider struct{}

func (stalledProvider) IsAuthorizedInstructor(ctx context.Context, _, _ uuid.UUID) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (stalledProvider) IsEnrolled(ctx context.Context, _, _ uuid.UUID) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestBounded_TimesOutStalledLookup(t *testing.T) {
	p := Bounded(stalledProvider{}, 20*time.Millisecond)

	start := time.Now()
	ok, err := p.IsAuthorizedInstructor(context.Background(), uuid.New(), uuid.New())
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	_, err = CanParticipate(context.Background(), p, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBounded_PassesThroughAnswers(t *testing.T) {
	student := uuid.New()
	p := Bounded(fakeProvider{students: map[uuid.UUID]bool{student: true}}, time.Second)

	ok, err := p.IsEnrolled(context.Background(), uuid.New(), student)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.IsAuthorizedInstructor(context.Background(), uuid.New(), student)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBounded_KeepsRejectionsDistinct(t *testing.T) {
	p := Bounded(fakeProvider{err: models.ErrNotFound}, time.Second)
	_, err := p.IsEnrolled(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NotErrorIs(t, err, models.ErrStoreUnavailable)
}
