package doubts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/backend/internal/memstore"
	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/internal/realtime"
	"github.com/classlive/backend/internal/roster"
	"github.com/classlive/backend/pkg/retry"
)

var _ Store = (*memstore.DoubtRepository)(nil)

type recorder struct {
	mu     sync.Mutex
	events []string
	last   interface{}
}

func (r *recorder) Publish(_ uuid.UUID, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last = payload
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type fixture struct {
	db         *memstore.DB
	sessions   *memstore.SessionRepository
	svc        *Service
	bus        *recorder
	session    *models.Session
	instructor uuid.UUID
	students   []uuid.UUID
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db := memstore.NewDB()
	f := &fixture{
		db:         db,
		sessions:   memstore.NewSessionRepository(db),
		bus:        &recorder{},
		instructor: uuid.New(),
		students:   []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
	}
	course := uuid.New()
	db.AddMember(course, f.instructor, roster.RoleInstructor)
	for _, s := range f.students {
		db.AddMember(course, s, roster.RoleStudent)
	}
	f.session = &models.Session{CourseID: course, StartedBy: f.instructor}
	require.NoError(t, f.sessions.CreateLive(context.Background(), f.session))

	opts = append([]Option{WithRetry(retry.New(3, 0))}, opts...)
	f.svc = NewService(memstore.NewDoubtRepository(db), f.sessions, memstore.NewRoster(db), f.bus, nil, opts...)
	return f
}

func (f *fixture) end(t *testing.T) {
	t.Helper()
	_, _, err := f.sessions.End(context.Background(), f.session.ID)
	require.NoError(t, err)
}

func TestAnonymousDoubtUpvotedByTwoVoters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.svc.Submit(ctx, f.session.ID, f.students[0], "Why X?", true)
	require.NoError(t, err)
	assert.Equal(t, 0, d.UpvoteCount)
	assert.False(t, d.Answered)
	assert.Equal(t, int64(1), d.Seq)

	_, err = f.svc.Upvote(ctx, d.ID, f.students[1])
	require.NoError(t, err)
	got, err := f.svc.Upvote(ctx, d.ID, f.students[2])
	require.NoError(t, err)
	assert.Equal(t, 2, got.UpvoteCount)

	got, err = f.svc.Upvote(ctx, d.ID, f.students[2])
	require.NoError(t, err, "a repeated upvote is not an error")
	assert.Equal(t, 2, got.UpvoteCount)
	assert.Equal(t, 2, f.bus.count(realtime.EventDoubtUpvoted))

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "author_id")
	assert.NotContains(t, string(raw), f.students[0].String())
}

func TestRetractUpvote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.Submit(ctx, f.session.ID, f.students[0], "Why X?", false)
	require.NoError(t, err)
	_, err = f.svc.Upvote(ctx, d.ID, f.students[1])
	require.NoError(t, err)

	got, err := f.svc.RetractUpvote(ctx, d.ID, f.students[1])
	require.NoError(t, err)
	assert.Equal(t, 0, got.UpvoteCount)

	got, err = f.svc.RetractUpvote(ctx, d.ID, f.students[1])
	require.NoError(t, err)
	assert.Equal(t, 0, got.UpvoteCount)
	assert.Equal(t, 2, f.bus.count(realtime.EventDoubtUpvoted))

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"author_id":"`+f.students[0].String()+`"`)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, WithMaxLength(10))
	ctx := context.Background()

	for _, text := range []string{"", "   \n", strings.Repeat("x", 11)} {
		_, err := f.svc.Submit(ctx, f.session.ID, f.students[0], text, false)
		assert.ErrorIs(t, err, models.ErrInvalidText)
	}
	d, err := f.svc.Submit(ctx, f.session.ID, f.students[0], "  ten chars  ", false)
	require.NoError(t, err)
	assert.Equal(t, "ten chars", d.Text)

	_, err = f.svc.Submit(ctx, f.session.ID, uuid.New(), "hello", false)
	assert.ErrorIs(t, err, models.ErrNotAuthorized)
}

func TestSubmitAfterEnd_KeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Submit(ctx, f.session.ID, f.students[0], "first", false)
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, f.session.ID, f.students[1], "second", true)
	require.NoError(t, err)
	f.end(t)

	_, err = f.svc.Submit(ctx, f.session.ID, f.students[0], "late", false)
	assert.ErrorIs(t, err, models.ErrSessionNotLive)

	list, err := f.svc.List(ctx, f.session.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	_, err = f.svc.Upvote(ctx, first.ID, f.students[2])
	assert.ErrorIs(t, err, models.ErrSessionNotLive)
}

func TestAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.Submit(ctx, f.session.ID, f.students[0], "Why X?", false)
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, d.ID, f.students[1], "because")
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	got, err := f.svc.Answer(ctx, d.ID, f.instructor, "Because Y.")
	require.NoError(t, err)
	assert.True(t, got.Answered)
	require.NotNil(t, got.AnswerText)
	assert.Equal(t, "Because Y.", *got.AnswerText)
	assert.Equal(t, f.instructor, *got.AnsweredBy)

	other := uuid.New()
	f.db.AddMember(f.session.CourseID, other, roster.RoleInstructor)
	_, err = f.svc.Answer(ctx, d.ID, other, "Different answer")
	assert.ErrorIs(t, err, models.ErrAlreadyAnswered)

	list, err := f.svc.List(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Because Y.", *list[0].AnswerText)
	assert.Equal(t, f.instructor, *list[0].AnsweredBy)
	assert.Equal(t, 1, f.bus.count(realtime.EventDoubtAnswered))
}

func TestAnswerAfterEndIsAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.Submit(ctx, f.session.ID, f.students[0], "Why X?", false)
	require.NoError(t, err)
	f.end(t)

	_, err = f.svc.Answer(ctx, d.ID, f.instructor, "Later.")
	assert.NoError(t, err)
}

func TestUnknownDoubt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upvote(ctx, uuid.New(), f.students[0])
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.svc.Answer(ctx, uuid.New(), f.instructor, "x")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.svc.List(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpvoteRetriesUnavailableStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.Submit(ctx, f.session.ID, f.students[0], "Why X?", false)
	require.NoError(t, err)

	f.db.FailNext(3)
	got, err := f.svc.Upvote(ctx, d.ID, f.students[1])
	require.NoError(t, err)
	assert.Equal(t, 1, got.UpvoteCount)
}

func TestConcurrentUpvotesMatchDistinctVoters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.Submit(ctx, f.session.ID, f.students[0], "Why X?", false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(voter uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Upvote(ctx, d.ID, voter)
			assert.NoError(t, err)
		}(f.students[i%len(f.students)])
	}
	wg.Wait()

	list, err := f.svc.List(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, len(f.students), list[0].UpvoteCount)
}

// ackLostStore commits the first upvote and then reports the store as
// unreachable, as when a commit succeeds but its reply never arrives.
type ackLostStore struct {
	*memstore.DoubtRepository
	mu   sync.Mutex
	lost bool
}

func (s *ackLostStore) AddUpvote(ctx context.Context, doubtID, voterID uuid.UUID) (*models.Doubt, bool, error) {
	d, changed, err := s.DoubtRepository.AddUpvote(ctx, doubtID, voterID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && !s.lost {
		s.lost = true
		return nil, false, fmt.Errorf("add upvote: %w", models.ErrStoreUnavailable)
	}
	return d, changed, err
}

func TestUpvote_PublishesWhenCommitOutcomeWasUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.Submit(ctx, f.session.ID, f.students[0], "Why X?", false)
	require.NoError(t, err)

	store := &ackLostStore{DoubtRepository: memstore.NewDoubtRepository(f.db)}
	svc := NewService(store, f.sessions, memstore.NewRoster(f.db), f.bus, nil, WithRetry(retry.New(3, 0)))

	got, err := svc.Upvote(ctx, d.ID, f.students[1])
	require.NoError(t, err)
	assert.Equal(t, 1, got.UpvoteCount)
	assert.Equal(t, 1, f.bus.count(realtime.EventDoubtUpvoted))
}

type hungRoster struct{}

func (hungRoster) IsAuthorizedInstructor(ctx context.Context, _, _ uuid.UUID) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (hungRoster) IsEnrolled(ctx context.Context, _, _ uuid.UUID) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestSubmit_HungRosterFailsClosed(t *testing.T) {
	f := newFixture(t)
	svc := NewService(memstore.NewDoubtRepository(f.db), f.sessions, hungRoster{}, f.bus, nil, WithTimeout(50*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(context.Background(), f.session.ID, f.students[0], "Why X?", false)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, models.ErrStoreUnavailable)
		assert.True(t, models.Retryable(err))
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not return within the store timeout")
	}
}
