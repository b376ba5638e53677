package sessions

import (
	"context"
	"fmt"
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

var _ Store = (*memstore.SessionRepository)(nil)

type published struct {
	event   string
	payload interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(_ uuid.UUID, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{event, payload})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.event)
	}
	return out
}

type archiveCall struct{ session, course uuid.UUID }

type fakeArchiver struct{ calls []archiveCall }

func (f *fakeArchiver) EnqueueSessionArchive(_ context.Context, sessionID, courseID uuid.UUID) error {
	f.calls = append(f.calls, archiveCall{sessionID, courseID})
	return nil
}

type fixture struct {
	db         *memstore.DB
	svc        *Service
	bus        *recorder
	archiver   *fakeArchiver
	course     uuid.UUID
	instructor uuid.UUID
	student    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:         memstore.NewDB(),
		bus:        &recorder{},
		archiver:   &fakeArchiver{},
		course:     uuid.New(),
		instructor: uuid.New(),
		student:    uuid.New(),
	}
	f.db.AddMember(f.course, f.instructor, roster.RoleInstructor)
	f.db.AddMember(f.course, f.student, roster.RoleStudent)
	f.svc = NewService(memstore.NewSessionRepository(f.db), memstore.NewRoster(f.db), f.bus, nil,
		WithRetry(retry.New(3, 0)),
		WithTallies(memstore.NewPollRepository(f.db)),
		WithArchiver(f.archiver),
	)
	return f
}

func (f *fixture) start(t *testing.T) *models.Session {
	t.Helper()
	s, err := f.svc.Start(context.Background(), f.course, "  Week 3  ", f.instructor)
	require.NoError(t, err)
	return s
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)

	assert.Equal(t, models.SessionLive, s.Status)
	assert.Equal(t, "Week 3", s.Title)
	assert.Equal(t, 1, s.ParticipantCount)
	assert.False(t, s.StartedAt.IsZero())
	assert.Nil(t, s.EndedAt)
	assert.Equal(t, []string{realtime.EventSessionStarted}, f.bus.names())
}

func TestStart_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, f.course, "", f.student)
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	f.start(t)
	_, err = f.svc.Start(ctx, f.course, "again", f.instructor)
	assert.ErrorIs(t, err, models.ErrAlreadyLive)
	assert.Equal(t, models.KindConflict, models.KindOf(err))
}

func TestEnd_ClosesPollsThenPublishesEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t)
	pollRepo := memstore.NewPollRepository(f.db)
	p := &models.Poll{SessionID: s.ID, Question: "Clear?", Options: []string{"Yes", "No"}}
	require.NoError(t, pollRepo.Create(ctx, p))
	_, _, err := pollRepo.Respond(ctx, p.ID, f.student, 1)
	require.NoError(t, err)

	ended, err := f.svc.End(ctx, s.ID, f.instructor)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)

	names := f.bus.names()
	assert.Equal(t, []string{realtime.EventSessionStarted, realtime.EventPollClosed, realtime.EventSessionEnded}, names)
	view := f.bus.events[1].payload.(models.PollView)
	assert.Equal(t, models.PollClosed, view.Status)
	assert.Equal(t, []int{0, 1}, view.Tally.Counts)

	assert.Equal(t, []archiveCall{{s.ID, f.course}}, f.archiver.calls)

	got, err := pollRepo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollClosed, got.Status)
}

func TestEnd_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t)

	_, err := f.svc.End(ctx, s.ID, f.student)
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	_, err = f.svc.End(ctx, uuid.New(), f.instructor)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.End(ctx, s.ID, f.instructor)
	require.NoError(t, err)
	_, err = f.svc.End(ctx, s.ID, f.instructor)
	assert.ErrorIs(t, err, models.ErrNotLive)
}

func TestEnd_AnotherInstructorMayEnd(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()
	f.db.AddMember(f.course, other, roster.RoleInstructor)
	s := f.start(t)

	_, err := f.svc.End(context.Background(), s.ID, other)
	assert.NoError(t, err)
}

func TestJoin_DuplicateCountsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Join(ctx, s.ID, f.student)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ParticipantCount)

	presence := 0
	for _, name := range f.bus.names() {
		if name == realtime.EventPresenceChanged {
			presence++
		}
	}
	assert.Equal(t, 1, presence)
}

func TestJoin_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t)

	_, err := f.svc.Join(ctx, s.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	_, err = f.svc.End(ctx, s.ID, f.instructor)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, s.ID, f.student)
	assert.ErrorIs(t, err, models.ErrSessionNotLive)
}

func TestJoin_RetriesUnavailableStore(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)

	f.db.FailNext(2)
	p, err := f.svc.Join(context.Background(), s.ID, f.student)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ParticipantCount)
}

func TestJoin_GivesUpAfterAttempts(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)

	f.db.FailNext(10)
	_, err := f.svc.Join(context.Background(), s.ID, f.student)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.True(t, models.Retryable(err))
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t)
	_, err := f.svc.Join(ctx, s.ID, f.student)
	require.NoError(t, err)

	p, err := f.svc.Leave(ctx, s.ID, f.student)
	require.NoError(t, err)
	assert.Equal(t, 1, p.ParticipantCount)

	p, err = f.svc.Leave(ctx, s.ID, f.student)
	require.NoError(t, err)
	assert.Equal(t, 1, p.ParticipantCount)

	_, err = f.svc.End(ctx, s.ID, f.instructor)
	require.NoError(t, err)
	p, err = f.svc.Leave(ctx, s.ID, f.instructor)
	require.NoError(t, err)
	assert.Equal(t, 1, p.ParticipantCount)
}

func TestListByCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.start(t)
	_, err := f.svc.End(ctx, first.ID, f.instructor)
	require.NoError(t, err)
	second := f.start(t)

	list, err := f.svc.ListByCourse(ctx, f.course)
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []uuid.UUID{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, ids)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, name := range r.names() {
		if name == event {
			n++
		}
	}
	return n
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

func TestStart_HungRosterFailsClosed(t *testing.T) {
	svc := NewService(memstore.NewSessionRepository(memstore.NewDB()), hungRoster{}, nil, nil, WithTimeout(50*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Start(context.Background(), uuid.New(), "Week 3", uuid.New())
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return within the store timeout")
	}
}

// ackLostStore commits the first join and then reports the store as
// unreachable, as when a commit succeeds but its reply never arrives.
type ackLostStore struct {
	*memstore.SessionRepository
	mu   sync.Mutex
	lost bool
}

func (s *ackLostStore) AddParticipant(ctx context.Context, sessionID, userID uuid.UUID) (int, bool, error) {
	n, added, err := s.SessionRepository.AddParticipant(ctx, sessionID, userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && !s.lost {
		s.lost = true
		return 0, false, fmt.Errorf("add participant: %w", models.ErrStoreUnavailable)
	}
	return n, added, err
}

func TestJoin_PublishesWhenCommitOutcomeWasUnknown(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)

	store := &ackLostStore{SessionRepository: memstore.NewSessionRepository(f.db)}
	svc := NewService(store, memstore.NewRoster(f.db), f.bus, nil, WithRetry(retry.New(3, 0)))

	p, err := svc.Join(context.Background(), s.ID, f.student)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ParticipantCount)
	assert.Equal(t, 1, f.bus.count(realtime.EventPresenceChanged))
}
