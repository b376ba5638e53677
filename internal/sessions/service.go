// Package sessions owns the live -> ended lifecycle of a session and its
// participant count.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/internal/realtime"
	"github.com/classlive/backend/internal/roster"
	"github.com/classlive/backend/pkg/database"
	"github.com/classlive/backend/pkg/retry"
)

const defaultTimeout = 3 * time.Second

// TallyReader reads a poll's tally; used to publish closed polls on End.
type TallyReader interface {
	Tally(ctx context.Context, pollID uuid.UUID) (models.Tally, error)
}

// Archiver schedules the post-session archive upload.
type Archiver interface {
	EnqueueSessionArchive(ctx context.Context, sessionID, courseID uuid.UUID) error
}

// Service implements the session lifecycle.
type Service struct {
	store    Store
	roster   roster.Provider
	bus      realtime.Publisher
	tallies  TallyReader
	archiver Archiver
	retry    *retry.Policy
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetry retries idempotent writes (join, leave) on ErrStoreUnavailable.
func WithRetry(p *retry.Policy) Option {
	return func(s *Service) { s.retry = p }
}

// WithTimeout bounds every store call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTallies lets End publish closed polls together with their frozen tally.
func WithTallies(t TallyReader) Option {
	return func(s *Service) { s.tallies = t }
}

// WithArchiver enqueues an archive job whenever a session ends.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// NewService creates a session service.
func NewService(store Store, provider roster.Provider, bus realtime.Publisher, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = realtime.NopPublisher{}
	}
	s := &Service{store: store, roster: provider, bus: bus, timeout: defaultTimeout, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.roster = roster.Bounded(provider, s.timeout)
	return s
}

// Start makes a new live session for courseID. Only instructors of the
// course may start one, and a course has at most one live session.
func (s *Service) Start(ctx context.Context, courseID uuid.UUID, title string, initiator uuid.UUID) (*models.Session, error) {
	title, err := models.NormalizeTitle(title)
	if err != nil {
		return nil, err
	}
	ok, err := s.roster.IsAuthorizedInstructor(ctx, courseID, initiator)
	if err != nil {
		return nil, fmt.Errorf("check instructor: %w", err)
	}
	if !ok {
		return nil, models.ErrNotAuthorized
	}

	wctx, cancel := database.WriteContext(ctx, s.timeout)
	defer cancel()
	sess := &models.Session{CourseID: courseID, Title: title, StartedBy: initiator}
	if err := s.store.CreateLive(wctx, sess); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	s.logger.Debug("session started", zap.String("session_id", sess.ID.String()), zap.String("course_id", courseID.String()))
	s.bus.Publish(sess.ID, realtime.EventSessionStarted, sess)
	return sess, nil
}

// End ends a live session and closes its active polls. The starter and any
// instructor of the course may end it.
func (s *Service) End(ctx context.Context, sessionID, initiator uuid.UUID) (*models.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.StartedBy != initiator {
		ok, err := s.roster.IsAuthorizedInstructor(ctx, sess.CourseID, initiator)
		if err != nil {
			return nil, fmt.Errorf("check instructor: %w", err)
		}
		if !ok {
			return nil, models.ErrNotAuthorized
		}
	}

	wctx, cancel := database.WriteContext(ctx, s.timeout)
	defer cancel()
	ended, closed, err := s.store.End(wctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}

	for _, p := range closed {
		s.bus.Publish(sessionID, realtime.EventPollClosed, s.pollView(wctx, p))
	}
	s.bus.Publish(sessionID, realtime.EventSessionEnded, ended)
	s.logger.Debug("session ended", zap.String("session_id", sessionID.String()), zap.Int("polls_closed", len(closed)))

	if s.archiver != nil {
		if err := s.archiver.EnqueueSessionArchive(wctx, ended.ID, ended.CourseID); err != nil {
			s.logger.Warn("enqueue session archive failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}
	return ended, nil
}

func (s *Service) pollView(ctx context.Context, p models.Poll) models.PollView {
	view := models.PollView{Poll: p, Tally: models.NewTally(p.ID, len(p.Options), nil, 0)}
	if s.tallies == nil {
		return view
	}
	t, err := s.tallies.Tally(ctx, p.ID)
	if err != nil {
		s.logger.Warn("read tally of closed poll", zap.String("poll_id", p.ID.String()), zap.Error(err))
		return view
	}
	view.Tally = t
	return view
}

// Join counts userID into a live session once, however often it is called.
func (s *Service) Join(ctx context.Context, sessionID, userID uuid.UUID) (models.Presence, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return models.Presence{}, err
	}
	ok, err := roster.CanParticipate(ctx, s.roster, sess.CourseID, userID)
	if err != nil {
		return models.Presence{}, fmt.Errorf("check roster: %w", err)
	}
	if !ok {
		return models.Presence{}, models.ErrNotAuthorized
	}
	if !sess.IsLive() {
		return models.Presence{}, models.ErrSessionNotLive
	}

	wctx, cancel := database.WriteContext(ctx, s.timeout)
	defer cancel()
	var count int
	added, err := s.retry.DoChange(wctx, func(ctx context.Context) (bool, error) {
		var added bool
		var err error
		count, added, err = s.store.AddParticipant(ctx, sessionID, userID)
		return added, err
	})
	if err != nil {
		return models.Presence{}, fmt.Errorf("join session: %w", err)
	}

	p := models.Presence{SessionID: sessionID, ParticipantCount: count}
	if added {
		s.bus.Publish(sessionID, realtime.EventPresenceChanged, p)
	}
	return p, nil
}

// Leave counts userID out of a session. Leaving an ended session, or a
// session the user never joined, changes nothing and succeeds.
func (s *Service) Leave(ctx context.Context, sessionID, userID uuid.UUID) (models.Presence, error) {
	wctx, cancel := database.WriteContext(ctx, s.timeout)
	defer cancel()
	var count int
	removed, err := s.retry.DoChange(wctx, func(ctx context.Context) (bool, error) {
		var removed bool
		var err error
		count, removed, err = s.store.RemoveParticipant(ctx, sessionID, userID)
		return removed, err
	})
	if err != nil {
		return models.Presence{}, fmt.Errorf("leave session: %w", err)
	}

	p := models.Presence{SessionID: sessionID, ParticipantCount: count}
	if removed {
		s.bus.Publish(sessionID, realtime.EventPresenceChanged, p)
	}
	return p, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	rctx, cancel := database.ReadContext(ctx, s.timeout)
	defer cancel()
	sess, err := s.store.Get(rctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListByCourse returns the sessions of a course, newest first.
func (s *Service) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]models.Session, error) {
	rctx, cancel := database.ReadContext(ctx, s.timeout)
	defer cancel()
	list, err := s.store.ListByCourse(rctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return list, nil
}
