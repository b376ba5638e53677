// Package doubts is the per-session queue of student questions, with
// deduplicated upvotes and one-time answers.
package doubts

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

// SessionReader looks up the session a doubt belongs to.
type SessionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Service implements the doubt queue.
type Service struct {
	store    Store
	sessions SessionReader
	roster   roster.Provider
	bus      realtime.Publisher
	retry    *retry.Policy
	timeout  time.Duration
	maxLen   int
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetry retries upvote and retract on ErrStoreUnavailable.
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

// WithMaxLength sets the longest accepted doubt or answer, in characters.
func WithMaxLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

// NewService creates a doubt service.
func NewService(store Store, sessions SessionReader, provider roster.Provider, bus realtime.Publisher, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = realtime.NopPublisher{}
	}
	s := &Service{
		store:    store,
		sessions: sessions,
		roster:   provider,
		bus:      bus,
		timeout:  defaultTimeout,
		maxLen:   models.DefaultDoubtMaxLength,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.roster = roster.Bounded(provider, s.timeout)
	return s
}

func (s *Service) session(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	rctx, cancel := database.ReadContext(ctx, s.timeout)
	defer cancel()
	sess, err := s.sessions.Get(rctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *Service) participant(ctx context.Context, courseID, userID uuid.UUID) error {
	ok, err := roster.CanParticipate(ctx, s.roster, courseID, userID)
	if err != nil {
		return fmt.Errorf("check roster: %w", err)
	}
	if !ok {
		return models.ErrNotAuthorized
	}
	return nil
}

// Submit appends a doubt to a live session.
func (s *Service) Submit(ctx context.Context, sessionID, authorID uuid.UUID, text string, anonymous bool) (*models.Doubt, error) {
	text, err := models.NormalizeDoubtText(text, s.maxLen)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.participant(ctx, sess.CourseID, authorID); err != nil {
		return nil, err
	}
	if !sess.IsLive() {
		return nil, models.ErrSessionNotLive
	}

	wctx, cancel := database.WriteContext(ctx, s.timeout)
	defer cancel()
	d := &models.Doubt{SessionID: sessionID, AuthorID: authorID, Text: text, Anonymous: anonymous}
	if err := s.store.Create(wctx, d); err != nil {
		return nil, fmt.Errorf("submit doubt: %w", err)
	}

	s.logger.Debug("doubt submitted", zap.String("doubt_id", d.ID.String()), zap.Int64("seq", d.Seq))
	s.bus.Publish(sessionID, realtime.EventDoubtCreated, d)
	return d, nil
}

// doubtAndCourse loads a doubt and the course that owns its session.
func (s *Service) doubtAndCourse(ctx context.Context, doubtID uuid.UUID) (*models.Doubt, uuid.UUID, error) {
	rctx, cancel := database.ReadContext(ctx, s.timeout)
	defer cancel()
	d, err := s.store.Get(rctx, doubtID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("get doubt: %w", err)
	}
	sess, err := s.session(ctx, d.SessionID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return d, sess.CourseID, nil
}

// Upvote adds voterID's upvote. Repeating it is a successful no-op.
func (s *Service) Upvote(ctx context.Context, doubtID, voterID uuid.UUID) (*models.Doubt, error) {
	return s.vote(ctx, doubtID, voterID, s.store.AddUpvote, "upvote")
}

// RetractUpvote removes voterID's upvote. Retracting when there is none is a successful no-op.
func (s *Service) RetractUpvote(ctx context.Context, doubtID, voterID uuid.UUID) (*models.Doubt, error) {
	return s.vote(ctx, doubtID, voterID, s.store.RemoveUpvote, "retract upvote")
}

type voteFunc func(ctx context.Context, doubtID, voterID uuid.UUID) (*models.Doubt, bool, error)

func (s *Service) vote(ctx context.Context, doubtID, voterID uuid.UUID, apply voteFunc, op string) (*models.Doubt, error) {
	_, courseID, err := s.doubtAndCourse(ctx, doubtID)
	if err != nil {
		return nil, err
	}
	if err := s.participant(ctx, courseID, voterID); err != nil {
		return nil, err
	}

	wctx, cancel := database.WriteContext(ctx, s.timeout)
	defer cancel()
	var d *models.Doubt
	changed, err := s.retry.DoChange(wctx, func(ctx context.Context) (bool, error) {
		var changed bool
		var err error
		d, changed, err = apply(ctx, doubtID, voterID)
		return changed, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if changed {
		s.bus.Publish(d.SessionID, realtime.EventDoubtUpvoted, d)
	}
	return d, nil
}

// Answer resolves a doubt. Only instructors of the course may answer, and a
// doubt is answered once; answering after the session ended is allowed.
func (s *Service) Answer(ctx context.Context, doubtID, answererID uuid.UUID, answerText string) (*models.Doubt, error) {
	answerText, err := models.NormalizeDoubtText(answerText, s.maxLen)
	if err != nil {
		return nil, err
	}
	_, courseID, err := s.doubtAndCourse(ctx, doubtID)
	if err != nil {
		return nil, err
	}
	ok, err := s.roster.IsAuthorizedInstructor(ctx, courseID, answererID)
	if err != nil {
		return nil, fmt.Errorf("check instructor: %w", err)
	}
	if !ok {
		return nil, models.ErrNotAuthorized
	}

	wctx, cancel := database.WriteContext(ctx, s.timeout)
	defer cancel()
	d, err := s.store.MarkAnswered(wctx, doubtID, answererID, answerText)
	if err != nil {
		return nil, fmt.Errorf("answer doubt: %w", err)
	}

	s.logger.Debug("doubt answered", zap.String("doubt_id", d.ID.String()))
	s.bus.Publish(d.SessionID, realtime.EventDoubtAnswered, d)
	return d, nil
}

// List returns a session's doubts in submission order, including after it ended.
func (s *Service) List(ctx context.Context, sessionID uuid.UUID) ([]models.Doubt, error) {
	if _, err := s.session(ctx, sessionID); err != nil {
		return nil, err
	}
	rctx, cancel := database.ReadContext(ctx, s.timeout)
	defer cancel()
	list, err := s.store.ListBySession(rctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list doubts: %w", err)
	}
	return list, nil
}
