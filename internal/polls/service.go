// Package polls runs instructor polls: creation, upserted responses, tallies
// and closing.
package polls

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

// SessionReader looks up the session a poll belongs to.
type SessionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Service implements the poll engine.
type Service struct {
	store      Store
	sessions   SessionReader
	roster     roster.Provider
	bus        realtime.Publisher
	retry      *retry.Policy
	timeout    time.Duration
	maxOptions int
	logger     *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetry retries Respond on ErrStoreUnavailable.
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

// WithMaxOptions caps the number of options a poll may have.
func WithMaxOptions(n int) Option {
	return func(s *Service) {
		if n >= 2 {
			s.maxOptions = n
		}
	}
}

// NewService creates a poll service.
func NewService(store Store, sessions SessionReader, provider roster.Provider, bus realtime.Publisher, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = realtime.NopPublisher{}
	}
	s := &Service{
		store:      store,
		sessions:   sessions,
		roster:     provider,
		bus:        bus,
		timeout:    defaultTimeout,
		maxOptions: models.DefaultPollMaxOptions,
		logger:     logger,
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

func (s *Service) instructor(ctx context.Context, courseID, userID uuid.UUID) error {
	ok, err := s.roster.IsAuthorizedInstructor(ctx, courseID, userID)
	if err != nil {
		return fmt.Errorf("check instructor: %w", err)
	}
	if !ok {
		return models.ErrNotAuthorized
	}
	return nil
}

// pollAndCourse loads a poll and the course that owns its session.
func (s *Service) pollAndCourse(ctx context.Context, pollID uuid.UUID) (*models.Poll, uuid.UUID, error) {
	rctx, cancel := database.ReadContext(ctx, s.timeout)
	defer cancel()
	p, err := s.store.Get(rctx, pollID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("get poll: %w", err)
	}
	sess, err := s.session(ctx, p.SessionID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return p, sess.CourseID, nil
}

// Create opens a poll in a live session. Several polls may be active at once.
func (s *Service) Create(ctx context.Context, sessionID, creatorID uuid.UUID, question string, options []string) (*models.PollView, error) {
	question, options, err := models.NormalizePoll(question, options, s.maxOptions)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.instructor(ctx, sess.CourseID, creatorID); err != nil {
		return nil, err
	}
	if !sess.IsLive() {
		return nil, models.ErrSessionNotLive
	}

	wctx, cancel := database.WriteContext(ctx, s.timeout)
	defer cancel()
	p := &models.Poll{SessionID: sessionID, Question: question, Options: options, CreatedBy: creatorID}
	if err := s.store.Create(wctx, p); err != nil {
		return nil, fmt.Errorf("create poll: %w", err)
	}

	view := &models.PollView{Poll: *p, Tally: models.NewTally(p.ID, len(p.Options), nil, 0)}
	s.logger.Debug("poll created", zap.String("poll_id", p.ID.String()), zap.Int("options", len(p.Options)))
	s.bus.Publish(sessionID, realtime.EventPollCreated, view)
	return view, nil
}

// Close closes an active poll and freezes its tally.
func (s *Service) Close(ctx context.Context, pollID, closerID uuid.UUID) (*models.PollView, error) {
	_, courseID, err := s.pollAndCourse(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := s.instructor(ctx, courseID, closerID); err != nil {
		return nil, err
	}

	wctx, cancel := database.WriteContext(ctx, s.timeout)
	defer cancel()
	p, err := s.store.Close(wctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("close poll: %w", err)
	}
	t, err := s.store.Tally(wctx, pollID)
	if err != nil {
		s.logger.Warn("read tally of closed poll", zap.String("poll_id", pollID.String()), zap.Error(err))
		t = models.NewTally(p.ID, len(p.Options), nil, 0)
	}

	view := &models.PollView{Poll: *p, Tally: t}
	s.bus.Publish(p.SessionID, realtime.EventPollClosed, view)
	return view, nil
}

// Respond records voterID's selection, replacing any earlier one. Choosing
// the same option again is a successful no-op.
func (s *Service) Respond(ctx context.Context, pollID, voterID uuid.UUID, optionIndex int) (models.Tally, error) {
	p, courseID, err := s.pollAndCourse(ctx, pollID)
	if err != nil {
		return models.Tally{}, err
	}
	ok, err := roster.CanParticipate(ctx, s.roster, courseID, voterID)
	if err != nil {
		return models.Tally{}, fmt.Errorf("check roster: %w", err)
	}
	if !ok {
		return models.Tally{}, models.ErrNotAuthorized
	}
	if !p.IsActive() {
		return models.Tally{}, models.ErrPollClosed
	}
	if err := models.CheckOption(optionIndex, len(p.Options)); err != nil {
		return models.Tally{}, err
	}

	wctx, cancel := database.WriteContext(ctx, s.timeout)
	defer cancel()
	var t models.Tally
	changed, err := s.retry.DoChange(wctx, func(ctx context.Context) (bool, error) {
		var changed bool
		var err error
		t, changed, err = s.store.Respond(ctx, pollID, voterID, optionIndex)
		return changed, err
	})
	if err != nil {
		return models.Tally{}, fmt.Errorf("record response: %w", err)
	}
	if changed {
		s.bus.Publish(p.SessionID, realtime.EventPollResponseRecorded, t)
	}
	return t, nil
}

// List returns a session's polls with their tallies, oldest first.
func (s *Service) List(ctx context.Context, sessionID uuid.UUID) ([]models.PollView, error) {
	if _, err := s.session(ctx, sessionID); err != nil {
		return nil, err
	}
	rctx, cancel := database.ReadContext(ctx, s.timeout)
	defer cancel()
	list, err := s.store.ListBySession(rctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	views := make([]models.PollView, 0, len(list))
	for _, p := range list {
		t, err := s.store.Tally(rctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("tally poll %s: %w", p.ID, err)
		}
		views = append(views, models.PollView{Poll: p, Tally: t})
	}
	return views, nil
}

// Tally returns the current tally of a poll.
func (s *Service) Tally(ctx context.Context, pollID uuid.UUID) (models.Tally, error) {
	rctx, cancel := database.ReadContext(ctx, s.timeout)
	defer cancel()
	t, err := s.store.Tally(rctx, pollID)
	if err != nil {
		return models.Tally{}, fmt.Errorf("tally poll: %w", err)
	}
	return t, nil
}
