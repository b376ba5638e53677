// Package snapshot reads everything a client needs to rebuild its view of a
// session: the session, its doubts and its polls with tallies. Clients load it
// on connect and after any gap in the event stream; the archive worker uploads it.
package snapshot

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/pkg/response"
)

// State is the full current state of one session.
type State struct {
	Session *models.Session   `json:"session"`
	Doubts  []models.Doubt    `json:"doubts"`
	Polls   []models.PollView `json:"polls"`
}

// SessionReader reads sessions.
type SessionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// DoubtLister lists a session's doubts.
type DoubtLister interface {
	List(ctx context.Context, sessionID uuid.UUID) ([]models.Doubt, error)
}

// PollLister lists a session's polls with tallies.
type PollLister interface {
	List(ctx context.Context, sessionID uuid.UUID) ([]models.PollView, error)
}

// Builder assembles a State from the three services.
type Builder struct {
	sessions SessionReader
	doubts   DoubtLister
	polls    PollLister
}

// NewBuilder creates a snapshot builder.
func NewBuilder(sessions SessionReader, doubts DoubtLister, polls PollLister) *Builder {
	return &Builder{sessions: sessions, doubts: doubts, polls: polls}
}

// Build reads the session first, so the doubts and polls returned are at
// least as new as the session record.
func (b *Builder) Build(ctx context.Context, sessionID uuid.UUID) (*State, error) {
	s, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	doubts, err := b.doubts.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot doubts: %w", err)
	}
	polls, err := b.polls.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot polls: %w", err)
	}
	return &State{Session: s, Doubts: doubts, Polls: polls}, nil
}

// Func adapts Build to the websocket snapshot hook.
func (b *Builder) Func() func(ctx context.Context, sessionID uuid.UUID) (interface{}, error) {
	return func(ctx context.Context, sessionID uuid.UUID) (interface{}, error) {
		return b.Build(ctx, sessionID)
	}
}

// Handler handles GET /sessions/:id/state.
func (b *Builder) Handler(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	state, err := b.Build(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err, "load session state")
		return
	}
	response.OK(c, state)
}
