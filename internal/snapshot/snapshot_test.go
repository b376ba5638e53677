package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/backend/internal/doubts"
	"github.com/classlive/backend/internal/memstore"
	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/internal/polls"
	"github.com/classlive/backend/internal/roster"
	"github.com/classlive/backend/internal/sessions"
)

type world struct {
	builder    *Builder
	session    *models.Session
	doubts     *doubts.Service
	polls      *polls.Service
	instructor uuid.UUID
	student    uuid.UUID
}

func newWorld(t *testing.T) *world {
	t.Helper()
	db := memstore.NewDB()
	course, instructor, student := uuid.New(), uuid.New(), uuid.New()
	db.AddMember(course, instructor, roster.RoleInstructor)
	db.AddMember(course, student, roster.RoleStudent)
	rost := memstore.NewRoster(db)
	sessionRepo := memstore.NewSessionRepository(db)

	sessionSvc := sessions.NewService(sessionRepo, rost, nil, nil)
	doubtSvc := doubts.NewService(memstore.NewDoubtRepository(db), sessionRepo, rost, nil, nil)
	pollSvc := polls.NewService(memstore.NewPollRepository(db), sessionRepo, rost, nil, nil)

	s, err := sessionSvc.Start(context.Background(), course, "Week 3", instructor)
	require.NoError(t, err)
	return &world{
		builder:    NewBuilder(sessionSvc, doubtSvc, pollSvc),
		session:    s,
		doubts:     doubtSvc,
		polls:      pollSvc,
		instructor: instructor,
		student:    student,
	}
}

func TestBuild(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, err := w.doubts.Submit(ctx, w.session.ID, w.student, "Why X?", true)
	require.NoError(t, err)
	p, err := w.polls.Create(ctx, w.session.ID, w.instructor, "Clear?", []string{"Yes", "No"})
	require.NoError(t, err)
	_, err = w.polls.Respond(ctx, p.ID, w.student, 0)
	require.NoError(t, err)

	state, err := w.builder.Build(ctx, w.session.ID)
	require.NoError(t, err)
	assert.Equal(t, w.session.ID, state.Session.ID)
	require.Len(t, state.Doubts, 1)
	require.Len(t, state.Polls, 1)
	assert.Equal(t, []int{1, 0}, state.Polls[0].Tally.Counts)
}

func TestBuild_UnknownSession(t *testing.T) {
	w := newWorld(t)
	_, err := w.builder.Build(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHandler(t *testing.T) {
	w := newWorld(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/sessions/:id/state", w.builder.Handler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+w.session.ID.String()+"/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Session models.Session    `json:"session"`
			Doubts  []json.RawMessage `json:"doubts"`
			Polls   []json.RawMessage `json:"polls"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, w.session.ID, body.Data.Session.ID)
	assert.NotNil(t, body.Data.Doubts)
	assert.NotNil(t, body.Data.Polls)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+uuid.NewString()+"/state", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
