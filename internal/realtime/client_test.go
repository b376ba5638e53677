package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
)

type fakePresence struct {
	mu     sync.Mutex
	joins  int
	leaves int
	err    error
}

func (p *fakePresence) Join(context.Context, uuid.UUID, uuid.UUID) (models.Presence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return models.Presence{}, p.err
	}
	p.joins++
	return models.Presence{}, nil
}

func (p *fakePresence) Leave(context.Context, uuid.UUID, uuid.UUID) (models.Presence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leaves++
	return models.Presence{}, nil
}

func (p *fakePresence) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joins, p.leaves
}

type wsFixture struct {
	hub      *Hub
	presence *fakePresence
	server   *httptest.Server
	user     uuid.UUID
	session  uuid.UUID
}

func newWsFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &wsFixture{
		hub:      NewHub(zap.NewNop()),
		presence: &fakePresence{},
		user:     uuid.New(),
		session:  uuid.New(),
	}
	validate := func(token string) (uuid.UUID, string, error) {
		if token != "good" {
			return uuid.Nil, "", errors.New("bad token")
		}
		return f.user, "student", nil
	}
	snapshot := func(_ context.Context, sessionID uuid.UUID) (interface{}, error) {
		return map[string]string{"session": sessionID.String()}, nil
	}
	r := gin.New()
	r.GET("/ws", ServeWs(f.hub, zap.NewNop(), validate, f.presence, snapshot))
	f.server = httptest.NewServer(r)
	t.Cleanup(func() {
		f.hub.Close()
		f.server.Close()
	})
	return f
}

func (f *wsFixture) url(sessionID, token string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?session_id=" + sessionID + "&token=" + token
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url(f.session.String(), "good"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestServeWs_RejectsBadRequests(t *testing.T) {
	f := newWsFixture(t)
	cases := map[string]struct {
		url  string
		code int
	}{
		"missing token":  {f.url(f.session.String(), ""), http.StatusBadRequest},
		"bad session id":  {f.url("nope", "good"), http.StatusBadRequest},
		"invalid token":  {f.url(f.session.String(), "bad"), http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tc.url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

func TestServeWs_JoinFailureIsReported(t *testing.T) {
	f := newWsFixture(t)
	f.presence.err = models.ErrSessionNotLive

	_, resp, err := websocket.DefaultDialer.Dial(f.url(f.session.String(), "good"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 0, f.hub.SubscriberCount(f.session))
}

func TestServeWs_SnapshotThenEvents(t *testing.T) {
	f := newWsFixture(t)
	conn := f.dial(t)

	env := read(t, conn)
	assert.Equal(t, EventSnapshot, env.Event)
	assert.Contains(t, string(env.Data), f.session.String())

	f.hub.Publish(f.session, EventDoubtCreated, map[string]int{"seq": 1})
	env = read(t, conn)
	assert.Equal(t, EventDoubtCreated, env.Event)
	assert.Equal(t, f.session, env.SessionID)
	assert.JSONEq(t, `{"seq":1}`, string(env.Data))

	f.hub.Publish(uuid.New(), EventDoubtCreated, nil)
	require.NoError(t, conn.WriteJSON(map[string]string{"event": "resync"}))
	assert.Equal(t, EventSnapshot, read(t, conn).Event)

	require.NoError(t, conn.WriteJSON(map[string]string{"event": "bogus"}))
	assert.Equal(t, EventError, read(t, conn).Event)
}

func TestServeWs_LeavesOnLastDisconnect(t *testing.T) {
	f := newWsFixture(t)
	first := f.dial(t)
	read(t, first)
	second := f.dial(t)
	read(t, second)
	assert.Equal(t, 2, f.hub.SubscriberCount(f.session))

	require.NoError(t, first.Close())
	assert.Eventually(t, func() bool { return f.hub.SubscriberCount(f.session) == 1 }, 2*time.Second, 10*time.Millisecond)
	_, leaves := f.presence.counts()
	assert.Equal(t, 0, leaves)

	require.NoError(t, second.Close())
	assert.Eventually(t, func() bool {
		_, leaves := f.presence.counts()
		return leaves == 1
	}, 2*time.Second, 10*time.Millisecond)
	joins, _ := f.presence.counts()
	assert.Equal(t, 2, joins)
}

func TestServeWs_HubCloseAsksClientToResubscribe(t *testing.T) {
	f := newWsFixture(t)
	conn := f.dial(t)
	read(t, conn)

	f.hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
}
