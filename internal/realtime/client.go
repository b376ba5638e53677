package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/pkg/response"
)

const (
	writeWait    = 10 * time.Second
	readLimit    = 4096
	presenceWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // token in query authenticates the socket; CORS does not apply to ws
	},
}

// TokenValidator resolves a bearer token to the caller's identity.
type TokenValidator func(token string) (userID uuid.UUID, role string, err error)

// Presence counts a user into and out of a session.
type Presence interface {
	Join(ctx context.Context, sessionID, userID uuid.UUID) (models.Presence, error)
	Leave(ctx context.Context, sessionID, userID uuid.UUID) (models.Presence, error)
}

// SnapshotFunc reads the full current state of a session for reconciliation.
type SnapshotFunc func(ctx context.Context, sessionID uuid.UUID) (interface{}, error)

// inbound is a message sent by the browser.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is a single WebSocket connection subscribed to one session.
type Client struct {
	sub      *Subscription
	hub      *Hub
	conn     *websocket.Conn
	presence Presence
	snapshot SnapshotFunc
	logger   *zap.Logger
}

// ServeWs handles GET /ws?session_id=&token=. The caller is joined to the session
// (counted once however many sockets it opens), subscribed to its channel, and
// sent a session.snapshot right after subscribing so no event falls in a gap.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator, presence Presence, snapshot SnapshotFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			response.BadRequest(c, "session_id and token required")
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			response.BadRequest(c, "invalid session_id")
			return
		}
		userID, _, err := validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}

		if _, err := presence.Join(c.Request.Context(), sessionID, userID); err != nil {
			response.Error(c, err, "join session")
			return
		}
		sub := hub.Subscribe(sessionID, userID)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			client := &Client{sub: sub, hub: hub, presence: presence, logger: logger}
			client.leave()
			return
		}

		client := &Client{
			sub:      sub,
			hub:      hub,
			conn:     conn,
			presence: presence,
			snapshot: snapshot,
			logger:   logger,
		}
		client.sendSnapshot()
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) sendSnapshot() {
	if c.snapshot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceWait)
	defer cancel()
	state, err := c.snapshot(ctx, c.sub.SessionID)
	if err != nil {
		c.logger.Warn("snapshot failed", zap.String("session_id", c.sub.SessionID.String()), zap.Error(err))
		c.hub.SendTo(c.sub, EventError, map[string]interface{}{
			"message":   "could not load session state",
			"retryable": models.Retryable(err),
		})
		return
	}
	c.hub.SendTo(c.sub, EventSnapshot, state)
}

// leave unsubscribes and, if this was the user's last socket here, counts them out.
func (c *Client) leave() {
	if !c.hub.Unsubscribe(c.sub) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceWait)
	defer cancel()
	if _, err := c.presence.Leave(ctx, c.sub.SessionID, c.sub.UserID); err != nil {
		c.logger.Warn("leave on disconnect failed", zap.String("session_id", c.sub.SessionID.String()), zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.leave()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "resync":
			c.sendSnapshot()
		case "ping":
			// keepalive from browsers that cannot send control frames
		default:
			c.hub.SendTo(c.sub, EventError, map[string]string{"message": "unknown event: " + msg.Event})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	events := c.sub.Events()
	for {
		select {
		case env, ok := <-events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// dropped or hub closed: the client must reconnect and resync
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resubscribe"))
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
