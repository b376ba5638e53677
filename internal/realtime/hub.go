package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60

	defaultBuffer = 256
)

// Bridge carries envelopes between server instances (Redis pub/sub in production).
type Bridge interface {
	PublishSessionEvent(sessionID uuid.UUID, envelope []byte) error
	SubscribeSession(sessionID uuid.UUID, handler func(envelope []byte)) (cancel func(), err error)
}

// Exporter receives a copy of every published envelope (Kafka in production).
type Exporter interface {
	Export(env Envelope)
}

// Hub maintains session_id -> set of subscriptions and fans out events.
// With a bridge, Publish goes to the bridge only and the bridge subscription
// delivers locally, so every instance (this one included) delivers each event once.
type Hub struct {
	sessions map[uuid.UUID]map[string]*Subscription
	users    map[uuid.UUID]map[uuid.UUID]int // session -> user -> local subscriptions
	bridged  map[uuid.UUID]func()            // cancel bridge subscription per session
	pending  map[uuid.UUID]*bridgeAttempt
	mu       sync.RWMutex
	logger   *zap.Logger
	bridge   Bridge
	exporter Exporter
	buffer   int
}

// Option configures a Hub.
type Option func(*Hub)

// WithBridge enables cross-instance fan-out.
func WithBridge(b Bridge) Option {
	return func(h *Hub) { h.bridge = b }
}

// WithExporter copies every published envelope to e.
func WithExporter(e Exporter) Option {
	return func(h *Hub) { h.exporter = e }
}

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub creates a new fan-out hub.
func NewHub(logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sessions: make(map[uuid.UUID]map[string]*Subscription),
		users:    make(map[uuid.UUID]map[uuid.UUID]int),
		bridged:  make(map[uuid.UUID]func()),
		pending:  make(map[uuid.UUID]*bridgeAttempt),
		logger:   logger,
		buffer:   defaultBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber on a session channel. Starts the bridge
// subscription for this session if it is the first local subscriber. The
// bridge is dialed without holding the hub lock; until it is up, events for
// the session are delivered locally.
func (h *Hub) Subscribe(sessionID, userID uuid.UUID) *Subscription {
	s := &Subscription{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		send:      make(chan Envelope, h.buffer),
	}

	var attempt *bridgeAttempt
	h.mu.Lock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*Subscription)
		h.users[sessionID] = make(map[uuid.UUID]int)
		if h.bridge != nil {
			attempt = &bridgeAttempt{sessionID: sessionID}
			h.pending[sessionID] = attempt
		}
	}
	h.sessions[sessionID][s.ID] = s
	h.users[sessionID][userID]++
	h.mu.Unlock()

	if attempt != nil {
		h.attachBridge(sessionID, attempt)
	}

	h.logger.Debug("subscriber joined session", zap.String("subscription_id", s.ID), zap.String("session_id", sessionID.String()))
	return s
}

// bridgeAttempt identifies one in-flight bridge subscription for a session.
type bridgeAttempt struct {
	sessionID uuid.UUID
}

func (h *Hub) attachBridge(sessionID uuid.UUID, attempt *bridgeAttempt) {
	cancel, err := h.bridge.SubscribeSession(sessionID, func(raw []byte) {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.logger.Warn("invalid bridge envelope", zap.Error(err))
			return
		}
		h.deliver(env)
	})

	h.mu.Lock()
	current := h.pending[sessionID] == attempt
	if current {
		delete(h.pending, sessionID)
	}
	keep := err == nil && current && h.sessions[sessionID] != nil
	if keep {
		h.bridged[sessionID] = cancel
	}
	h.mu.Unlock()

	switch {
	case err != nil:
		h.logger.Warn("bridge subscribe failed, delivering locally", zap.String("session_id", sessionID.String()), zap.Error(err))
	case !keep:
		// every local subscriber left (or the hub closed) while dialing
		cancel()
	}
}

// Unsubscribe removes s and closes its channel. It reports whether the user has
// no subscription to the session left on this instance, which also holds when
// s had already been dropped as too slow.
func (h *Hub) Unsubscribe(s *Subscription) (last bool) {
	h.mu.Lock()
	h.remove(s)
	last = h.users[s.SessionID][s.UserID] == 0
	h.mu.Unlock()
	s.close()
	h.logger.Debug("subscriber left session", zap.String("subscription_id", s.ID), zap.String("session_id", s.SessionID.String()))
	return last
}

// remove must be called with h.mu held. Removing twice is a no-op.
func (h *Hub) remove(s *Subscription) {
	m, ok := h.sessions[s.SessionID]
	if !ok {
		return
	}
	if _, ok := m[s.ID]; !ok {
		return
	}
	delete(m, s.ID)

	if users := h.users[s.SessionID]; users != nil {
		users[s.UserID]--
		if users[s.UserID] <= 0 {
			delete(users, s.UserID)
		}
	}
	if len(m) == 0 {
		delete(h.sessions, s.SessionID)
		delete(h.users, s.SessionID)
		delete(h.pending, s.SessionID)
		if cancel, ok := h.bridged[s.SessionID]; ok {
			cancel()
			delete(h.bridged, s.SessionID)
		}
	}
}

// Publish implements Publisher. It never blocks on a subscriber.
func (h *Hub) Publish(sessionID uuid.UUID, event string, payload interface{}) {
	env, err := newEnvelope(sessionID, event, payload)
	if err != nil {
		h.logger.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	if h.exporter != nil {
		h.exporter.Export(env)
	}
	if h.bridge == nil {
		h.deliver(env)
		return
	}

	raw, err := json.Marshal(env)
	if err == nil {
		err = h.bridge.PublishSessionEvent(sessionID, raw)
	}
	h.mu.RLock()
	_, bridged := h.bridged[sessionID]
	h.mu.RUnlock()
	if err != nil {
		h.logger.Warn("bridge publish failed, delivering locally", zap.String("event", event), zap.String("session_id", sessionID.String()), zap.Error(err))
		h.deliver(env)
		return
	}
	if !bridged {
		// local subscribers (if any) are not reachable through the bridge
		h.deliver(env)
	}
}

// SendTo delivers an envelope to a single subscription, bypassing the bridge.
func (h *Hub) SendTo(s *Subscription, event string, payload interface{}) {
	env, err := newEnvelope(s.SessionID, event, payload)
	if err != nil {
		h.logger.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	if !s.offer(env) {
		h.dropSlow(s)
	}
}

// deliver sends env to every local subscriber of its session. A subscriber whose
// queue is full is dropped so it reconnects and reconciles instead of silently missing events.
func (h *Hub) deliver(env Envelope) {
	h.mu.RLock()
	m := h.sessions[env.SessionID]
	subs := make([]*Subscription, 0, len(m))
	for _, s := range m {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !s.offer(env) {
			h.dropSlow(s)
		}
	}
}

func (h *Hub) dropSlow(s *Subscription) {
	h.mu.Lock()
	h.remove(s)
	h.mu.Unlock()
	s.close()
	h.logger.Warn("subscriber too slow, dropped", zap.String("subscription_id", s.ID), zap.String("session_id", s.SessionID.String()))
}

// SubscriberCount returns the number of local subscriptions to a session.
func (h *Hub) SubscriberCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Close cancels every bridge subscription and closes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	var subs []*Subscription
	for _, m := range h.sessions {
		for _, s := range m {
			subs = append(subs, s)
		}
	}
	for _, cancel := range h.bridged {
		cancel()
	}
	h.sessions = make(map[uuid.UUID]map[string]*Subscription)
	h.users = make(map[uuid.UUID]map[uuid.UUID]int)
	h.bridged = make(map[uuid.UUID]func())
	h.pending = make(map[uuid.UUID]*bridgeAttempt)
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}

// Subscription is one subscriber's view of a session channel.
type Subscription struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID

	send   chan Envelope
	mu     sync.Mutex
	closed bool
}

// Events returns the delivery channel; it is closed when the subscription ends
// (unsubscribed, dropped as too slow, or hub closed). Resubscribe and re-read state after a close.
func (s *Subscription) Events() <-chan Envelope {
	return s.send
}

func (s *Subscription) offer(env Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.send <- env:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}
