package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event names delivered on a session channel. Each carries the full current
// value of the changed aggregate, never a diff.
const (
	EventSessionStarted       = "session.started"
	EventSessionEnded         = "session.ended"
	EventPresenceChanged      = "session.presence_changed"
	EventDoubtCreated         = "doubt.created"
	EventDoubtUpvoted         = "doubt.upvoted"
	EventDoubtAnswered        = "doubt.answered"
	EventPollCreated          = "poll.created"
	EventPollClosed           = "poll.closed"
	EventPollResponseRecorded = "poll.response_recorded"

	// EventSnapshot is sent only to one subscriber: on connect and on "resync".
	EventSnapshot = "session.snapshot"
	// EventError is sent only to one subscriber when its request failed.
	EventError = "error"
)

// Envelope is the message written to subscribers and to the bridge.
type Envelope struct {
	Event     string          `json:"event"`
	SessionID uuid.UUID       `json:"session_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}

// Publisher is the write side of the bus used by the session, doubt and poll services.
// Publish is fire-and-forget: failures are logged, never returned to the mutating caller.
type Publisher interface {
	Publish(sessionID uuid.UUID, event string, payload interface{})
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(uuid.UUID, string, interface{}) {}

func newEnvelope(sessionID uuid.UUID, event string, payload interface{}) (Envelope, error) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		data = b
	}
	return Envelope{Event: event, SessionID: sessionID, Data: data, At: time.Now().UTC()}, nil
}
