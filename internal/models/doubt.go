package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Doubt is a student question scoped to a session.
type Doubt struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   uuid.UUID  `json:"session_id"`
	AuthorID    uuid.UUID  `json:"author_id"`
	Text        string     `json:"text"`
	Anonymous   bool       `json:"anonymous"`
	UpvoteCount int        `json:"upvote_count"`
	Answered    bool       `json:"answered"`
	AnswerText  *string    `json:"answer_text,omitempty"`
	AnsweredBy  *uuid.UUID `json:"answered_by,omitempty"`
	Seq         int64      `json:"seq"`
	CreatedAt   time.Time  `json:"created_at"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
}

// MarshalJSON hides the author of anonymous doubts from every reader.
func (d Doubt) MarshalJSON() ([]byte, error) {
	type plain Doubt
	out := struct {
		plain
		AuthorID *uuid.UUID `json:"author_id,omitempty"`
	}{plain: plain(d)}
	if !d.Anonymous {
		id := d.AuthorID
		out.AuthorID = &id
	}
	return json.Marshal(out)
}

// Upvote is a voter's endorsement of a doubt, unique per (doubt, voter).
type Upvote struct {
	DoubtID   uuid.UUID `json:"doubt_id"`
	VoterID   uuid.UUID `json:"voter_id"`
	CreatedAt time.Time `json:"created_at"`
}
