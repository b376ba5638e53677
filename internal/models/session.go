package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionInactive SessionStatus = "inactive"
	SessionLive     SessionStatus = "live"
	SessionEnded    SessionStatus = "ended"
)

// Session is one live, instructor-led event within a course.
type Session struct {
	ID               uuid.UUID     `json:"id"`
	CourseID         uuid.UUID     `json:"course_id"`
	Title            string        `json:"title"`
	Status           SessionStatus `json:"status"`
	StartedBy        uuid.UUID     `json:"started_by"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	ParticipantCount int           `json:"participant_count"`
}

// IsLive reports whether the session accepts doubts, polls and joins.
func (s *Session) IsLive() bool {
	return s != nil && s.Status == SessionLive
}

// Presence is the payload of session.presence_changed.
type Presence struct {
	SessionID        uuid.UUID `json:"session_id"`
	ParticipantCount int       `json:"participant_count"`
}
