package models

import (
	"time"

	"github.com/google/uuid"
)

// PollStatus is the lifecycle state of a poll.
type PollStatus string

const (
	PollActive PollStatus = "active"
	PollClosed PollStatus = "closed"
)

// Poll is an instructor-created multiple-choice question in a session.
type Poll struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	Question  string     `json:"question"`
	Options   []string   `json:"options"`
	Status    PollStatus `json:"status"`
	CreatedBy uuid.UUID  `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// IsActive reports whether the poll still accepts responses.
func (p *Poll) IsActive() bool {
	return p != nil && p.Status == PollActive
}

// PollResponse is a voter's current selection; one per (poll, voter).
type PollResponse struct {
	PollID      uuid.UUID `json:"poll_id"`
	VoterID     uuid.UUID `json:"voter_id"`
	OptionIndex int       `json:"option_index"`
	RespondedAt time.Time `json:"responded_at"`
}

// Tally is votes per option plus distinct voter total.
type Tally struct {
	PollID uuid.UUID `json:"poll_id"`
	Counts []int     `json:"counts"`
	Total  int       `json:"total"`
}

// NewTally builds a tally from per-option counts keyed by option index.
// Indexes outside the option range are ignored.
func NewTally(pollID uuid.UUID, optionCount int, byOption map[int]int, distinctVoters int) Tally {
	counts := make([]int, optionCount)
	for idx, n := range byOption {
		if idx >= 0 && idx < optionCount {
			counts[idx] = n
		}
	}
	return Tally{PollID: pollID, Counts: counts, Total: distinctVoters}
}

// PollView is a poll with its current tally, used for poll.created, poll.closed and listings.
type PollView struct {
	Poll
	Tally Tally `json:"tally"`
}
