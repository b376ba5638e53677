// Package memstore is an in-memory store for sessions, doubts, polls and the
// course roster. It backs the test suite and STORE_DRIVER=memory. One mutex
// guards all tables, so every operation is atomic the way a Postgres
// transaction would be.
package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

type sessionRow struct {
	session      models.Session
	participants map[uuid.UUID]struct{}
	doubtSeq     int64
}

type doubtRow struct {
	doubt  models.Doubt
	voters map[uuid.UUID]struct{}
}

type pollRow struct {
	poll      models.Poll
	responses map[uuid.UUID]int
}

// DB holds every table.
type DB struct {
	mu       sync.Mutex
	members  map[uuid.UUID]map[uuid.UUID]string // course -> user -> role
	sessions map[uuid.UUID]*sessionRow
	doubts   map[uuid.UUID]*doubtRow
	polls    map[uuid.UUID]*pollRow
	failures int
	now      func() time.Time
}

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{
		members:  make(map[uuid.UUID]map[uuid.UUID]string),
		sessions: make(map[uuid.UUID]*sessionRow),
		doubts:   make(map[uuid.UUID]*doubtRow),
		polls:    make(map[uuid.UUID]*pollRow),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddMember puts userID on courseID's roster with role (instructor or student).
func (db *DB) AddMember(courseID, userID uuid.UUID, role string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.members[courseID] == nil {
		db.members[courseID] = make(map[uuid.UUID]string)
	}
	db.members[courseID][userID] = role
}

// FailNext makes the next n store writes fail with ErrStoreUnavailable
// without touching any table.
func (db *DB) FailNext(n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failures = n
}

// begin locks the database for a write and consumes one injected failure, if any.
// The caller must call db.mu.Unlock when err is nil.
func (db *DB) begin() error {
	db.mu.Lock()
	if db.failures > 0 {
		db.failures--
		db.mu.Unlock()
		return models.ErrStoreUnavailable
	}
	return nil
}

func copySession(r *sessionRow) *models.Session {
	s := r.session
	if r.session.EndedAt != nil {
		t := *r.session.EndedAt
		s.EndedAt = &t
	}
	return &s
}

func copyDoubt(r *doubtRow) *models.Doubt {
	d := r.doubt
	if r.doubt.AnswerText != nil {
		text := *r.doubt.AnswerText
		d.AnswerText = &text
	}
	if r.doubt.AnsweredBy != nil {
		by := *r.doubt.AnsweredBy
		d.AnsweredBy = &by
	}
	if r.doubt.AnsweredAt != nil {
		at := *r.doubt.AnsweredAt
		d.AnsweredAt = &at
	}
	return &d
}

func copyPoll(r *pollRow) *models.Poll {
	p := r.poll
	p.Options = append([]string(nil), r.poll.Options...)
	if r.poll.EndedAt != nil {
		t := *r.poll.EndedAt
		p.EndedAt = &t
	}
	return &p
}

func tallyOf(r *pollRow) models.Tally {
	byOption := make(map[int]int)
	for _, idx := range r.responses {
		byOption[idx]++
	}
	return models.NewTally(r.poll.ID, len(r.poll.Options), byOption, len(r.responses))
}

func sortedPolls(rows []*pollRow) []models.Poll {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].poll.CreatedAt.Equal(rows[j].poll.CreatedAt) {
			return rows[i].poll.ID.String() < rows[j].poll.ID.String()
		}
		return rows[i].poll.CreatedAt.Before(rows[j].poll.CreatedAt)
	})
	out := make([]models.Poll, 0, len(rows))
	for _, r := range rows {
		out = append(out, *copyPoll(r))
	}
	return out
}
