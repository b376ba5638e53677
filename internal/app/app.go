// Package app assembles the live-session services from a configured store
// driver. Both the API server and the archive worker build on it.
package app

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/classlive/backend/config"
	"github.com/classlive/backend/internal/doubts"
	"github.com/classlive/backend/internal/memstore"
	"github.com/classlive/backend/internal/polls"
	"github.com/classlive/backend/internal/realtime"
	"github.com/classlive/backend/internal/roster"
	"github.com/classlive/backend/internal/sessions"
	"github.com/classlive/backend/internal/snapshot"
	"github.com/classlive/backend/pkg/retry"
)

// Stores is one persistence backend for every aggregate plus the roster.
type Stores struct {
	Sessions sessions.Store
	Doubts   doubts.Store
	Polls    polls.Store
	Roster   roster.Provider
}

// PostgresStores returns pgx-backed stores sharing one pool.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Sessions: sessions.NewRepository(pool),
		Doubts:   doubts.NewRepository(pool),
		Polls:    polls.NewRepository(pool),
		Roster:   roster.NewRepository(pool),
	}
}

// MemoryStores returns stores over a single in-memory database.
func MemoryStores(db *memstore.DB) Stores {
	return Stores{
		Sessions: memstore.NewSessionRepository(db),
		Doubts:   memstore.NewDoubtRepository(db),
		Polls:    memstore.NewPollRepository(db),
		Roster:   memstore.NewRoster(db),
	}
}

// SeedMembers loads "course:user:role" triples separated by commas into db.
func SeedMembers(db *memstore.DB, spec string) error {
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return fmt.Errorf("member %q: want course:user:role", entry)
		}
		courseID, err := uuid.Parse(parts[0])
		if err != nil {
			return fmt.Errorf("member %q: course: %w", entry, err)
		}
		userID, err := uuid.Parse(parts[1])
		if err != nil {
			return fmt.Errorf("member %q: user: %w", entry, err)
		}
		switch parts[2] {
		case roster.RoleInstructor, roster.RoleStudent:
		default:
			return fmt.Errorf("member %q: unknown role %q", entry, parts[2])
		}
		db.AddMember(courseID, userID, parts[2])
	}
	return nil
}

// Services is the wired engine.
type Services struct {
	Sessions *sessions.Service
	Doubts   *doubts.Service
	Polls    *polls.Service
	Snapshot *snapshot.Builder
}

// NewServices wires the three services and the snapshot builder over stores.
// archiver may be nil when no job queue is configured.
func NewServices(cfg config.LiveConfig, stores Stores, bus realtime.Publisher, archiver sessions.Archiver, logger *zap.Logger) *Services {
	policy := retry.New(cfg.RetryAttempts, cfg.RetryBackoff)

	sessionOpts := []sessions.Option{
		sessions.WithRetry(policy),
		sessions.WithTimeout(cfg.StoreTimeout),
		sessions.WithTallies(stores.Polls),
	}
	if archiver != nil {
		sessionOpts = append(sessionOpts, sessions.WithArchiver(archiver))
	}
	sessionSvc := sessions.NewService(stores.Sessions, stores.Roster, bus, logger, sessionOpts...)

	doubtSvc := doubts.NewService(stores.Doubts, sessionSvc, stores.Roster, bus, logger,
		doubts.WithRetry(policy),
		doubts.WithTimeout(cfg.StoreTimeout),
		doubts.WithMaxLength(cfg.DoubtMaxLength),
	)
	pollSvc := polls.NewService(stores.Polls, sessionSvc, stores.Roster, bus, logger,
		polls.WithRetry(policy),
		polls.WithTimeout(cfg.StoreTimeout),
		polls.WithMaxOptions(cfg.PollMaxOptions),
	)

	return &Services{
		Sessions: sessionSvc,
		Doubts:   doubtSvc,
		Polls:    pollSvc,
		Snapshot: snapshot.NewBuilder(sessionSvc, doubtSvc, pollSvc),
	}
}
