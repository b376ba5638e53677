package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/internal/snapshot"
	"github.com/classlive/backend/pkg/queue"
)

// StateBuilder reads the full state of a session.
type StateBuilder interface {
	Build(ctx context.Context, sessionID uuid.UUID) (*snapshot.State, error)
}

// ArchiveUploader stores an archive document.
type ArchiveUploader interface {
	UploadArchive(ctx context.Context, courseID, sessionID string, doc []byte) (string, error)
}

// JobQueue is the queue the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Archive is the document uploaded for an ended session.
type Archive struct {
	ArchivedAt time.Time `json:"archived_at"`
	snapshot.State
}

// ArchiveProcessor processes session archive jobs: read the session's final
// state and upload it as JSON.
type ArchiveProcessor struct {
	states   StateBuilder
	uploader ArchiveUploader
	queue    JobQueue
	backoff  time.Duration
	logger   *zap.Logger
}

// NewArchiveProcessor creates a session archive processor.
func NewArchiveProcessor(states StateBuilder, uploader ArchiveUploader, q JobQueue, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{states: states, uploader: uploader, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSessionArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SessionArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	state, err := p.states.Build(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("build state: %w", err)
	}
	if state.Session.Status != models.SessionEnded {
		return fmt.Errorf("session %s is %s, not ended", payload.SessionID, state.Session.Status)
	}
	doc, err := json.Marshal(Archive{ArchivedAt: time.Now().UTC(), State: *state})
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	key, err := p.uploader.UploadArchive(ctx, state.Session.CourseID.String(), state.Session.ID.String(), doc)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("session archive uploaded", zap.String("session_id", payload.SessionID.String()), zap.String("s3_key", key),
		zap.Int("doubts", len(state.Doubts)), zap.Int("polls", len(state.Polls)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
