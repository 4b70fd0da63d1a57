package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/pkg/queue"
	"github.com/skillup-live/backend/pkg/storage"
)

const dequeueTimeout = 5 * time.Second

// SessionGetter loads a live session with its participant log.
type SessionGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// Archive stores attendance reports and signs links to them.
type Archive interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error
	PresignedDownloadURL(ctx context.Context, key string) (string, error)
}

// JobQueue is the subset of the Redis queue the worker loop needs.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor computes and stores attendance once a session has ended.
type Processor struct {
	sessions SessionGetter
	store    Store
	archive  Archive
	logger   *zap.Logger
	now      func() time.Time
}

// NewProcessor creates an attendance processor. archive may be nil.
func NewProcessor(sessions SessionGetter, store Store, archive Archive, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		sessions: sessions,
		store:    store,
		archive:  archive,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process computes the session's attendance, archives the report and saves the summary.
// Sessions that are not ENDED are skipped.
func (p *Processor) Process(ctx context.Context, sessionID uuid.UUID) (*models.AttendanceSummary, error) {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Status != models.StatusEnded {
		p.logger.Info("attendance skipped, session not ended", zap.String("session_id", sessionID.String()), zap.String("status", string(sess.Status)))
		return nil, nil
	}
	report := Compute(sess, p.now())
	if p.archive != nil {
		key := storage.AttendanceKey(sessionID.String())
		body, err := json.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		if err := p.archive.Upload(ctx, key, "application/json", bytes.NewReader(body), int64(len(body))); err != nil {
			return nil, fmt.Errorf("archive report: %w", err)
		}
		report.Summary.ArchiveKey = key
	}
	if err := p.store.Save(ctx, report.Summary); err != nil {
		return nil, err
	}
	p.logger.Info("attendance computed",
		zap.String("session_id", sessionID.String()),
		zap.Int("distinct_users", report.Summary.DistinctUsers),
		zap.Int("max_participants", report.Summary.MaxParticipants),
		zap.String("archive_key", report.Summary.ArchiveKey),
	)
	return &report.Summary, nil
}

// ProcessJob executes one queued attendance job.
func (p *Processor) ProcessJob(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeAttendance(job)
	if err != nil {
		return err
	}
	_, err = p.Process(ctx, payload.SessionID)
	return err
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context, q JobQueue) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("attendance worker stopping")
			return
		default:
		}

		job, err := q.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.ProcessJob(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := q.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			sleep(ctx, queue.RetryBackoff)
		}
	}
}

// Inline runs attendance jobs in process for deployments without Redis.
type Inline struct {
	processor *Processor
	timeout   time.Duration
}

// NewInline wraps a processor as a synchronous AttendanceQueue.
func NewInline(p *Processor) *Inline {
	return &Inline{processor: p, timeout: 30 * time.Second}
}

// EnqueueAttendance processes the session immediately, detached from the caller's cancellation.
func (i *Inline) EnqueueAttendance(ctx context.Context, sessionID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
	defer cancel()
	_, err := i.processor.Process(ctx, sessionID)
	return err
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
