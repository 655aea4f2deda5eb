package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clubhub/portal/pkg/queue"
	"github.com/clubhub/portal/pkg/storage"
)

// Jobs is the queue the cleaner consumes. *queue.Queue implements it.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// PrefixDeleter removes stored objects. *storage.S3 implements it.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// ImageCleaner processes image cleanup jobs: every object under a deleted club's
// prefix is removed from the bucket.
type ImageCleaner struct {
	images  PrefixDeleter
	queue   Jobs
	backoff time.Duration
	logger  *zap.Logger
}

// NewImageCleaner creates an image cleanup processor.
func NewImageCleaner(images PrefixDeleter, q Jobs, logger *zap.Logger) *ImageCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageCleaner{images: images, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one image cleanup job.
func (p *ImageCleaner) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeImageCleanup {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ImageCleanupPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	// Never let a malformed job widen the delete beyond one club.
	if payload.ClubID == uuid.Nil || payload.Prefix != storage.ClubPrefix(payload.ClubID) {
		return fmt.Errorf("refusing cleanup of prefix %q for club %s", payload.Prefix, payload.ClubID)
	}
	if err := p.images.DeletePrefix(ctx, payload.Prefix); err != nil {
		return fmt.Errorf("delete prefix: %w", err)
	}
	p.logger.Info("club images removed", zap.String("club_id", payload.ClubID.String()), zap.String("prefix", payload.Prefix))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ImageCleaner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("image cleanup worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
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

func (p *ImageCleaner) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
