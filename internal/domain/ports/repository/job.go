package repository

import (
	"context"
	"time"

	"docqa-engine/internal/domain/model"
)

// JobRepository is the durable job queue.
//
// Every state-changing method is a single conditional statement. Methods that
// act on a claimed job take the snapshot returned by ClaimNext and only apply
// while the job is still processing under the same worker and attempt; when
// that no longer holds they return domain.ErrJobNotOwned.
type JobRepository interface {
	// Enqueue inserts a queued job.
	Enqueue(ctx context.Context, tx Tx, job *model.Job) error

	// ClaimNext moves the oldest queued job to processing under workerID.
	// It returns domain.ErrNotFound when nothing is eligible or when the worker
	// already holds maxClaims processing jobs.
	ClaimNext(ctx context.Context, workerID string, maxClaims int) (*model.Job, error)

	// ReclaimStale returns processing jobs started before now-timeout to
	// queued with retry_count+1, or fails them when the budget is spent.
	// The returned jobs reflect their new state.
	ReclaimStale(ctx context.Context, timeout time.Duration) ([]*model.Job, error)

	// UpdateProgress records progress in [0,1] for a claimed job.
	UpdateProgress(ctx context.Context, claimed *model.Job, progress float64) error

	// MarkCompleted stores the result and stamps completed_at.
	MarkCompleted(ctx context.Context, tx Tx, claimed *model.Job, result *model.JobResult) error

	// MarkFailed stores the error and stamps completed_at.
	MarkFailed(ctx context.Context, claimed *model.Job, errMsg string) error

	// Requeue returns a claimed job to queued with retry_count+1. When the
	// budget is spent it fails the job with errMsg instead. The returned
	// status is the one the job ended in.
	Requeue(ctx context.Context, claimed *model.Job, errMsg string) (model.JobStatus, error)

	// Get returns a snapshot of the job.
	Get(ctx context.Context, id string) (*model.Job, error)

	// List returns jobs newest first.
	List(ctx context.Context, f model.JobFilter) ([]*model.Job, error)
}
