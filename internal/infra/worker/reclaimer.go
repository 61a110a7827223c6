package worker

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/domain/ports/repository"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/infra/metrics"
)

// Locker serializes reclaim passes across engine instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

const reclaimLockKey = "docqa:lock:reclaim"

// Reclaimer periodically returns jobs held by dead or hung workers to the queue.
type Reclaimer struct {
	jobs     repository.JobRepository
	notifier adapter.JobNotifier
	locker   Locker
	after    time.Duration
	schedule string
	wake     func()
	log      *zerolog.Logger
}

// NewReclaimer builds a reclaimer that treats jobs processing for longer than
// after as stale. locker, notifier and wake may be nil.
func NewReclaimer(jobs repository.JobRepository, notifier adapter.JobNotifier, locker Locker, after time.Duration, schedule string, wake func(), logger *zerolog.Logger) *Reclaimer {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Reclaimer{
		jobs:     jobs,
		notifier: notifier,
		locker:   locker,
		after:    after,
		schedule: schedule,
		wake:     wake,
		log:      logging.Component(logger, "Reclaimer"),
	}
}

// Run schedules reclaim passes until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.ReclaimOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("reclaim pass failed")
		}
	}); err != nil {
		return err
	}

	r.log.Info().Str("schedule", r.schedule).Dur("after", r.after).Msg("reclaimer started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.log.Info().Msg("reclaimer stopped")
	return nil
}

// ReclaimOnce runs a single pass and returns the reclaimed jobs in their new state.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) ([]*model.Job, error) {
	if r.locker != nil {
		token, err := r.locker.TryLock(ctx, reclaimLockKey, r.after)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			r.log.Debug().Msg("another instance is reclaiming")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := r.locker.Unlock(context.WithoutCancel(ctx), reclaimLockKey, token); err != nil {
				r.log.Warn().Err(err).Msg("release reclaim lock")
			}
		}()
	}

	jobs, err := r.jobs.ReclaimStale(ctx, r.after)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	counts := map[model.JobStatus]int{}
	for _, j := range jobs {
		counts[j.Status]++
		if j.Status == model.JobStatusFailed && r.notifier != nil {
			if err := r.notifier.NotifyJobUpdated(ctx, model.EventFor(j, time.Now().UTC())); err != nil {
				r.log.Warn().Err(err).Str("job_id", j.ID).Msg("job notification failed")
			}
		}
	}
	for status, n := range counts {
		metrics.IncJobsReclaimed(string(status), n)
	}
	r.log.Warn().
		Int("requeued", counts[model.JobStatusQueued]).
		Int("failed", counts[model.JobStatusFailed]).
		Msg("reclaimed stale jobs")

	if counts[model.JobStatusQueued] > 0 && r.wake != nil {
		r.wake()
	}
	return jobs, nil
}
