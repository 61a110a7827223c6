package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/domain/ports/repository"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/infra/metrics"
)

// AttemptState is where one job attempt stands inside this worker.
type AttemptState string

const (
	StateClaimed        AttemptState = "claimed"
	StateRunning        AttemptState = "running"
	StateSucceeded      AttemptState = "succeeded"
	StateRetryScheduled AttemptState = "retry_scheduled"
	StateFailed         AttemptState = "failed"
	// StateLost means the job was reclaimed while this worker still ran it.
	StateLost AttemptState = "lost"
)

// JobRunner executes and stores one attempt. usecase.JobRunner implements it.
type JobRunner interface {
	Run(ctx context.Context, claimed *model.Job) (*model.JobResult, error)
	Complete(ctx context.Context, claimed *model.Job, result *model.JobResult) error
}

type ProcessorConfig struct {
	WorkerID   string
	MaxClaims  int
	JobTimeout time.Duration
}

// bookkeepingTimeout bounds the store writes that settle an attempt.
const bookkeepingTimeout = 10 * time.Second

type JobProcessor struct {
	jobs     repository.JobRepository
	runner   JobRunner
	notifier adapter.JobNotifier
	cfg      ProcessorConfig
	log      *zerolog.Logger
	now      func() time.Time
}

func NewJobProcessor(jobs repository.JobRepository, runner JobRunner, notifier adapter.JobNotifier, cfg ProcessorConfig, logger *zerolog.Logger) *JobProcessor {
	if cfg.MaxClaims <= 0 {
		cfg.MaxClaims = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &JobProcessor{
		jobs:     jobs,
		runner:   runner,
		notifier: notifier,
		cfg:      cfg,
		log:      logging.Component(logger, "JobProcessor"),
		now:      time.Now,
	}
}

// ProcessNext claims and runs one job. It returns false when nothing could be
// claimed. Once a job is claimed it runs to an end state even if ctx is
// cancelled; only the per-job timeout cuts it short.
func (p *JobProcessor) ProcessNext(ctx context.Context) (bool, error) {
	claimed, err := p.jobs.ClaimNext(ctx, p.cfg.WorkerID, p.cfg.MaxClaims)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}

	base := logging.WithWorkerID(logging.WithJobID(context.WithoutCancel(ctx), claimed.ID), p.cfg.WorkerID)
	state := p.process(base, claimed)
	logging.With(base, p.log).Debug().Str("state", string(state)).Msg("attempt settled")
	return true, nil
}

func (p *JobProcessor) process(ctx context.Context, claimed *model.Job) AttemptState {
	log := logging.With(ctx, p.log)
	start := p.now()
	metrics.AddJobsInFlight(1)
	defer metrics.AddJobsInFlight(-1)

	log.Info().Str("state", string(StateClaimed)).Int("retry_count", claimed.RetryCount).Str("model", claimed.Model).Msg("job claimed")
	p.notify(ctx, claimed, model.JobStatusProcessing)

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	log.Debug().Str("state", string(StateRunning)).Msg("running agent")
	result, err := p.runner.Run(runCtx, claimed)
	if err == nil {
		err = p.runner.Complete(runCtx, claimed, result)
	}
	if err == nil {
		metrics.ObserveJobAttempt(string(StateSucceeded), p.now().Sub(start))
		log.Info().Dur("duration", p.now().Sub(start)).Msg("job completed")
		p.notify(ctx, claimed, model.JobStatusCompleted)
		return StateSucceeded
	}

	if errors.Is(err, domain.ErrJobNotOwned) {
		log.Warn().Err(err).Msg("job was reclaimed during the attempt; result dropped")
		metrics.ObserveJobAttempt(string(StateLost), p.now().Sub(start))
		return StateLost
	}

	kind := domain.Classify(err)
	if runCtx.Err() == context.DeadlineExceeded && kind == domain.FailureTransient {
		kind = domain.FailureTimeout
	}
	state := p.settle(ctx, claimed, kind, err)
	metrics.ObserveJobAttempt(string(state), p.now().Sub(start))
	return state
}

// settle records a failed attempt: transient and timeout failures go back to
// the queue while budget remains, fatal ones fail the job.
func (p *JobProcessor) settle(ctx context.Context, claimed *model.Job, kind domain.FailureKind, cause error) AttemptState {
	log := logging.With(ctx, p.log)
	msg := cause.Error()

	ctx, cancel := context.WithTimeout(ctx, bookkeepingTimeout)
	defer cancel()

	if kind == domain.FailureFatal {
		if err := p.jobs.MarkFailed(ctx, claimed, msg); err != nil {
			log.Error().Err(err).Msg("mark failed")
			return StateLost
		}
		log.Warn().Err(cause).Str("kind", string(kind)).Msg("job failed")
		p.notify(ctx, claimed, model.JobStatusFailed)
		return StateFailed
	}

	status, err := p.jobs.Requeue(ctx, claimed, msg)
	if err != nil {
		log.Error().Err(err).Msg("requeue")
		return StateLost
	}
	if status == model.JobStatusFailed {
		log.Warn().Err(cause).Str("kind", string(kind)).Int("retry_count", claimed.RetryCount).Msg("job failed; retry budget spent")
		p.notify(ctx, claimed, model.JobStatusFailed)
		return StateFailed
	}
	metrics.IncJobRetry(string(kind))
	log.Info().Err(cause).Str("kind", string(kind)).Int("retry_count", claimed.RetryCount+1).Msg("job requeued")
	return StateRetryScheduled
}

func (p *JobProcessor) notify(ctx context.Context, job *model.Job, status model.JobStatus) {
	if p.notifier == nil {
		return
	}
	ev := model.EventFor(job, p.now().UTC())
	ev.Status = status
	if err := p.notifier.NotifyJobUpdated(ctx, ev); err != nil {
		logging.With(ctx, p.log).Warn().Err(err).Str("status", string(status)).Msg("job notification failed")
	}
}
