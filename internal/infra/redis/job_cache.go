package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/repository"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/infra/metrics"
)

var _ repository.JobRepository = (*jobRepoCacheDecorator)(nil)

// jobRepoCacheDecorator serves Get from Redis for jobs in a terminal state.
// Terminal jobs never change, so entries are only ever written, never invalidated.
type jobRepoCacheDecorator struct {
	repository.JobRepository
	cache RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewJobRepoCacheDecorator(inner repository.JobRepository, cache RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.JobRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &jobRepoCacheDecorator{
		JobRepository: inner,
		cache:         cache,
		ttl:           ttl,
		log:           logging.Component(logger, "JobCache"),
	}
}

func jobKey(id string) string { return "docqa:job:" + id }

func (d *jobRepoCacheDecorator) Get(ctx context.Context, id string) (*model.Job, error) {
	val, err := d.cache.Get(ctx, jobKey(id))
	if err == nil {
		var job model.Job
		if json.Unmarshal([]byte(val), &job) == nil {
			metrics.IncCacheRequest("job", "hit")
			return &job, nil
		}
	} else if !IsNil(err) {
		d.log.Warn().Err(err).Str("job_id", id).Msg("job cache read failed")
	}

	metrics.IncCacheRequest("job", "miss")
	job, err := d.JobRepository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		if b, err := json.Marshal(job); err == nil {
			if err := d.cache.Set(ctx, jobKey(id), b, d.ttl); err != nil {
				d.log.Warn().Err(err).Str("job_id", id).Msg("job cache write failed")
			}
		}
	}
	return job, nil
}
