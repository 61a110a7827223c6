package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, spec, status, progress, retry_count, max_retries, worker_id, last_error,
  error_message, result, user_message_id, created_at, updated_at, started_at, completed_at`

// ownedBy matches a job still processing under the claimed snapshot.
const ownedBy = `id = $1 AND status = 'processing' AND worker_id = $2 AND retry_count = $3`

func (r *jobRepo) Enqueue(ctx context.Context, tx repository.Tx, job *model.Job) error {
	spec, err := json.Marshal(job.JobSpec)
	if err != nil {
		return fmt.Errorf("encode job spec: %w", err)
	}
	const q = `
INSERT INTO jobs (id, conversation_id, client_id, model_name, spec, status, progress, retry_count,
  max_retries, user_message_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'queued', 0, 0, $6, NULLIF($7, ''), $8, $8);`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.ConversationID, job.ClientID, job.Model, spec, job.MaxRetries, job.UserMessageID, job.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *jobRepo) ClaimNext(ctx context.Context, workerID string, maxClaims int) (*model.Job, error) {
	q := `
UPDATE jobs
SET status = 'processing', worker_id = $1, progress = 0, started_at = now(), updated_at = now()
WHERE id = (
    SELECT id FROM jobs
    WHERE status = 'queued'
    ORDER BY created_at, id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  AND (SELECT count(*) FROM jobs WHERE status = 'processing' AND worker_id = $1) < $2
RETURNING ` + jobColumns + `;`

	row, err := pickRow(ctx, r.pool, nil, q, workerID, maxClaims)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) ReclaimStale(ctx context.Context, timeout time.Duration) ([]*model.Job, error) {
	q := `
UPDATE jobs SET ` + requeueSet + `
WHERE status = 'processing' AND started_at < now() - make_interval(secs => $1)
RETURNING ` + jobColumns + `;`

	rows, err := queryRows(ctx, r.pool, nil, q, timeout.Seconds(), "reclaimed after worker timeout")
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// requeueSet moves a processing job back to queued while budget remains and
// fails it otherwise. The error text is bound to $2.
const requeueSet = `
  status        = CASE WHEN retry_count < max_retries THEN 'queued' ELSE 'failed' END,
  retry_count   = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
  error_message = CASE WHEN retry_count < max_retries THEN NULL ELSE $2 END,
  completed_at  = CASE WHEN retry_count < max_retries THEN NULL ELSE now() END,
  worker_id     = CASE WHEN retry_count < max_retries THEN NULL ELSE worker_id END,
  started_at    = CASE WHEN retry_count < max_retries THEN NULL ELSE started_at END,
  progress      = CASE WHEN retry_count < max_retries THEN 0 ELSE progress END,
  last_error    = $2,
  updated_at    = now()`

func (r *jobRepo) UpdateProgress(ctx context.Context, claimed *model.Job, progress float64) error {
	q := `UPDATE jobs SET progress = $4, updated_at = now() WHERE ` + ownedBy
	return r.guarded(ctx, nil, q, claimed, clamp01(progress))
}

func (r *jobRepo) MarkCompleted(ctx context.Context, tx repository.Tx, claimed *model.Job, result *model.JobResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	q := `
UPDATE jobs
SET status = 'completed', result = $4, result_message_id = NULLIF($5, ''), progress = 1,
    error_message = NULL, completed_at = now(), updated_at = now()
WHERE ` + ownedBy
	return r.guarded(ctx, tx, q, claimed, body, result.MessageID)
}

func (r *jobRepo) MarkFailed(ctx context.Context, claimed *model.Job, errMsg string) error {
	q := `
UPDATE jobs
SET status = 'failed', error_message = $4, last_error = $4, completed_at = now(), updated_at = now()
WHERE ` + ownedBy
	return r.guarded(ctx, nil, q, claimed, errMsg)
}

func (r *jobRepo) Requeue(ctx context.Context, claimed *model.Job, errMsg string) (model.JobStatus, error) {
	q := `
UPDATE jobs SET ` + requeueSet + `
WHERE id = $1 AND status = 'processing' AND worker_id = $3 AND retry_count = $4
RETURNING status;`

	row, err := pickRow(ctx, r.pool, nil, q, claimed.ID, errMsg, claimed.WorkerID, claimed.RetryCount)
	if err != nil {
		return "", err
	}
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrJobNotOwned
		}
		return "", err
	}
	return model.JobStatus(status), nil
}

func (r *jobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) List(ctx context.Context, f model.JobFilter) ([]*model.Job, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ConversationID != "" {
		add("conversation_id = $%d", f.ConversationID)
	}
	if f.ClientID != "" {
		add("client_id = $%d", f.ClientID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := queryRows(ctx, r.pool, nil, q, args...)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *jobRepo) guarded(ctx context.Context, tx repository.Tx, q string, claimed *model.Job, args ...interface{}) error {
	all := append([]interface{}{claimed.ID, claimed.WorkerID, claimed.RetryCount}, args...)
	tag, err := execSQL(ctx, r.pool, tx, q, all...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotOwned
	}
	return nil
}

func collectJobs(rows pgx.Rows) ([]*model.Job, error) {
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j                                    model.Job
		spec, result                         []byte
		status                               string
		workerID, lastErr, errMsg, userMsgID *string
	)
	err := row.Scan(&j.ID, &spec, &status, &j.Progress, &j.RetryCount, &j.MaxRetries, &workerID, &lastErr,
		&errMsg, &result, &userMsgID, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	if err := json.Unmarshal(spec, &j.JobSpec); err != nil {
		return nil, fmt.Errorf("%w: spec: %v", domain.ErrReadDatabaseRow, err)
	}
	if len(result) > 0 {
		j.Result = &model.JobResult{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("%w: result: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	j.Status = model.JobStatus(status)
	j.WorkerID = deref(workerID)
	j.LastError = deref(lastErr)
	j.ErrorMessage = deref(errMsg)
	j.UserMessageID = deref(userMsgID)
	return &j, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
