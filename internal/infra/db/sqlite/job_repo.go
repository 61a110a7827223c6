package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

type JobRepo struct {
	s *Store
}

func NewJobRepo(s *Store) *JobRepo { return &JobRepo{s: s} }

const jobColumns = `id, spec, status, progress, retry_count, max_retries, worker_id, last_error,
  error_message, result, user_message_id, created_at, updated_at, started_at, completed_at`

// ?1 id, ?2 worker, ?3 retry count of the claimed snapshot
const ownedBy = `id = ?1 AND status = 'processing' AND worker_id = ?2 AND retry_count = ?3`

// ?4 error text, ?5 now
const requeueSet = `
  status        = CASE WHEN retry_count < max_retries THEN 'queued' ELSE 'failed' END,
  retry_count   = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
  error_message = CASE WHEN retry_count < max_retries THEN NULL ELSE ?4 END,
  completed_at  = CASE WHEN retry_count < max_retries THEN NULL ELSE ?5 END,
  worker_id     = CASE WHEN retry_count < max_retries THEN NULL ELSE worker_id END,
  started_at    = CASE WHEN retry_count < max_retries THEN NULL ELSE started_at END,
  progress      = CASE WHEN retry_count < max_retries THEN 0 ELSE progress END,
  last_error    = ?4,
  updated_at    = ?5`

func (r *JobRepo) Enqueue(ctx context.Context, tx repository.Tx, job *model.Job) error {
	ex, err := r.s.executor(tx)
	if err != nil {
		return err
	}
	spec, err := json.Marshal(job.JobSpec)
	if err != nil {
		return fmt.Errorf("encode job spec: %w", err)
	}
	created := job.CreatedAt.UTC().UnixMilli()
	_, err = ex.ExecContext(ctx, `
INSERT INTO jobs (id, conversation_id, client_id, model_name, spec, status, progress, retry_count,
  max_retries, user_message_id, created_at, updated_at)
VALUES (?1, ?2, ?3, ?4, ?5, 'queued', 0, 0, ?6, NULLIF(?7, ''), ?8, ?8)`,
		job.ID, job.ConversationID, job.ClientID, job.Model, string(spec), job.MaxRetries, job.UserMessageID, created)
	if isConflict(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func isConflict(err error) bool {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	return sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (r *JobRepo) ClaimNext(ctx context.Context, workerID string, maxClaims int) (*model.Job, error) {
	now := r.s.nowMillis()
	row := r.s.db.QueryRowContext(ctx, `
UPDATE jobs
SET status = 'processing', worker_id = ?1, progress = 0, started_at = ?3, updated_at = ?3
WHERE id = (
    SELECT id FROM jobs
    WHERE status = 'queued'
    ORDER BY created_at, id
    LIMIT 1
  )
  AND status = 'queued'
  AND (SELECT count(*) FROM jobs WHERE status = 'processing' AND worker_id = ?1) < ?2
RETURNING `+jobColumns, workerID, maxClaims, now)
	return scanJob(row)
}

func (r *JobRepo) ReclaimStale(ctx context.Context, timeout time.Duration) ([]*model.Job, error) {
	now := r.s.now().UTC()
	cutoff := now.Add(-timeout).UnixMilli()
	rows, err := r.s.db.QueryContext(ctx, `
UPDATE jobs SET `+requeueSet+`
WHERE status = 'processing' AND started_at < ?1
RETURNING `+jobColumns, cutoff, nil, nil, "reclaimed after worker timeout", now.UnixMilli())
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *JobRepo) UpdateProgress(ctx context.Context, claimed *model.Job, progress float64) error {
	return r.guarded(ctx, nil, `UPDATE jobs SET progress = ?4, updated_at = ?5 WHERE `+ownedBy,
		claimed, clamp01(progress), r.s.nowMillis())
}

func (r *JobRepo) MarkCompleted(ctx context.Context, tx repository.Tx, claimed *model.Job, result *model.JobResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	return r.guarded(ctx, tx, `
UPDATE jobs
SET status = 'completed', result = ?4, result_message_id = NULLIF(?5, ''), progress = 1,
    error_message = NULL, completed_at = ?6, updated_at = ?6
WHERE `+ownedBy, claimed, string(body), result.MessageID, r.s.nowMillis())
}

func (r *JobRepo) MarkFailed(ctx context.Context, claimed *model.Job, errMsg string) error {
	return r.guarded(ctx, nil, `
UPDATE jobs
SET status = 'failed', error_message = ?4, last_error = ?4, completed_at = ?5, updated_at = ?5
WHERE `+ownedBy, claimed, errMsg, r.s.nowMillis())
}

func (r *JobRepo) Requeue(ctx context.Context, claimed *model.Job, errMsg string) (model.JobStatus, error) {
	var status string
	err := r.s.db.QueryRowContext(ctx, `UPDATE jobs SET `+requeueSet+` WHERE `+ownedBy+` RETURNING status`,
		claimed.ID, claimed.WorkerID, claimed.RetryCount, errMsg, r.s.nowMillis()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrJobNotOwned
	}
	if err != nil {
		return "", err
	}
	return model.JobStatus(status), nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	return scanJob(r.s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?1`, id))
}

func (r *JobRepo) List(ctx context.Context, f model.JobFilter) ([]*model.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.ConversationID != "" {
		where, args = append(where, "conversation_id = ?"), append(args, f.ConversationID)
	}
	if f.ClientID != "" {
		where, args = append(where, "client_id = ?"), append(args, f.ClientID)
	}
	if f.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(f.Status))
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := r.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *JobRepo) guarded(ctx context.Context, tx repository.Tx, q string, claimed *model.Job, args ...any) error {
	ex, err := r.s.executor(tx)
	if err != nil {
		return err
	}
	all := append([]any{claimed.ID, claimed.WorkerID, claimed.RetryCount}, args...)
	res, err := ex.ExecContext(ctx, q, all...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrJobNotOwned
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
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

func scanJob(row scanner) (*model.Job, error) {
	var (
		j                                    model.Job
		spec, status                         string
		result                               sql.NullString
		workerID, lastErr, errMsg, userMsgID sql.NullString
		created, updated                     int64
		started, completed                   sql.NullInt64
	)
	err := row.Scan(&j.ID, &spec, &status, &j.Progress, &j.RetryCount, &j.MaxRetries, &workerID, &lastErr,
		&errMsg, &result, &userMsgID, &created, &updated, &started, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	if err := json.Unmarshal([]byte(spec), &j.JobSpec); err != nil {
		return nil, fmt.Errorf("%w: spec: %v", domain.ErrReadDatabaseRow, err)
	}
	if result.Valid {
		j.Result = &model.JobResult{}
		if err := json.Unmarshal([]byte(result.String), j.Result); err != nil {
			return nil, fmt.Errorf("%w: result: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	j.Status = model.JobStatus(status)
	j.WorkerID = workerID.String
	j.LastError = lastErr.String
	j.ErrorMessage = errMsg.String
	j.UserMessageID = userMsgID.String
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	j.StartedAt = fromMillis(started)
	j.CompletedAt = fromMillis(completed)
	return &j, nil
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
