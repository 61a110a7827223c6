package apiv1

import (
	"time"

	"docqa-engine/internal/domain/model"
)

// JobView is the wire form of a job snapshot.
type JobView struct {
	JobID          string              `json:"job_id"`
	ConversationID string              `json:"conversation_id"`
	Status         model.JobStatus     `json:"status"`
	Progress       float64             `json:"progress"`
	Model          string              `json:"model_name"`
	ThinkingLevel  model.ThinkingLevel `json:"thinking_level,omitempty"`
	RetryCount     int                 `json:"retry_count"`
	MaxRetries     int                 `json:"max_retries"`
	Error          string              `json:"error,omitempty"`
	Result         *model.JobResult    `json:"result,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

func viewOf(j *model.Job) JobView {
	v := JobView{
		JobID:          j.ID,
		ConversationID: j.ConversationID,
		Status:         j.Status,
		Progress:       j.Progress,
		Model:          j.Model,
		ThinkingLevel:  j.ThinkingLevel,
		RetryCount:     j.RetryCount,
		MaxRetries:     j.MaxRetries,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
	// Only the terminal message is shown; LastError is operator detail.
	if j.Status == model.JobStatusFailed {
		v.Error = j.ErrorMessage
	}
	if j.Status == model.JobStatusCompleted {
		v.Result = j.Result
	}
	return v
}

type SubmitResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}
