package model

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultMaxRetries applies when a submission does not set a retry budget.
const DefaultMaxRetries = 3

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal job status change.
// processing -> queued is the requeue/reclaim edge and must be paired with a
// retry_count increment by the store.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusQueued
	}
	return false
}

// JobSpec is the submission payload. Every field is copied into the job and
// never changes afterwards.
type JobSpec struct {
	ConversationID   string        `json:"conversation_id" validate:"required,max=128"`
	ClientID         string        `json:"client_id" validate:"required,max=128"`
	UserText         string        `json:"user_text" validate:"required,max=32000"`
	SystemPrompt     string        `json:"system_prompt,omitempty" validate:"max=32000"`
	UserTextTemplate string        `json:"user_text_template,omitempty" validate:"max=32000"`
	Model            string        `json:"model_name" validate:"required,max=128"`
	ThinkingLevel    ThinkingLevel `json:"thinking_level,omitempty" validate:"omitempty,oneof=low medium high"`
	ThinkingBudget   int           `json:"thinking_budget,omitempty" validate:"gte=0,lte=16384"`
	FileRefs         []FileRef     `json:"file_refs,omitempty" validate:"max=16,dive"`
	ContextCatalog   string        `json:"context_catalog,omitempty" validate:"max=1048576"`
	// RetryBudget overrides DefaultMaxRetries when set.
	RetryBudget *int `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// JobResult is present only on completed jobs.
type JobResult struct {
	AssistantText string        `json:"assistant_text"`
	Actions       []ModelAction `json:"actions"`
	IsFinal       bool          `json:"is_final"`
	MessageID     string        `json:"message_id,omitempty"`
}

type Job struct {
	ID string
	JobSpec

	Status       JobStatus
	Progress     float64
	RetryCount   int
	MaxRetries   int
	WorkerID     string
	LastError    string
	ErrorMessage string
	Result       *JobResult

	UserMessageID string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewJob builds a queued job from an already validated spec.
func NewJob(spec JobSpec, now time.Time) *Job {
	maxRetries := DefaultMaxRetries
	if spec.RetryBudget != nil {
		maxRetries = *spec.RetryBudget
	}
	return &Job{
		ID:         NewJobID(now),
		JobSpec:    spec,
		Status:     JobStatusQueued,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// RetriesLeft reports whether another attempt may be scheduled.
func (j *Job) RetriesLeft() bool { return j.RetryCount < j.MaxRetries }

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewJobID returns a lexicographically time-ordered identifier.
func NewJobID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// JobFilter narrows ListJobs. Empty fields match everything.
type JobFilter struct {
	ConversationID string
	ClientID       string
	Status         JobStatus
	Limit          int
}

// JobEvent is published whenever a job enters processing, completed or failed.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	ConversationID string    `json:"conversation_id"`
	ClientID       string    `json:"client_id"`
	Status         JobStatus `json:"status"`
	RetryCount     int       `json:"retry_count"`
	At             time.Time `json:"at"`
}

func EventFor(j *Job, at time.Time) JobEvent {
	return JobEvent{
		JobID:          j.ID,
		ConversationID: j.ConversationID,
		ClientID:       j.ClientID,
		Status:         j.Status,
		RetryCount:     j.RetryCount,
		At:             at,
	}
}
