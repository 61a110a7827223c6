// File: internal/usecase/job_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/repository"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/infra/metrics"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

type JobUseCase interface {
	Submit(ctx context.Context, spec model.JobSpec) (*model.Job, error)
	// Get returns the job when it belongs to clientID. An empty clientID skips
	// the ownership check.
	Get(ctx context.Context, clientID, jobID string) (*model.Job, error)
	List(ctx context.Context, f model.JobFilter) ([]*model.Job, error)
	Models() []model.ModelProfile
}

type jobUC struct {
	jobs     repository.JobRepository
	messages repository.MessageRepository
	tm       repository.TransactionManager
	catalog  model.ModelCatalog
	validate *validator.Validate
	wake     func()
	log      *zerolog.Logger
	now      func() time.Time
}

// NewJobUseCase builds the submission side of the engine. wake may be nil; it
// is called after every successful enqueue.
func NewJobUseCase(jobs repository.JobRepository, messages repository.MessageRepository, tm repository.TransactionManager, catalog model.ModelCatalog, wake func(), logger *zerolog.Logger) *jobUC {
	return &jobUC{
		jobs:     jobs,
		messages: messages,
		tm:       tm,
		catalog:  catalog,
		validate: validator.New(),
		wake:     wake,
		log:      logging.Component(logger, "JobUseCase"),
		now:      time.Now,
	}
}

func (u *jobUC) Submit(ctx context.Context, spec model.JobSpec) (*model.Job, error) {
	spec.ConversationID = strings.TrimSpace(spec.ConversationID)
	spec.ClientID = strings.TrimSpace(spec.ClientID)
	spec.Model = strings.TrimSpace(spec.Model)
	if strings.TrimSpace(spec.UserText) == "" {
		spec.UserText = ""
	}

	if err := u.validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, describeValidation(err))
	}
	if _, err := model.ParseContextCatalog(spec.ContextCatalog); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	level, err := u.catalog.Resolve(spec.Model, spec.ThinkingLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", err, spec.Model, spec.ThinkingLevel)
	}
	spec.ThinkingLevel = level

	now := u.now().UTC()
	job := model.NewJob(spec, now)
	msg := model.NewMessage(spec.ConversationID, spec.ClientID, model.RoleUser, spec.UserText, now)
	msg.JobID = job.ID
	job.UserMessageID = msg.ID

	err = u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.messages.Save(ctx, tx, msg); err != nil {
			return err
		}
		return u.jobs.Enqueue(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncJobSubmitted()
	logging.With(logging.WithJobID(ctx, job.ID), u.log).Info().
		Str("conversation_id", job.ConversationID).
		Str("model", job.Model).
		Msg("job queued")
	if u.wake != nil {
		u.wake()
	}
	return job, nil
}

func (u *jobUC) Get(ctx context.Context, clientID, jobID string) (*model.Job, error) {
	job, err := u.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if clientID != "" && job.ClientID != clientID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (u *jobUC) List(ctx context.Context, f model.JobFilter) ([]*model.Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, f.Status)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	return u.jobs.List(ctx, f)
}

func (u *jobUC) Models() []model.ModelProfile {
	out := make([]model.ModelProfile, 0, len(u.catalog))
	for _, p := range u.catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func describeValidation(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err.Error()
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
