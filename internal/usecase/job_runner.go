package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/repository"
	"docqa-engine/internal/infra/logging"
)

// EmptyReplyText replaces a blank assistant_text when the reply is stored.
const EmptyReplyText = "The model returned an empty answer."

// JobRunner executes one attempt of a claimed job and stores its result.
// Failure bookkeeping (requeue, fail) belongs to the caller.
type JobRunner struct {
	agent    *Agent
	jobs     repository.JobRepository
	messages repository.MessageRepository
	tm       repository.TransactionManager
	prompts  *PromptBuilder
	log      *zerolog.Logger
	now      func() time.Time
}

func NewJobRunner(agent *Agent, jobs repository.JobRepository, messages repository.MessageRepository, tm repository.TransactionManager, prompts *PromptBuilder, logger *zerolog.Logger) *JobRunner {
	return &JobRunner{
		agent:    agent,
		jobs:     jobs,
		messages: messages,
		tm:       tm,
		prompts:  prompts,
		log:      logging.Component(logger, "JobRunner"),
		now:      time.Now,
	}
}

// Run executes the agent for a claimed job and returns the unsaved result.
func (r *JobRunner) Run(ctx context.Context, claimed *model.Job) (*model.JobResult, error) {
	catalog, err := model.ParseContextCatalog(claimed.ContextCatalog)
	if err != nil {
		return nil, domain.Fatal(err)
	}

	limit := r.prompts.MaxHistoryPairs * 2
	var history []model.Message
	if limit > 0 {
		msgs, err := r.messages.Recent(ctx, repository.NoTX, claimed.ConversationID, claimed.UserMessageID, limit)
		if err != nil {
			return nil, err
		}
		history = r.prompts.History(msgs)
	}

	progress := func(ctx context.Context, p float64) {
		if err := r.jobs.UpdateProgress(ctx, claimed, p); err != nil {
			logging.With(ctx, r.log).Warn().Err(err).Float64("progress", p).Msg("progress update failed")
		}
	}

	res, err := r.agent.Execute(ctx, AgentInput{Job: claimed, Catalog: catalog, History: history}, progress)
	if err != nil {
		return nil, err
	}
	return &model.JobResult{
		AssistantText: res.Reply.AssistantText,
		Actions:       res.Actions,
		IsFinal:       res.Reply.IsFinal,
	}, nil
}

// Complete stores the assistant message and the result in one transaction.
func (r *JobRunner) Complete(ctx context.Context, claimed *model.Job, result *model.JobResult) error {
	if strings.TrimSpace(result.AssistantText) == "" {
		result.AssistantText = EmptyReplyText
	}
	msg := model.NewMessage(claimed.ConversationID, claimed.ClientID, model.RoleAssistant, result.AssistantText, r.now().UTC())
	msg.JobID = claimed.ID
	result.MessageID = msg.ID

	return r.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := r.messages.Save(ctx, tx, msg); err != nil {
			return err
		}
		return r.jobs.MarkCompleted(ctx, tx, claimed, result)
	})
}
