// File: internal/usecase/agent.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/infra/metrics"
)

// MaxTurns bounds the model calls of one job attempt, repairs excluded.
const MaxTurns = 5

// DefaultROIDPI applies when request_roi does not name a dpi.
const DefaultROIDPI = 400

// AgentInput is what one attempt of a job needs.
type AgentInput struct {
	Job     *model.Job
	Catalog *model.ContextCatalog
	History []model.Message
}

// AgentResult is the terminal reply plus every action seen across turns.
type AgentResult struct {
	Reply   *model.ModelReply
	Actions []model.ModelAction
	Turns   int
	Files   []model.FileRef
}

// AgentTurnState lives for one attempt only.
type AgentTurnState struct {
	Turn   int
	Files  []model.FileRef
	Errors []string
	Trace  []model.ModelAction
}

func (s *AgentTurnState) attach(refs ...model.FileRef) int {
	added := 0
outer:
	for _, r := range refs {
		for _, have := range s.Files {
			if have.URI == r.URI {
				continue outer
			}
		}
		s.Files = append(s.Files, r)
		added++
	}
	return added
}

// ProgressFunc receives progress in [0,1] after each turn.
type ProgressFunc func(ctx context.Context, progress float64)

type Agent struct {
	model     adapter.ModelPort
	validator *ReplyValidator
	prompts   *PromptBuilder
	files     adapter.FileResolver
	regions   adapter.RegionResolver
	tracer    adapter.Tracer
	log       *zerolog.Logger
	now       func() time.Time
}

// NewAgent wires an agent. files, regions and tracer may be nil; evidence
// requests then fail with domain.ErrResolverUnavailable.
func NewAgent(mp adapter.ModelPort, prompts *PromptBuilder, files adapter.FileResolver, regions adapter.RegionResolver, tracer adapter.Tracer, logger *zerolog.Logger) *Agent {
	return &Agent{
		model:     mp,
		validator: NewReplyValidator(),
		prompts:   prompts,
		files:     files,
		regions:   regions,
		tracer:    tracer,
		log:       logging.Component(logger, "Agent"),
		now:       time.Now,
	}
}

// Execute runs the turn loop for one attempt. Errors are classified with
// domain.Classify by the caller.
func (a *Agent) Execute(ctx context.Context, in AgentInput, progress ProgressFunc) (*AgentResult, error) {
	defer logging.TraceDuration(a.log, "Agent.Execute")()
	log := logging.With(ctx, a.log)

	job := in.Job
	state := &AgentTurnState{}
	state.attach(job.FileRefs...)

	for state.Turn = 1; state.Turn <= MaxTurns; state.Turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prompt := a.prompts.UserPrompt(job, in.Catalog, state.Turn, state.Files)
		reply, err := a.callWithRepair(ctx, in, state, prompt)
		if err != nil {
			return nil, err
		}

		state.Trace = append(state.Trace, reply.Actions...)
		for _, act := range reply.Actions {
			metrics.IncAgentAction(string(act.Type))
		}
		if progress != nil {
			progress(ctx, float64(state.Turn)/float64(MaxTurns))
		}

		if reply.Terminal() || len(reply.Actions) == 0 {
			// An explicit final action makes the reply final.
			if reply.Has(model.ActionFinal) {
				reply.IsFinal = true
			}
			metrics.ObserveAgentTurns(state.Turn)
			log.Debug().Int("turn", state.Turn).Int("actions", len(state.Trace)).Msg("agent finished")
			return &AgentResult{Reply: reply, Actions: state.Trace, Turns: state.Turn, Files: state.Files}, nil
		}

		if state.Turn == MaxTurns {
			break
		}
		if err := a.resolveEvidence(ctx, in.Catalog, reply.Actions, state); err != nil {
			return nil, err
		}
	}

	metrics.ObserveAgentTurns(MaxTurns)
	return nil, domain.Fatal(fmt.Errorf("%w after %d turns", domain.ErrTurnLimitExceeded, MaxTurns))
}

// callWithRepair allows one repair call per turn. A second violation in a
// row fails the job.
func (a *Agent) callWithRepair(ctx context.Context, in AgentInput, state *AgentTurnState, prompt string) (*model.ModelReply, error) {
	reply, err := a.call(ctx, in, state, prompt, false)
	if err == nil {
		return reply, nil
	}
	var sv *domain.SchemaViolation
	if !errors.As(err, &sv) {
		return nil, err
	}

	logging.With(ctx, a.log).Warn().Int("turn", state.Turn).Str("field", sv.Field).Msg("schema violation, repairing")
	reply, err = a.call(ctx, in, state, a.prompts.Repair(prompt, sv), true)
	if err == nil {
		metrics.IncAgentRepair("repaired")
		return reply, nil
	}
	if errors.As(err, &sv) {
		metrics.IncAgentRepair("failed")
		return nil, domain.Fatal(err)
	}
	return nil, err
}

func (a *Agent) call(ctx context.Context, in AgentInput, state *AgentTurnState, prompt string, repair bool) (*model.ModelReply, error) {
	job := in.Job
	req := adapter.CompletionRequest{
		SystemPrompt: a.prompts.System(job),
		UserPrompt:   prompt,
		Files:        append([]model.FileRef(nil), state.Files...),
		Model:        job.Model,
		Thinking:     model.ResolveThinking(job.ThinkingLevel, job.ThinkingBudget),
		Schema:       ReplySchema(),
	}
	// Conversation history goes out with the first turn only.
	if state.Turn == 1 {
		req.History = in.History
	}

	start := a.now()
	resp, err := a.model.Complete(ctx, req)
	tr := model.ModelTrace{
		ID:             uuid.NewString(),
		At:             start,
		JobID:          job.ID,
		ConversationID: job.ConversationID,
		Turn:           state.Turn,
		Repair:         repair,
		Model:          job.Model,
		ThinkingLevel:  req.Thinking.Level,
		SystemPrompt:   req.SystemPrompt,
		UserPrompt:     prompt,
		InputFiles:     req.Files,
		LatencyMS:      a.now().Sub(start).Milliseconds(),
	}
	defer func() {
		if a.tracer != nil {
			a.tracer.Record(tr)
		}
	}()

	if err != nil {
		state.Errors = append(state.Errors, err.Error())
		tr.Errors = []string{err.Error()}
		return nil, err
	}
	tr.RawResponse = string(resp.Raw)

	reply, err := a.validator.Validate(resp.Raw)
	if err != nil {
		state.Errors = append(state.Errors, err.Error())
		tr.Errors = []string{err.Error()}
		return nil, err
	}
	tr.Actions = reply.Actions
	tr.IsFinal = reply.IsFinal
	tr.AssistantText = reply.AssistantText
	return reply, nil
}

// resolveEvidence attaches the files and regions requested by actions.
// Any failure is fatal for the job unless the attempt ran out of time.
func (a *Agent) resolveEvidence(ctx context.Context, catalog *model.ContextCatalog, actions []model.ModelAction, state *AgentTurnState) error {
	for _, act := range actions {
		switch p := act.Payload.(type) {
		case *model.RequestFilesPayload:
			if err := a.resolveFiles(ctx, catalog, p, state); err != nil {
				return err
			}
		case *model.RequestROIPayload:
			if err := a.resolveRegion(ctx, catalog, p, state); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Agent) resolveFiles(ctx context.Context, catalog *model.ContextCatalog, p *model.RequestFilesPayload, state *AgentTurnState) error {
	for _, id := range p.ItemIDs() {
		if _, ok := catalog.Lookup(id); !ok {
			return domain.Fatal(&domain.ResolutionError{Action: string(model.ActionRequestFiles), ItemID: id, Err: domain.ErrNotFound})
		}
	}
	if a.files == nil {
		return domain.Fatal(&domain.ResolutionError{Action: string(model.ActionRequestFiles), ItemID: p.Items[0].ContextItemID, Err: domain.ErrResolverUnavailable})
	}
	refs, err := a.files.ResolveFiles(ctx, catalog, p.Items)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var re *domain.ResolutionError
		if !errors.As(err, &re) {
			err = &domain.ResolutionError{Action: string(model.ActionRequestFiles), ItemID: p.Items[0].ContextItemID, Err: err}
		}
		return domain.Fatal(err)
	}
	added := state.attach(refs...)
	logging.With(ctx, a.log).Debug().Int("turn", state.Turn).Int("added", added).Msg("files attached")
	return nil
}

func (a *Agent) resolveRegion(ctx context.Context, catalog *model.ContextCatalog, p *model.RequestROIPayload, state *AgentTurnState) error {
	id := p.ImageRef.ContextItemID
	item, ok := catalog.Lookup(id)
	if !ok {
		return domain.Fatal(&domain.ResolutionError{Action: string(model.ActionRequestROI), ItemID: id, Err: domain.ErrNotFound})
	}
	if a.regions == nil {
		return domain.Fatal(&domain.ResolutionError{Action: string(model.ActionRequestROI), ItemID: id, Err: domain.ErrResolverUnavailable})
	}
	dpi := p.DPI
	if dpi == 0 {
		dpi = DefaultROIDPI
	}
	ref, err := a.regions.ResolveRegion(ctx, item, p.Region(), dpi)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Fatal(&domain.ResolutionError{Action: string(model.ActionRequestROI), ItemID: id, Err: err})
	}
	state.attach(ref)
	return nil
}
