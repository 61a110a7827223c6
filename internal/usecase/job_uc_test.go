package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJobUC() (*jobUC, *memJobs, *memMessages, *fakeTx, *int) {
	jobs, msgs, tx := newMemJobs(), &memMessages{}, &fakeTx{}
	woken := 0
	uc := NewJobUseCase(jobs, msgs, tx, model.DefaultModelCatalog(), func() { woken++ }, testLogger())
	uc.now = func() time.Time { return testNow }
	return uc, jobs, msgs, tx, &woken
}

func validSpec() model.JobSpec {
	return model.JobSpec{
		ConversationID: "conv-1",
		ClientID:       "client-1",
		UserText:       "What is the bore diameter?",
		Model:          "gemini-3-pro-preview",
		ContextCatalog: testCatalog,
	}
}

func TestJobUC_Submit(t *testing.T) {
	uc, jobs, msgs, tx, woken := newTestJobUC()

	job, err := uc.Submit(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if job.Status != model.JobStatusQueued || job.MaxRetries != model.DefaultMaxRetries || job.RetryCount != 0 {
		t.Errorf("unexpected job state: %+v", job)
	}
	if job.ThinkingLevel != model.ThinkingHigh {
		t.Errorf("expected the model's default level, got %q", job.ThinkingLevel)
	}
	if _, err := jobs.Get(context.Background(), job.ID); err != nil {
		t.Errorf("job not stored: %v", err)
	}
	if len(msgs.msgs) != 1 || msgs.msgs[0].ID != job.UserMessageID || msgs.msgs[0].JobID != job.ID {
		t.Errorf("user message not linked to the job: %+v", msgs.msgs)
	}
	if tx.commits != 1 || *woken != 1 {
		t.Errorf("expected one commit and one wake, got %d/%d", tx.commits, *woken)
	}
}

func TestJobUC_SubmitRetryBudget(t *testing.T) {
	uc, _, _, _, _ := newTestJobUC()
	spec := validSpec()
	zero := 0
	spec.RetryBudget = &zero
	job, err := uc.Submit(context.Background(), spec)
	if err != nil {
		t.Fatal(err)
	}
	if job.MaxRetries != 0 {
		t.Errorf("expected max_retries 0, got %d", job.MaxRetries)
	}
}

func TestJobUC_SubmitRejects(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(s *model.JobSpec)
		wantErr error
	}{
		{"blank text", func(s *model.JobSpec) { s.UserText = "   " }, domain.ErrInvalidArgument},
		{"no conversation", func(s *model.JobSpec) { s.ConversationID = "" }, domain.ErrInvalidArgument},
		{"bad level", func(s *model.JobSpec) { s.ThinkingLevel = "max" }, domain.ErrInvalidArgument},
		{"budget too large", func(s *model.JobSpec) { s.ThinkingBudget = 20000 }, domain.ErrInvalidArgument},
		{"bad catalog", func(s *model.JobSpec) { s.ContextCatalog = "{not json" }, domain.ErrInvalidArgument},
		{"file ref without uri", func(s *model.JobSpec) { s.FileRefs = []model.FileRef{{MIMEType: "image/png"}} }, domain.ErrInvalidArgument},
		{"unknown model", func(s *model.JobSpec) { s.Model = "gpt-2" }, domain.ErrUnsupportedModel},
		{"level not offered", func(s *model.JobSpec) { s.ThinkingLevel = model.ThinkingMedium }, domain.ErrUnsupportedEffort},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			uc, jobs, _, _, woken := newTestJobUC()
			spec := validSpec()
			tc.mutate(&spec)
			_, err := uc.Submit(context.Background(), spec)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(jobs.byID) != 0 || *woken != 0 {
				t.Error("rejected submission must not enqueue")
			}
		})
	}
}

func TestJobUC_SubmitRollsBack(t *testing.T) {
	uc, jobs, _, tx, woken := newTestJobUC()
	jobs.enqErr = errors.New("disk full")
	if _, err := uc.Submit(context.Background(), validSpec()); err == nil {
		t.Fatal("expected enqueue error")
	}
	if tx.rollbacks != 1 || *woken != 0 {
		t.Errorf("expected rollback without wake, got %d/%d", tx.rollbacks, *woken)
	}
}

func TestJobUC_GetChecksOwner(t *testing.T) {
	uc, _, _, _, _ := newTestJobUC()
	job, err := uc.Submit(context.Background(), validSpec())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uc.Get(context.Background(), "client-1", job.ID); err != nil {
		t.Errorf("owner should see the job: %v", err)
	}
	if _, err := uc.Get(context.Background(), "client-2", job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("other clients should get not found, got %v", err)
	}
	if _, err := uc.Get(context.Background(), "", job.ID); err != nil {
		t.Errorf("operator lookups skip the owner check: %v", err)
	}
}

func TestJobUC_ListLimits(t *testing.T) {
	uc, _, _, _, _ := newTestJobUC()
	for i := 0; i < 3; i++ {
		if _, err := uc.Submit(context.Background(), validSpec()); err != nil {
			t.Fatal(err)
		}
	}
	got, err := uc.List(context.Background(), model.JobFilter{ClientID: "client-1", Limit: 2})
	if err != nil || len(got) != 2 {
		t.Fatalf("expected 2 jobs, got %d (%v)", len(got), err)
	}
	if got[0].ID < got[1].ID {
		t.Error("expected newest first")
	}
	if _, err := uc.List(context.Background(), model.JobFilter{Status: "paused"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected invalid status error, got %v", err)
	}
}

func TestJobUC_Models(t *testing.T) {
	uc, _, _, _, _ := newTestJobUC()
	models := uc.Models()
	if len(models) != 2 || models[0].Name != "gemini-3-flash-preview" {
		t.Errorf("unexpected models %+v", models)
	}
}
