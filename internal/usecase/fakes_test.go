package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/domain/ports/repository"
)

// ---- Fakes ----

type memJobs struct {
	mu       sync.Mutex
	byID     map[string]*model.Job
	progress []float64
	enqErr   error
}

func newMemJobs() *memJobs { return &memJobs{byID: map[string]*model.Job{}} }

func (m *memJobs) Enqueue(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if m.enqErr != nil {
		return m.enqErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	m.byID[job.ID] = &cp
	return nil
}

func (m *memJobs) ClaimNext(ctx context.Context, workerID string, maxClaims int) (*model.Job, error) {
	return nil, domain.ErrNotFound
}

func (m *memJobs) ReclaimStale(ctx context.Context, timeout time.Duration) ([]*model.Job, error) {
	return nil, nil
}

func (m *memJobs) owned(claimed *model.Job) (*model.Job, error) {
	j, ok := m.byID[claimed.ID]
	if !ok || j.Status != model.JobStatusProcessing || j.WorkerID != claimed.WorkerID || j.RetryCount != claimed.RetryCount {
		return nil, domain.ErrJobNotOwned
	}
	return j, nil
}

func (m *memJobs) UpdateProgress(ctx context.Context, claimed *model.Job, p float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(claimed)
	if err != nil {
		return err
	}
	j.Progress = p
	m.progress = append(m.progress, p)
	return nil
}

func (m *memJobs) MarkCompleted(ctx context.Context, tx repository.Tx, claimed *model.Job, result *model.JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(claimed)
	if err != nil {
		return err
	}
	cp := *result
	j.Status, j.Result, j.Progress = model.JobStatusCompleted, &cp, 1
	return nil
}

func (m *memJobs) MarkFailed(ctx context.Context, claimed *model.Job, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(claimed)
	if err != nil {
		return err
	}
	j.Status, j.ErrorMessage = model.JobStatusFailed, errMsg
	return nil
}

func (m *memJobs) Requeue(ctx context.Context, claimed *model.Job, errMsg string) (model.JobStatus, error) {
	return "", errors.New("not used")
}

func (m *memJobs) Get(ctx context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) List(ctx context.Context, f model.JobFilter) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.byID {
		if f.ClientID != "" && j.ClientID != f.ClientID {
			continue
		}
		if f.ConversationID != "" && j.ConversationID != f.ConversationID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID > out[k].ID })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// claim puts a stored job into processing the way a store would.
func (m *memJobs) claim(id, worker string) *model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.byID[id]
	j.Status, j.WorkerID = model.JobStatusProcessing, worker
	cp := *j
	return &cp
}

type memMessages struct {
	mu      sync.Mutex
	msgs    []model.Message
	saveErr error
}

func (m *memMessages) Save(ctx context.Context, tx repository.Tx, msg *model.Message) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memMessages) Recent(ctx context.Context, tx repository.Tx, conversationID, excludeID string, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID && msg.ID != excludeID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// fakeTx records commits and rollbacks. It does not undo writes.
type fakeTx struct {
	commits, rollbacks int
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := fn(ctx, f); err != nil {
		f.rollbacks++
		return err
	}
	f.commits++
	return nil
}

// scriptedModel returns queued responses in order.
type scriptedModel struct {
	mu    sync.Mutex
	steps []scriptStep
	reqs  []adapter.CompletionRequest
}

type scriptStep struct {
	raw string
	err error
}

func (s *scriptedModel) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if len(s.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return &adapter.CompletionResponse{Raw: []byte(step.raw), Provider: "fake"}, nil
}

func (s *scriptedModel) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

type fakeFiles struct {
	err    error
	failOn int // when set, err is returned only on that call
	calls  int
}

func (f *fakeFiles) ResolveFiles(ctx context.Context, catalog *model.ContextCatalog, items []model.FileRequest) ([]model.FileRef, error) {
	f.calls++
	if f.err != nil && (f.failOn == 0 || f.failOn == f.calls) {
		return nil, f.err
	}
	out := make([]model.FileRef, 0, len(items))
	for _, it := range items {
		out = append(out, model.FileRef{URI: "files/" + it.ContextItemID, MIMEType: "application/pdf", ContextItemID: it.ContextItemID})
	}
	return out, nil
}

type fakeRegions struct {
	err     error
	regions []model.BBox
	dpis    []int
}

func (f *fakeRegions) ResolveRegion(ctx context.Context, source model.CatalogItem, region model.BBox, dpi int) (model.FileRef, error) {
	if f.err != nil {
		return model.FileRef{}, f.err
	}
	f.regions = append(f.regions, region)
	f.dpis = append(f.dpis, dpi)
	return model.FileRef{
		URI:           "files/roi-" + source.ContextItemID,
		MIMEType:      "image/png",
		DisplayName:   model.ROIDisplayName(source.ContextItemID, dpi),
		ContextItemID: source.ContextItemID,
		IsROI:         true,
	}, nil
}

type recordingTracer struct {
	mu     sync.Mutex
	traces []model.ModelTrace
}

func (r *recordingTracer) Record(t model.ModelTrace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, t)
}

// wordCounter counts whitespace separated words.
type wordCounter struct{}

func (wordCounter) Count(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}
