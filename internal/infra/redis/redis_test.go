package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/repository"
)

// memClient is an in-memory RedisClient.
type memClient struct {
	mu        sync.Mutex
	kv        map[string]string
	ttl       map[string]time.Duration
	published map[string][]string
	failGet   error
}

func newMemClient() *memClient {
	return &memClient{kv: map[string]string{}, ttl: map[string]time.Duration{}, published: map[string][]string{}}
}

func (m *memClient) Ping(ctx context.Context) error { return nil }

func (m *memClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.kv[key] = string(v)
	case string:
		m.kv[key] = v
	default:
		b, _ := json.Marshal(v)
		m.kv[key] = string(b)
	}
	m.ttl[key] = expiration
	return nil
}

func (m *memClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return "", m.failGet
	}
	v, ok := m.kv[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memClient) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if v, ok := m.kv[key]; ok {
		_ = json.Unmarshal([]byte(v), &n)
	}
	n++
	b, _ := json.Marshal(n)
	m.kv[key] = string(b)
	return n, nil
}

func (m *memClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl[key] = expiration
	return nil
}

func (m *memClient) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.kv, k)
	}
	return nil
}

func (m *memClient) Publish(ctx context.Context, channel string, message interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := message.([]byte)
	m.published[channel] = append(m.published[channel], string(b))
	return nil
}

func (m *memClient) Close() error { return nil }

// stubJobs answers Get from a map and counts lookups.
type stubJobs struct {
	repository.JobRepository
	jobs map[string]*model.Job
	gets int
}

func (s *stubJobs) Get(ctx context.Context, id string) (*model.Job, error) {
	s.gets++
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestJobCache_CachesTerminalJobsOnly(t *testing.T) {
	done := &model.Job{ID: "done", Status: model.JobStatusCompleted, Result: &model.JobResult{AssistantText: "12 mm", IsFinal: true}}
	done.ConversationID = "conv-1"
	running := &model.Job{ID: "running", Status: model.JobStatusProcessing}
	inner := &stubJobs{jobs: map[string]*model.Job{"done": done, "running": running}}
	cache := newMemClient()
	repo := NewJobRepoCacheDecorator(inner, cache, time.Minute, nopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := repo.Get(ctx, "done")
		if err != nil {
			t.Fatal(err)
		}
		if got.Result == nil || got.Result.AssistantText != "12 mm" || got.ConversationID != "conv-1" {
			t.Fatalf("cached job lost fields: %+v", got)
		}
	}
	if inner.gets != 1 {
		t.Errorf("terminal job should be read once, got %d reads", inner.gets)
	}
	if cache.ttl[jobKey("done")] != time.Minute {
		t.Errorf("expected ttl to be applied")
	}

	for i := 0; i < 2; i++ {
		if _, err := repo.Get(ctx, "running"); err != nil {
			t.Fatal(err)
		}
	}
	if inner.gets != 3 {
		t.Errorf("non-terminal jobs must bypass the cache, got %d reads", inner.gets)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestJobCache_FallsBackOnCacheError(t *testing.T) {
	inner := &stubJobs{jobs: map[string]*model.Job{"done": {ID: "done", Status: model.JobStatusFailed, ErrorMessage: "401"}}}
	cache := newMemClient()
	cache.failGet = errors.New("connection refused")
	repo := NewJobRepoCacheDecorator(inner, cache, 0, nopLogger())

	got, err := repo.Get(context.Background(), "done")
	if err != nil || got.ErrorMessage != "401" {
		t.Fatalf("expected the stored job, got %+v (%v)", got, err)
	}
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	client := newMemClient()
	rl := NewRateLimiter(client)
	ctx := context.Background()
	key := ClientSubmitKey("client-1")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d should pass: %v", i, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Error("fourth request should be limited")
	}
	if client.ttl[key] != time.Minute {
		t.Error("window should be set on first hit")
	}
	if ok, _ := rl.Allow(ctx, ClientSubmitKey("client-2"), 3, time.Minute); !ok {
		t.Error("other clients have their own window")
	}
}

func TestPublisherAndRelay(t *testing.T) {
	client := newMemClient()
	pub := NewPublisher(client, "docqa:job_updates")
	ev := model.JobEvent{JobID: "job-1", Status: model.JobStatusCompleted, At: time.Now().UTC().Truncate(time.Second)}
	if err := pub.NotifyJobUpdated(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	msgs := client.published["docqa:job_updates"]
	if len(msgs) != 1 {
		t.Fatalf("expected one published message, got %d", len(msgs))
	}

	var got []model.JobEvent
	relay := NewRelay(nil, "docqa:job_updates", func(e model.JobEvent) { got = append(got, e) }, nopLogger())
	relay.handle(msgs[0])
	relay.handle("not json")
	relay.handle(`{"status":"failed"}`)

	if len(got) != 1 || got[0].JobID != "job-1" || !got[0].At.Equal(ev.At) {
		t.Errorf("relay should forward only the valid event, got %+v", got)
	}
}
