package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
)

type fakeLocker struct {
	held     bool
	unlocked int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.held {
		return "", domain.ErrLockNotAcquired
	}
	return "token", nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	l.unlocked++
	return nil
}

func TestReclaimer_ReclaimOnce(t *testing.T) {
	f := newProcessorFixture(t, time.Second)
	fresh := f.enqueue(t, 3)
	spent := f.enqueue(t, 0)
	for i := 0; i < 2; i++ {
		if _, err := f.jobs.ClaimNext(context.Background(), "dead-worker", 5); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}

	woken := 0
	locker := &fakeLocker{}
	r := NewReclaimer(f.jobs, f.notifier, locker, -time.Second, "", func() { woken++ }, nopLogger())

	jobs, err := r.ReclaimOnce(context.Background())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 reclaimed jobs, got %d", len(jobs))
	}
	if got := f.get(t, fresh.ID); got.Status != model.JobStatusQueued || got.RetryCount != 1 {
		t.Errorf("expected requeue with rc=1, got %s rc=%d", got.Status, got.RetryCount)
	}
	if got := f.get(t, spent.ID); got.Status != model.JobStatusFailed {
		t.Errorf("expected spent job to fail, got %s", got.Status)
	}
	if woken != 1 || locker.unlocked != 1 {
		t.Errorf("expected one wake and one unlock, got %d/%d", woken, locker.unlocked)
	}
	if s := f.notifier.statuses(); len(s) != 1 || s[0] != model.JobStatusFailed {
		t.Errorf("only the failed job is announced, got %v", s)
	}
}

func TestReclaimer_SkipsWhenLockHeld(t *testing.T) {
	f := newProcessorFixture(t, time.Second)
	f.enqueue(t, 3)
	if _, err := f.jobs.ClaimNext(context.Background(), "dead-worker", 1); err != nil {
		t.Fatal(err)
	}

	r := NewReclaimer(f.jobs, nil, &fakeLocker{held: true}, -time.Second, "", nil, nopLogger())
	jobs, err := r.ReclaimOnce(context.Background())
	if err != nil || len(jobs) != 0 {
		t.Fatalf("expected a skipped pass, got %d jobs (%v)", len(jobs), err)
	}
}

func TestReclaimer_RunRejectsBadSchedule(t *testing.T) {
	f := newProcessorFixture(t, time.Second)
	r := NewReclaimer(f.jobs, nil, nil, time.Minute, "every now and then", nil, nopLogger())
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected a schedule parse error")
	}
}

func TestReclaimer_RunStopsWithContext(t *testing.T) {
	f := newProcessorFixture(t, time.Second)
	r := NewReclaimer(f.jobs, nil, nil, time.Minute, "@every 1h", nil, nopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reclaimer did not stop")
	}
}
