// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"docqa-engine/internal/infra/logging"
)

// Claimer processes at most one job per call and reports whether it found one.
type Claimer interface {
	ProcessNext(ctx context.Context) (bool, error)
}

// Pool runs n workers. Each worker claims in a loop; when the queue is empty it
// blocks until Wake is called, the poll interval elapses or ctx is cancelled.
type Pool struct {
	claimer Claimer
	n       int
	poll    time.Duration
	wake    chan struct{}
	wg      sync.WaitGroup
	log     *zerolog.Logger

	mu      sync.Mutex
	started bool
}

func NewPool(claimer Claimer, workers int, poll time.Duration, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Pool{
		claimer: claimer,
		n:       workers,
		poll:    poll,
		wake:    make(chan struct{}, workers),
		log:     logging.Component(logger, "WorkerPool"),
	}
}

// Start launches the workers. A second call is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(slot int) {
			defer p.wg.Done()
			p.loop(ctx, slot)
		}(i)
	}
	p.log.Info().Int("workers", p.n).Dur("poll", p.poll).Msg("worker pool started")
}

// Wait blocks until every worker has returned. Workers return once ctx is
// cancelled and their current job (if any) is finished.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.log.Info().Msg("worker pool stopped")
}

// Run starts the pool and blocks until ctx is cancelled and all workers drained.
func (p *Pool) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Wait()
	return nil
}

// Wake nudges one idle worker. It never blocks.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) loop(ctx context.Context, slot int) {
	timer := time.NewTimer(p.poll)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		found, err := p.claimer.ProcessNext(ctx)
		if err != nil {
			p.log.Error().Err(err).Int("slot", slot).Msg("claim failed")
		}
		if found {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.poll)
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}
