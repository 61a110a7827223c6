// Package notify delivers job status changes to interested parties.
package notify

import (
	"context"
	"sync"

	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/infra/metrics"
)

type subscriber chan model.JobEvent

var _ adapter.JobNotifier = (*Hub)(nil)

// Hub fans events out to in-process subscribers keyed by job id. Slow
// subscribers miss events rather than block the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[subscriber]struct{}
}

func NewHub() *Hub { return &Hub{subs: map[string]map[subscriber]struct{}{}} }

// Subscribe registers for events of jobID. The returned func must be called
// once to release the subscription; it closes the channel.
func (h *Hub) Subscribe(jobID string) (<-chan model.JobEvent, func()) {
	ch := make(subscriber, 8)
	h.mu.Lock()
	set := h.subs[jobID]
	if set == nil {
		set = map[subscriber]struct{}{}
		h.subs[jobID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[jobID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
			close(ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(ev model.JobEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.JobID] {
		select {
		case ch <- ev:
			metrics.IncNotification("hub", "sent")
		default:
			metrics.IncNotification("hub", "dropped")
		}
	}
}

// NotifyJobUpdated implements adapter.JobNotifier.
func (h *Hub) NotifyJobUpdated(_ context.Context, ev model.JobEvent) error {
	h.Publish(ev)
	return nil
}

// Subscribers reports how many subscriptions exist for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}
