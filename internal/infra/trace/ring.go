// Package trace keeps recent model calls in memory for the inspector API.
package trace

import (
	"sync"

	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/infra/metrics"
)

// DefaultCapacity is used when NewRing is given a non-positive capacity.
const DefaultCapacity = 200

var _ adapter.Tracer = (*Ring)(nil)

// Ring is a fixed-size FIFO of model traces. When full, the oldest trace is
// overwritten. All methods are safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	items []model.ModelTrace
	// next is the slot the next Record writes to.
	next  int
	count int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{items: make([]model.ModelTrace, capacity)}
}

// Record implements adapter.Tracer.
func (r *Ring) Record(t model.ModelTrace) {
	r.mu.Lock()
	r.items[r.next] = t
	r.next = (r.next + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
	n := r.count
	r.mu.Unlock()
	metrics.SetInspectorSize(n)
}

// List returns up to limit traces, newest first. limit <= 0 means all.
func (r *Ring) List(limit int) []model.ModelTrace {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]model.ModelTrace, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.items)) % len(r.items)
		out = append(out, r.items[idx])
	}
	return out
}

func (r *Ring) Get(id string) (model.ModelTrace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 1; i <= r.count; i++ {
		idx := (r.next - i + len(r.items)) % len(r.items)
		if r.items[idx].ID == id {
			return r.items[idx], true
		}
	}
	return model.ModelTrace{}, false
}

func (r *Ring) Clear() {
	r.mu.Lock()
	for i := range r.items {
		r.items[i] = model.ModelTrace{}
	}
	r.next, r.count = 0, 0
	r.mu.Unlock()
	metrics.SetInspectorSize(0)
}

func (r *Ring) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Ring) Capacity() int { return len(r.items) }
