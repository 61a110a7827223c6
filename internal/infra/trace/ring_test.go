package trace

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"docqa-engine/internal/domain/model"
)

func TestRing_EvictsOldestFirst(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Record(model.ModelTrace{ID: fmt.Sprintf("t%d", i)})
	}
	require.Equal(t, 3, r.Count())

	var ids []string
	for _, tr := range r.List(0) {
		ids = append(ids, tr.ID)
	}
	require.Equal(t, []string{"t5", "t4", "t3"}, ids)

	require.Len(t, r.List(2), 2)
	require.Equal(t, "t5", r.List(1)[0].ID)

	_, ok := r.Get("t1")
	require.False(t, ok, "evicted trace should be gone")
	got, ok := r.Get("t4")
	require.True(t, ok)
	require.Equal(t, "t4", got.ID)
}

func TestRing_Clear(t *testing.T) {
	r := NewRing(2)
	r.Record(model.ModelTrace{ID: "a"})
	r.Clear()
	require.Zero(t, r.Count())
	require.Empty(t, r.List(10))

	r.Record(model.ModelTrace{ID: "b"})
	require.Equal(t, "b", r.List(0)[0].ID)
}

func TestRing_DefaultCapacity(t *testing.T) {
	require.Equal(t, DefaultCapacity, NewRing(0).Capacity())
}

func TestRing_ConcurrentRecord(t *testing.T) {
	r := NewRing(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Record(model.ModelTrace{ID: fmt.Sprintf("%d-%d", w, i)})
				_ = r.List(5)
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 50, r.Count())
}
