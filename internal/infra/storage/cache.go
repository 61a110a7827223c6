package storage

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/infra/metrics"
)

type entry struct {
	key      string
	data     []byte
	mimeType string
}

// LRU is a byte-bounded least-recently-used cache of downloaded objects.
// Objects larger than the whole budget are never stored.
type LRU struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	ll       *list.List
	items    map[string]*list.Element
}

func NewLRU(maxBytes int64) *LRU {
	return &LRU{maxBytes: maxBytes, ll: list.New(), items: map[string]*list.Element{}}
}

func (c *LRU) Get(key string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, "", false
	}
	c.ll.MoveToFront(el)
	e := el.Value.(*entry)
	return e.data, e.mimeType, true
}

func (c *LRU) Put(key string, data []byte, mimeType string) {
	n := int64(len(data))
	if n > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		c.size += n - int64(len(e.data))
		e.data, e.mimeType = data, mimeType
		c.ll.MoveToFront(el)
	} else {
		c.items[key] = c.ll.PushFront(&entry{key: key, data: data, mimeType: mimeType})
		c.size += n
	}
	for c.size > c.maxBytes {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*entry)
		c.ll.Remove(oldest)
		delete(c.items, e.key)
		c.size -= int64(len(e.data))
	}
	metrics.SetCacheBytes("objects", c.size)
}

// Size returns the cached byte count.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

var _ adapter.ObjectFetcher = (*CachingFetcher)(nil)

// CachingFetcher serves repeated downloads from an LRU and collapses
// concurrent downloads of the same source into one request.
type CachingFetcher struct {
	inner adapter.ObjectFetcher
	cache *LRU
	group singleflight.Group
}

func NewCachingFetcher(inner adapter.ObjectFetcher, cache *LRU) *CachingFetcher {
	return &CachingFetcher{inner: inner, cache: cache}
}

type fetched struct {
	data     []byte
	mimeType string
}

func (f *CachingFetcher) Fetch(ctx context.Context, source string) ([]byte, string, error) {
	if data, mt, ok := f.cache.Get(source); ok {
		metrics.IncCacheRequest("objects", "hit")
		return data, mt, nil
	}
	metrics.IncCacheRequest("objects", "miss")

	v, err := shared(ctx, &f.group, source, func(ctx context.Context) (interface{}, error) {
		data, mt, err := f.inner.Fetch(ctx, source)
		if err != nil {
			return nil, err
		}
		f.cache.Put(source, data, mt)
		return fetched{data: data, mimeType: mt}, nil
	})
	if err != nil {
		return nil, "", err
	}
	r := v.(fetched)
	return r.data, r.mimeType, nil
}

// sharedCallTimeout bounds work that several callers wait on.
const sharedCallTimeout = 2 * time.Minute

// shared runs fn once per key for all concurrent callers. fn gets a context
// detached from the caller that started it, so one job's deadline or
// cancellation never fails another job waiting on the same key. Each caller
// still stops waiting when its own ctx is done.
func shared(ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := g.DoChan(key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		return fn(sctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}
