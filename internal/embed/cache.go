package embed

import (
	"fmt"
	"sync"
)

// Model is a loaded inference model owned by the cache.
type Model interface {
	Destroy() error
}

// LoadFunc loads the model stored at path.
type LoadFunc func(path string) (Model, error)

// Cache deduplicates model loads by path with reference counting.
// Concurrent Acquire calls for the same path collapse to a single load;
// the model is destroyed when the last handle is released.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	ready chan struct{}
	model Model
	err   error
	refs  int
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// Acquire returns a handle to the model at path, loading it with load if
// no live handle exists. The caller must call Release on the handle when
// done with the model.
func (c *Cache) Acquire(path string, load LoadFunc) (*Handle, error) {
	c.mu.Lock()
	e, ok := c.entries[path]
	if ok {
		e.refs++
		c.mu.Unlock()

		<-e.ready
		if e.err != nil {
			c.forget(path, e)
			return nil, fmt.Errorf("loading model %s: %w", path, e.err)
		}
		return &Handle{cache: c, path: path, entry: e}, nil
	}

	e = &cacheEntry{ready: make(chan struct{}), refs: 1}
	c.entries[path] = e
	c.mu.Unlock()

	e.model, e.err = load(path)
	close(e.ready)

	if e.err != nil {
		c.forget(path, e)
		return nil, fmt.Errorf("loading model %s: %w", path, e.err)
	}
	return &Handle{cache: c, path: path, entry: e}, nil
}

// forget drops one reference without destroying: used when a waiter
// observes a failed load.
func (c *Cache) forget(path string, e *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	if e.refs <= 0 && c.entries[path] == e {
		delete(c.entries, path)
	}
}

// Refs reports the live reference count for path.
func (c *Cache) Refs(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		return e.refs
	}
	return 0
}

// Handle is a counted reference to a cached model. Release is idempotent.
type Handle struct {
	cache    *Cache
	path     string
	entry    *cacheEntry
	released bool
	mu       sync.Mutex
}

// Model returns the loaded model. It must not be used after Release.
func (h *Handle) Model() Model {
	return h.entry.model
}

// Release drops this handle's reference. When the count reaches zero the
// model is destroyed and removed from the cache.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	c := h.cache
	c.mu.Lock()
	h.entry.refs--
	last := h.entry.refs <= 0
	if last && c.entries[h.path] == h.entry {
		delete(c.entries, h.path)
	}
	c.mu.Unlock()

	if last {
		return h.entry.model.Destroy()
	}
	return nil
}
