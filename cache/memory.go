package cache

import (
	"container/list"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/syssam/unidb"
)

// newMemoryTier builds the L1 tier for the configured eviction policy.
func newMemoryTier(strategy unidb.CacheStrategy, cfg unidb.L1Config, onEvict func()) tier {
	capacity := cfg.MaxCapacity
	if capacity <= 0 {
		capacity = 1024
	}
	switch strategy {
	case unidb.CacheLFU:
		return newLFUTier(capacity, onEvict)
	case unidb.CacheFIFO:
		return newFIFOTier(capacity, onEvict)
	default:
		return newLRUTier(capacity, onEvict)
	}
}

// lruTier delegates to hashicorp's LRU implementation.
type lruTier struct {
	c *lru.Cache[string, entry]
}

func newLRUTier(capacity int, onEvict func()) *lruTier {
	c, _ := lru.NewWithEvict[string, entry](capacity, func(string, entry) { onEvict() })
	return &lruTier{c: c}
}

func (t *lruTier) get(key string) (entry, bool) {
	e, ok := t.c.Get(key)
	if ok {
		e.hits++
		t.c.Add(key, e)
	}
	return e, ok
}

func (t *lruTier) set(key string, e entry) { t.c.Add(key, e) }
func (t *lruTier) delete(key string)       { t.c.Remove(key) }
func (t *lruTier) clear()                  { t.c.Purge() }
func (t *lruTier) keys() []string          { return t.c.Keys() }
func (t *lruTier) close() error            { return nil }

// lfuTier evicts the entry with the lowest access count. golang-lru ships no
// LFU variant, so the frequency bookkeeping is kept here.
type lfuTier struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]entry
	freq     map[string]uint32
	onEvict  func()
}

func newLFUTier(capacity int, onEvict func()) *lfuTier {
	return &lfuTier{
		capacity: capacity,
		entries:  make(map[string]entry),
		freq:     make(map[string]uint32),
		onEvict:  onEvict,
	}
}

func (t *lfuTier) get(key string) (entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if ok {
		t.freq[key]++
		e.hits = t.freq[key]
		t.entries[key] = e
	}
	return e, ok
}

func (t *lfuTier) set(key string, e entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[key]; !exists && len(t.entries) >= t.capacity {
		var victim string
		var min uint32
		first := true
		for k, f := range t.freq {
			if first || f < min {
				victim, min, first = k, f, false
			}
		}
		delete(t.entries, victim)
		delete(t.freq, victim)
		t.onEvict()
	}
	t.entries[key] = e
	if _, ok := t.freq[key]; !ok {
		t.freq[key] = 0
	}
}

func (t *lfuTier) delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
	delete(t.freq, key)
}

func (t *lfuTier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]entry)
	t.freq = make(map[string]uint32)
}

func (t *lfuTier) keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	return out
}

func (t *lfuTier) close() error { return nil }

// fifoTier evicts in insertion order, ignoring access recency.
type fifoTier struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // of fifoItem
	onEvict  func()
}

type fifoItem struct {
	key string
	e   entry
}

func newFIFOTier(capacity int, onEvict func()) *fifoTier {
	return &fifoTier{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		onEvict:  onEvict,
	}
}

func (t *fifoTier) get(key string) (entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.entries[key]
	if !ok {
		return entry{}, false
	}
	item := el.Value.(*fifoItem)
	item.e.hits++
	return item.e, true
}

func (t *fifoTier) set(key string, e entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.entries[key]; ok {
		el.Value.(*fifoItem).e = e
		return
	}
	if t.order.Len() >= t.capacity {
		oldest := t.order.Front()
		if oldest != nil {
			t.order.Remove(oldest)
			delete(t.entries, oldest.Value.(*fifoItem).key)
			t.onEvict()
		}
	}
	t.entries[key] = t.order.PushBack(&fifoItem{key: key, e: e})
}

func (t *fifoTier) delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.entries[key]; ok {
		t.order.Remove(el)
		delete(t.entries, key)
	}
}

func (t *fifoTier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*list.Element)
	t.order.Init()
}

func (t *fifoTier) keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	return out
}

func (t *fifoTier) close() error { return nil }
