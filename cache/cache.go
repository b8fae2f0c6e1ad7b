// Package cache implements the optional two-tier read-through cache: a
// bounded in-memory L1 with a configurable eviction policy and an optional
// compressed disk-backed L2. Keys are opaque strings; their formatting is the
// cached-adapter decorator's concern.
package cache

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/unidb"
)

// entry is one cached value. A negative entry memoises a miss.
type entry struct {
	payload  []byte
	negative bool
	expires  time.Time // zero means no expiry
	written  time.Time
	hits     uint32
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// tier is the storage contract both cache levels implement.
type tier interface {
	get(key string) (entry, bool)
	set(key string, e entry)
	delete(key string)
	clear()
	keys() []string
	close() error
}

// Stats counts cache activity. All counters are cumulative.
type Stats struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Sets      atomic.Int64
	Deletes   atomic.Int64
	Evictions atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Deletes   int64
	Evictions int64
}

// HitRate returns hits / (hits + misses), or 0 with no traffic.
func (s Snapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Manager owns the tiers and the side-index of every live key, driving
// prefix-scoped invalidation. The side-index is a plain set of keys; it does
// not record which table a key belongs to.
type Manager struct {
	cfg    unidb.CacheConfig
	l1     tier
	l2     tier
	logger *slog.Logger
	stats  Stats

	mu    sync.RWMutex
	index map[string]struct{}

	done chan struct{}
	once sync.Once
}

// NewManager builds a manager from the given configuration. A nil or
// disabled configuration yields a nil manager, which every method treats as
// "no cache".
func NewManager(cfg *unidb.CacheConfig, logger *slog.Logger) (*Manager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:    *cfg,
		logger: logger,
		index:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
	m.l1 = newMemoryTier(cfg.Strategy, cfg.L1, func() { m.stats.Evictions.Add(1) })
	if cfg.L2 != nil && cfg.L2.Enabled {
		l2, err := newDiskTier(cfg.L2, logger)
		if err != nil {
			return nil, err
		}
		m.l2 = l2
		m.warmup()
	}
	if cfg.TTL.ActiveExpiry {
		interval := cfg.TTL.CleanupInterval
		if interval <= 0 {
			interval = time.Minute
		}
		go m.expiryLoop(interval)
	}
	return m, nil
}

// Enabled reports whether m performs any caching.
func (m *Manager) Enabled() bool { return m != nil }

// Stats returns a snapshot of the activity counters.
func (m *Manager) Stats() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Hits:      m.stats.Hits.Load(),
		Misses:    m.stats.Misses.Load(),
		Sets:      m.stats.Sets.Load(),
		Deletes:   m.stats.Deletes.Load(),
		Evictions: m.stats.Evictions.Load(),
	}
}

// Get returns (hit, payload). A hit with a nil payload is a memoised
// negative entry. Read failures on the disk tier degrade to a miss.
func (m *Manager) Get(key string) (bool, []byte) {
	if m == nil {
		return false, nil
	}
	now := time.Now()
	if e, ok := m.l1.get(key); ok {
		if e.expired(now) {
			m.l1.delete(key)
		} else {
			m.stats.Hits.Add(1)
			return true, e.payload
		}
	}
	if m.l2 != nil {
		if e, ok := m.l2.get(key); ok && !e.expired(now) {
			// Promote to L1 and re-admit the key to the side-index; disk
			// entries can predate this manager instance.
			m.l1.set(key, e)
			m.mu.Lock()
			m.index[key] = struct{}{}
			m.mu.Unlock()
			m.stats.Hits.Add(1)
			return true, e.payload
		}
	}
	m.stats.Misses.Add(1)
	return false, nil
}

// Set stores a value under key. A nil value stores a negative entry.
// ttlSeconds <= 0 falls back to the configured default, clamped to the
// configured maximum.
func (m *Manager) Set(key string, value []byte, ttlSeconds int64) {
	if m == nil {
		return
	}
	if ttlSeconds <= 0 {
		ttlSeconds = m.cfg.TTL.DefaultSeconds
	}
	if max := m.cfg.TTL.MaxSeconds; max > 0 && ttlSeconds > max {
		ttlSeconds = max
	}
	now := time.Now()
	e := entry{payload: value, negative: value == nil, written: now}
	if ttlSeconds > 0 {
		e.expires = now.Add(time.Duration(ttlSeconds) * time.Second)
	}
	m.l1.set(key, e)
	if m.l2 != nil {
		m.l2.set(key, e)
	}
	m.mu.Lock()
	m.index[key] = struct{}{}
	m.mu.Unlock()
	m.stats.Sets.Add(1)
}

// Delete removes one key from both tiers and the side-index.
func (m *Manager) Delete(key string) {
	if m == nil {
		return
	}
	m.l1.delete(key)
	if m.l2 != nil {
		m.l2.delete(key)
	}
	m.mu.Lock()
	delete(m.index, key)
	m.mu.Unlock()
	m.stats.Deletes.Add(1)
}

// ClearByPrefix walks the side-index and removes every key beginning with
// prefix.
func (m *Manager) ClearByPrefix(prefix string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	var victims []string
	for k := range m.index {
		if strings.HasPrefix(k, prefix) {
			victims = append(victims, k)
			delete(m.index, k)
		}
	}
	m.mu.Unlock()
	for _, k := range victims {
		m.l1.delete(k)
		if m.l2 != nil {
			m.l2.delete(k)
		}
		m.stats.Deletes.Add(1)
	}
}

// ClearAll drops every entry from both tiers.
func (m *Manager) ClearAll() {
	if m == nil {
		return
	}
	m.l1.clear()
	if m.l2 != nil {
		m.l2.clear()
	}
	m.mu.Lock()
	m.index = make(map[string]struct{})
	m.mu.Unlock()
}

// Close stops the expiry loop and releases the disk tier.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.once.Do(func() { close(m.done) })
	if m.l2 != nil {
		return m.l2.close()
	}
	return nil
}

// expiryLoop actively drops expired entries at the configured cadence.
// With lazy expiration entries are instead dropped on first stale read.
func (m *Manager) expiryLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.RLock()
			keys := make([]string, 0, len(m.index))
			for k := range m.index {
				keys = append(keys, k)
			}
			m.mu.RUnlock()
			for _, k := range keys {
				if e, ok := m.l1.get(k); ok && e.expired(now) {
					m.Delete(k)
				}
			}
		}
	}
}

// warmup promotes L2 entries into L1 at startup per the configured strategy.
func (m *Manager) warmup() {
	strategy := m.cfg.L2.Warmup
	if strategy == "" || strategy == unidb.WarmupNone {
		return
	}
	capacity := m.cfg.L1.MaxCapacity
	if capacity <= 0 {
		capacity = 1024
	}
	keys := m.l2.keys()
	type cand struct {
		key string
		e   entry
	}
	cands := make([]cand, 0, len(keys))
	now := time.Now()
	for _, k := range keys {
		if e, ok := m.l2.get(k); ok && !e.expired(now) {
			cands = append(cands, cand{k, e})
		}
	}
	switch strategy {
	case unidb.WarmupRecent:
		sort.Slice(cands, func(i, j int) bool { return cands[i].e.written.After(cands[j].e.written) })
	case unidb.WarmupFrequent:
		sort.Slice(cands, func(i, j int) bool { return cands[i].e.hits > cands[j].e.hits })
	case unidb.WarmupFull:
		// Keep scan order.
	}
	if len(cands) > capacity {
		cands = cands[:capacity]
	}
	m.mu.Lock()
	for _, c := range cands {
		m.l1.set(c.key, c.e)
		m.index[c.key] = struct{}{}
	}
	m.mu.Unlock()
	m.logger.Debug("cache warmup complete", "strategy", string(strategy), "entries", len(cands))
}
