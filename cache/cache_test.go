package cache_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/cache"
)

func newManager(t *testing.T, cfg *unidb.CacheConfig) *cache.Manager {
	t.Helper()
	m, err := cache.NewManager(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, m)
	t.Cleanup(func() { m.Close() })
	return m
}

func lruConfig(capacity int) *unidb.CacheConfig {
	return &unidb.CacheConfig{
		Enabled:  true,
		Strategy: unidb.CacheLRU,
		L1:       unidb.L1Config{MaxCapacity: capacity},
	}
}

func TestDisabledConfigYieldsNilManager(t *testing.T) {
	m, err := cache.NewManager(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, m)
	m, err = cache.NewManager(&unidb.CacheConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	// A nil manager behaves as "no cache" on every method.
	hit, _ := m.Get("k")
	assert.False(t, hit)
	m.Set("k", []byte("v"), 0)
	m.Delete("k")
	m.ClearAll()
	assert.False(t, m.Enabled())
}

func TestSetGetDelete(t *testing.T) {
	m := newManager(t, lruConfig(16))

	hit, _ := m.Get("a")
	assert.False(t, hit)

	m.Set("a", []byte("payload"), 0)
	hit, v := m.Get("a")
	require.True(t, hit)
	assert.Equal(t, []byte("payload"), v)

	m.Delete("a")
	hit, _ = m.Get("a")
	assert.False(t, hit)
}

func TestNegativeEntry(t *testing.T) {
	m := newManager(t, lruConfig(16))
	m.Set("missing", nil, 0)
	hit, v := m.Get("missing")
	require.True(t, hit)
	assert.Nil(t, v)
}

func TestClearByPrefix(t *testing.T) {
	m := newManager(t, lruConfig(64))
	m.Set("sqlite:users:record:1", []byte("a"), 0)
	m.Set("sqlite:users:record:2", []byte("b"), 0)
	m.Set("sqlite:users:query:p0_10", []byte("c"), 0)
	m.Set("sqlite:posts:record:1", []byte("d"), 0)

	m.ClearByPrefix("sqlite:users:record:")

	for _, gone := range []string{"sqlite:users:record:1", "sqlite:users:record:2"} {
		hit, _ := m.Get(gone)
		assert.False(t, hit, gone)
	}
	for _, kept := range []string{"sqlite:users:query:p0_10", "sqlite:posts:record:1"} {
		hit, _ := m.Get(kept)
		assert.True(t, hit, kept)
	}
}

func TestStatsCounters(t *testing.T) {
	m := newManager(t, lruConfig(16))
	m.Set("a", []byte("1"), 0)
	m.Get("a")
	m.Get("a")
	m.Get("nope")
	m.Delete("a")

	s := m.Stats()
	assert.Equal(t, int64(1), s.Sets)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Deletes)
	assert.InDelta(t, 2.0/3.0, s.HitRate(), 1e-9)
}

func TestTTLLazyExpiry(t *testing.T) {
	m := newManager(t, &unidb.CacheConfig{
		Enabled:  true,
		Strategy: unidb.CacheLRU,
		L1:       unidb.L1Config{MaxCapacity: 16},
		TTL:      unidb.TTLConfig{DefaultSeconds: 1},
	})
	m.Set("a", []byte("1"), 1)
	hit, _ := m.Get("a")
	require.True(t, hit)

	time.Sleep(1100 * time.Millisecond)
	hit, _ = m.Get("a")
	assert.False(t, hit, "expired entries read as misses")
}

func TestEvictionPolicies(t *testing.T) {
	t.Run("lru", func(t *testing.T) {
		m := newManager(t, lruConfig(2))
		m.Set("a", []byte("1"), 0)
		m.Set("b", []byte("2"), 0)
		m.Get("a") // refresh a
		m.Set("c", []byte("3"), 0)

		hit, _ := m.Get("b")
		assert.False(t, hit, "least recently used entry evicts first")
		hit, _ = m.Get("a")
		assert.True(t, hit)
		assert.Positive(t, m.Stats().Evictions)
	})

	t.Run("fifo", func(t *testing.T) {
		m := newManager(t, &unidb.CacheConfig{
			Enabled:  true,
			Strategy: unidb.CacheFIFO,
			L1:       unidb.L1Config{MaxCapacity: 2},
		})
		m.Set("a", []byte("1"), 0)
		m.Set("b", []byte("2"), 0)
		m.Get("a") // recency is irrelevant under FIFO
		m.Set("c", []byte("3"), 0)

		hit, _ := m.Get("a")
		assert.False(t, hit, "oldest entry evicts first")
		hit, _ = m.Get("b")
		assert.True(t, hit)
	})

	t.Run("lfu", func(t *testing.T) {
		m := newManager(t, &unidb.CacheConfig{
			Enabled:  true,
			Strategy: unidb.CacheLFU,
			L1:       unidb.L1Config{MaxCapacity: 2},
		})
		m.Set("a", []byte("1"), 0)
		m.Set("b", []byte("2"), 0)
		m.Get("a")
		m.Get("a")
		m.Get("b")
		m.Set("c", []byte("3"), 0)

		hit, _ := m.Get("b")
		assert.False(t, hit, "least frequently used entry evicts first")
		hit, _ = m.Get("a")
		assert.True(t, hit)
	})
}

func TestL2DiskTier(t *testing.T) {
	dir := t.TempDir()
	cfg := &unidb.CacheConfig{
		Enabled:  true,
		Strategy: unidb.CacheLRU,
		L1:       unidb.L1Config{MaxCapacity: 4},
		L2: &unidb.L2Config{
			Enabled:     true,
			DataDir:     dir,
			Compression: true,
		},
	}
	m := newManager(t, cfg)
	for i := 0; i < 16; i++ {
		m.Set(fmt.Sprintf("k%02d", i), []byte(fmt.Sprintf("payload-%02d", i)), 0)
	}
	// Entries evicted from the tiny L1 are still served from disk.
	hit, v := m.Get("k00")
	require.True(t, hit)
	assert.Equal(t, []byte("payload-00"), v)
}

func TestL2WarmupRecent(t *testing.T) {
	dir := t.TempDir()
	base := &unidb.CacheConfig{
		Enabled:  true,
		Strategy: unidb.CacheLRU,
		L1:       unidb.L1Config{MaxCapacity: 32},
		L2: &unidb.L2Config{
			Enabled: true,
			DataDir: dir,
			Warmup:  unidb.WarmupRecent,
		},
	}
	m := newManager(t, base)
	m.Set("persisted", []byte("x"), 0)
	m.Close()

	// A fresh manager over the same data dir warms the entry back into
	// L1.
	m2, err := cache.NewManager(base, nil)
	require.NoError(t, err)
	defer m2.Close()
	hit, v := m2.Get("persisted")
	require.True(t, hit)
	assert.Equal(t, []byte("x"), v)
}

func TestL2CompressionRoundTrip(t *testing.T) {
	for _, algo := range []string{"zstd", "lz4"} {
		t.Run(algo, func(t *testing.T) {
			dir := t.TempDir()
			m := newManager(t, &unidb.CacheConfig{
				Enabled:  true,
				Strategy: unidb.CacheLRU,
				L1:       unidb.L1Config{MaxCapacity: 1},
				L2: &unidb.L2Config{
					Enabled:         true,
					DataDir:         dir,
					Compression:     true,
					CompressionAlgo: algo,
				},
			})
			long := make([]byte, 4096)
			for i := range long {
				long[i] = byte('a' + i%4)
			}
			m.Set("big", long, 0)
			m.Set("evictor", []byte("x"), 0) // push "big" out of the 1-slot L1
			hit, v := m.Get("big")
			require.True(t, hit)
			assert.Equal(t, long, v)
		})
	}
}
