package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/unidb"
)

// maintenanceInterval paces the manager's background cleanup of expired
// workers across all pools.
const maintenanceInterval = 5 * time.Minute

// Manager is the registry of named pools. It exclusively owns every pool it
// creates; callers interact through aliases and reply handles only.
type Manager struct {
	logger *slog.Logger

	mu           sync.RWMutex
	pools        map[string]Pool
	generators   map[string]*unidb.IDGenerator
	defaultAlias string

	done     chan struct{}
	wg       sync.WaitGroup
	shutOnce sync.Once
}

// NewManager returns a manager with its maintenance task running.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:     logger,
		pools:      make(map[string]Pool),
		generators: make(map[string]*unidb.IDGenerator),
		done:       make(chan struct{}),
	}
	m.wg.Add(1)
	go m.maintenanceLoop()
	return m
}

// Add creates a pool from the configuration and registers it under its
// alias. Replacing an existing alias drops the prior pool. The first alias
// added becomes the default.
func (m *Manager) Add(cfg *unidb.DatabaseConfig) error {
	p, err := New(cfg, m.logger)
	if err != nil {
		return err
	}
	gen, err := unidb.NewIDGenerator(cfg.IDStrategy, cfg.SnowflakeDatacenterID, cfg.SnowflakeMachineID)
	if err != nil {
		p.Close()
		return err
	}
	m.mu.Lock()
	prior := m.pools[cfg.Alias]
	m.pools[cfg.Alias] = p
	m.generators[cfg.Alias] = gen
	if m.defaultAlias == "" {
		m.defaultAlias = cfg.Alias
	}
	m.mu.Unlock()
	if prior != nil {
		prior.Close()
	}
	return nil
}

// Remove tears the named pool down. Removing the default alias reassigns
// it to an arbitrary remaining alias, or clears it.
func (m *Manager) Remove(alias string) error {
	m.mu.Lock()
	p, ok := m.pools[alias]
	if !ok {
		m.mu.Unlock()
		return unidb.NewAliasNotFoundError(alias)
	}
	delete(m.pools, alias)
	delete(m.generators, alias)
	if m.defaultAlias == alias {
		m.defaultAlias = ""
		for a := range m.pools {
			m.defaultAlias = a
			break
		}
	}
	m.mu.Unlock()
	p.Close()
	return nil
}

// SetDefaultAlias selects the alias used when callers name none.
func (m *Manager) SetDefaultAlias(alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[alias]; !ok {
		return unidb.NewAliasNotFoundError(alias)
	}
	m.defaultAlias = alias
	return nil
}

// DefaultAlias returns the current default alias, if any.
func (m *Manager) DefaultAlias() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultAlias
}

// ResolveAlias maps an explicit alias (or "" for the default) to the alias
// to route by.
func (m *Manager) ResolveAlias(alias string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if alias == "" {
		alias = m.defaultAlias
	}
	if alias == "" {
		return "", unidb.NewAliasNotFoundError("(default)")
	}
	if _, ok := m.pools[alias]; !ok {
		return "", unidb.NewAliasNotFoundError(alias)
	}
	return alias, nil
}

// Get returns the pool registered under the alias.
func (m *Manager) Get(alias string) (Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[alias]
	if !ok {
		return nil, unidb.NewAliasNotFoundError(alias)
	}
	return p, nil
}

// Generator returns the ID generator declared for the alias.
func (m *Manager) Generator(alias string) (*unidb.IDGenerator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.generators[alias]
	if !ok {
		return nil, unidb.NewAliasNotFoundError(alias)
	}
	return g, nil
}

// Aliases returns the registered alias names.
func (m *Manager) Aliases() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pools))
	for a := range m.pools {
		out = append(out, a)
	}
	return out
}

// HealthCheck probes every pool concurrently and reports per-alias health.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	m.mu.RLock()
	pools := make(map[string]Pool, len(m.pools))
	for a, p := range m.pools {
		pools[a] = p
	}
	m.mu.RUnlock()
	var (
		resMu  sync.Mutex
		report = make(map[string]bool, len(pools))
	)
	g, ctx := errgroup.WithContext(ctx)
	for alias, p := range pools {
		g.Go(func() error {
			ok := p.HealthCheck(ctx)
			resMu.Lock()
			report[alias] = ok
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// maintenanceLoop asks each pool to clean up expired workers.
func (m *Manager) maintenanceLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			m.mu.RLock()
			pools := make([]Pool, 0, len(m.pools))
			for _, p := range m.pools {
				pools = append(pools, p)
			}
			m.mu.RUnlock()
			for _, p := range pools {
				p.Maintain(ctx)
			}
			cancel()
		}
	}
}

// Shutdown aborts the maintenance task and drops all pools. Outstanding
// reply handles resolve to connection errors.
func (m *Manager) Shutdown() {
	m.shutOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		m.mu.Lock()
		pools := m.pools
		m.pools = make(map[string]Pool)
		m.generators = make(map[string]*unidb.IDGenerator)
		m.defaultAlias = ""
		m.mu.Unlock()
		for _, p := range pools {
			p.Close()
		}
	})
}
