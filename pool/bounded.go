package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/adapter"
	"github.com/syssam/unidb/cache"
)

// retryThreshold is the per-worker error count above which the worker's
// connection is rebuilt.
const retryThreshold = 3

// boundedWorker is one slot of the bounded pool. Its fields are only
// touched while the worker's index is checked out of the idle queue, so no
// locking is needed.
type boundedWorker struct {
	conn     adapter.Conn
	retries  int
	lastUsed time.Time
	born     time.Time
}

// boundedPool runs a fixed set of workers, each owning one long-lived
// connection. The idle-index queue is a buffered channel, the Go-native
// lock-free queue: submission pops an index or fails immediately with a
// pool error, never blocking.
type boundedPool struct {
	cfg     *unidb.DatabaseConfig
	adapter adapter.Adapter
	cm      *cache.Manager
	logger  *slog.Logger

	workers []*boundedWorker
	idle    chan int
	done    chan struct{}
	wg      sync.WaitGroup
	stats   counters

	closeOnce sync.Once
}

func newBoundedPool(cfg *unidb.DatabaseConfig, ad adapter.Adapter, cm *cache.Manager, logger *slog.Logger) (*boundedPool, error) {
	n := cfg.Pool.MaxConnections
	p := &boundedPool{
		cfg:     cfg,
		adapter: ad,
		cm:      cm,
		logger:  logger,
		workers: make([]*boundedWorker, n),
		idle:    make(chan int, n),
		done:    make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Pool.ConnectionTimeout)
		conn, err := ad.Connect(ctx, cfg)
		cancel()
		if err != nil {
			// Tear down the workers already built.
			for j := 0; j < i; j++ {
				_ = p.workers[j].conn.Close()
			}
			return nil, err
		}
		now := time.Now()
		p.workers[i] = &boundedWorker{conn: conn, lastUsed: now, born: now}
		p.idle <- i
	}
	p.wg.Add(1)
	go p.keepAlive()
	return p, nil
}

// Backend returns the backend tag.
func (p *boundedPool) Backend() string { return p.adapter.Backend() }

// Cache returns the pool's cache manager, or nil.
func (p *boundedPool) Cache() *cache.Manager { return p.cm }

// Stats returns a snapshot of the pool counters.
func (p *boundedPool) Stats() Stats { return p.stats.snapshot() }

// Submit pops an idle worker index and executes the operation on that
// worker's connection. With no idle worker the submission fails
// immediately; there is no blocking wait in this design.
func (p *boundedPool) Submit(op *Operation) error {
	select {
	case <-p.done:
		return unidb.NewConnectionError("operation channel closed", nil)
	default:
	}
	var idx int
	select {
	case idx = <-p.idle:
	default:
		return unidb.NewPoolError("no capacity: all workers are busy")
	}
	p.stats.submitted.Add(1)
	p.wg.Add(1)
	go p.runOn(idx, op)
	return nil
}

// runOn executes one operation on the checked-out worker and returns the
// index to the idle queue.
func (p *boundedPool) runOn(idx int, op *Operation) {
	defer p.wg.Done()
	w := p.workers[idx]
	p.stats.inFlight.Add(1)
	ctx, cancel := opTimeout(p.cfg, op)
	res := execute(ctx, p.adapter, w.conn, op)
	cancel()
	p.stats.inFlight.Add(-1)
	w.lastUsed = time.Now()
	if res.Err != nil {
		p.stats.failed.Add(1)
		w.retries++
		if w.retries > retryThreshold {
			if err := p.rebuild(w); err != nil {
				// The rebuild failure supersedes the operation error so
				// the caller sees the pool-level condition.
				res.Err = err
			}
		}
	} else {
		p.stats.completed.Add(1)
		w.retries = 0
	}
	op.Reply.Resolve(res)
	// The queue holds at most one slot per worker, so this never blocks.
	p.idle <- idx
}

// rebuild replaces a worker's connection after repeated errors.
func (p *boundedPool) rebuild(w *boundedWorker) error {
	_ = w.conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Pool.ConnectionTimeout)
	defer cancel()
	conn, err := p.adapter.Connect(ctx, p.cfg)
	if err != nil {
		p.logger.Warn("worker rebuild failed", "error", err)
		return unidb.NewConnectionError("worker rebuild failed", err)
	}
	w.conn = conn
	w.retries = 0
	w.born = time.Now()
	p.logger.Info("worker connection rebuilt")
	return nil
}

// keepAlive pings idle workers at the configured interval.
func (p *boundedPool) keepAlive() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Pool.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.forEachIdle(func(w *boundedWorker) {
				ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Pool.ConnectionTimeout)
				if err := w.conn.Ping(ctx); err != nil {
					p.logger.Warn("keep-alive ping failed", "error", err)
					w.retries++
					if w.retries > retryThreshold {
						_ = p.rebuild(w)
					}
				}
				cancel()
			})
		}
	}
}

// forEachIdle briefly checks each currently idle worker out of the queue,
// applies fn, and returns it. Busy workers are skipped.
func (p *boundedPool) forEachIdle(fn func(w *boundedWorker)) {
	n := len(p.workers)
	visited := make([]int, 0, n)
	for i := 0; i < n; i++ {
		select {
		case idx := <-p.idle:
			fn(p.workers[idx])
			visited = append(visited, idx)
		default:
		}
	}
	for _, idx := range visited {
		p.idle <- idx
	}
}

// Maintain recycles connections past their maximum lifetime or idle
// timeout.
func (p *boundedPool) Maintain(ctx context.Context) {
	maxLifetime := p.cfg.Pool.MaxLifetime
	idleTimeout := p.cfg.Pool.IdleTimeout
	if maxLifetime <= 0 && idleTimeout <= 0 {
		return
	}
	now := time.Now()
	p.forEachIdle(func(w *boundedWorker) {
		expired := (maxLifetime > 0 && now.Sub(w.born) > maxLifetime) ||
			(idleTimeout > 0 && now.Sub(w.lastUsed) > idleTimeout)
		if expired {
			if err := p.rebuild(w); err != nil {
				p.logger.Warn("maintenance recycle failed", "error", err)
			}
		}
	})
}

// HealthCheck reports whether a trivial operation succeeds.
func (p *boundedPool) HealthCheck(ctx context.Context) bool {
	reply := NewReply()
	if err := p.Submit(&Operation{Kind: OpTableExists, Table: "health_probe", Reply: reply}); err != nil {
		return false
	}
	_, err := reply.Await(ctx)
	return err == nil
}

// Close stops accepting work; in-flight operations run to completion and
// their worker connections close as they land.
func (p *boundedPool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		// In-flight operations run to completion and park their worker
		// indices back on the idle queue.
		p.wg.Wait()
		for {
			select {
			case idx := <-p.idle:
				_ = p.workers[idx].conn.Close()
			default:
				if p.cm != nil {
					_ = p.cm.Close()
				}
				return
			}
		}
	})
}
