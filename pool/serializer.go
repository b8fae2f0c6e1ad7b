package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/adapter"
	"github.com/syssam/unidb/cache"
)

// workerState is the serializer worker's lifecycle state.
type workerState int32

const (
	stateIdle workerState = iota
	stateExecuting
	stateUnhealthy
	stateReconnecting
)

// serializerPool owns exactly one connection driven by exactly one worker.
// Operations are a strict FIFO over the submission channel: the embedded
// backend forbids overlapping writers and file-level contention dominates,
// so serialisation beats any locking scheme.
type serializerPool struct {
	cfg     *unidb.DatabaseConfig
	adapter adapter.Adapter
	cm      *cache.Manager
	logger  *slog.Logger

	ops   chan *Operation
	done  chan struct{}
	wg    sync.WaitGroup
	state atomic.Int32
	stats counters

	closeOnce sync.Once
}

func newSerializerPool(cfg *unidb.DatabaseConfig, ad adapter.Adapter, cm *cache.Manager, logger *slog.Logger) (*serializerPool, error) {
	p := &serializerPool{
		cfg:     cfg,
		adapter: ad,
		cm:      cm,
		logger:  logger,
		ops:     make(chan *Operation, 64),
		done:    make(chan struct{}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pool.ConnectionTimeout)
	defer cancel()
	conn, err := ad.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.wg.Add(1)
	go p.run(conn)
	return p, nil
}

// Backend returns the backend tag.
func (p *serializerPool) Backend() string { return p.adapter.Backend() }

// Cache returns the pool's cache manager, or nil.
func (p *serializerPool) Cache() *cache.Manager { return p.cm }

// Stats returns a snapshot of the pool counters.
func (p *serializerPool) Stats() Stats { return p.stats.snapshot() }

// Submit enqueues the operation in FIFO order. A full queue fails with a
// pool error after the configured submit timeout; a closed pool fails with
// a connection error.
func (p *serializerPool) Submit(op *Operation) error {
	select {
	case <-p.done:
		return unidb.NewConnectionError("operation channel closed", nil)
	default:
	}
	timer := time.NewTimer(p.cfg.Pool.SubmitTimeout)
	defer timer.Stop()
	select {
	case p.ops <- op:
		p.stats.submitted.Add(1)
		return nil
	case <-p.done:
		return unidb.NewConnectionError("operation channel closed", nil)
	case <-timer.C:
		return unidb.NewPoolError("submit timeout: serializer queue is full")
	}
}

// run is the worker loop: dequeue one operation, process, reply, repeat.
func (p *serializerPool) run(conn adapter.Conn) {
	defer p.wg.Done()
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()
	probe := time.NewTicker(p.cfg.Pool.KeepAliveInterval)
	defer probe.Stop()
	for {
		select {
		case <-p.done:
			p.drain()
			return
		case <-probe.C:
			if conn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Pool.ConnectionTimeout)
			if err := conn.Ping(ctx); err != nil {
				p.state.Store(int32(stateUnhealthy))
				p.logger.Warn("health probe failed", "error", err)
			} else if workerState(p.state.Load()) == stateUnhealthy {
				p.state.Store(int32(stateIdle))
			}
			cancel()
		case op, ok := <-p.ops:
			if !ok {
				return
			}
			select {
			case <-p.done:
				// Teardown raced the dequeue; the operation never ran.
				op.Reply.Resolve(Result{Err: unidb.NewConnectionError("pool closed", nil)})
				continue
			default:
			}
			if workerState(p.state.Load()) == stateUnhealthy {
				var err error
				conn, err = p.reconnect(conn)
				if err != nil {
					p.stats.failed.Add(1)
					op.Reply.Resolve(Result{Err: err})
					continue
				}
			}
			p.state.Store(int32(stateExecuting))
			p.stats.inFlight.Add(1)
			ctx, cancel := opTimeout(p.cfg, op)
			res := execute(ctx, p.adapter, conn, op)
			cancel()
			p.stats.inFlight.Add(-1)
			if res.Err != nil {
				p.stats.failed.Add(1)
				if unidb.IsConnectionError(res.Err) {
					p.state.Store(int32(stateUnhealthy))
				} else {
					p.state.Store(int32(stateIdle))
				}
			} else {
				p.stats.completed.Add(1)
				p.state.Store(int32(stateIdle))
			}
			op.Reply.Resolve(res)
		}
	}
}

// reconnect rebuilds the worker's connection with exponential backoff:
// base interval doubled per attempt, capped at 30 seconds, at most the
// configured number of attempts.
func (p *serializerPool) reconnect(old adapter.Conn) (adapter.Conn, error) {
	p.state.Store(int32(stateReconnecting))
	if old != nil {
		_ = old.Close()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.Pool.RetryInterval
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0
	var conn adapter.Conn
	attempts := 0
	attempt := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Pool.ConnectionTimeout)
		defer cancel()
		c, err := p.adapter.Connect(ctx, p.cfg)
		if err != nil {
			p.logger.Warn("reconnect attempt failed", "error", err)
			if attempts >= p.cfg.Pool.MaxRetries {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	err := backoff.Retry(attempt, backoff.WithMaxRetries(bo, uint64(p.cfg.Pool.MaxRetries)))
	if err != nil {
		p.state.Store(int32(stateUnhealthy))
		return nil, unidb.NewConnectionError("reconnect failed", err)
	}
	p.state.Store(int32(stateIdle))
	p.logger.Info("worker reconnected")
	return conn, nil
}

// drain resolves every queued operation with a connection error during
// teardown.
func (p *serializerPool) drain() {
	for {
		select {
		case op := <-p.ops:
			op.Reply.Resolve(Result{Err: unidb.NewConnectionError("pool closed", nil)})
		default:
			return
		}
	}
}

// HealthCheck reports whether a trivial operation succeeds.
func (p *serializerPool) HealthCheck(ctx context.Context) bool {
	reply := NewReply()
	err := p.Submit(&Operation{Kind: OpTableExists, Table: "health_probe", Reply: reply})
	if err != nil {
		return false
	}
	_, err = reply.Await(ctx)
	return err == nil
}

// Maintain is a no-op for the single-worker design; the health probe and
// reconnect loop keep the one connection fresh.
func (p *serializerPool) Maintain(ctx context.Context) {}

// Close stops the worker after its current operation and resolves queued
// replies with a connection error.
func (p *serializerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		if p.cm != nil {
			_ = p.cm.Close()
		}
	})
}
