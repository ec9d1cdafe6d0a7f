package finch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oliveigah/finch/finch/metrics"
)

// PoolConfig configures one Pool instance, matching spec.md §6.
type PoolConfig struct {
	// Name groups pool replicas under one registry key (spec.md's
	// finch_name); several Pool instances with the same Name and Origin
	// are treated as replicas by GetPoolStatus.
	Name string
	// Origin is the (scheme, host, port) this pool dials.
	Origin Origin
	// Size is the bounded number of workers (pool_size, >= 1).
	Size int
	// Dialer constructs a Connection for this origin. It must not be nil:
	// NewPool panics otherwise (pass httpconn.Dialer() for the default).
	Dialer Dialer
	// ConnOpts is passed verbatim to Dialer.
	ConnOpts ConnOpts
	// PoolMaxIdleTime is how long the pool may go without a checkout
	// before self-stopping. Zero means infinite (never self-stop) — the
	// "permanent" policy from spec.md §4.D; a positive value is the
	// "transient" policy, where a supervising process should not restart
	// the pool after a clean idle exit.
	PoolMaxIdleTime time.Duration
	// StartPoolMetrics enables the metrics block for this pool. When
	// false, GetPoolStatus returns MetricsNotFoundError (scenario S1).
	StartPoolMetrics bool
	// PoolIdx tags this instance when a host has N replica pools.
	PoolIdx int

	Logger   zerolog.Logger
	Registry *Registry
}

// RequestOptions are the per-request overrides from spec.md §6.
type RequestOptions struct {
	PoolTimeout    time.Duration // default 5000ms
	ReceiveTimeout time.Duration // default 15000ms
}

const (
	DefaultPoolTimeout    = 5000 * time.Millisecond
	DefaultReceiveTimeout = 15000 * time.Millisecond
)

func (o RequestOptions) withDefaults() RequestOptions {
	if o.PoolTimeout <= 0 {
		o.PoolTimeout = DefaultPoolTimeout
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	return o
}

// Pool is a bounded set of Workers serving one Origin: the scheduler for
// checkout/checkin plus idle and max-idle policies (spec.md §4.D). Its
// waiter queue is guarded by its own mutex (the "single coordinator" of
// spec.md §5), adapted from the teacher's middleware.Semaphore — a
// per-key buffered channel granting bounded concurrency — generalized here
// from "per-org limit with 429" to "per-origin worker slot with a typed
// PoolTimeout".
type Pool struct {
	cfg       PoolConfig
	telemetry *Telemetry
	metrics   *metrics.Block
	registry  *Registry

	mu         sync.Mutex
	workers    []*Worker
	idleQueue  []*Worker
	uninitQ    []*Worker
	waiters    []chan *Worker
	lastActive time.Time
	stopped    bool

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// NewPool constructs a Pool with pool_size lazily-uninitialized workers.
// No dialing happens until the first checkout.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.Dialer == nil {
		panic("finch: PoolConfig.Dialer must not be nil")
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry
	}

	p := &Pool{
		cfg:        cfg,
		telemetry:  NewTelemetry(cfg.Logger),
		registry:   cfg.Registry,
		workers:    make([]*Worker, cfg.Size),
		uninitQ:    make([]*Worker, 0, cfg.Size),
		lastActive: time.Now(),
	}
	for i := range p.workers {
		w := newWorker(cfg.Origin, cfg.Dialer, cfg.ConnOpts, p.telemetry)
		p.workers[i] = w
		p.uninitQ = append(p.uninitQ, w)
	}
	if cfg.StartPoolMetrics {
		p.metrics = metrics.New(cfg.Size)
		p.registry.Register(cfg.Name, cfg.Origin, p.metrics)
	}
	return p
}

// Start launches the pool's idle-timeout monitor. It is safe to skip
// calling Start when PoolMaxIdleTime is zero (infinite / permanent).
func (p *Pool) Start() {
	if p.cfg.PoolMaxIdleTime <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.monitorCancel = cancel
	p.monitorDone = make(chan struct{})
	go p.idleMonitor(ctx)
}

// Stop closes every worker's connection and halts the idle monitor.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	workers := append([]*Worker(nil), p.workers...)
	p.mu.Unlock()

	for _, w := range workers {
		w.evict()
	}
	if p.monitorCancel != nil {
		p.monitorCancel()
		<-p.monitorDone
	}
	if p.metrics != nil {
		p.registry.Unregister(p.cfg.Name, p.cfg.Origin, p.metrics)
	}
}

func (p *Pool) idleMonitor(ctx context.Context) {
	defer close(p.monitorDone)
	ticker := time.NewTicker(p.cfg.PoolMaxIdleTime / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			idleFor := time.Since(p.lastActive)
			stopped := p.stopped
			p.mu.Unlock()
			if stopped {
				return
			}
			if idleFor >= p.cfg.PoolMaxIdleTime {
				p.telemetry.poolMaxIdleTimeExceeded(p.cfg.Origin)
				// Stop waits for this goroutine to exit, so it runs on its own.
				go p.Stop()
				return
			}
		}
	}
}

// dequeueAvailableLocked pops an Idle worker before an Uninitialized one,
// per spec.md §4.D step 1. Caller must hold p.mu.
func (p *Pool) dequeueAvailableLocked() *Worker {
	if len(p.idleQueue) > 0 {
		w := p.idleQueue[0]
		p.idleQueue = p.idleQueue[1:]
		return w
	}
	if len(p.uninitQ) > 0 {
		w := p.uninitQ[0]
		p.uninitQ = p.uninitQ[1:]
		return w
	}
	return nil
}

// enqueueAvailableLocked returns w to the idle or uninitialized queue
// based on its current state. Caller must hold p.mu.
func (p *Pool) enqueueAvailableLocked(w *Worker) {
	if w.isIdle() {
		p.idleQueue = append(p.idleQueue, w)
		return
	}
	p.uninitQ = append(p.uninitQ, w)
}

// reserve obtains a Worker, preferring an Idle one, then an Uninitialized
// slot, else joining the FIFO waiter queue until one is released or
// timeout elapses.
func (p *Pool) reserve(ctx context.Context, timeout time.Duration) (*Worker, error) {
	start := time.Now()

	p.mu.Lock()
	p.lastActive = start
	if len(p.waiters) == 0 {
		if w := p.dequeueAvailableLocked(); w != nil {
			p.mu.Unlock()
			return w, nil
		}
	}
	ch := make(chan *Worker, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case w := <-ch:
		return w, nil
	case <-ctx.Done():
		p.reclaimWaiter(ch)
		return nil, ctx.Err()
	case <-timer.C:
		p.reclaimWaiter(ch)
		return nil, &PoolTimeoutError{
			Origin:      p.cfg.Origin,
			PoolSize:    p.cfg.Size,
			WaitedFor:   time.Since(start),
			PoolTimeout: timeout,
		}
	}
}

// reclaimWaiter removes ch from the waiter queue if no worker has been
// handed to it yet. If a release already committed a worker to ch (a
// benign race with the timeout/cancellation firing concurrently), that
// worker is drained back into the pool instead of being silently lost.
func (p *Pool) reclaimWaiter(ch chan *Worker) {
	p.mu.Lock()
	for i, c := range p.waiters {
		if c == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	// Not found: a release already sent on ch (buffered, so this never
	// blocks). Surrender that worker back to the pool.
	w := <-ch
	p.surrender(w)
}

// surrender returns an available (Idle or Uninitialized) worker to the
// pool, handing it directly to the next waiter if one exists.
func (p *Pool) surrender(w *Worker) {
	p.mu.Lock()
	if len(p.waiters) > 0 {
		next := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		next <- w
		return
	}
	p.enqueueAvailableLocked(w)
	p.mu.Unlock()
}

// Checkout reserves a worker, dialing or reusing its connection, and
// retries on idle-expiry within the same call per spec.md §7 IdleExpired.
// It returns the elapsed checkout duration alongside the lease so the
// Driver can record checkout timing without re-deriving it.
func (p *Pool) Checkout(ctx context.Context, timeout time.Duration) (*Lease, time.Duration, error) {
	start := time.Now()
	for {
		w, err := p.reserve(ctx, timeout)
		if err != nil {
			return nil, time.Since(start), err
		}

		lease, err := w.checkout(ctx)
		if err != nil {
			if isIdleExpired(err) {
				w.resetForReuse()
				p.surrender(w)
				remaining := timeout - time.Since(start)
				if remaining <= 0 {
					return nil, time.Since(start), &PoolTimeoutError{
						Origin: p.cfg.Origin, PoolSize: p.cfg.Size,
						WaitedFor: time.Since(start), PoolTimeout: timeout,
					}
				}
				timeout = remaining
				continue
			}
			w.resetForReuse()
			p.surrender(w)
			return nil, time.Since(start), err
		}

		if p.metrics != nil {
			p.metrics.IncInUse()
		}
		return lease, time.Since(start), nil
	}
}

// Checkin re-adopts the connection after one exchange and decrements the
// in-use gauge; usage duration is recorded by Do. If the Worker was fresh, the caller must have transferred
// ownership back via lease.Conn.Transfer before calling Checkin.
func (p *Pool) Checkin(lease *Lease, transferred bool) {
	lease.worker.checkin(lease, transferred)
	if p.metrics != nil {
		p.metrics.DecInUse()
	}

	w := lease.worker
	if w.isEvicted() {
		w.resetForReuse()
	}
	p.surrender(w)
}

// Status returns this pool's own metrics snapshot, or an error if metrics
// were never started for it.
func (p *Pool) Status() (metrics.Status, error) {
	if p.metrics == nil {
		return metrics.Status{}, &MetricsNotFoundError{Name: p.cfg.Name, Origin: p.cfg.Origin}
	}
	return p.metrics.Status(), nil
}

// Metrics exposes the underlying block so a Reset can be driven against it.
func (p *Pool) Metrics() *metrics.Block { return p.metrics }

func (p *Pool) String() string {
	return fmt.Sprintf("finch.Pool{name=%s origin=%s size=%d}", p.cfg.Name, p.cfg.Origin, p.cfg.Size)
}
