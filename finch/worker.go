package finch

import (
	"context"
	"sync"
	"time"
)

type workerState int

const (
	workerUninitialized workerState = iota
	workerIdle
	workerInUse
	workerEvicted
)

// CheckoutTag distinguishes a freshly dialed connection from one drawn out
// of the idle set (spec.md §4.D handoff semantics / glossary "Fresh vs
// Reuse").
type CheckoutTag int

const (
	TagFresh CheckoutTag = iota
	TagReuse
)

// Lease is what a checkout hands the caller: the connection to drive one
// exchange with, plus enough bookkeeping for the Pool to re-adopt it
// afterwards.
type Lease struct {
	Conn     Connection
	Tag      CheckoutTag
	IdleTime time.Duration

	worker *Worker
}

// Worker wraps exactly one Connection and owns its lifecycle inside the
// pool: Uninitialized -> Idle <-> InUse -> {Idle, Evicted}, per spec.md
// §4.C. A Worker is single-threaded internally — checkout, the caller's
// exchange, and checkin for a given worker are totally ordered; the Pool
// never lets two callers touch the same Worker concurrently.
type Worker struct {
	origin    Origin
	dialer    Dialer
	connOpts  ConnOpts
	telemetry *Telemetry

	mu          sync.Mutex
	state       workerState
	conn        Connection
	lastCheckin time.Time
}

func newWorker(origin Origin, dialer Dialer, connOpts ConnOpts, telemetry *Telemetry) *Worker {
	return &Worker{
		origin:    origin,
		dialer:    dialer,
		connOpts:  connOpts,
		telemetry: telemetry,
		state:     workerUninitialized,
	}
}

// errIdleExpired signals to the Pool that this worker's idle connection was
// rejected at checkout; the Pool evicts it and retries with the next
// available worker (or a fresh dial) within the same checkout call,
// without this ever becoming visible to the caller (spec.md §7 IdleExpired).
var errIdleExpired = &TransportError{Reason: errIdleExpiredSentinel}

type idleExpiredSentinel struct{}

func (idleExpiredSentinel) Error() string { return "finch: idle connection exceeded max_idle_time" }

var errIdleExpiredSentinel = idleExpiredSentinel{}

// isIdleExpired reports whether err is the internal idle-expiry signal.
func isIdleExpired(err error) bool {
	te, ok := err.(*TransportError)
	if !ok {
		return false
	}
	_, ok = te.Reason.(idleExpiredSentinel)
	return ok
}

// checkout transitions this worker out of Idle/Uninitialized into InUse and
// returns a Lease for the caller to drive. If the worker was Idle and its
// connection is stale, checkout evicts it and returns errIdleExpired so the
// Pool can retry against a different worker.
func (w *Worker) checkout(ctx context.Context) (*Lease, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case workerUninitialized:
		conn := w.dialer(w.origin, w.connOpts)
		if err := conn.Connect(ctx); err != nil {
			return nil, &TransportError{Origin: w.origin, Reason: err}
		}
		w.conn = conn
		w.state = workerInUse
		return &Lease{Conn: conn, Tag: TagFresh, IdleTime: 0, worker: w}, nil

	case workerIdle:
		idleTime := time.Since(w.lastCheckin)
		if !w.conn.Reusable(idleTime) {
			w.telemetry.connMaxIdleTimeExceeded(idleTime, w.origin)
			_ = w.conn.Close()
			w.conn = nil
			w.state = workerEvicted
			return nil, errIdleExpired
		}
		w.conn.SetMode(ModePassive)
		w.state = workerInUse
		return &Lease{Conn: w.conn, Tag: TagReuse, IdleTime: idleTime, worker: w}, nil

	default:
		// A worker evicted while still queued (e.g. by Pool.Stop) lands
		// here; reporting errIdleExpired makes the Pool reset it to
		// Uninitialized and retry.
		return nil, errIdleExpired
	}
}

// checkin re-adopts the connection after the caller's exchange completes.
// For a fresh connection, the caller must have already called
// Transfer(w) to move socket ownership back; for a reused one no transfer
// is necessary since ownership never left the worker (spec.md §4.D).
func (w *Worker) checkin(lease *Lease, transferred bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if lease.Tag == TagFresh && !transferred {
		w.evictLocked()
		return
	}
	if !lease.Conn.Open() {
		w.evictLocked()
		return
	}

	lease.Conn.SetMode(ModeActive)
	w.conn = lease.Conn
	w.lastCheckin = time.Now()
	w.state = workerIdle
}

// evict closes the worker's connection (idempotent) and marks it
// terminated.
func (w *Worker) evict() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictLocked()
}

func (w *Worker) evictLocked() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.state = workerEvicted
}

// isEvicted reports whether the worker has been terminated and should be
// replaced by a fresh Uninitialized slot.
func (w *Worker) isEvicted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == workerEvicted
}

// resetForReuse clears an Evicted worker back to Uninitialized so its slot
// can be redialed on its next checkout. A no-op on a worker that isn't
// Evicted (e.g. one still InUse because the caller hasn't checked in yet).
func (w *Worker) resetForReuse() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == workerEvicted {
		w.state = workerUninitialized
	}
}

// isIdle reports whether the worker currently holds a ready-to-use
// connection.
func (w *Worker) isIdle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == workerIdle
}

// handleUnsolicited dispatches an out-of-band message delivered while this
// worker is Idle (Active mode) to the connection's Discard, evicting on a
// fatal result (spec.md §4.C "Unsolicited message").
func (w *Worker) handleUnsolicited(msg any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != workerIdle {
		return
	}
	switch w.conn.Discard(msg) {
	case DiscardFatal:
		w.evictLocked()
	case DiscardConsumed, DiscardUnknown:
		// no state change
	}
}
