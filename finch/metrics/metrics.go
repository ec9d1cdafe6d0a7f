// Package metrics implements the lock-free metrics block described in
// spec.md §4.B: a fixed set of counters and gauges updated with atomics,
// a best-effort max, and a deadline-bounded reset protocol for the timing
// counters. It is the one piece of this module hot enough to need atomics
// on every request, following the same Counter/Gauge shape the teacher
// repo uses for its own Prometheus exposition (observability/metrics.go)
// and its per-request atomic counters (middleware/concurrency.go).
package metrics

import (
	"time"

	"go.uber.org/atomic"
)

// Metric names the timing-set counters that participate in the writer
// protocol and the reset. Gauges (PoolSize, InUseConnections) are not
// Metric values: they bypass the protocol entirely per spec.md §4.B.
type Metric int

const (
	TotalCheckoutCount Metric = iota
	TotalCheckoutTimeUs
	TotalUsageTimeUs
)

// MaxMetric names the two best-effort maxima.
type MaxMetric int

const (
	MaxCheckoutTimeUs MaxMetric = iota
	MaxUsageTimeUs
)

const resetSpinInterval = 5 * time.Millisecond

// Status is the computed snapshot returned by Block.Status and surfaced to callers
// via the pool status operation (spec.md §4.B get_status / §6).
type Status struct {
	Available      int64
	InUse          int64
	AvgCheckoutUs  int64
	MaxCheckoutUs  int64
	AvgUsageUs     int64
	MaxUsageUs     int64
}

// Block is one metrics block: the counters for a single pool instance.
// Multiple Blocks may back the same Origin when a host has several pool
// replicas (spec.md §4.E get_pool_status); each Block is independent.
type Block struct {
	poolSize          atomic.Int64 // gauge, set once by New
	inUseConnections  atomic.Int64 // gauge, ±1 on checkout/checkin

	totalCheckoutCount   atomic.Int64
	totalCheckoutTimeUs  atomic.Int64
	totalUsageTimeUs     atomic.Int64
	maxCheckoutTimeUs    atomic.Int64
	maxUsageTimeUs       atomic.Int64

	resetLock      atomic.Bool  // 0/1, set while a reset is quiescing writers
	resetLockQueue atomic.Int32 // active-writer count
}

// New allocates a Block and sets its pool_size gauge. Every call returns a
// new, independent Block: each pool instance creates and registers its own
// (see finch.Registry.Register), so pool replicas of one origin each hold
// a separate ref.
func New(poolSize int) *Block {
	b := &Block{}
	b.poolSize.Store(int64(poolSize))
	return b
}

// IncInUse and DecInUse adjust the in_use_connections gauge. Gauges bypass
// the writer protocol: they are unconditional atomic adds, never dropped,
// and never touched by Reset.
func (b *Block) IncInUse() { b.inUseConnections.Add(1) }
func (b *Block) DecInUse() { b.inUseConnections.Add(-1) }

// Add records a value against one of the timing-set counters, entering the
// writer protocol first. If a Reset currently holds the lock, the update is
// dropped silently, per spec.md §4.B.
func (b *Block) Add(m Metric, delta int64) {
	if b.resetLock.Load() {
		return
	}
	b.resetLockQueue.Add(1)
	defer b.resetLockQueue.Add(-1)

	// Re-check after registering as an active writer: a reset that set the
	// lock between our first check and the increment above must still see
	// us in the queue so it waits for us to finish, but we must not start
	// a fresh write once the lock is visible.
	if b.resetLock.Load() {
		return
	}

	switch m {
	case TotalCheckoutCount:
		b.totalCheckoutCount.Add(delta)
	case TotalCheckoutTimeUs:
		b.totalCheckoutTimeUs.Add(delta)
	case TotalUsageTimeUs:
		b.totalUsageTimeUs.Add(delta)
	}
}

// PutMax is a best-effort "set iff greater" used for the two max gauges.
// It is deliberately not CAS-looped: spec.md §9 documents this as
// non-strict under concurrent writers, so tests with concurrent writers
// must only assert max >= avg, never an exact value.
func (b *Block) PutMax(m MaxMetric, value int64) {
	switch m {
	case MaxCheckoutTimeUs:
		if value > b.maxCheckoutTimeUs.Load() {
			b.maxCheckoutTimeUs.Store(value)
		}
	case MaxUsageTimeUs:
		if value > b.maxUsageTimeUs.Load() {
			b.maxUsageTimeUs.Store(value)
		}
	}
}

// Status computes the current snapshot. It never blocks: readers do not
// participate in the writer protocol or the reset lock at all.
func (b *Block) Status() Status {
	poolSize := b.poolSize.Load()
	inUse := b.inUseConnections.Load()

	count := b.totalCheckoutCount.Load()
	totalCheckout := b.totalCheckoutTimeUs.Load()
	totalUsage := b.totalUsageTimeUs.Load()

	return Status{
		Available:     poolSize - inUse,
		InUse:         inUse,
		AvgCheckoutUs: roundAvg(totalCheckout, count),
		MaxCheckoutUs: b.maxCheckoutTimeUs.Load(),
		AvgUsageUs:    roundAvg(totalUsage, count),
		MaxUsageUs:    b.maxUsageTimeUs.Load(),
	}
}

func roundAvg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	// round-half-up, matching spec.md's round(total/count).
	if total >= 0 {
		return (total + count/2) / count
	}
	return -((-total + count/2) / count)
}

// Reset implements the quiesce-then-zero protocol from spec.md §4.B:
//  1. set reset_lock
//  2. spin (5ms sleeps) while reset_lock_queue > 0 and the deadline hasn't
//     passed
//  3. on success, zero every timing counter and clear the lock
//  4. on deadline expiry, clear the lock and report a timeout; the timing
//     counters may be left inconsistent (a count landed without its paired
//     time, or vice versa) — callers must not assume atomicity across the
//     group on timeout.
func (b *Block) Reset(deadline time.Time) error {
	b.resetLock.Store(true)
	defer b.resetLock.Store(false)

	for b.resetLockQueue.Load() > 0 {
		if !time.Now().Before(deadline) {
			return errResetTimeout
		}
		time.Sleep(resetSpinInterval)
	}

	b.totalCheckoutCount.Store(0)
	b.totalCheckoutTimeUs.Store(0)
	b.totalUsageTimeUs.Store(0)
	b.maxCheckoutTimeUs.Store(0)
	b.maxUsageTimeUs.Store(0)
	return nil
}
