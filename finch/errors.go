package finch

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds. Callers should use errors.Is/errors.As rather than
// comparing formatted messages.
var (
	// ErrPoolTimeout is returned when a checkout did not obtain a worker
	// before the caller's pool_timeout elapsed.
	ErrPoolTimeout = errors.New("finch: checkout timed out waiting for a connection")

	// ErrMetricsNotFound is returned by GetPoolStatus/ResetMetrics when no
	// metrics block is registered for the requested origin.
	ErrMetricsNotFound = errors.New("finch: no metrics registered for this origin")

	// ErrResetTimeout is returned when Reset could not quiesce timing
	// writers before its deadline.
	ErrResetTimeout = errors.New("finch: metrics reset timed out waiting for writers to drain")

	// errCancelled names the cancellation outcome of an async driver. No
	// code path returns it: AsyncRequest absorbs cancellation and reports
	// nil on Done.
	errCancelled = errors.New("finch: async request cancelled")
)

// PoolTimeoutError carries checkout-timeout diagnostics and a remediation
// hint, distinguishing a checkout timeout from a request-level failure.
type PoolTimeoutError struct {
	Origin      Origin
	PoolSize    int
	WaitedFor   time.Duration
	PoolTimeout time.Duration
}

func (e *PoolTimeoutError) Error() string {
	return fmt.Sprintf(
		"finch: checkout for %s timed out after %s (pool_timeout=%s, pool_size=%d); "+
			"consider raising pool_size or pool_timeout, or check for stuck upstream requests",
		e.Origin, e.WaitedFor, e.PoolTimeout, e.PoolSize,
	)
}

func (e *PoolTimeoutError) Unwrap() error { return ErrPoolTimeout }

// TransportError wraps a failure the connection codec reported mid-exchange
// (broken pipe, TLS error, protocol violation), or a dial failure at
// checkout. After a failed exchange the worker is evicted when its
// connection no longer reports Open; otherwise it is re-adopted.
type TransportError struct {
	Origin Origin
	Reason error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("finch: transport error on %s: %v", e.Origin, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Reason }

// MetricsNotFoundError reports that get_status/reset targeted an origin
// with no registered metrics block.
type MetricsNotFoundError struct {
	Name   string
	Origin Origin
}

func (e *MetricsNotFoundError) Error() string {
	return fmt.Sprintf("finch: no metrics registered for pool %q origin %s", e.Name, e.Origin)
}

func (e *MetricsNotFoundError) Unwrap() error { return ErrMetricsNotFound }

// ResetTimeoutError reports that a reset could not acquire exclusive
// access to the timing counters before its deadline; counters may be
// left in a transiently inconsistent state (a count landed without its
// paired time, or vice versa).
type ResetTimeoutError struct {
	Name     string
	Origin   Origin
	Deadline time.Time
}

func (e *ResetTimeoutError) Error() string {
	return fmt.Sprintf("finch: reset of pool %q origin %s timed out at %s", e.Name, e.Origin, e.Deadline)
}

func (e *ResetTimeoutError) Unwrap() error { return ErrResetTimeout }
