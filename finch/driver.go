// Request Driver: thin orchestration over Pool.Checkout/Checkin, in both
// synchronous and asynchronous streaming modes.
package finch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oliveigah/finch/finch/metrics"
)

// Do drives one synchronous request/response exchange against pool:
// checkout, exchange, re-adopt. fold is invoked once per response part, in
// protocol order, exactly as the underlying Connection emits them. Named Do
// to avoid colliding with the Request data type.
func Do(ctx context.Context, pool *Pool, req Request, acc any, fold Fold, opts RequestOptions) (any, error) {
	opts = opts.withDefaults()
	origin := pool.cfg.Origin

	pool.telemetry.queueStart(req, origin)
	lease, waited, err := pool.Checkout(ctx, opts.PoolTimeout)
	if err != nil {
		var pte *PoolTimeoutError
		if errors.As(err, &pte) {
			// Checkout timeout: distinguished sentinel shape, no worker
			// was consumed, surfaced with its remediation hint baked in.
			return acc, err
		}
		// Any other reserve-time failure (ctx cancellation, dial error)
		// propagates unchanged.
		return acc, err
	}
	pool.telemetry.queueStop(lease.IdleTime, req, origin)
	if pool.metrics != nil {
		pool.metrics.Add(metrics.TotalCheckoutCount, 1)
		us := waited.Microseconds()
		pool.metrics.Add(metrics.TotalCheckoutTimeUs, us)
		pool.metrics.PutMax(metrics.MaxCheckoutTimeUs, us)
	}

	usageStart := time.Now()
	newAcc, reqErr := driveExchange(ctx, pool.telemetry, lease, req, acc, fold, opts.ReceiveTimeout, origin)
	usage := time.Since(usageStart)
	if pool.metrics != nil {
		us := usage.Microseconds()
		pool.metrics.Add(metrics.TotalUsageTimeUs, us)
		pool.metrics.PutMax(metrics.MaxUsageTimeUs, us)
	}

	if ctx.Err() != nil {
		// A cancelled exchange may have stopped mid-response; close the
		// connection so Checkin evicts it instead of re-adopting it.
		_ = lease.Conn.Close()
	}
	transferred := lease.Tag == TagReuse
	if lease.Tag == TagFresh && lease.Conn.Open() {
		transferred = lease.Conn.Transfer(lease.worker) == nil
	}
	pool.Checkin(lease, transferred)

	if reqErr != nil {
		return newAcc, &TransportError{Origin: origin, Reason: reqErr}
	}
	return newAcc, nil
}

// driveExchange runs the codec exchange with a panic boundary: a panic
// inside fold or the codec is converted to a queue.exception telemetry
// event and then re-raised.
func driveExchange(
	ctx context.Context, telemetry *Telemetry, lease *Lease, req Request,
	acc any, fold Fold, receiveTimeout time.Duration, origin Origin,
) (result any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			telemetry.queueException(start, fmt.Sprintf("%v", r), r, req, origin)
			panic(r)
		}
	}()
	return lease.Conn.Request(ctx, req, acc, fold, receiveTimeout, lease.IdleTime)
}

// Token is the handle a caller uses to cancel a streaming request.
type Token struct {
	cancel context.CancelFunc
}

// AsyncHandle is returned by AsyncRequest: a channel of response parts and
// a completion signal, plus the Token to cancel early.
type AsyncHandle struct {
	Token *Token
	Parts <-chan Part
	// Done receives nil on clean completion (including cancellation, which
	// is absorbed rather than surfaced) or the terminal error otherwise,
	// then is closed.
	Done <-chan error
}

// AsyncRequest spawns a driver goroutine linked to ctx: it monitors the
// caller's liveness via ctx.Done() and forwards response parts to Parts
// until the exchange ends or the caller cancels. The forwarding fold polls
// ctx.Done() non-blockingly before every delivery attempt so a cancelled
// caller is never kept waiting on a full channel.
func AsyncRequest(ctx context.Context, pool *Pool, req Request, opts RequestOptions) *AsyncHandle {
	driverCtx, cancel := context.WithCancel(ctx)
	parts := make(chan Part, 16)
	done := make(chan error, 1)
	token := &Token{cancel: cancel}

	go func() {
		defer close(parts)
		defer close(done)

		fold := func(part Part, acc any) (FoldAction, any) {
			select {
			case <-driverCtx.Done():
				return FoldHalt, acc
			default:
			}
			select {
			case parts <- part:
				return FoldContinue, acc
			case <-driverCtx.Done():
				return FoldHalt, acc
			}
		}

		_, err := Do(driverCtx, pool, req, nil, fold, opts)
		if driverCtx.Err() != nil {
			// Cancelled (by caller or by CancelAsyncRequest): absorbed,
			// never reported back to the caller.
			done <- nil
			return
		}
		done <- err
	}()

	return &AsyncHandle{Token: token, Parts: parts, Done: done}
}

// CancelAsyncRequest cancels the context of the driver goroutine backing h.
// The driver stops at its next delivery attempt (or when the codec returns).
// Any connection it was mid-exchange with goes through Do's checkin, which
// evicts it because Do closes the connection of a cancelled exchange.
func CancelAsyncRequest(h *AsyncHandle) {
	h.Token.cancel()
}

// GetPoolStatus consults the registry for every metrics ref attached to
// origin (one per pool replica) and returns their snapshots. It never
// merges replicas: callers see the list.
func GetPoolStatus(registry *Registry, name string, origin Origin) ([]metrics.Status, error) {
	refs := registry.GetMetricsRefs(name, origin)
	if len(refs) == 0 {
		return nil, &MetricsNotFoundError{Name: name, Origin: origin}
	}
	statuses := make([]metrics.Status, len(refs))
	for i, ref := range refs {
		statuses[i] = ref.Status()
	}
	return statuses, nil
}

// ResetMetrics resets every metrics ref registered for (name, origin)
// before deadline.
func ResetMetrics(registry *Registry, name string, origin Origin, deadline time.Time) error {
	refs := registry.GetMetricsRefs(name, origin)
	if len(refs) == 0 {
		return &MetricsNotFoundError{Name: name, Origin: origin}
	}
	for _, ref := range refs {
		if err := ref.Reset(deadline); err != nil {
			return &ResetTimeoutError{Name: name, Origin: origin, Deadline: deadline}
		}
	}
	return nil
}
