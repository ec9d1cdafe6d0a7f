package finch

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoTestPool(t *testing.T) *Pool {
	t.Helper()
	p := NewPool(PoolConfig{
		Name:             "do-test",
		Origin:           testOrigin(),
		Size:             2,
		Dialer:           newFakeDialer(nil),
		StartPoolMetrics: true,
		Logger:           zerolog.New(io.Discard),
		Registry:         NewRegistry(),
	})
	t.Cleanup(p.Stop)
	return p
}

func collectParts(part Part, acc any) (FoldAction, any) {
	parts, _ := acc.([]Part)
	return FoldContinue, append(parts, part)
}

func TestDoDrivesExchangeAndRecordsMetrics(t *testing.T) {
	p := newDoTestPool(t)
	req := Request{Method: "GET", Path: "/v1/widgets"}

	result, err := Do(context.Background(), p, req, []Part{}, collectParts, RequestOptions{})
	require.NoError(t, err)

	parts := result.([]Part)
	require.Len(t, parts, 3)
	assert.Equal(t, PartStatus, parts[0].Kind)
	assert.Equal(t, PartEnd, parts[2].Kind)

	status, err := p.Status()
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.InUse)
}

func TestDoSurfacesPoolTimeoutWithoutConsumingAWorker(t *testing.T) {
	p := newDoTestPool(t)

	// Exhaust both workers.
	l1, _, err := p.Checkout(context.Background(), time.Second)
	require.NoError(t, err)
	l2, _, err := p.Checkout(context.Background(), time.Second)
	require.NoError(t, err)

	_, err = Do(context.Background(), p, Request{}, nil, collectParts, RequestOptions{PoolTimeout: 20 * time.Millisecond})
	require.Error(t, err)
	var pte *PoolTimeoutError
	assert.ErrorAs(t, err, &pte)

	p.Checkin(l1, true)
	p.Checkin(l2, true)
}

func TestAsyncRequestStreamsPartsAndCompletes(t *testing.T) {
	p := newDoTestPool(t)
	h := AsyncRequest(context.Background(), p, Request{Method: "GET", Path: "/stream"}, RequestOptions{})

	var got []Part
	for part := range h.Parts {
		got = append(got, part)
	}
	err := <-h.Done
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestCancelAsyncRequestAbsorbsCancellation(t *testing.T) {
	p := newDoTestPool(t)
	ctx, cancel := context.WithCancel(context.Background())
	h := AsyncRequest(ctx, p, Request{Method: "GET", Path: "/stream"}, RequestOptions{})

	cancel()
	CancelAsyncRequest(h)

	for range h.Parts {
		// drain
	}
	err, ok := <-h.Done
	require.True(t, ok)
	assert.NoError(t, err, "a cancelled async request must never surface an error to the caller")
}

func TestGetPoolStatusAggregatesReplicas(t *testing.T) {
	reg := NewRegistry()
	origin := testOrigin()

	p1 := NewPool(PoolConfig{Name: "replica", Origin: origin, Size: 1, Dialer: newFakeDialer(nil), StartPoolMetrics: true, Logger: zerolog.New(io.Discard), Registry: reg})
	p2 := NewPool(PoolConfig{Name: "replica", Origin: origin, Size: 1, Dialer: newFakeDialer(nil), StartPoolMetrics: true, Logger: zerolog.New(io.Discard), Registry: reg})
	defer p1.Stop()
	defer p2.Stop()

	statuses, err := GetPoolStatus(reg, "replica", origin)
	require.NoError(t, err)
	assert.Len(t, statuses, 2)
}

func TestGetPoolStatusUnknownPoolReturnsNotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := GetPoolStatus(reg, "missing", testOrigin())
	require.Error(t, err)
	var mnf *MetricsNotFoundError
	assert.ErrorAs(t, err, &mnf)
}

func TestResetMetricsZeroesCounters(t *testing.T) {
	p := newDoTestPool(t)
	_, err := Do(context.Background(), p, Request{}, []Part{}, collectParts, RequestOptions{})
	require.NoError(t, err)

	err = ResetMetrics(p.cfg.Registry, p.cfg.Name, p.cfg.Origin, time.Now().Add(time.Second))
	require.NoError(t, err)

	status, err := p.Status()
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.AvgCheckoutUs)
	assert.Equal(t, int64(0), status.AvgUsageUs)
}
