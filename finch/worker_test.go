package finch

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(connectErr error) (*Worker, *Telemetry) {
	telemetry := NewTelemetry(zerolog.New(io.Discard))
	w := newWorker(testOrigin(), newFakeDialer(connectErr), ConnOpts{}, telemetry)
	return w, telemetry
}

func TestWorkerCheckoutUninitializedDials(t *testing.T) {
	w, _ := newTestWorker(nil)
	lease, err := w.checkout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TagFresh, lease.Tag)
	assert.True(t, w.conn.(*fakeConn).connected)
}

func TestWorkerCheckoutDialFailurePropagates(t *testing.T) {
	boom := assertError("dial refused")
	w, _ := newTestWorker(boom)
	_, err := w.checkout(context.Background())
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, boom, te.Reason)
}

func TestWorkerCheckinFreshWithoutTransferEvicts(t *testing.T) {
	w, _ := newTestWorker(nil)
	lease, err := w.checkout(context.Background())
	require.NoError(t, err)

	w.checkin(lease, false)
	assert.True(t, w.isEvicted())
}

func TestWorkerCheckinFreshWithTransferGoesIdle(t *testing.T) {
	w, _ := newTestWorker(nil)
	lease, err := w.checkout(context.Background())
	require.NoError(t, err)

	w.checkin(lease, true)
	assert.True(t, w.isIdle())
}

func TestWorkerCheckoutIdleStaleEvictsAndReportsIdleExpired(t *testing.T) {
	w, _ := newTestWorker(nil)
	lease, err := w.checkout(context.Background())
	require.NoError(t, err)
	w.checkin(lease, true)
	require.True(t, w.isIdle())

	fc := w.conn.(*fakeConn)
	fc.setReusable(false)

	_, err = w.checkout(context.Background())
	require.True(t, isIdleExpired(err))
	assert.True(t, w.isEvicted())
}

func TestWorkerResetForReuseOnlyAffectsEvicted(t *testing.T) {
	w, _ := newTestWorker(nil)
	w.resetForReuse() // uninitialized, no-op
	assert.False(t, w.isEvicted())

	lease, err := w.checkout(context.Background())
	require.NoError(t, err)
	w.checkin(lease, false) // evicts: fresh + not transferred
	require.True(t, w.isEvicted())

	w.resetForReuse()
	assert.False(t, w.isEvicted())
	assert.False(t, w.isIdle())
}

func TestWorkerHandleUnsolicitedEvictsOnFatal(t *testing.T) {
	w, _ := newTestWorker(nil)
	lease, err := w.checkout(context.Background())
	require.NoError(t, err)
	w.checkin(lease, true)
	require.True(t, w.isIdle())

	// fakeConn.Discard always reports DiscardUnknown, so swap in a
	// connection whose Discard signals fatal to exercise the eviction path.
	w.conn = &fatalDiscardConn{reusable: true}
	w.handleUnsolicited("peer reset")
	assert.True(t, w.isEvicted())
}

type fatalDiscardConn struct {
	fakeConn
	reusable bool
}

func (f *fatalDiscardConn) Discard(msg any) DiscardResult { return DiscardFatal }

type assertError string

func (e assertError) Error() string { return string(e) }
