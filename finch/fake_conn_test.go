package finch

import (
	"context"
	"sync"
	"time"
)

// fakeConn is an in-memory Connection double used across this package's
// tests — no real socket, just enough state to exercise Worker and Pool
// sequencing.
type fakeConn struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	mode      Mode
	reusable  bool
	requests  int
	failNext  error
}

func newFakeDialer(connectErr error) Dialer {
	return func(origin Origin, opts ConnOpts) Connection {
		return &fakeConn{reusable: true, failNext: connectErr}
	}
}

func (f *fakeConn) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		return f.failNext
	}
	f.connected = true
	return nil
}

func (f *fakeConn) Request(ctx context.Context, req Request, acc any, fold Fold, receiveTimeout, idleTime time.Duration) (any, error) {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()

	action, acc := fold(Part{Kind: PartStatus, Status: 200}, acc)
	if action == FoldHalt {
		return acc, nil
	}
	action, acc = fold(Part{Kind: PartData, Data: []byte("ok")}, acc)
	if action == FoldHalt {
		return acc, nil
	}
	_, acc = fold(Part{Kind: PartEnd}, acc)
	return acc, nil
}

func (f *fakeConn) SetMode(mode Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
}

func (f *fakeConn) Reusable(idleTime time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reusable
}

func (f *fakeConn) Discard(msg any) DiscardResult { return DiscardUnknown }

func (f *fakeConn) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeConn) Transfer(newOwner any) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) setReusable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reusable = v
}
