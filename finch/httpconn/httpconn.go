// Package httpconn is the concrete HTTP/1 Connection implementation
// shipped with this module, satisfying the finch.Connection contract.
// It's built directly on net.Dialer/crypto/tls/bufio/net/http's wire
// primitives rather than net/http.Transport, because http.Transport owns
// its own internal connection pool and cannot hand a raw socket's ownership
// back and forth between a caller and a worker the way the Transfer
// contract requires.
package httpconn

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/oliveigah/finch/finch"
)

// Conn is a single HTTP/1 connection to one origin, owned at any moment by
// exactly the Worker holding it idle or the caller driving an exchange
// (finch.Connection's ownership invariant).
type Conn struct {
	origin finch.Origin
	opts   finch.ConnOpts

	mu           sync.Mutex
	netConn      net.Conn
	br           *bufio.Reader
	mode         finch.Mode
	closed       bool
	peerRequestedClose bool
	owner        any
}

// New constructs a not-yet-connected Conn. It satisfies finch.Dialer's
// signature so it can be passed directly as PoolConfig.Dialer.
func New(origin finch.Origin, opts finch.ConnOpts) finch.Connection {
	return &Conn{origin: origin, opts: opts, mode: finch.ModeActive}
}

// Dialer returns a finch.Dialer bound to this package's implementation.
func Dialer() finch.Dialer { return New }

func (c *Conn) Connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: c.opts.DialTimeout, KeepAlive: c.opts.KeepAlive}
	addr := net.JoinHostPort(c.origin.Host, strconv.Itoa(c.origin.Port))

	var (
		nc  net.Conn
		err error
	)
	if c.origin.Scheme == finch.SchemeHTTPS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config: &tls.Config{
				ServerName: c.origin.Host,
				MinVersion: tls.VersionTLS12,
			},
		}
		nc, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.netConn = nc
	c.br = bufio.NewReader(nc)
	c.mu.Unlock()
	return nil
}

func (c *Conn) Request(ctx context.Context, req finch.Request, acc any, fold finch.Fold, receiveTimeout, _ time.Duration) (any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return acc, err
	}
	httpReq.URL.Scheme = string(c.origin.Scheme)
	httpReq.URL.Host = net.JoinHostPort(c.origin.Host, strconv.Itoa(c.origin.Port))
	httpReq.Host = c.origin.Host
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	deadline := time.Now().Add(receiveTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	netConn, br := c.netConn, c.br
	c.mu.Unlock()

	_ = netConn.SetWriteDeadline(deadline)
	if err := httpReq.Write(netConn); err != nil {
		return acc, err
	}
	_ = netConn.SetReadDeadline(deadline)

	resp, err := http.ReadResponse(br, httpReq)
	if err != nil {
		return acc, err
	}
	defer resp.Body.Close()

	c.mu.Lock()
	c.peerRequestedClose = resp.Close
	c.mu.Unlock()

	action, acc := fold(finch.Part{Kind: finch.PartStatus, Status: resp.StatusCode}, acc)
	if action == finch.FoldHalt {
		return acc, nil
	}

	action, acc = fold(finch.Part{Kind: finch.PartHeaders, Headers: resp.Header}, acc)
	if action == finch.FoldHalt {
		return acc, nil
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			action, acc = fold(finch.Part{Kind: finch.PartData, Data: chunk}, acc)
			if action == finch.FoldHalt {
				return acc, nil
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return acc, rerr
		}
	}

	if len(resp.Trailer) > 0 {
		action, acc = fold(finch.Part{Kind: finch.PartTrailers, Headers: resp.Trailer}, acc)
		if action == finch.FoldHalt {
			return acc, nil
		}
	}

	_, acc = fold(finch.Part{Kind: finch.PartEnd}, acc)
	return acc, nil
}

func (c *Conn) SetMode(mode finch.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// Reusable is the authoritative staleness oracle: it checks max_idle_time
// and probes the socket for a half-close the peer may have signalled while
// we were idle, the same non-blocking-peek technique net/http's own
// Transport uses to detect a dead idle connection.
func (c *Conn) Reusable(idleTime time.Duration) bool {
	if c.opts.MaxIdleTime > 0 && idleTime > c.opts.MaxIdleTime {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.peerRequestedClose {
		return false
	}

	_ = c.netConn.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := c.br.Peek(1)
	_ = c.netConn.SetReadDeadline(time.Time{})

	if err == nil {
		return true // unsolicited bytes waiting; still usable, surfaced at next read
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true // no data pending, connection alive
	}
	return false // EOF or hard error: peer closed
}

// Discard reports what an out-of-band message (observed while Idle) meant.
// Concrete detection of unsolicited bytes happens in Reusable's peek; this
// method exists for the contract's sake and for tests that want to drive
// the Worker's dispatch path directly with a synthetic message.
func (c *Conn) Discard(msg any) finch.DiscardResult {
	if err, ok := msg.(error); ok {
		if err == io.EOF {
			return finch.DiscardFatal
		}
	}
	return finch.DiscardUnknown
}

func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.peerRequestedClose
}

// Transfer moves logical ownership to newOwner. A plain net.Conn has no
// per-goroutine ownership the runtime enforces, so this is a bookkeeping
// no-op: idle I/O (the Reusable probe) still always runs from whoever
// currently holds the Conn, which after Transfer is the Worker.
func (c *Conn) Transfer(newOwner any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.owner = newOwner
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.netConn == nil {
		return nil
	}
	return c.netConn.Close()
}
