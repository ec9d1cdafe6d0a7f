package httpconn

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliveigah/finch/finch"
)

// startEchoServer runs a single-connection raw TCP listener that reads one
// HTTP/1.1 request and writes back a fixed response, then (unless keepOpen)
// closes. It hands back the listener address.
func startEchoServer(t *testing.T, keepOpen bool) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() {
			if !keepOpen {
				conn.Close()
			}
		}()

		br := bufio.NewReader(conn)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		_ = req.Body.Close()

		body := "hello"
		resp := "HTTP/1.1 200 OK\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\nConnection: keep-alive\r\n\r\n" + body
		_, _ = conn.Write([]byte(resp))

		if keepOpen {
			// Hold the connection open so the test can exercise Reusable
			// against a live, idle socket before the test cleans up.
			time.Sleep(200 * time.Millisecond)
		}
	}()

	return ln.Addr().String()
}

func dialTestOrigin(t *testing.T, addr string) finch.Origin {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return finch.Origin{Scheme: finch.SchemeHTTP, Host: host, Port: port}
}

func TestConnConnectAndRequestParsesResponseParts(t *testing.T) {
	addr := startEchoServer(t, false)
	origin := dialTestOrigin(t, addr)

	conn := New(origin, finch.ConnOpts{DialTimeout: time.Second})
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	var kinds []finch.PartKind
	acc, err := conn.Request(context.Background(), finch.Request{Method: "GET", Path: "/"}, nil,
		func(part finch.Part, acc any) (finch.FoldAction, any) {
			kinds = append(kinds, part.Kind)
			return finch.FoldContinue, acc
		}, 2*time.Second, 0)
	require.NoError(t, err)
	_ = acc

	assert.Contains(t, kinds, finch.PartStatus)
	assert.Contains(t, kinds, finch.PartEnd)
}

func TestConnReusableFalseAfterMaxIdleTime(t *testing.T) {
	addr := startEchoServer(t, true)
	origin := dialTestOrigin(t, addr)

	conn := New(origin, finch.ConnOpts{DialTimeout: time.Second, MaxIdleTime: 5 * time.Millisecond})
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	assert.False(t, conn.Reusable(50*time.Millisecond))
}

func TestConnReusableFalseAfterPeerCloses(t *testing.T) {
	addr := startEchoServer(t, false)
	origin := dialTestOrigin(t, addr)

	conn := New(origin, finch.ConnOpts{DialTimeout: time.Second}).(*Conn)
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	_, err := conn.Request(context.Background(), finch.Request{Method: "GET", Path: "/"}, nil,
		func(part finch.Part, acc any) (finch.FoldAction, any) { return finch.FoldContinue, acc },
		2*time.Second, 0)
	require.NoError(t, err)

	// The echo server closes its side right after responding; give the
	// FIN time to arrive, then the half-close peek in Reusable must see it.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, conn.Reusable(0))
}

func TestConnCloseIsIdempotent(t *testing.T) {
	addr := startEchoServer(t, false)
	origin := dialTestOrigin(t, addr)

	conn := New(origin, finch.ConnOpts{DialTimeout: time.Second})
	require.NoError(t, conn.Connect(context.Background()))
	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.False(t, conn.Open())
}
