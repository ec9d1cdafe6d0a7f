package finch

import (
	"context"
	"time"
)

// Mode tells a Connection whether it should push events to its controller
// (Active, while idle in a Worker) or wait to be pulled by the current
// owner (Passive, while an exchange is in flight). See spec.md §3.
type Mode int

const (
	ModeActive Mode = iota
	ModePassive
)

func (m Mode) String() string {
	if m == ModeActive {
		return "active"
	}
	return "passive"
}

// DiscardResult is the outcome of handing an unsolicited message to a
// Connection's Discard method.
type DiscardResult int

const (
	// DiscardConsumed means the message was protocol noise the Connection
	// handled internally (e.g. a keep-alive ping).
	DiscardConsumed DiscardResult = iota
	// DiscardUnknown means the message was not recognized and the caller
	// should decide what to do with it (the Worker treats this as a no-op).
	DiscardUnknown
	// DiscardFatal means the message indicates the Connection is no longer
	// usable; the Worker must evict it.
	DiscardFatal
)

// FoldAction tells the codec whether to keep pulling response parts or
// stop early.
type FoldAction int

const (
	FoldContinue FoldAction = iota
	FoldHalt
)

// Part is one unit of a streamed HTTP response, matching what the wire
// codec hands the fold function: a status line, a header set, a body
// chunk, trailers, or the terminal marker.
type Part struct {
	Kind    PartKind
	Status  int
	Headers map[string][]string
	Data    []byte
}

type PartKind int

const (
	PartStatus PartKind = iota
	PartHeaders
	PartData
	PartTrailers
	PartEnd
)

// Fold is the caller-supplied accumulator function the codec invokes once
// per response Part, in protocol order. It returns the new accumulator and
// whether the codec should keep streaming.
type Fold func(part Part, acc any) (FoldAction, any)

// Request is the minimal wire-level request shape the Connection accepts.
// Higher-level request construction (headers, retries, auth) happens above
// this package; the pool only needs enough to drive one exchange.
type Request struct {
	Method  string
	Path    string
	Headers map[string][]string
	Body    []byte
}

// Connection is the out-of-scope HTTP/1 wire codec collaborator described
// in spec.md §4.A. The pool never parses bytes itself; it only sequences
// calls against this contract. httpconn.Conn is the concrete implementation
// shipped with this module; callers may substitute their own.
type Connection interface {
	// Connect dials and completes any handshake (TCP, TLS). Called once,
	// right after New, before the connection is usable.
	Connect(ctx context.Context) error

	// Request drives one request/response exchange, invoking fold for each
	// response part. acc is the caller's initial accumulator; the final
	// accumulator (or the one in place when fold halts) is returned.
	Request(ctx context.Context, req Request, acc any, fold Fold, receiveTimeout, idleTime time.Duration) (any, error)

	// SetMode switches the connection between pushing events to its
	// controller (Active) and being pulled by the current owner (Passive).
	SetMode(mode Mode)

	// Reusable is the authoritative staleness oracle: whether the
	// connection, having sat idle for idleTime, may be handed out again.
	// It must consider max_idle_time plus any protocol-level half-close
	// signal observed since the last checkin.
	Reusable(idleTime time.Duration) bool

	// Discard hands an unsolicited message (received while Active) to the
	// codec and reports what it meant.
	Discard(msg any) DiscardResult

	// Open reports whether the underlying socket is still usable.
	Open() bool

	// Transfer moves socket ownership to newOwner. Required only for
	// connections dialed in the caller's context (the "fresh" case);
	// reused connections never left the Worker's ownership.
	Transfer(newOwner any) error

	// Close releases the connection. Idempotent: safe to call on an
	// already-closed or never-opened connection.
	Close() error
}

// Dialer constructs a not-yet-connected Connection for an origin. Pools take
// a Dialer rather than a concrete Connection so tests can substitute a fake.
type Dialer func(origin Origin, opts ConnOpts) Connection

// ConnOpts is passed verbatim from PoolConfig to the Dialer; the pool does
// not interpret it.
type ConnOpts struct {
	MaxIdleTime           time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	KeepAlive             time.Duration
	DisableCompression    bool
}
