package finch

import "fmt"

// Scheme identifies the transport a pool dials with.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Origin is the immutable identity of a pool: the (scheme, host, port)
// triple every connection it holds is dialed against.
type Origin struct {
	Scheme Scheme
	Host   string
	Port   int
}

// String renders the origin the way it would appear in a URL authority,
// e.g. "https://api.example.com:443".
func (o Origin) String() string {
	return fmt.Sprintf("%s://%s:%d", o.Scheme, o.Host, o.Port)
}

// Key returns a value suitable for use as a map key or registry lookup.
// Origin already satisfies comparable, but Key documents the intent at
// call sites that build maps keyed by origin.
func (o Origin) Key() Origin { return o }
