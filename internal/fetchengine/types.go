// Package fetchengine composes the Proxy URL Normalizer/Parser, the SOCKS5
// Dialer, the HTTP/1.1 framer, and the Content Decoder into one "do this
// request over this proxy" operation. Grounded on the teacher's split
// between a Dialer and the thing that uses it (internal/proxy.Config.Dialer,
// consumed by internal/proxy/http_proxy.go and socks5_server.go): the engine
// here plays the role those proxy servers play, except it terminates the
// request itself instead of forwarding bytes between two peers.
package fetchengine

import (
	"crypto/tls"

	"github.com/fetchsocks/fetchsocks/internal/headers"
)

// RedirectMode controls how a 3xx response with a Location header is
// handled by the layer above the engine (internal/redirect.Driver).
type RedirectMode int

const (
	// Follow automatically issues further requests for 3xx responses
	// (the default).
	Follow RedirectMode = iota
	// Manual returns the 3xx response as-is without following it.
	Manual
	// Error fails with a RedirectError if a 3xx response is seen.
	Error
)

// Request is one fetch call: a method, a URL, headers, an optional body,
// and the knobs that steer proxying, TLS, and redirects. The zero value
// uses the environment's proxy, if any (otherwise a direct connection), and
// Follow redirects.
type Request struct {
	Method string
	URL    string
	Header *headers.Map
	Body   []byte

	// Proxy is a canonical or loosely-formatted proxy URL string, or "" to
	// use the environment/no-proxy default (internal/envproxy).
	Proxy string

	// TLSConfig carries caller TLS options such as InsecureSkipVerify.
	// ServerName is always overridden to the target host.
	TLSConfig *tls.Config

	Redirect RedirectMode
}

// Response is the result of a fetch call: status, headers (with
// Content-Encoding removed once every token in it has been decoded, and
// kept whole otherwise), and the fully buffered, decoded body.
type Response struct {
	StatusCode int
	Status     string
	Header     *headers.Map
	Body       []byte
}

// target is the resolved destination of one request: scheme, host, port,
// and the path+query to send on the request line.
type target struct {
	Scheme       string
	Host         string
	Port         int
	PathAndQuery string
}
