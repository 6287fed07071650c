package fetchengine

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fetchsocks/fetchsocks/internal/contentcoding"
	"github.com/fetchsocks/fetchsocks/internal/dialer"
	"github.com/fetchsocks/fetchsocks/internal/fetcherr"
	"github.com/fetchsocks/fetchsocks/internal/headers"
	"github.com/fetchsocks/fetchsocks/internal/proxyurl"
	"github.com/fetchsocks/fetchsocks/internal/rawhttp"
)

// dialTimeout bounds the initial TCP connect to the proxy, distinct from
// dialer.HandshakeDeadline which bounds the SOCKS5 method negotiation once
// that connection exists.
const dialTimeout = 10 * time.Second

// Do issues one request through req.Proxy: normalize and parse the proxy
// URL, resolve the target, dial and optionally TLS-upgrade the SOCKS5
// tunnel, write the HTTP/1.1 request, read and decode the response, and
// destroy the socket. No redirects are followed here -- that is
// internal/redirect's job, one call to Do per hop.
func Do(ctx context.Context, req *Request) (*Response, error) {
	canonical, err := proxyurl.Convert(req.Proxy)
	if err != nil {
		return nil, fetcherr.NewConfigError("invalid proxy url", err)
	}
	proxy, err := proxyurl.Parse(canonical)
	if err != nil {
		return nil, fetcherr.NewConfigError("invalid proxy url", err)
	}

	tgt, err := resolveTarget(req.URL)
	if err != nil {
		return nil, fetcherr.NewConfigError("invalid request url", err)
	}

	opts := dialer.Options{
		TLS:       tgt.Scheme == "https",
		TLSConfig: req.TLSConfig,
	}

	conn, err := dialer.Dial(ctx, dialer.Config{DialTimeout: dialTimeout}, proxy, tgt.Host, tgt.Port, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// The Dialer's own context.AfterFunc (internal/dialer/socks5_proxy.go)
	// is deregistered once Dial returns, so it cannot reach the request/
	// response phase below. A separate one spans that phase: cancelling ctx
	// here destroys the socket, turning whatever WriteRequest/ReadResponse/
	// ReadBody is blocked on into an error instead of leaving it to hang.
	if err := ctx.Err(); err != nil {
		return nil, fetcherr.NewCancelledError(err, 0)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	hdr := prepareHeaders(req.Header)

	frame := rawhttp.RequestFrame{
		Method:     req.Method,
		RequestURI: tgt.PathAndQuery,
		Host:       hostHeaderValue(tgt),
		Header:     hdr,
		Body:       req.Body,
	}
	if err := rawhttp.WriteRequest(conn, frame); err != nil {
		return nil, err
	}

	br := bufio.NewReader(conn)
	respFrame, err := rawhttp.ReadResponse(br)
	if err != nil {
		return nil, err
	}

	wasChunked := strings.EqualFold(respFrame.Header.Get("Transfer-Encoding"), "chunked")

	body, err := rawhttp.ReadBody(br, respFrame, req.Method == "HEAD")
	if err != nil {
		return nil, err
	}

	contentEncoding := respFrame.Header.Get("Content-Encoding")
	decoded, remaining, err := contentcoding.Decode(body, contentEncoding)
	if err != nil {
		return nil, err
	}
	if remaining == "" {
		respFrame.Header.Del("Content-Encoding")
	} else {
		respFrame.Header.Set("Content-Encoding", remaining)
	}

	if wasChunked {
		// The body is already fully buffered and de-chunked; keeping
		// Transfer-Encoding: chunked on a response with no further chunks
		// to read would mislead a caller re-serving this header as much as
		// it would mislead net/http's own reader, which drops it the same way.
		respFrame.Header.Del("Transfer-Encoding")
	}
	if len(decoded) != len(body) {
		// Only decoding changes the body's length; a response framed by a
		// plain Content-Length already carries the right value.
		respFrame.Header.Set("Content-Length", strconv.Itoa(len(decoded)))
	}

	return &Response{
		StatusCode: respFrame.StatusCode,
		Status:     respFrame.Status,
		Header:     respFrame.Header,
		Body:       decoded,
	}, nil
}

// prepareHeaders clones the caller's headers and fills in the framer's
// fixed defaults (spec.md 4.4): Accept and Accept-Encoding only when the
// caller did not set them, and always Connection: close. Any caller Host or
// Connection header is dropped (the framer writes its own Host).
func prepareHeaders(h *headers.Map) *headers.Map {
	out := h.Clone()
	out.Del("Host")
	out.Del("Connection")

	if !out.Has("Accept") {
		out.Add("Accept", "*/*")
	}
	if !out.Has("Accept-Encoding") {
		out.Add("Accept-Encoding", "gzip, deflate, br, zstd")
	}
	out.Add("Connection", "close")
	return out
}

func hostHeaderValue(tgt target) string {
	if (tgt.Scheme == "https" && tgt.Port == 443) || (tgt.Scheme == "http" && tgt.Port == 80) {
		return tgt.Host
	}
	return fmt.Sprintf("%s:%d", tgt.Host, tgt.Port)
}

// resolveTarget extracts scheme, host, port, and path+query from a request
// URL, defaulting the port per scheme (80/443) as spec.md 3 requires for
// TargetEndpoint.
func resolveTarget(rawURL string) (target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return target{}, fmt.Errorf("parse url: %w", err)
	}

	scheme := u.Scheme
	if scheme != "http" && scheme != "https" {
		return target{}, fmt.Errorf("unsupported url scheme %q", scheme)
	}

	host := u.Hostname()
	if host == "" {
		return target{}, fmt.Errorf("missing host in url")
	}

	port := 80
	if scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return target{}, fmt.Errorf("invalid port %q: %w", p, err)
		}
		port = n
	}

	pathAndQuery := u.EscapedPath()
	if pathAndQuery == "" {
		pathAndQuery = "/"
	}
	if u.RawQuery != "" {
		pathAndQuery += "?" + u.RawQuery
	}

	return target{Scheme: scheme, Host: host, Port: port, PathAndQuery: pathAndQuery}, nil
}
