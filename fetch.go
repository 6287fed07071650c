// Package fetch is a drop-in replacement for Go's net/http client that
// adds first-class SOCKS5 proxying: tunnel setup, TLS promotion with the
// right SNI, raw HTTP/1.1 framing, chunked decoding, content decoding, and
// RFC-defined redirect handling. Requests through an http(s) proxy or no
// proxy at all fall back to net/http, so Do is safe to use as the only HTTP
// entry point in a program.
//
// Grounded on the teacher's split between "the thing that knows how to
// reach a target" (internal/dialer) and "the thing that uses it"
// (main.go/internal/proxy): this file plays main.go's role for a library
// caller instead of a proxy daemon.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/fetchsocks/fetchsocks/internal/envproxy"
	"github.com/fetchsocks/fetchsocks/internal/fetchengine"
	"github.com/fetchsocks/fetchsocks/internal/fetcherr"
	"github.com/fetchsocks/fetchsocks/internal/headers"
	"github.com/fetchsocks/fetchsocks/internal/proxyurl"
	"github.com/fetchsocks/fetchsocks/internal/rawhttp"
	"github.com/fetchsocks/fetchsocks/internal/redirect"
)

// Request, Response, and RedirectMode are fetchengine's canonical types,
// re-exported here as the package's public API surface. Defining them in
// fetchengine instead of here breaks what would otherwise be an import
// cycle: fetchengine -> ... and redirect -> fetchengine both need these
// types, and redirect -> fetch -> redirect is not allowed.
type (
	Request      = fetchengine.Request
	Response     = fetchengine.Response
	RedirectMode = fetchengine.RedirectMode
)

const (
	Follow = fetchengine.Follow
	Manual = fetchengine.Manual
	Error  = fetchengine.Error
)

// DefaultMaxRedirects is the hop bound applied when following redirects.
const DefaultMaxRedirects = redirect.DefaultMaxRedirects

// NewRequest is a convenience constructor producing a Request with an
// initialized header map, mirroring net/http.NewRequest's ergonomics.
func NewRequest(method, url string) *Request {
	return &Request{Method: method, URL: url, Header: headers.New()}
}

// DecodeChunked decodes an HTTP/1.1 chunked-transfer-coded body, tolerating
// malformed chunk-size lines and truncated tails by returning whatever was
// successfully decoded. It never fails.
func DecodeChunked(r io.Reader) ([]byte, error) {
	return rawhttp.DecodeChunked(r)
}

// Do issues one request, following, returning, or erroring on redirects per
// req.Redirect. If req.Proxy is empty, internal/envproxy.Lookup supplies a
// default. A proxy that is absent, unrecognized, or itself http(s) is
// served by net/http.Client instead of the SOCKS5 engine -- that dispatch
// never surfaces as an error, only as a logged fallback.
func Do(ctx context.Context, req *Request) (*Response, error) {
	proxy := req.Proxy
	if proxy == "" {
		proxy = envproxy.Lookup()
	}

	if useNativeFallback(proxy) {
		return doNative(ctx, req, proxy)
	}

	d := &redirect.Driver{MaxRedirects: DefaultMaxRedirects}
	withProxy := *req
	withProxy.Proxy = proxy
	return d.Do(ctx, &withProxy, req.Redirect)
}

// useNativeFallback reports whether proxy should be handled by net/http
// rather than the SOCKS5 engine: no proxy at all, or a proxy whose scheme
// net/http already understands natively (http/https), or one that fails to
// even parse as a proxy URL.
func useNativeFallback(proxy string) bool {
	if proxy == "" {
		return true
	}
	canonical, err := proxyurl.Convert(proxy)
	if err != nil {
		return true
	}
	ep, err := proxyurl.Parse(canonical)
	if err != nil {
		return true
	}
	return ep.Scheme == "http" || ep.Scheme == "https"
}

func doNative(ctx context.Context, req *Request, proxy string) (*Response, error) {
	client := &http.Client{}
	if proxy != "" {
		if canonical, err := proxyurl.Convert(proxy); err == nil {
			if proxyURL, err := parseNativeProxyURL(canonical); err == nil {
				client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
			} else {
				slog.Warn("fetchsocks: falling back to direct connection, proxy unusable by net/http", "proxy", proxy, "error", err)
			}
		} else {
			slog.Warn("fetchsocks: falling back to direct connection, proxy unusable by net/http", "proxy", proxy, "error", err)
		}
	}
	switch req.Redirect {
	case fetchengine.Manual, fetchengine.Error:
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	case fetchengine.Follow:
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) > DefaultMaxRedirects {
				return fetcherr.NewRedirectError("maximum redirects exceeded")
			}
			return nil
		}
	}

	var body io.Reader
	if req.Body != nil {
		body = newByteReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("fetchsocks: build native request: %w", err)
	}
	if req.Header != nil {
		req.Header.All(func(key, value string) {
			httpReq.Header.Add(key, value)
		})
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetchsocks: read native response body: %w", err)
	}

	if req.Redirect == fetchengine.Error && resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != "" {
		return nil, fetcherr.NewRedirectError("redirect requested but mode is error")
	}

	hdr := headers.New()
	for k, vs := range resp.Header {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     hdr,
		Body:       respBody,
	}, nil
}

func parseNativeProxyURL(canonical string) (*url.URL, error) {
	return url.Parse(canonical)
}

func newByteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
