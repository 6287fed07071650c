// Package redirect wraps internal/fetchengine with RFC-defined redirect
// handling: follow/manual/error modes, status-specific method and body
// rewriting, cross-origin credential stripping, automatic Referer, and a
// hop limit. Grounded on the teacher's internal/proxy forwarding loop
// shape (copy.go's bidirectional relay) generalized from "relay bytes
// until EOF" to "relay requests until a terminal response," with each
// hop's request built fresh per spec.md 4.7's immutability rule.
package redirect

import (
	"context"
	"net/url"
	"strconv"

	"github.com/fetchsocks/fetchsocks/internal/fetcherr"
	"github.com/fetchsocks/fetchsocks/internal/fetchengine"
)

// DefaultMaxRedirects is the hop bound used when Driver.MaxRedirects is 0.
const DefaultMaxRedirects = 20

// Driver follows, or declines to follow, redirects for one logical fetch.
type Driver struct {
	// MaxRedirects bounds the number of hops in Follow mode. Zero means
	// DefaultMaxRedirects.
	MaxRedirects int
}

var redirectableStatus = map[int]bool{
	301: true, 302: true, 303: true, 307: true, 308: true,
}

// Do issues req, following further hops per mode until a non-redirect
// response is returned, the mode declines to follow, or the hop bound is
// exceeded.
func (d *Driver) Do(ctx context.Context, req *fetchengine.Request, mode fetchengine.RedirectMode) (*fetchengine.Response, error) {
	max := d.MaxRedirects
	if max == 0 {
		max = DefaultMaxRedirects
	}

	originScheme, originHost, originPort, err := splitOrigin(req.URL)
	if err != nil {
		return nil, fetcherr.NewConfigError("invalid request url", err)
	}

	current := req
	hops := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, fetcherr.NewCancelledError(err, hops)
		}

		resp, err := fetchengine.Do(ctx, current)
		if err != nil {
			return nil, err
		}

		if !redirectableStatus[resp.StatusCode] {
			return resp, nil
		}
		location := resp.Header.Get("Location")
		if location == "" {
			return resp, nil
		}

		switch mode {
		case fetchengine.Manual:
			return resp, nil
		case fetchengine.Error:
			return nil, fetcherr.NewRedirectError("redirect requested but mode is error")
		}

		if hops >= max {
			return nil, fetcherr.NewRedirectError("maximum redirects exceeded")
		}

		nextURL, err := resolveLocation(current.URL, location)
		if err != nil {
			return nil, fetcherr.NewRedirectError("invalid redirect location: " + err.Error())
		}

		next, err := nextRequest(current, nextURL, resp.StatusCode, originScheme, originHost, originPort)
		if err != nil {
			return nil, fetcherr.NewRedirectError(err.Error())
		}

		hops++
		current = next
	}
}

// nextRequest builds the request for the next hop without mutating prev,
// applying spec.md 4.7's method/body rewrite and header propagation rules.
func nextRequest(prev *fetchengine.Request, nextURL string, status int, originScheme, originHost string, originPort int) (*fetchengine.Request, error) {
	method := prev.Method
	var body []byte = prev.Body

	switch {
	case status == 303:
		method = "GET"
		body = nil
	case (status == 301 || status == 302) && method != "GET" && method != "HEAD":
		method = "GET"
		body = nil
	case status == 307 || status == 308:
		// preserved as-is
	}

	hdr := prev.Header.Clone()

	scheme, host, port, err := splitOrigin(nextURL)
	if err != nil {
		return nil, err
	}
	if scheme != originScheme || host != originHost || port != originPort {
		hdr.Del("Authorization")
		hdr.Del("Cookie")
		hdr.Del("Proxy-Authorization")
	}
	if !hdr.Has("Referer") {
		hdr.Set("Referer", prev.URL)
	}

	return &fetchengine.Request{
		Method:    method,
		URL:       nextURL,
		Header:    hdr,
		Body:      body,
		Proxy:     prev.Proxy,
		TLSConfig: prev.TLSConfig,
		Redirect:  prev.Redirect,
	}, nil
}

func resolveLocation(baseURL, location string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func splitOrigin(rawURL string) (scheme, host string, port int, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", 0, err
	}
	scheme = u.Scheme
	host = u.Hostname()
	port = 80
	if scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", "", 0, err
		}
		port = n
	}
	return scheme, host, port, nil
}
