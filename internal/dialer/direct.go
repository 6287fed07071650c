package dialer

import (
	"context"
	"errors"
	"net"

	"github.com/fetchsocks/fetchsocks/internal/fetcherr"
)

// dialProxyTCP opens a TCP connection to the proxy's host:port, applying
// cfg.DialTimeout and cfg.KeepAlive. A hostname that fails to resolve is
// reported as a dedicated "proxy host not found" error distinct from other
// connection failures (spec section 4.3, step 1).
func dialProxyTCP(ctx context.Context, cfg Config, proxyAddr string) (net.Conn, error) {
	dd := net.Dialer{Timeout: cfg.DialTimeout}

	conn, err := dd.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, fetcherr.NewProxyError(fetcherr.ProxyUnreachable, "proxy host not found: "+proxyAddr, err)
		}
		return nil, fetcherr.NewProxyError(fetcherr.ProxyUnreachable, "dial proxy "+proxyAddr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(cfg.KeepAlive)
	}

	return conn, nil
}
