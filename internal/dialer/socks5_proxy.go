// This file implements the SOCKS5 proxy dialer. Grounded on the teacher's
// DialContext shape (TCP dial, then negotiate) and its
// http_proxy.go's tls.Client-wrap-with-deadline pattern for the TLS
// upgrade step, generalized from the teacher's high-level socks5.NewClient
// call (which hides the state machine) to the explicit
// negotiate/connect/upgrade sequence the specification requires:
// local-DNS-resolve option, a configurable TLS upgrade, a shared
// handshake deadline, and context-driven cancellation.
package dialer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fetchsocks/fetchsocks/internal/dnsresolve"
	"github.com/fetchsocks/fetchsocks/internal/fetcherr"
	"github.com/fetchsocks/fetchsocks/internal/proxyurl"
	"github.com/fetchsocks/fetchsocks/internal/socks5"
)

// Options configures a single Dial call.
type Options struct {
	// TLS, if true, upgrades the tunnel to TLS once the SOCKS5 CONNECT
	// succeeds, using targetHost (unbracketed) as the SNI server name.
	TLS bool

	// ResolveLocally, if true, resolves the target hostname to an IPv4
	// address before sending CONNECT and emits ATYP 0x01 (IPv4); otherwise
	// the hostname is sent as ATYP 0x03 (domain name) and the proxy
	// resolves it.
	ResolveLocally bool

	// TLSConfig carries caller TLS options (e.g. InsecureSkipVerify);
	// ServerName is always overridden to the target host. May be nil.
	TLSConfig *tls.Config
}

// Dial opens a TCP connection to proxy, performs the SOCKS5 handshake
// (method selection, optional RFC 1929 auth, CONNECT to
// targetHost:targetPort), and returns the resulting duplex stream, raw TCP
// or TLS-wrapped per opts.TLS. ctx governs the whole operation: an
// already-cancelled ctx fails before any bytes are written, and
// cancellation at any point destroys the underlying socket.
func Dial(ctx context.Context, cfg Config, proxy proxyurl.Endpoint, targetHost string, targetPort int, opts Options) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fetcherr.NewCancelledError(err, 0)
	}

	proxyAddr := net.JoinHostPort(proxy.Host, strconv.Itoa(proxy.Port))

	conn, err := dialProxyTCP(ctx, cfg, proxyAddr)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(HandshakeDeadline)); err != nil {
		_ = conn.Close()
		return nil, fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, "set handshake deadline", err)
	}

	auth := socks5.Auth{Username: proxy.User, Password: proxy.Password}
	if err := socks5.Negotiate(conn, auth); err != nil {
		_ = conn.Close()
		return nil, classifyIOErr(err)
	}

	// The deadline covers TCP connect through the first bytes received
	// from the proxy (spec section 5); Negotiate's reply read is that
	// first byte, so the deadline is cleared here.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, "clear handshake deadline", err)
	}

	if err := connectTarget(ctx, conn, targetHost, uint16(targetPort), opts.ResolveLocally); err != nil {
		_ = conn.Close()
		return nil, classifyIOErr(err)
	}

	if !opts.TLS {
		return conn, nil
	}

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	tlsConfig = tlsConfig.Clone()
	tlsConfig.ServerName = targetHost

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		return nil, fetcherr.NewTLSError(err)
	}

	return tlsConn, nil
}

func connectTarget(ctx context.Context, conn net.Conn, host string, port uint16, resolveLocally bool) error {
	if !resolveLocally {
		return socks5.ConnectDomain(conn, host, port)
	}

	ip, err := dnsresolve.ResolveIPv4(ctx, host)
	if err != nil {
		return fetcherr.NewProxyError(fetcherr.ProxyUnreachable, fmt.Sprintf("resolve %s locally", host), err)
	}
	return socks5.ConnectIPv4(conn, ip, port)
}

// classifyIOErr classifies an error whose chain holds a net.Error timeout
// (e.g. the handshake deadline expiring mid-read, which internal/socks5
// wraps as a protocol violation) as a timeout; any other error, already
// typed by internal/socks5 or connectTarget, is passed through.
func classifyIOErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fetcherr.NewProxyError(fetcherr.ProxyTimeout, "socks5 handshake timed out", err)
	}
	return err
}
