package dialer

import (
	"net"
	"time"
)

// HandshakeDeadline is the idle deadline the Dialer imposes from TCP
// connect until SOCKS5 method selection (including any username/password
// sub-negotiation) completes (spec section 5, "Timeouts"). The CONNECT
// exchange and the TLS handshake run without it.
const HandshakeDeadline = 30 * time.Second

// Config carries the tunables shared by every dial.
type Config struct {
	// DialTimeout bounds the initial TCP connect to the proxy.
	DialTimeout time.Duration
	KeepAlive   net.KeepAliveConfig
}
