package dialer

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/fetchsocks/fetchsocks/internal/fetcherr"
	"github.com/fetchsocks/fetchsocks/internal/proxyurl"
	"github.com/fetchsocks/fetchsocks/internal/testutil"
)

func TestDialSuccess(t *testing.T) {
	tests := []struct {
		name string
		user string
		pass string
	}{
		{name: "no_auth"},
		{name: "user_pass", user: "user", pass: "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				_ = handleSOCKS5Connect(ctx, c, tt.user, tt.pass)
			})

			proxy := proxyEndpoint(t, upLn.Addr().String(), tt.user, tt.pass)
			host, port := splitHostPortInt(t, echoLn.Addr().String())

			conn, err := Dial(ctx, Config{DialTimeout: 2 * time.Second}, proxy, host, port, Options{})
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))

			waitUp()
		})
	}
}

func TestDialWithTLS(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cert := testutil.SelfSignedCert(t, "example.test")
	tlsLn, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatal(err)
	}
	defer tlsLn.Close()

	go func() {
		c, err := tlsLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 1024)
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		_, _ = c.Write(buf[:n])
	}()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = handleSOCKS5Connect(ctx, c, "", "")
	})

	proxy := proxyEndpoint(t, upLn.Addr().String(), "", "")
	_, port := splitHostPortInt(t, tlsLn.Addr().String())

	opts := Options{TLS: true, TLSConfig: &tls.Config{InsecureSkipVerify: true}}
	conn, err := Dial(ctx, Config{DialTimeout: 2 * time.Second}, proxy, "example.test", port, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, ok := conn.(*tls.Conn); !ok {
		t.Fatalf("Dial() returned %T, want *tls.Conn", conn)
	}

	testutil.AssertEcho(t, conn, conn, []byte("hello"))

	waitUp()
}

func TestDialContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lc := net.ListenConfig{}
	upLn, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer upLn.Close()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		c, err := upLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		select {}
	}()

	proxy := proxyEndpoint(t, upLn.Addr().String(), "", "")

	_, err = Dial(ctx, Config{DialTimeout: 2 * time.Second}, proxy, "example.test", 1, Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
	var cerr *fetcherr.CancelledError
	if !errors.As(err, &cerr) {
		t.Fatalf("Dial() = %v, want *fetcherr.CancelledError", err)
	}

	_ = upLn.Close()
	<-acceptDone
}

func TestDialConnectRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
			return
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
			return
		}
		req, err := txsocks5.NewRequestFrom(c)
		if err != nil {
			return
		}
		if req.Cmd != txsocks5.CmdConnect {
			return
		}
		_, _ = txsocks5.NewReply(txsocks5.RepConnectionRefused, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(c)
	})

	proxy := proxyEndpoint(t, upLn.Addr().String(), "", "")

	_, err := Dial(ctx, Config{DialTimeout: 2 * time.Second}, proxy, "example.test", 1, Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
	var perr *fetcherr.ProxyError
	if !errors.As(err, &perr) || perr.Kind != fetcherr.ProxyConnectRejected {
		t.Fatalf("Dial() = %v, want ProxyConnectRejected", err)
	}

	waitUp()
}

func TestDialResolveLocally(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
			return
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
			return
		}
		req, err := txsocks5.NewRequestFrom(c)
		if err != nil {
			return
		}
		if req.Cmd != txsocks5.CmdConnect || req.Atyp != txsocks5.ATYPIPv4 {
			return
		}
		_, _ = txsocks5.NewReply(txsocks5.RepSuccess, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(c)

		go func() { _, _ = io.Copy(io.Discard, c) }()
	})

	proxy := proxyEndpoint(t, upLn.Addr().String(), "", "")

	conn, err := Dial(ctx, Config{DialTimeout: 2 * time.Second}, proxy, "127.0.0.1", 80, Options{ResolveLocally: true})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	waitUp()
}

func proxyEndpoint(t *testing.T, addr, user, pass string) proxyurl.Endpoint {
	t.Helper()
	host, port := splitHostPortInt(t, addr)
	return proxyurl.Endpoint{Scheme: "socks5", Host: host, Port: port, User: user, Password: pass}
}

func splitHostPortInt(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

func handleSOCKS5Connect(ctx context.Context, c net.Conn, user, pass string) error {
	if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}

	if user == "" && pass == "" {
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
			return err
		}
	} else {
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(c); err != nil {
			return err
		}

		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return err
		}
		if string(urq.Uname) != user || string(urq.Passwd) != pass {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(c)
			return nil
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(c); err != nil {
			return err
		}
	}

	req, err := txsocks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if req.Cmd != txsocks5.CmdConnect {
		_, _ = txsocks5.NewReply(txsocks5.RepCommandNotSupported, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(c)
		return nil
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		_, _ = txsocks5.NewReply(txsocks5.RepHostUnreachable, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(c)
		return nil
	}
	defer dst.Close()

	a, addr, port, err := txsocks5.ParseAddress(dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(c); err != nil {
		return err
	}

	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)

	return nil
}
