package fetch

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/fetchsocks/fetchsocks/internal/testutil"
)

func TestDoNativeFallbackNoProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	req := NewRequest("GET", srv.URL)
	resp, err := Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "hello" {
		t.Fatalf("got status=%d body=%q", resp.StatusCode, resp.Body)
	}
}

func TestDoNativeFallbackHTTPProxyScheme(t *testing.T) {
	// An http:// proxy URL is not a SOCKS family scheme, so fetch.Do must
	// dispatch to net/http rather than the SOCKS5 engine, even though the
	// proxy itself is unreachable -- the fallback still wires the
	// Transport and only fails when the native client actually dials it.
	req := NewRequest("GET", "http://example.test/")
	req.Proxy = "http://127.0.0.1:1"
	_, err := Do(context.Background(), req)
	if err == nil {
		t.Fatalf("expected dial error through unreachable native proxy")
	}
}

func TestDoSOCKS5Dispatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	originLn, _ := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		buf := make([]byte, 4096)
		_, _ = c.Read(buf)
		_, _ = c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	})

	proxyLn, _ := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
			return
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
			return
		}
		req, err := txsocks5.NewRequestFrom(c)
		if err != nil || req.Cmd != txsocks5.CmdConnect {
			return
		}

		origin, err := net.Dial("tcp", originLn.Addr().String())
		if err != nil {
			return
		}
		defer origin.Close()

		if _, err := txsocks5.NewReply(txsocks5.RepSuccess, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(c); err != nil {
			return
		}

		go func() {
			buf := make([]byte, 4096)
			for {
				n, err := c.Read(buf)
				if n > 0 {
					if _, werr := origin.Write(buf[:n]); werr != nil {
						return
					}
				}
				if err != nil {
					return
				}
			}
		}()
		buf := make([]byte, 4096)
		for {
			n, err := origin.Read(buf)
			if n > 0 {
				if _, werr := c.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	})

	req := NewRequest("GET", "http://example.test/")
	req.Proxy = "socks5://" + proxyLn.Addr().String()

	resp, err := Do(ctx, req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "ok" {
		t.Fatalf("got status=%d body=%q", resp.StatusCode, resp.Body)
	}
}

func TestDecodeChunkedWrapper(t *testing.T) {
	got, err := DecodeChunked(bytes.NewReader([]byte("5\r\nhello\r\n0\r\n\r\n")))
	if err != nil {
		t.Fatalf("DecodeChunked() error = %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestNewRequestInitializesHeader(t *testing.T) {
	req := NewRequest("GET", "http://example.test/")
	if req.Header == nil {
		t.Fatal("Header is nil")
	}
	req.Header.Set("X-Test", "1")
	if req.Header.Get("X-Test") != "1" {
		t.Fatal("Set/Get roundtrip failed")
	}
}
