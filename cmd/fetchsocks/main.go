package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/fetchsocks/fetchsocks"
	"github.com/fetchsocks/fetchsocks/internal/headers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		urls      = pflag.StringArray("url", nil, "URL to fetch (repeatable; multiple URLs are fetched concurrently)")
		method    = pflag.String("method", "GET", "HTTP method")
		proxy     = pflag.String("proxy", "", "Proxy URL: socks5://[user:pass@]host:port | http(s)://[user:pass@]host:port. Empty uses the environment default.")
		redirect  = pflag.String("redirect", "follow", "Redirect mode: follow | manual | error")
		headerArg = pflag.StringArray("header", nil, "Request header \"Name: Value\" (repeatable)")
		data      = pflag.String("data", "", "Request body")
		insecure  = pflag.Bool("insecure", false, "Disable TLS certificate verification")
		timeout   = pflag.Duration("timeout", 30*time.Second, "Per-request timeout")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if len(*urls) == 0 {
		return errors.New("no URLs given (set at least one --url)")
	}

	mode, err := parseRedirectMode(*redirect)
	if err != nil {
		return fmt.Errorf("invalid --redirect: %w", err)
	}

	hdr, err := parseHeaders(*headerArg)
	if err != nil {
		return fmt.Errorf("invalid --header: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, u := range *urls {
		u := u
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, *timeout)
			defer cancel()

			req := &fetch.Request{
				Method:   *method,
				URL:      u,
				Header:   hdr.Clone(),
				Proxy:    *proxy,
				Redirect: mode,
			}
			if *data != "" {
				req.Body = []byte(*data)
			}
			if *insecure {
				req.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Opt-in via --insecure.
			}

			resp, err := fetch.Do(reqCtx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}

			if err := printResponse(u, resp); err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
			return nil
		})
	}

	return g.Wait()
}

func printResponse(u string, resp *fetch.Response) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s\n", u, resp.Status)
	resp.Header.All(func(key, value string) {
		fmt.Fprintf(&buf, "%s: %s\n", key, value)
	})
	buf.WriteString("\n")
	buf.Write(resp.Body)
	buf.WriteString("\n")
	_, err := io.Copy(os.Stdout, &buf)
	return err
}

func parseRedirectMode(s string) (fetch.RedirectMode, error) {
	switch s {
	case "follow", "":
		return fetch.Follow, nil
	case "manual":
		return fetch.Manual, nil
	case "error":
		return fetch.Error, nil
	default:
		return 0, fmt.Errorf("unrecognized mode %q (want follow|manual|error)", s)
	}
}

func parseHeaders(raw []string) (*headers.Map, error) {
	h := headers.New()
	for _, line := range raw {
		idx := bytes.IndexByte([]byte(line), ':')
		if idx < 0 {
			return nil, fmt.Errorf("expected \"Name: Value\", got %q", line)
		}
		name := line[:idx]
		value := line[idx+1:]
		for len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		h.Add(name, value)
	}
	return h, nil
}
