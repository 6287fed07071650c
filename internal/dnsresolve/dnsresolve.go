// Package dnsresolve implements the "resolve this hostname to an IPv4
// address" collaborator named in the specification's external-collaborator
// list, used by the SOCKS5 dialer when local DNS resolution is requested
// instead of asking the proxy to resolve the target itself.
package dnsresolve

import (
	"context"
	"fmt"
	"net"
)

// ResolveIPv4 resolves host to its first IPv4 address using the default
// resolver. It fails if host has no A record.
func ResolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("dnsresolve: %s is not an IPv4 address", host)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("dnsresolve: lookup %s: %w", host, err)
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("dnsresolve: no A record for %s", host)
}
