// Package socks5 implements the client side of the RFC 1928/1929 SOCKS5
// handshake: method selection, optional username/password negotiation, and
// the CONNECT request/reply exchange.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 to
// keep the wire-format details in one place and classify failures against
// the taxonomy the dialer needs (auth required vs. auth failed vs. a
// specific REP rejection code), for both address types the dialer emits
// (ATYP domain name and ATYP IPv4).
//
// This package implements exactly the client subset the fetch core needs:
// CONNECT only, no BIND, no UDP ASSOCIATE, no GSSAPI.
package socks5
