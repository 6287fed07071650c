package dialer

// Package dialer implements the SOCKS5 Dialer component: it opens a TCP
// connection to a SOCKS5 proxy, drives the RFC 1928/1929 negotiation and
// CONNECT exchange via internal/socks5, optionally upgrades the resulting
// byte stream to TLS with the correct SNI, and returns a duplex net.Conn to
// the target -- transparent to everything downstream.
