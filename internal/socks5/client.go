package socks5

import (
	"encoding/binary"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/fetchsocks/fetchsocks/internal/fetcherr"
)

// Auth configures optional username/password authentication for SOCKS5
// negotiation. A zero value means "no credentials configured": method
// selection advertises only MethodNone.
type Auth struct {
	Username string
	Password string
}

// Negotiate performs the SOCKS5 method-selection message and, if the
// server selects username/password, the RFC 1929 sub-negotiation.
//
// If auth has no username configured, only MethodNone is advertised; a
// server that replies with any other method is a protocol violation. If
// auth has a username, both MethodNone and MethodUsernamePassword are
// advertised, and the server's choice of MethodUsernamePassword drives the
// sub-negotiation.
func Negotiate(conn net.Conn, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, "write method selection", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, "read method selection reply", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return fetcherr.NewProxyError(fetcherr.ProxyAuthRequiredWithoutCredentials, "server requires username/password but none were configured", nil)
		}
		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
			return fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, "write username/password sub-negotiation", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, "read username/password reply", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return fetcherr.NewProxyError(fetcherr.ProxyAuthFailed, "username/password rejected", nil)
		}
		return nil
	default:
		return fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, fmt.Sprintf("no acceptable authentication method (server selected 0x%02x)", neg.Method), nil)
	}
}

// ConnectDomain sends a CONNECT request addressing the target by domain
// name (ATYP 0x03) and waits for the reply.
func ConnectDomain(conn net.Conn, host string, port uint16) error {
	if len(host) > 255 {
		return fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, "target hostname exceeds 255 bytes", nil)
	}
	return connect(conn, txsocks5.ATYPDomain, []byte(host), port)
}

// ConnectIPv4 sends a CONNECT request addressing the target by IPv4
// address (ATYP 0x01) and waits for the reply.
func ConnectIPv4(conn net.Conn, ip net.IP, port uint16) error {
	ip4 := ip.To4()
	if ip4 == nil {
		return fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, "ConnectIPv4 requires an IPv4 address", nil)
	}
	return connect(conn, txsocks5.ATYPIPv4, ip4, port)
}

func connect(conn net.Conn, atyp byte, dstAddr []byte, port uint16) error {
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, port)

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, portBytes).WriteTo(conn); err != nil {
		return fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, "write CONNECT request", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fetcherr.NewProxyError(fetcherr.ProxyProtocolViolation, "read CONNECT reply", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return fetcherr.NewProxyConnectRejected(rep.Rep)
	}
	return nil
}
