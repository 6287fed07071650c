// Package envproxy looks up a default proxy URL from the process
// environment, for callers that did not specify one explicitly. Grounded
// on the teacher's main.go defaultUpstream, which checks ALL_PROXY then
// all_proxy and returns the first one set; generalized to the ordered
// variable list fetchsocks actually recognizes.
package envproxy

import "os"

// vars is consulted in order; the first set (non-empty) value wins.
var vars = []string{"SOCKS5_PROXY", "SOCKS_PROXY", "HTTP_PROXY", "HTTPS_PROXY"}

// Lookup returns the first non-empty proxy URL found among SOCKS5_PROXY,
// SOCKS_PROXY, HTTP_PROXY, and HTTPS_PROXY, in that order, or "" if none
// are set.
func Lookup() string {
	for _, name := range vars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
