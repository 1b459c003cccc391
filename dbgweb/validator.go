package dbgweb

import (
	"net"
	"net/http"
)

// Validator decides whether the debug bar, and its endpoints, are exposed for
// a request. Policies like IP allow-lists or AJAX filtering belong here.
type Validator interface {
	Allow(r *http.Request) bool
}

// ValidatorFunc adapts a function to a validator.
type ValidatorFunc func(r *http.Request) bool

// Allow implements Validator.
func (f ValidatorFunc) Allow(r *http.Request) bool { return f(r) }

// AllowAll allows every request.
var AllowAll Validator = ValidatorFunc(func(*http.Request) bool { return true })

// AllowLoopback allows requests whose remote address is a loopback address,
// or a unix socket.
var AllowLoopback Validator = ValidatorFunc(func(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" || host == "@" {
		return true // unix socket
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
})
