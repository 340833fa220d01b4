package ratelimit

import (
	"net"
	"net/http"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// rate limiting for that request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc keys requests by the host part of RemoteAddr. X-Forwarded-For is
// not trusted: any client can set it. Deployments behind a proxy should have
// the proxy rewrite RemoteAddr.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
