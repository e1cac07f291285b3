package authhttp

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPFunc determines the client IP used for rate limiting.
//
// Returning an empty string means "unknown" and causes rate limiting to fail open.
type ClientIPFunc func(r *http.Request) string

// DefaultForwardedHeaders are consulted, in order, behind a trusted proxy.
var DefaultForwardedHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For"}

// DefaultClientIP uses RemoteAddr when it is a public address. Private peers
// (a reverse proxy or ingress) yield "" so one proxy is not limited as a single client.
func DefaultClientIP() ClientIPFunc {
	return func(r *http.Request) string {
		if a, ok := peerAddr(r); ok && isPublicAddr(a) {
			return a.String()
		}
		return ""
	}
}

// ClientIPFromForwardedHeaders trusts headers only when the immediate peer is in
// trustedProxies. Headers default to DefaultForwardedHeaders; list headers keep
// only their left-most entry.
func ClientIPFromForwardedHeaders(trustedProxies []netip.Prefix, headers ...string) ClientIPFunc {
	if len(headers) == 0 {
		headers = DefaultForwardedHeaders
	}
	fallback := DefaultClientIP()
	return func(r *http.Request) string {
		peer, ok := peerAddr(r)
		if !ok {
			return ""
		}
		if !trusted(peer, trustedProxies) {
			return fallback(r)
		}
		for _, h := range headers {
			if a, ok := forwardedAddr(r.Header.Get(h)); ok && isPublicAddr(a) {
				return a.String()
			}
		}
		return fallback(r)
	}
}

// eventIP is the address recorded on grant events. Unlike rate limiting it
// keeps private peers.
func (s *Service) eventIP(r *http.Request) string {
	fn := s.clientIP
	if fn == nil {
		fn = DefaultClientIP()
	}
	if ip := fn(r); ip != "" {
		return ip
	}
	if a, ok := peerAddr(r); ok {
		return a.String()
	}
	return ""
}

func trusted(a netip.Addr, proxies []netip.Prefix) bool {
	for _, p := range proxies {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func forwardedAddr(v string) (netip.Addr, bool) {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	a, err := netip.ParseAddr(strings.TrimSpace(v))
	return a, err == nil
}

func peerAddr(r *http.Request) (netip.Addr, bool) {
	if r == nil || r.RemoteAddr == "" {
		return netip.Addr{}, false
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil && h != "" {
		host = h
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func isPublicAddr(a netip.Addr) bool {
	if !a.IsValid() {
		return false
	}
	if a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalMulticast() || a.IsLinkLocalUnicast() {
		return false
	}
	if a.IsMulticast() || a.IsUnspecified() {
		return false
	}
	return true
}
