package utils

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ParseHostNoPort returns the host part (no port) from strings like "ip:port", "[v6]:port", or "ip".
func ParseHostNoPort(s string) string {
	if s == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		return h
	}
	return strings.Trim(s, "[]")
}

// FirstForwardedFor returns the first IP from X-Forwarded-For (left-most), trimmed.
func FirstForwardedFor(xff string) string {
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

// ClientIP resolves the address used for access control and submit throttling.
// With trustProxy it prefers CF-Connecting-IP, X-Forwarded-For (first), then
// X-Real-IP; otherwise only RemoteAddr is used.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		candidates := []string{
			strings.TrimSpace(r.Header.Get("CF-Connecting-IP")),
			FirstForwardedFor(r.Header.Get("X-Forwarded-For")),
			strings.TrimSpace(r.Header.Get("X-Real-IP")),
		}
		for _, v := range candidates {
			if ip := ParseHostNoPort(v); ip != "" {
				return ip
			}
		}
	}
	return ParseHostNoPort(r.RemoteAddr)
}

// IPMatcher matches exact addresses and prefixes. IPv4-mapped IPv6 addresses
// are compared as IPv4.
type IPMatcher struct {
	prefixes []netip.Prefix
}

// NewIPMatcher parses entries like "10.0.0.0/8" or "192.168.1.10".
// Unparseable entries are skipped and returned so the caller can report them.
func NewIPMatcher(list []string) (*IPMatcher, []string) {
	m := &IPMatcher{}
	var invalid []string
	for _, raw := range list {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if p, err := netip.ParsePrefix(s); err == nil {
			m.prefixes = append(m.prefixes, p.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(s); err == nil {
			addr = addr.Unmap()
			m.prefixes = append(m.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		invalid = append(invalid, s)
	}
	return m, invalid
}

func (m *IPMatcher) IsEmpty() bool {
	return len(m.prefixes) == 0
}

func (m *IPMatcher) Allow(ipStr string) bool {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}
	addr = addr.Unmap().WithZone("")
	for _, p := range m.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
