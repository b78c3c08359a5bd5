package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// IPConfig lists the proxies whose forwarding headers are believed. Build
// it with NewIPConfig; a nil *IPConfig trusts no proxy.
type IPConfig struct {
	proxies []*net.IPNet
}

// NewIPConfig parses trusted proxy CIDR ranges. A malformed range is an
// error rather than silently ignored.
func NewIPConfig(trustedProxies []string) (*IPConfig, error) {
	cfg := &IPConfig{}
	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		cfg.proxies = append(cfg.proxies, ipNet)
	}
	return cfg, nil
}

func (c *IPConfig) trusts(ip net.IP) bool {
	if c == nil || ip == nil {
		return false
	}
	for _, n := range c.proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the address recorded in audit rows and used as
// the rate-limit key. Forwarding headers are read only when the peer is a
// trusted proxy. X-Forwarded-For is walked from the right and the first hop
// that is not itself a trusted proxy wins, so a client cannot choose its
// own address by prepending entries.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteHost(r)
	if !config.trusts(net.ParseIP(remote)) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		client := remote
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				break
			}
			client = ip.String()
			if !config.trusts(ip) {
				break
			}
		}
		return client
	}

	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}

	return remote
}

func remoteHost(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}
