package session

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is the set of peers whose forwarding headers are believed.
// The zero value trusts nobody, so the client is always the direct peer.
type TrustedProxies struct {
	nets []*net.IPNet
}

// ParseTrustedProxies accepts plain addresses and CIDR ranges, the same
// notation gin's SetTrustedProxies takes
func ParseTrustedProxies(list []string) (TrustedProxies, error) {
	var t TrustedProxies
	for _, raw := range list {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return TrustedProxies{}, fmt.Errorf("trusted proxy %q: invalid address", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			t.nets = append(t.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, cidr, err := net.ParseCIDR(entry)
		if err != nil {
			return TrustedProxies{}, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		t.nets = append(t.nets, cidr)
	}
	return t, nil
}

// Contains reports whether ip is a trusted proxy
func (t TrustedProxies) Contains(ip net.IP) bool {
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the client behind r. Forwarding headers
// are read only when the direct peer is trusted. X-Forwarded-For is walked
// from the right and the first hop that is not a trusted proxy wins.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteIP(r)
	ip := net.ParseIP(peer)
	if ip == nil || !t.Contains(ip) {
		return peer
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			hopIP := net.ParseIP(hop)
			if hopIP == nil {
				break
			}
			if i == 0 || !t.Contains(hopIP) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
		return realIP
	}
	return peer
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
