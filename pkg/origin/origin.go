// Package origin derives the public and private addresses of a requesting
// device from its headers and connection metadata.
package origin

import (
	"net/http"
	"net/netip"
	"strings"
)

// HeaderForwardedFor is the comma separated proxy chain header.
const HeaderForwardedFor = "X-Forwarded-For"

// PrivateIPHeaders are the device-reported local address headers, checked in order.
var PrivateIPHeaders = []string{
	"X-Private-IP",
	"X-Device-Private-IP",
	"X-Local-IP",
	"X-Device-IP",
}

// Origin holds the addresses observed for one request. Empty means absent.
type Origin struct {
	PublicIP  string `json:"public_ip,omitempty"`
	PrivateIP string `json:"private_ip,omitempty"`
}

// Observe extracts both addresses from r.
func Observe(r *http.Request) Origin {
	return Origin{
		PublicIP:  PublicIP(r),
		PrivateIP: PrivateIP(r),
	}
}

// PublicIP returns the best public address for r.
//
// Candidates are the X-Forwarded-For entries followed by the connection
// address. The first candidate outside private space wins; when every
// candidate is private the first parseable one is returned.
func PublicIP(r *http.Request) string {
	candidates := splitList(r.Header.Get(HeaderForwardedFor))
	candidates = append(candidates, remoteHost(r.RemoteAddr))

	var first netip.Addr
	for _, c := range candidates {
		addr, ok := parse(c)
		if !ok {
			continue
		}
		if !first.IsValid() {
			first = addr
		}
		if !addr.IsPrivate() {
			return addr.String()
		}
	}

	if first.IsValid() {
		return first.String()
	}
	return ""
}

// PrivateIP returns the first private address reported by the device
// headers, falling back to a private entry of X-Forwarded-For.
func PrivateIP(r *http.Request) string {
	for _, h := range PrivateIPHeaders {
		if ip := firstPrivate(splitList(r.Header.Get(h))); ip != "" {
			return ip
		}
	}
	return firstPrivate(splitList(r.Header.Get(HeaderForwardedFor)))
}

// IsPrivate reports whether s parses as an RFC 1918 or RFC 4193 address.
func IsPrivate(s string) bool {
	addr, ok := parse(s)
	return ok && addr.IsPrivate()
}

func firstPrivate(candidates []string) string {
	for _, c := range candidates {
		if addr, ok := parse(c); ok && addr.IsPrivate() {
			return addr.String()
		}
	}
	return ""
}

func parse(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// remoteHost strips the port from a connection address if one is present.
func remoteHost(remoteAddr string) string {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().String()
	}
	return strings.Trim(remoteAddr, "[]")
}
