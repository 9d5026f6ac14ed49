// Package identity parses the identity a device announces in its User-Agent.
package identity

import "strings"

// NormalizeMAC reduces s to its lowercase hexadecimal characters.
// Separators, whitespace and anything outside [0-9a-f] after lowercasing
// are dropped, so "AA:BB-cc.11 22 33" becomes "aabbcc112233".
// An empty input yields an empty token.
func NormalizeMAC(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidMAC reports whether s is a stored-form hardware address:
// 12 to 14 lowercase hexadecimal characters.
func IsValidMAC(s string) bool {
	if len(s) < 12 || len(s) > 14 {
		return false
	}
	return NormalizeMAC(s) == s
}
