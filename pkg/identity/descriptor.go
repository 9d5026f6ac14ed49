package identity

import (
	"errors"
	"strings"
)

// ErrInvalidDescriptor is returned when the User-Agent carries fewer than
// four whitespace separated tokens.
var ErrInvalidDescriptor = errors.New("invalid descriptor format")

// minDescriptorTokens is vendor, model, version and at least one identity token.
const minDescriptorTokens = 4

// Descriptor is what a device announces about itself in the User-Agent
// header: "<vendor> <model> <version> <identity...>".
type Descriptor struct {
	Vendor   string `json:"vendor"`
	Model    string `json:"model"`
	Version  string `json:"version"`
	Identity string `json:"identity"`
	Raw      string `json:"raw"`
}

// MAC returns the identity normalized as a hardware address.
func (d Descriptor) MAC() string {
	return NormalizeMAC(d.Identity)
}

// ParseDescriptor splits a User-Agent value into a Descriptor.
//
// The identity is every token after the version rejoined with single
// spaces, so account strings containing spaces survive. The identity is not
// validated; it may be a hardware address or an opaque identifier.
func ParseDescriptor(userAgent string) (Descriptor, error) {
	raw := strings.TrimSpace(userAgent)
	parts := strings.Fields(raw)
	if len(parts) < minDescriptorTokens {
		return Descriptor{Raw: raw}, ErrInvalidDescriptor
	}

	return Descriptor{
		Vendor:   parts[0],
		Model:    parts[1],
		Version:  parts[2],
		Identity: strings.Join(parts[3:], " "),
		Raw:      raw,
	}, nil
}
