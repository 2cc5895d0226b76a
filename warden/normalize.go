package warden

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrInvalidAddress reports a string that does not parse as an IPv4 or IPv6
// literal. Adapters skip the owning host element when they hit this; it is
// never a job-level failure.
var ErrInvalidAddress = errors.New("invalid ip address")

// MaxEvidenceLen caps evidence snippets so verbose scanner output cannot
// grow rows without bound.
const MaxEvidenceLen = 65536

// NormalizeIP parses raw as an IPv4 or IPv6 literal and returns its canonical
// textual form. Surrounding whitespace is ignored. The result is a fixed
// point: NormalizeIP(NormalizeIP(s)) == NormalizeIP(s).
func NormalizeIP(raw string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return addr.String(), nil
}

// NormalizeHostname trims and lowercases a hostname. The empty string means
// "absent": hostnames are never case- or whitespace-sensitive downstream.
func NormalizeHostname(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// TruncateEvidence keeps the first MaxEvidenceLen characters of raw.
func TruncateEvidence(raw string) string {
	if len(raw) <= MaxEvidenceLen {
		return raw
	}
	runes := []rune(raw)
	if len(runes) <= MaxEvidenceLen {
		return raw
	}
	return string(runes[:MaxEvidenceLen])
}
