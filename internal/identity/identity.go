// Package identity derives stable session identities from connection metadata.
//
// A session identity is a deterministic fingerprint correlating a physical
// connection to a persisted conversation. It is NOT an authentication
// credential: two clients presenting the same address and user agent resolve
// to the same conversation by design.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// Mode selects how identities are derived. In development the client address
// is meaningless (everything is loopback), so identities are derived from the
// browser fingerprint alone.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

const (
	// LocalAddress is the fixed address substituted in development mode.
	LocalAddress = "local-dev-ip"

	// UnknownAddress is used when no client address can be determined.
	// Identification must never fail; an unknown peer still gets a stable id.
	UnknownAddress = "unknown"

	// hashPrefixLen is the number of hex digits kept from the digest.
	hashPrefixLen = 16
)

// browserPattern extracts the stable part of a user agent: browser name and
// version. The rest of the UA string churns across OS updates and would break
// identity stability in development mode.
var browserPattern = regexp.MustCompile(`(Chrome|Firefox|Safari|Edge)/[\d.]+`)

// Identify derives the session identity for a connection. It is pure and
// deterministic: identical inputs always yield the same id, and ids from
// different modes carry distinct prefixes so they can never collide.
func Identify(address, userAgent string, mode Mode) string {
	if address == "" {
		address = UnknownAddress
	}

	if mode != ModeProduction || address == LocalAddress {
		return "local_" + digest("local-"+browserFingerprint(userAgent))
	}

	return "ip_" + digest(address+userAgent)
}

// browserFingerprint reduces a user agent to its browser name/version tokens,
// joined with "-". Unrecognised agents collapse to "unknown".
func browserFingerprint(userAgent string) string {
	tokens := browserPattern.FindAllString(userAgent, -1)
	if len(tokens) == 0 {
		return UnknownAddress
	}
	return strings.Join(tokens, "-")
}

func digest(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:hashPrefixLen]
}

// ClientAddress extracts the peer address for an HTTP request.
//
// In development mode a fixed address is returned so local identities stay
// stable across restarts. X-Forwarded-For is honoured only when the caller
// trusts the fronting proxy; otherwise the socket address wins. IPv6 loopback
// forms are normalised to 127.0.0.1 so dual-stack setups map to one identity.
func ClientAddress(r *http.Request, mode Mode, trustProxy bool) string {
	if mode != ModeProduction {
		return LocalAddress
	}

	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if addr := strings.TrimSpace(first); addr != "" {
				return normalizeLoopback(addr)
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return UnknownAddress
	}
	return normalizeLoopback(host)
}

func normalizeLoopback(addr string) string {
	if addr == "::1" || addr == "::ffff:127.0.0.1" {
		return "127.0.0.1"
	}
	return addr
}
