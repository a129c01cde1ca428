package identity

import (
	"net/http/httptest"
	"strings"
	"testing"
)

const chromeUA = "Mozilla/5.0 (Macintosh) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestIdentifyDeterministic(t *testing.T) {
	inputs := []struct {
		address   string
		userAgent string
		mode      Mode
	}{
		{"203.0.113.7", chromeUA, ModeProduction},
		{"203.0.113.7", "", ModeProduction},
		{"", chromeUA, ModeProduction},
		{"127.0.0.1", chromeUA, ModeDevelopment},
		{LocalAddress, chromeUA, ModeProduction},
	}

	for _, in := range inputs {
		first := Identify(in.address, in.userAgent, in.mode)
		second := Identify(in.address, in.userAgent, in.mode)
		if first != second {
			t.Errorf("Identify(%q, %q, %q) not deterministic: %q != %q",
				in.address, in.userAgent, in.mode, first, second)
		}
	}
}

func TestIdentifyModePrefixes(t *testing.T) {
	prod := Identify("203.0.113.7", chromeUA, ModeProduction)
	if !strings.HasPrefix(prod, "ip_") {
		t.Errorf("production id = %q, want ip_ prefix", prod)
	}

	dev := Identify("203.0.113.7", chromeUA, ModeDevelopment)
	if !strings.HasPrefix(dev, "local_") {
		t.Errorf("development id = %q, want local_ prefix", dev)
	}

	// The fixed local address routes to the local namespace even in production.
	local := Identify(LocalAddress, chromeUA, ModeProduction)
	if !strings.HasPrefix(local, "local_") {
		t.Errorf("local-dev-ip id = %q, want local_ prefix", local)
	}
}

func TestIdentifyDistinctInputs(t *testing.T) {
	a := Identify("203.0.113.7", chromeUA, ModeProduction)
	b := Identify("203.0.113.8", chromeUA, ModeProduction)
	if a == b {
		t.Errorf("distinct addresses yielded identical ids: %q", a)
	}

	c := Identify("203.0.113.7", "Mozilla/5.0 Firefox/121.0", ModeProduction)
	if a == c {
		t.Errorf("distinct user agents yielded identical ids: %q", a)
	}
}

func TestIdentifyFixedWidth(t *testing.T) {
	id := Identify("203.0.113.7", chromeUA, ModeProduction)
	if got := len(strings.TrimPrefix(id, "ip_")); got != hashPrefixLen {
		t.Errorf("id body length = %d, want %d", got, hashPrefixLen)
	}
}

func TestIdentifyDevelopmentIgnoresAddress(t *testing.T) {
	a := Identify("10.0.0.1", chromeUA, ModeDevelopment)
	b := Identify("10.0.0.2", chromeUA, ModeDevelopment)
	if a != b {
		t.Errorf("development ids differ across addresses: %q != %q", a, b)
	}
}

func TestIdentifyNeverEmpty(t *testing.T) {
	if id := Identify("", "", ModeProduction); id == "" {
		t.Error("Identify with empty inputs returned empty id")
	}
}

func TestBrowserFingerprint(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      string
	}{
		{"chrome with safari token", chromeUA, "Chrome/120.0.0.0-Safari/537.36"},
		{"firefox", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Firefox/121.0"},
		{"unrecognised", "curl/8.4.0", UnknownAddress},
		{"empty", "", UnknownAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := browserFingerprint(tt.userAgent); got != tt.want {
				t.Errorf("browserFingerprint(%q) = %q, want %q", tt.userAgent, got, tt.want)
			}
		})
	}
}

func TestClientAddress(t *testing.T) {
	t.Run("development returns fixed address", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "203.0.113.7:51234"
		if got := ClientAddress(r, ModeDevelopment, false); got != LocalAddress {
			t.Errorf("ClientAddress = %q, want %q", got, LocalAddress)
		}
	})

	t.Run("socket address without proxy trust", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "203.0.113.7:51234"
		r.Header.Set("X-Forwarded-For", "198.51.100.9")
		if got := ClientAddress(r, ModeProduction, false); got != "203.0.113.7" {
			t.Errorf("ClientAddress = %q, want socket address", got)
		}
	})

	t.Run("forwarded header with proxy trust", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "10.0.0.1:80"
		r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
		if got := ClientAddress(r, ModeProduction, true); got != "198.51.100.9" {
			t.Errorf("ClientAddress = %q, want first forwarded hop", got)
		}
	})

	t.Run("ipv6 loopback normalised", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "[::1]:51234"
		if got := ClientAddress(r, ModeProduction, false); got != "127.0.0.1" {
			t.Errorf("ClientAddress = %q, want 127.0.0.1", got)
		}
	})
}
