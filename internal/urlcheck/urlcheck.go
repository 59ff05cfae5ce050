package urlcheck

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Package urlcheck screens audit targets before any network-facing
// step. A rejected URL is a validation failure: never retried, never
// charged.

var (
	ErrInvalidScheme  = errors.New("invalid_url_scheme")
	ErrMissingHost    = errors.New("missing_hostname")
	ErrBlockedHost    = errors.New("blocked_hostname")
	ErrPrivateAddress = errors.New("private_address")
	ErrBlockedPort    = errors.New("blocked_port")
	ErrMalformedURL   = errors.New("malformed_url")
)

var blockedHostnames = map[string]struct{}{
	"169.254.169.254":           {},
	"metadata.google.internal":  {},
	"metadata":                  {},
	"localhost":                 {},
	"127.0.0.1":                 {},
	"0.0.0.0":                   {},
	"::1":                       {},
	"0:0:0:0:0:0:0:1":           {},
	"::":                        {},
}

// CheckTarget validates a URL against the SSRF policy: http/https
// only, standard ports only, and no loopback, private, link-local,
// multicast, or cloud-metadata destinations.
func CheckTarget(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidScheme, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ErrMissingHost
	}
	if _, blocked := blockedHostnames[host]; blocked {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	if strings.Contains(host, "localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if err := checkIP(ip); err != nil {
			return err
		}
	} else if looksLikePrivatePrefix(host) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}

	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || (port != 80 && port != 443) {
			return fmt.Errorf("%w: %s", ErrBlockedPort, portStr)
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback(), ip.IsPrivate(), ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(), ip.IsUnspecified():
		return fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
	case ip.IsMulticast():
		return fmt.Errorf("%w: multicast %s", ErrPrivateAddress, ip)
	}
	return nil
}

// Hostname labels that look like dotted private IPv4 prefixes are
// rejected even when they do not parse as a full address.
func looksLikePrivatePrefix(host string) bool {
	prefixes := []string{"10.", "192.168.", "127.", "169.254."}
	for i := 16; i <= 31; i++ {
		prefixes = append(prefixes, fmt.Sprintf("172.%d.", i))
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

// Normalize prepends https:// when the scheme is missing.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "https://" + raw
	}
	return raw
}
