package mcphub

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ValidateHTTPURL enforces scheme whitelisting for remote MCP backends:
// https is always allowed, plain http only when allowInsecure is set.
func ValidateHTTPURL(rawURL string, allowInsecure bool, serverName string) error {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return fmt.Errorf("MCP server %q: URL %q has no scheme (expected https:// or http://)", serverName, rawURL)
	}
	scheme := strings.ToLower(rawURL[:idx])

	switch scheme {
	case "https":
		return nil
	case "http":
		if allowInsecure {
			return nil
		}
		return fmt.Errorf("MCP server %q: HTTP transport requires HTTPS; set allow_insecure to allow plain HTTP", serverName)
	default:
		return fmt.Errorf("MCP server %q: unsupported URL scheme %q; only https:// (and http:// with allow_insecure) are supported", serverName, scheme)
	}
}

// ParseHostPort extracts the host and port implied by a URL, defaulting the
// port from the scheme when absent. Returns ("", 0) if unparseable.
func ParseHostPort(rawURL string) (string, int) {
	parts := strings.SplitN(rawURL, "://", 2)
	if len(parts) != 2 {
		return "", 0
	}
	scheme, rest := parts[0], parts[1]
	authority := strings.SplitN(rest, "/", 2)[0]
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		authority = authority[at+1:]
	}

	defaultPort := 80
	if strings.EqualFold(scheme, "https") {
		defaultPort = 443
	}

	if strings.HasPrefix(authority, "[") {
		// IPv6 literal, e.g. [::1]:8443
		end := strings.Index(authority, "]")
		if end < 0 {
			return "", 0
		}
		host := authority[:end+1]
		rest := authority[end+1:]
		if strings.HasPrefix(rest, ":") {
			if p, err := strconv.Atoi(rest[1:]); err == nil {
				return host, p
			}
		}
		return host, defaultPort
	}

	if h, p, err := net.SplitHostPort(authority); err == nil {
		if port, err := strconv.Atoi(p); err == nil {
			return h, port
		}
	}
	return authority, defaultPort
}

// PreflightSSRFCheck resolves rawURL's host and rejects it if any resolved
// address is a private/reserved/loopback/link-local/metadata IP. This is
// best-effort (a TOCTOU gap against DNS rebinding remains) but catches the
// common case of an MCP config accidentally pointing HTTP transport at an
// internal service.
func PreflightSSRFCheck(rawURL, serverName string) error {
	host, port := ParseHostPort(rawURL)
	if host == "" {
		return nil // unparseable host; let the transport report the error
	}
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")

	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil // DNS failure; transport will report
	}

	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if IsSSRFDangerousIP(ip) {
			return fmt.Errorf("MCP server %q: resolved IP %s (port %d) is a private/reserved address (SSRF protection); use stdio transport for local servers",
				serverName, ip, port)
		}
	}
	return nil
}

// IsSSRFDangerousIP reports whether ip belongs to a loopback, private,
// link-local, unspecified, or cloud-metadata range that outbound MCP HTTP
// transport must never target.
func IsSSRFDangerousIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		if v4.IsLoopback() || v4.IsPrivate() || v4.IsLinkLocalUnicast() || v4.IsUnspecified() {
			return true
		}
		// 169.254.169.254: cloud metadata endpoint, also covered by
		// IsLinkLocalUnicast above but named explicitly for clarity.
		return v4.Equal(net.IPv4(169, 254, 169, 254))
	}
	return ip.IsLoopback() || ip.IsUnspecified() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
