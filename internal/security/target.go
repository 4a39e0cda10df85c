// Package security validates render targets before they reach a browser.
package security

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Target validation errors.
var (
	ErrInvalidTarget    = errors.New("invalid target URL")
	ErrBlockedScheme    = errors.New("target scheme not allowed")
	ErrLoopbackBlocked  = errors.New("loopback targets are not allowed")
	ErrPrivateIPBlocked = errors.New("private or link-local targets are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata targets are not allowed")
)

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// blockedHostnames are hosts that must never be rendered regardless of what
// they resolve to.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"instance-data":            true,
}

// metadataIPs are cloud provider metadata endpoints. Rendering these would
// hand instance credentials to whoever controls the target page.
var metadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"), // AWS, GCP, Azure, DigitalOcean
	net.ParseIP("169.254.170.2"),   // AWS ECS task metadata
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud IMDS
	net.ParseIP("fd00:ec2::254"),   // AWS IPv6 metadata
	net.ParseIP("fc00:ec2::254"),   // AWS IPv6 metadata (alternate)
}

// ValidateTargetURL checks that a target URL is safe to hand to the browser.
// It rejects non-HTTP(S) schemes, loopback, private/link-local ranges, cloud
// metadata endpoints, and the usual IP encoding bypasses (decimal, octal,
// hex, shortened forms, IPv4-mapped IPv6). Setting allowPrivate skips the
// loopback/private checks for test rigs that render local fixtures; the
// metadata block always applies.
func ValidateTargetURL(rawURL string, allowPrivate bool) error {
	if rawURL == "" {
		return ErrInvalidTarget
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidTarget
	}
	if !allowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedScheme
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return ErrInvalidTarget
	}

	if !allowPrivate {
		if blockedHostnames[hostname] || isLocalhostName(hostname) {
			return ErrLoopbackBlocked
		}
	}

	if ip := parseIPLenient(hostname); ip != nil {
		return checkIP(normalizeMapped(ip), allowPrivate)
	}

	// Resolve hostnames and vet every address. A resolution failure is
	// allowed through; the browser reports it as a navigation error.
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, resolved := range ips {
		if err := checkIP(normalizeMapped(resolved), allowPrivate); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(ip net.IP, allowPrivate bool) error {
	for _, meta := range metadataIPs {
		if ip.Equal(meta) {
			return ErrMetadataBlocked
		}
	}
	if allowPrivate {
		return nil
	}
	if isLoopback(ip) {
		return ErrLoopbackBlocked
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return ErrPrivateIPBlocked
	}
	return nil
}

// isLoopback covers the entire 127.0.0.0/8 range, not just 127.0.0.1.
func isLoopback(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 127
	}
	return ip.Equal(net.IPv6loopback)
}

func isLocalhostName(hostname string) bool {
	switch hostname {
	case "localhost", "localhost.localdomain", "local", "ip6-localhost", "ip6-loopback":
		return true
	}
	return strings.HasSuffix(hostname, ".localhost") ||
		strings.HasPrefix(hostname, "localhost.")
}

// normalizeMapped collapses IPv4-mapped IPv6 (::ffff:x.x.x.x) to IPv4 so the
// range checks cannot be dodged with IPv6 notation.
func normalizeMapped(ip net.IP) net.IP {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

// parseIPLenient parses the encodings a URL host can smuggle an IP in:
// standard dotted decimal, a single 32-bit decimal (2130706433), octal or
// hex octets (0177.0.0.1, 0x7f.0.0.1), and two-part shortened forms (127.1).
func parseIPLenient(hostname string) net.IP {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip
	}

	if num, err := strconv.ParseUint(hostname, 10, 32); err == nil {
		return net.IPv4(byte(num>>24), byte(num>>16), byte(num>>8), byte(num))
	}

	parts := strings.Split(hostname, ".")
	switch len(parts) {
	case 4:
		var octets [4]byte
		for i, part := range parts {
			val, err := parseOctet(part)
			if err != nil || val > 255 {
				return nil
			}
			octets[i] = byte(val)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	case 2:
		first, err1 := parseOctet(parts[0])
		rest, err2 := parseOctet(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && rest <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(rest>>16), byte(rest>>8), byte(rest))
		}
	}
	return nil
}

// parseOctet accepts decimal, octal (0-prefixed), and hex (0x-prefixed).
func parseOctet(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty component")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	if len(s) > 1 && s[0] == '0' {
		return strconv.ParseUint(s[1:], 8, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
