// Package validation checks operator-supplied endpoints before any request
// is made to them.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// privateRanges covers RFC 1918, link-local and loopback space for both
// address families.
var privateRanges = mustCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"127.0.0.0/8",
	"fc00::/7",
	"fe80::/10",
	"::1/128",
)

// SourceURLValidator validates the URL of a remote news source.
type SourceURLValidator struct {
	// AllowLocalhost permits localhost and loopback hosts
	AllowLocalhost bool
	// AllowPrivateIPs permits literal private addresses
	AllowPrivateIPs bool
	// MaxLength is the maximum accepted URL length
	MaxLength int
}

// NewSourceURLValidator returns a validator that rejects local and private
// endpoints.
func NewSourceURLValidator() *SourceURLValidator {
	return &SourceURLValidator{MaxLength: 2048}
}

// NewPermissiveSourceURLValidator allows local endpoints, for development and
// tests against a local server.
func NewPermissiveSourceURLValidator() *SourceURLValidator {
	return &SourceURLValidator{
		AllowLocalhost:  true,
		AllowPrivateIPs: true,
		MaxLength:       2048,
	}
}

// ValidateAndNormalize validates input and returns its normalized form. A
// missing scheme defaults to https.
func (v *SourceURLValidator) ValidateAndNormalize(input string) (string, error) {
	input = strings.TrimSpace(input)

	if input == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}
	if v.MaxLength > 0 && len(input) > v.MaxLength {
		return "", fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}
	if strings.ContainsAny(input, "<>\"'` ") {
		return "", fmt.Errorf("URL contains invalid characters")
	}

	if !strings.Contains(input, "://") {
		input = "https://" + input
	}

	parsed, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("URL must use http or https protocol")
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("URL must have a valid hostname")
	}
	if err := v.validateHost(parsed.Hostname()); err != nil {
		return "", err
	}
	if strings.Contains(parsed.Path, "..") {
		return "", fmt.Errorf("directory traversal patterns not allowed in URL path")
	}

	return parsed.String(), nil
}

func (v *SourceURLValidator) validateHost(hostname string) error {
	if !v.AllowLocalhost && isLocalhost(hostname) {
		return fmt.Errorf("localhost URLs are not permitted")
	}
	if ip := net.ParseIP(hostname); ip != nil {
		if ip.IsUnspecified() || ip.Equal(net.IPv4bcast) {
			return fmt.Errorf("unroutable address %s", hostname)
		}
		if !v.AllowPrivateIPs && isPrivateIP(ip) && !(v.AllowLocalhost && ip.IsLoopback()) {
			return fmt.Errorf("private IP addresses are not permitted")
		}
	}
	return nil
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasSuffix(hostname, ".localhost")
}

func isPrivateIP(ip net.IP) bool {
	for _, block := range privateRanges {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

func mustCIDRs(cidrs ...string) []*net.IPNet {
	blocks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		blocks = append(blocks, block)
	}
	return blocks
}
