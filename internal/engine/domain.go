package engine

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// NormalizeDomain lowercases a hostname and strips the mobile and www
// prefixes so "www.youtube.com" and "m.youtube.com" track as "youtube.com".
func NormalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	return host
}

// IsValidDomain reports whether a normalized hostname looks like a real
// registrable domain.
func IsValidDomain(domain string) bool {
	return domainPattern.MatchString(domain)
}

// IsHTTPURL reports whether a URL is a web navigation the engine cares
// about. Browser-internal and extension pages are not.
func IsHTTPURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// ExtractDomain parses a navigation URL into a normalized tracking key.
func ExtractDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("not a web url: %s", rawURL)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url has no host: %s", rawURL)
	}
	return NormalizeDomain(host), nil
}

// MatchesDomain reports whether a normalized host falls under a configured
// site domain, including subdomains.
func MatchesDomain(host, siteDomain string) bool {
	return host == siteDomain || strings.HasSuffix(host, "."+siteDomain)
}
