package dns

import (
	"strings"
)

// CanonicalName lower-cases an FQDN and strips the trailing dot, so that
// "Home.Example.com." and "home.example.com" compare equal.
func CanonicalName(fqdn string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(fqdn), "."))
}

// SameName reports whether two FQDNs name the same node.
func SameName(a, b string) bool {
	return CanonicalName(a) == CanonicalName(b)
}

// SplitHostname splits an FQDN into subdomain and domain parts.
// e.g. "app.example.com" → ("app", "example.com")
// e.g. "sub.app.example.com" → ("sub.app", "example.com")
func SplitHostname(fqdn string) (hostname, domain string) {
	fqdn = strings.TrimSuffix(fqdn, ".")
	parts := strings.SplitN(fqdn, ".", 2)
	if len(parts) < 2 {
		return fqdn, ""
	}
	return parts[0], parts[1]
}
