package security

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateOrigin checks that an entry of the CORS allow-list is a bare
// origin: an http or https scheme and a host, with no path, query or
// credentials. "*" is accepted as the wildcard.
func ValidateOrigin(origin string) error {
	if origin == "*" {
		return nil
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q", origin)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("origin %q: scheme must be http or https", origin)
	}

	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("origin %q must have a host", origin)
	}

	if u.User != nil {
		return fmt.Errorf("origin %q must not carry credentials", origin)
	}

	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("origin %q must not have a path, query or fragment", origin)
	}

	if strings.Contains(u.Hostname(), "*") {
		return fmt.Errorf("origin %q: wildcard hosts are not supported", origin)
	}

	return nil
}

// NormalizeOrigin strips a trailing slash so allow-list entries compare
// equal to the Origin header browsers send.
func NormalizeOrigin(origin string) string {
	return strings.TrimSuffix(origin, "/")
}
