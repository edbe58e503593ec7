package cli

import (
	"fmt"
	"net/url"
	"strings"
)

// validateHostURL accepts an http(s) server root, optionally with a trailing
// slash. Paths, queries and fragments are rejected since the client adds
// its own /v1 routes.
func validateHostURL(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("invalid host %q: host URL cannot be empty", host)
	}

	u, err := url.Parse(host)
	if err != nil {
		return fmt.Errorf("invalid host %q: %w", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid host %q: scheme must be http or https", host)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid host %q: missing host", host)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("invalid host %q: drop the path, routes are added by the client", host)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid host %q: host must not include query or fragment", host)
	}
	return nil
}

func trimHost(host string) string {
	return strings.TrimRight(strings.TrimSpace(host), "/")
}
