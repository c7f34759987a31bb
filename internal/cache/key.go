package cache

import (
	"net/url"
	"strings"
)

// NormalizeURL lower-cases scheme and host and drops the fragment.
// Path and query are kept verbatim so distinct resources never collide.
func NormalizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	if parsed.Host != "" && parsed.Path == "" {
		parsed.Path = "/"
	}

	return parsed.String()
}

// Key creates the identity of a request inside a bucket.
// Format: METHOD + " " + normalised URL
func Key(method, rawURL string) string {
	return strings.ToUpper(method) + " " + NormalizeURL(rawURL)
}
