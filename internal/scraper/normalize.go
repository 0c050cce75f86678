// internal/scraper/normalize.go
package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedScheme is returned for URLs that are not http or https.
var ErrUnsupportedScheme = errors.New("unsupported scheme")

// Normalize canonicalizes an absolute http(s) URL so that equivalent spellings
// share one cache entry and one visited-set slot: scheme and host are
// lower-cased, default ports and fragments dropped, an empty path becomes "/"
// and query parameters are sorted.
func Normalize(rawURL string) (string, error) {
	u, err := parse(rawURL)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("URL must be absolute: %q", rawURL)
	}
	return canonical(u)
}

// Resolve resolves ref against base and normalizes the outcome. It is used for
// link targets, which are frequently relative.
func Resolve(base, ref string) (string, error) {
	b, err := parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	r, err := parse(ref)
	if err != nil {
		return "", err
	}
	return canonical(b.ResolveReference(r))
}

func parse(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("empty URL")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}
	return u, nil
}

func canonical(u *url.URL) (string, error) {
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("URL has no host")
	}

	host := strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(host, ":80")) || (u.Scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		// Encode sorts by key.
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}
