// internal/explorer/scope.go
package explorer

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Scope decides which discovered links a session may follow.
type Scope struct {
	startHost         string
	rootDomain        string
	followExternal    bool
	includeSubdomains bool
}

// NewScope builds the scope of a session rooted at startURL. A link is external
// when its host differs from the start host; includeSubdomains widens internal
// to every host under the start URL's registrable domain (eTLD+1).
func NewScope(startURL string, followExternal, includeSubdomains bool) (*Scope, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return nil, err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("start URL must have a hostname: %s", startURL)
	}

	// IPs and hosts without a registrable domain (localhost) are their own root.
	root := host
	if net.ParseIP(host) == nil {
		if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			root = etld1
		}
	}

	return &Scope{
		startHost:         host,
		rootDomain:        root,
		followExternal:    followExternal,
		includeSubdomains: includeSubdomains,
	}, nil
}

// IsExternal reports whether u leaves the session's site.
func (s *Scope) IsExternal(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == s.startHost {
		return false
	}
	if s.includeSubdomains && (host == s.rootDomain || strings.HasSuffix(host, "."+s.rootDomain)) {
		return false
	}
	return true
}

// Allows reports whether the session may enqueue rawURL. Only http(s) targets
// are ever followed.
func (s *Scope) Allows(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return s.followExternal || !s.IsExternal(u)
}
