// internal/cache/key.go
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	json "github.com/json-iterator/go"

	"github.com/pagescout/pagescout/api/schemas"
)

// fingerprintLen is the number of hex characters kept from the SHA-256 digest.
const fingerprintLen = 16

// Key identifies one cached scrape: the same page, scraped at the same depth,
// under the same scrape configuration.
type Key struct {
	URL         string
	Depth       int
	Fingerprint string
}

// NewKey builds a key for an already normalized URL.
func NewKey(normalizedURL string, depth int, opts schemas.ScrapeOptions) Key {
	return Key{URL: normalizedURL, Depth: depth, Fingerprint: Fingerprint(opts)}
}

// String renders the key as used by the single-flight group.
func (k Key) String() string {
	return k.URL + "|" + strconv.Itoa(k.Depth) + "|" + k.Fingerprint
}

// Fingerprint hashes the scrape options so that any change in what a scrape
// would produce yields a different key. Defaults are applied first, so a zero
// limit and the explicit default share a fingerprint.
func Fingerprint(opts schemas.ScrapeOptions) string {
	b, err := json.ConfigCompatibleWithStandardLibrary.Marshal(opts.WithDefaults())
	if err != nil {
		// ScrapeOptions holds only scalars, this is unreachable in practice.
		b = []byte(fmt.Sprintf("%+v", opts.WithDefaults()))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
