// internal/scraper/profiles.go
package scraper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pagescout/pagescout/api/schemas"
)

// Scrape profiles trade thoroughness for speed.
const (
	ProfileQuick       = "quick"
	ProfileStandard    = "standard"
	ProfileDeep        = "deep"
	ProfileScreenshots = "screenshots"
)

var profiles = map[string]schemas.ScrapeOptions{
	ProfileQuick: {
		MaxElements:   100,
		MaxTextLength: 120,
	},
	ProfileStandard: {
		MaxElements:   schemas.DefaultMaxElements,
		MaxTextLength: schemas.DefaultMaxTextLength,
	},
	ProfileDeep: {
		IncludeHidden: true,
		MaxElements:   2000,
		MaxTextLength: 2000,
	},
	ProfileScreenshots: {
		MaxElements:     schemas.DefaultMaxElements,
		MaxTextLength:   schemas.DefaultMaxTextLength,
		TakeScreenshots: true,
	},
}

// ProfileOptions returns the scrape options of a named profile.
func ProfileOptions(name string) (schemas.ScrapeOptions, error) {
	opts, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return schemas.ScrapeOptions{}, fmt.Errorf("unknown scrape profile %q (known: %s)", name, strings.Join(ProfileNames(), ", "))
	}
	return opts, nil
}

// ProfileNames lists the known profiles in alphabetical order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
