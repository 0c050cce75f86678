package schemas

import (
	"time"
)

// -- Scrape Schemas --

// ErrorKind classifies why a scrape did not succeed.
type ErrorKind string

const (
	ErrorKindNone         ErrorKind = ""
	ErrorKindPageLoad     ErrorKind = "page_load"
	ErrorKindElementQuery ErrorKind = "element_query"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindCanceled     ErrorKind = "canceled"
	// ErrorKindUnavailable means the page collaborator is gone. Such results are
	// never cached and fail the owning session.
	ErrorKindUnavailable ErrorKind = "collaborator_unavailable"
)

// ScrapeOptions is the part of the scrape configuration that changes what a scrape produces.
// Two scrapes of one URL with different options never share a cache entry.
type ScrapeOptions struct {
	IncludeHidden   bool `json:"includeHidden" mapstructure:"include_hidden"`
	MaxElements     int  `json:"maxElements" mapstructure:"max_elements"`
	TakeScreenshots bool `json:"takeScreenshots" mapstructure:"take_screenshots"`
	MaxTextLength   int  `json:"maxTextLength" mapstructure:"max_text_length"`
	// ExcludeFormData drops name/placeholder attributes of form fields.
	ExcludeFormData bool `json:"excludeFormData" mapstructure:"exclude_form_data"`
	// ExcludePositionData drops bounding boxes from the records.
	ExcludePositionData bool `json:"excludePositionData" mapstructure:"exclude_position_data"`
}

const (
	DefaultMaxElements   = 500
	DefaultMaxTextLength = 500
)

// WithDefaults fills zero limits with the package defaults.
func (o ScrapeOptions) WithDefaults() ScrapeOptions {
	if o.MaxElements <= 0 {
		o.MaxElements = DefaultMaxElements
	}
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = DefaultMaxTextLength
	}
	return o
}

// ScrapeSummary aggregates the element counts of one scrape.
type ScrapeSummary struct {
	TotalElements int `json:"totalElements"`
	Interactive   int `json:"interactive"`
	Clickable     int `json:"clickable"`
	FormFields    int `json:"formFields"`
	Links         int `json:"links"`
	Images        int `json:"images"`
	Screenshots   int `json:"screenshots"`
}

// ScrapeResult is the output of one scrape of one page at one depth.
// Once stored it is shared and must be treated as immutable; hand out Clone()s.
type ScrapeResult struct {
	URL               string          `json:"url"`
	Title             string          `json:"title,omitempty"`
	Depth             int             `json:"depth"`
	Elements          []ElementRecord `json:"elements"`
	DiscoveredURLs    []string        `json:"discoveredUrls,omitempty"`
	FormFields        []string        `json:"formFields,omitempty"`
	PageScreenshotRef string          `json:"pageScreenshotRef,omitempty"`
	Summary           ScrapeSummary   `json:"summary"`
	Timestamp         time.Time       `json:"timestamp"`
	DurationMs        int64           `json:"durationMs"`
	Success           bool            `json:"success"`
	ErrorKind         ErrorKind       `json:"errorKind,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	FromCache         bool            `json:"fromCache,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r ScrapeResult) Clone() ScrapeResult {
	if r.Elements != nil {
		elements := make([]ElementRecord, len(r.Elements))
		for i, e := range r.Elements {
			elements[i] = e.Clone()
		}
		r.Elements = elements
	}
	if r.DiscoveredURLs != nil {
		r.DiscoveredURLs = append([]string(nil), r.DiscoveredURLs...)
	}
	if r.FormFields != nil {
		r.FormFields = append([]string(nil), r.FormFields...)
	}
	return r
}

// Failed builds an unsuccessful result. The message is always populated.
func Failed(url string, depth int, kind ErrorKind, err error) ScrapeResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ScrapeResult{
		URL:          url,
		Depth:        depth,
		Elements:     []ElementRecord{},
		Timestamp:    time.Now().UTC(),
		Success:      false,
		ErrorKind:    kind,
		ErrorMessage: msg,
	}
}
