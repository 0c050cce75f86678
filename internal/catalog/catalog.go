// internal/catalog/catalog.go
package catalog

import (
	"github.com/pagescout/pagescout/api/schemas"
)

// Catalog is the append-only element collection of one page snapshot.
// It is owned by a single session worker and is not safe for concurrent use.
type Catalog struct {
	opts     schemas.ScrapeOptions
	elements []schemas.ElementRecord
	index    map[string]int
	skipped  int
}

// New creates an empty catalog. Zero limits in opts fall back to the defaults.
func New(opts schemas.ScrapeOptions) *Catalog {
	opts = opts.WithDefaults()
	return &Catalog{
		opts:     opts,
		elements: make([]schemas.ElementRecord, 0, min(opts.MaxElements, 64)),
		index:    make(map[string]int),
	}
}

// Add classifies raw and appends it. It returns false when the element was rejected:
// the catalog is full, the selector is empty or already present, or the element is
// hidden while hidden elements are excluded.
func (c *Catalog) Add(raw schemas.RawElement) (schemas.ElementRecord, bool) {
	if c.Full() || raw.Selector == "" {
		c.skipped++
		return schemas.ElementRecord{}, false
	}
	if _, dup := c.index[raw.Selector]; dup {
		c.skipped++
		return schemas.ElementRecord{}, false
	}
	if !c.opts.IncludeHidden && !IsVisible(raw) {
		c.skipped++
		return schemas.ElementRecord{}, false
	}

	rec := Classify(raw, c.opts.MaxTextLength)
	if c.opts.ExcludePositionData {
		rec.BoundingBox = schemas.BoundingBox{}
	}
	if c.opts.ExcludeFormData {
		rec.Name, rec.Placeholder = "", ""
	}
	c.index[rec.Selector] = len(c.elements)
	c.elements = append(c.elements, rec)
	return rec, true
}

// AddAll adds every element in order and returns how many were accepted.
func (c *Catalog) AddAll(raws []schemas.RawElement) int {
	added := 0
	for i, raw := range raws {
		if c.Full() {
			c.skipped += len(raws) - i
			break
		}
		if _, ok := c.Add(raw); ok {
			added++
		}
	}
	return added
}

// Full reports whether the element cap has been reached.
func (c *Catalog) Full() bool {
	return len(c.elements) >= c.opts.MaxElements
}

// Len returns the number of accepted elements.
func (c *Catalog) Len() int { return len(c.elements) }

// Skipped returns how many candidates were rejected.
func (c *Catalog) Skipped() int { return c.skipped }

// Get looks an element up by selector.
func (c *Catalog) Get(selector string) (schemas.ElementRecord, bool) {
	i, ok := c.index[selector]
	if !ok {
		return schemas.ElementRecord{}, false
	}
	return c.elements[i].Clone(), true
}

// MarkVisited flags the element as acted upon by an exploration step.
func (c *Catalog) MarkVisited(selector string) bool {
	i, ok := c.index[selector]
	if !ok {
		return false
	}
	c.elements[i].IsVisited = true
	return true
}

// SetScreenshot links a captured screenshot artifact to the element.
func (c *Catalog) SetScreenshot(selector, ref string) bool {
	i, ok := c.index[selector]
	if !ok || ref == "" {
		return false
	}
	c.elements[i].ScreenshotRef = ref
	return true
}

// Elements returns a copy of the records in discovery order.
func (c *Catalog) Elements() []schemas.ElementRecord {
	out := make([]schemas.ElementRecord, len(c.elements))
	for i, e := range c.elements {
		out[i] = e.Clone()
	}
	return out
}

// Interactive returns the interactive records in discovery order.
func (c *Catalog) Interactive() []schemas.ElementRecord {
	return c.filter(func(e schemas.ElementRecord) bool { return e.IsInteractive })
}

// Links returns the link records in discovery order.
func (c *Catalog) Links() []schemas.ElementRecord {
	return c.filter(func(e schemas.ElementRecord) bool { return e.Kind == schemas.KindLink })
}

// ScreenshotCandidates returns the records eligible for an element screenshot.
func (c *Catalog) ScreenshotCandidates() []schemas.ElementRecord {
	return c.filter(func(e schemas.ElementRecord) bool { return e.ScreenshotEligible })
}

// FormFields returns the selectors of all input-accepting elements.
func (c *Catalog) FormFields() []string {
	var out []string
	for _, e := range c.elements {
		if e.Kind.IsFormField() {
			out = append(out, e.Selector)
		}
	}
	return out
}

// Summary counts the catalog by category.
func (c *Catalog) Summary() schemas.ScrapeSummary {
	s := schemas.ScrapeSummary{TotalElements: len(c.elements)}
	for _, e := range c.elements {
		if e.IsInteractive {
			s.Interactive++
		}
		switch e.Kind {
		case schemas.KindButton:
			s.Clickable++
		case schemas.KindLink:
			s.Clickable++
			s.Links++
		case schemas.KindTextInput, schemas.KindCombobox:
			s.FormFields++
		case schemas.KindImage:
			s.Images++
		}
		if e.ScreenshotRef != "" {
			s.Screenshots++
		}
	}
	return s
}

func (c *Catalog) filter(keep func(schemas.ElementRecord) bool) []schemas.ElementRecord {
	var out []schemas.ElementRecord
	for _, e := range c.elements {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}
