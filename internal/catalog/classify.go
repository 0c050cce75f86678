// internal/catalog/classify.go
package catalog

import (
	"strings"
	"unicode/utf8"

	"github.com/pagescout/pagescout/api/schemas"
)

// TruncationMarker is appended to text content cut by Truncate.
const TruncationMarker = "…[truncated]"

// Classify turns a raw element into a record using a fixed rule table.
// The first matching rule wins:
//
//  1. input, textarea, select        -> interactive, textbox / combobox
//  2. button, or role=button         -> interactive, button
//  3. a with a non-empty href        -> interactive, link
//  4. form                           -> interactive container, form
//  5. img with a non-empty src       -> not interactive, screenshot eligible
//  6. anything else                  -> not interactive
//
// Classify is pure: the same input always yields the same record.
func Classify(raw schemas.RawElement, maxText int) schemas.ElementRecord {
	tag := strings.ToLower(strings.TrimSpace(raw.Tag))
	role := strings.ToLower(strings.TrimSpace(raw.Role))
	href := strings.TrimSpace(raw.Href)
	src := strings.TrimSpace(raw.Src)

	rec := schemas.ElementRecord{
		Selector:    raw.Selector,
		Tag:         tag,
		ID:          raw.ID,
		TextContent: Truncate(strings.TrimSpace(raw.Text), maxText),
		Role:        raw.Role,
		Href:        href,
		Src:         src,
		Name:        raw.Name,
		Placeholder: raw.Placeholder,
		BoundingBox: raw.BoundingBox.Clamp(),
	}
	if len(raw.ClassNames) > 0 {
		rec.ClassNames = append([]string(nil), raw.ClassNames...)
	}

	switch {
	case tag == "select":
		rec.Kind, rec.Role, rec.IsInteractive = schemas.KindCombobox, "combobox", true
	case tag == "input" || tag == "textarea":
		rec.Kind, rec.Role, rec.IsInteractive = schemas.KindTextInput, "textbox", true
	case tag == "button" || role == "button":
		rec.Kind, rec.Role, rec.IsInteractive = schemas.KindButton, "button", true
	case tag == "a" && href != "":
		rec.Kind, rec.Role, rec.IsInteractive = schemas.KindLink, "link", true
	case tag == "form":
		rec.Kind, rec.Role, rec.IsInteractive = schemas.KindForm, "form", true
	case tag == "img" && src != "":
		rec.Kind, rec.ScreenshotEligible = schemas.KindImage, true
	default:
		rec.Kind = schemas.KindGeneric
	}

	// Interactive elements can always be captured for tooltip previews.
	if rec.IsInteractive {
		rec.ScreenshotEligible = true
	}
	return rec
}

// IsVisible reports whether the collaborator considers the element rendered.
func IsVisible(raw schemas.RawElement) bool {
	return !raw.Hidden && raw.BoundingBox.Area() > 0
}

// Truncate cuts s to at most limit runes and appends TruncationMarker when it had to cut.
// A limit <= 0 disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + TruncationMarker
		}
		n++
	}
	return s
}
