package schemas

// -- Element Schemas --

// ElementKind is the closed set of element categories produced by classification.
type ElementKind int

const (
	KindGeneric ElementKind = iota
	KindTextInput
	KindCombobox
	KindButton
	KindLink
	KindForm
	KindImage
)

var kindNames = map[ElementKind]string{
	KindGeneric:   "generic",
	KindTextInput: "text_input",
	KindCombobox:  "combobox",
	KindButton:    "button",
	KindLink:      "link",
	KindForm:      "form",
	KindImage:     "image",
}

func (k ElementKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText lets the kind travel as its name in JSON payloads.
func (k ElementKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText is the inverse of MarshalText. Unknown names decode to KindGeneric.
func (k *ElementKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	*k = KindGeneric
	return nil
}

// IsFormField reports whether elements of this kind accept user input.
func (k ElementKind) IsFormField() bool {
	return k == KindTextInput || k == KindCombobox
}

// BoundingBox is an element's layout rectangle in CSS pixels.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns width*height. Negative dimensions count as zero.
func (b BoundingBox) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Clamp returns a copy with every negative coordinate raised to zero.
func (b BoundingBox) Clamp() BoundingBox {
	return BoundingBox{
		X:      max(b.X, 0),
		Y:      max(b.Y, 0),
		Width:  max(b.Width, 0),
		Height: max(b.Height, 0),
	}
}

// RawElement is a candidate element exactly as the page collaborator reports it.
type RawElement struct {
	Selector    string      `json:"selector"`
	Tag         string      `json:"tag"`
	ID          string      `json:"id,omitempty"`
	ClassNames  []string    `json:"classNames,omitempty"`
	Text        string      `json:"text,omitempty"`
	Role        string      `json:"role,omitempty"`
	Href        string      `json:"href,omitempty"`
	Src         string      `json:"src,omitempty"`
	InputType   string      `json:"inputType,omitempty"`
	Name        string      `json:"name,omitempty"`
	Placeholder string      `json:"placeholder,omitempty"`
	BoundingBox BoundingBox `json:"boundingBox"`
	Hidden      bool        `json:"hidden,omitempty"`
}

// ElementRecord is one classified element in a page catalog.
// Everything except IsVisited and ScreenshotRef is fixed at classification time.
type ElementRecord struct {
	Selector           string      `json:"selector"`
	Tag                string      `json:"tag"`
	ID                 string      `json:"id,omitempty"`
	ClassNames         []string    `json:"classNames,omitempty"`
	TextContent        string      `json:"textContent,omitempty"`
	Role               string      `json:"role,omitempty"`
	Kind               ElementKind `json:"kind"`
	Href               string      `json:"href,omitempty"`
	Src                string      `json:"src,omitempty"`
	Name               string      `json:"name,omitempty"`
	Placeholder        string      `json:"placeholder,omitempty"`
	BoundingBox        BoundingBox `json:"boundingBox"`
	IsInteractive      bool        `json:"isInteractive"`
	ScreenshotEligible bool        `json:"screenshotEligible,omitempty"`
	IsVisited          bool        `json:"isVisited"`
	ScreenshotRef      string      `json:"screenshotRef,omitempty"`
}

// Clone returns a deep copy of the record.
func (e ElementRecord) Clone() ElementRecord {
	if e.ClassNames != nil {
		e.ClassNames = append([]string(nil), e.ClassNames...)
	}
	return e
}
