package render

import "errors"

// Built-in style names.
const (
	StyleSolid   = "solid"
	StyleHidden  = "hidden"
	StyleAltText = "alttext"
	StyleSpoiler = "spoiler"
)

// TooltipPolicy controls when the "Redacted by" title is attached.
type TooltipPolicy string

const (
	// TooltipsAll attaches the title for every viewer.
	TooltipsAll TooltipPolicy = "all"
	// TooltipsRedactors attaches the title only for viewers allowed to see the text.
	TooltipsRedactors TooltipPolicy = "redactors"
	// TooltipsNone never attaches the title.
	TooltipsNone TooltipPolicy = "none"
)

// Block replaces every non-whitespace character of a solid redaction.
const Block = '█'

var (
	ErrEmptyStyleName = errors.New("style name is empty")
	ErrNilRenderFunc  = errors.New("render function is nil")
)

// Meta describes where a redaction came from and how it should look.
type Meta struct {
	Who   string `json:"who"`
	When  string `json:"when"`
	Style string `json:"style"`
}

// Options are the site-wide rendering settings.
type Options struct {
	Color    string        `json:"color"`
	AltText  string        `json:"alt_text"`
	Tooltips TooltipPolicy `json:"tooltips"`
}

// Func renders one span. content is the original text; the result is the
// markup that replaces it.
type Func func(allowed bool, content string, meta Meta, opts Options) string

// Hook transforms text around rendering. Pre-render hooks receive the span
// content, post-render hooks receive the finished markup.
type Hook func(text string, meta Meta) string

// ShowTooltip reports whether the title should be attached for a viewer.
func (p TooltipPolicy) ShowTooltip(allowed bool) bool {
	switch p {
	case TooltipsAll:
		return true
	case TooltipsNone:
		return false
	default:
		return allowed
	}
}

// Valid reports whether p is a known policy. The empty policy behaves like
// TooltipsRedactors.
func (p TooltipPolicy) Valid() bool {
	switch p {
	case "", TooltipsAll, TooltipsRedactors, TooltipsNone:
		return true
	}
	return false
}
