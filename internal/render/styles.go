package render

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

// element assembles the <redact> wrapper shared by every built-in style.
type element struct {
	classes []string
	style   string
	title   string
}

func newElement() *element {
	return &element{classes: []string{"redacted"}}
}

func (e *element) class(names ...string) *element {
	e.classes = append(e.classes, names...)
	return e
}

func (e *element) tooltip(meta Meta) *element {
	e.title = fmt.Sprintf("Redacted by %s on %s", meta.Who, meta.When)
	return e.class("tooltip")
}

func (e *element) wrap(content string) string {
	var b strings.Builder
	b.WriteString("<redact class='")
	b.WriteString(strings.Join(e.classes, " "))
	b.WriteString("'")
	if e.style != "" {
		b.WriteString(" style='")
		b.WriteString(attrEscape(e.style))
		b.WriteString("'")
	}
	if e.title != "" {
		b.WriteString(" title='")
		b.WriteString(attrEscape(e.title))
		b.WriteString("'")
	}
	b.WriteString(">")
	b.WriteString(content)
	b.WriteString("</redact>")
	return b.String()
}

// attrEscape escapes an attribute value. Brackets and pipes are encoded too
// so the value cannot end a markup guard early.
func attrEscape(s string) string {
	return attrReplacer.Replace(html.EscapeString(s))
}

var attrReplacer = strings.NewReplacer("[", "&#91;", "]", "&#93;", "|", "&#124;")

// allowedView is the passthrough every style uses for permitted viewers.
func allowedView(content string, meta Meta, opts Options) string {
	e := newElement()
	if opts.Tooltips.ShowTooltip(true) {
		e.tooltip(meta)
	}
	return e.class("allowed").wrap(content)
}

func renderSolid(allowed bool, content string, meta Meta, opts Options) string {
	if allowed {
		return allowedView(content, meta, opts)
	}
	e := newElement().class("restricted", "redact-solid")
	if opts.Tooltips.ShowTooltip(false) {
		e.tooltip(meta)
	}
	if opts.Color != "" {
		e.style = fmt.Sprintf("color:%s;background-color:%s", opts.Color, opts.Color)
	}
	return e.wrap(Blocks(html.UnescapeString(content)))
}

func renderHidden(allowed bool, content string, meta Meta, opts Options) string {
	if allowed {
		return allowedView(content, meta, opts)
	}
	e := newElement().class("redact-hidden")
	if opts.Tooltips.ShowTooltip(false) {
		e.tooltip(meta)
	}
	return e.wrap("")
}

func renderAltText(allowed bool, content string, meta Meta, opts Options) string {
	if allowed {
		return allowedView(content, meta, opts)
	}
	e := newElement().class("alttext")
	if opts.Tooltips.ShowTooltip(false) {
		e.tooltip(meta)
	}
	if opts.Color != "" {
		e.style = fmt.Sprintf("color:%s;border-color:%s", opts.Color, opts.Color)
	}
	return e.wrap(html.EscapeString(AltText(opts.AltText, utf8.RuneCountInString(html.UnescapeString(content)))))
}

func renderSpoiler(allowed bool, content string, meta Meta, opts Options) string {
	if allowed {
		return allowedView(content, meta, opts)
	}
	e := newElement().class("spoiler")
	if opts.Tooltips.ShowTooltip(false) {
		e.tooltip(meta)
	}
	return e.wrap(content)
}

// Blocks masks every non-whitespace character of s with Block. Whitespace
// characters stay at their positions, so the rune length is unchanged.
func Blocks(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return r
		}
		return Block
	}, s)
}

// AltText fills exactly length characters by repeating the trimmed alt text
// separated by single spaces. A separator left at the end is replaced by the
// first character of the alt text. An empty alt text falls back to blocks.
func AltText(alt string, length int) string {
	if length <= 0 {
		return ""
	}
	alt = strings.TrimSpace(alt)
	if alt == "" {
		return strings.Repeat(string(Block), length)
	}

	unit := []rune(alt + " ")
	out := make([]rune, length)
	for i := range out {
		out[i] = unit[i%len(unit)]
	}
	if out[length-1] == ' ' {
		out[length-1] = unit[0]
	}
	return string(out)
}
