// Package markup produces the plain-text surface that rules are matched
// against when deciding whether they apply to a piece of content.
package markup

import (
	"fmt"
	"html"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultShortcodes are the shortcode blocks removed from the matching surface.
var DefaultShortcodes = []string{"redact", "noredact"}

// Stripper removes markup tags and shortcode blocks. It is safe for
// concurrent use.
type Stripper struct {
	policy     *bluemonday.Policy
	shortcodes *regexp2.Regexp
}

// NewStripper builds a stripper that removes the given shortcode names along
// with everything they enclose. A nil slice means DefaultShortcodes.
func NewStripper(shortcodes []string) (*Stripper, error) {
	if shortcodes == nil {
		shortcodes = DefaultShortcodes
	}

	s := &Stripper{policy: bluemonday.StrictPolicy()}
	if len(shortcodes) == 0 {
		return s, nil
	}

	names := make([]string, 0, len(shortcodes))
	for _, name := range shortcodes {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, regexp2.Escape(name))
		}
	}
	if len(names) == 0 {
		return s, nil
	}

	expr := `\[(` + strings.Join(names, "|") + `)\b[^\]]*\](?:.*?\[\/\1\])?`
	re, err := regexp2.Compile(expr, regexp2.IgnoreCase|regexp2.Singleline)
	if err != nil {
		return nil, fmt.Errorf("compile shortcode expression: %w", err)
	}
	s.shortcodes = re
	return s, nil
}

// Strip returns content without tags or shortcode blocks. HTML entities are
// decoded so the surface reads like rendered text.
func (s *Stripper) Strip(content string) (string, error) {
	if content == "" {
		return "", nil
	}

	text := html.UnescapeString(s.policy.Sanitize(content))
	if s.shortcodes == nil {
		return text, nil
	}

	out, err := s.shortcodes.Replace(text, "", -1, -1)
	if err != nil {
		return "", fmt.Errorf("strip shortcodes: %w", err)
	}
	return out, nil
}
