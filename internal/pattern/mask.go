package pattern

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// maskDirectives maps a mask character to the expression fragment it expands to.
// Any character not listed matches itself literally.
var maskDirectives = map[rune]string{
	'0': `[0-9]`,
	'9': `[0-9]?`,
	'A': `[A-Za-z]`,
	'B': `[A-Z]`,
	'b': `[a-z]`,
	'S': `[A-Za-z0-9]`,
	'T': `[A-Z0-9]`,
	't': `[a-z0-9]`,
	'Y': `[A-Z]?`,
	'y': `[a-z]?`,
	'Z': `[A-Za-z]?`,
}

// maskExpression expands a mask body (without the leading sigil) into an
// expression, one fragment per character, left to right.
func maskExpression(body string) (string, error) {
	if body == "" {
		return "", ErrEmptyMask
	}

	var b strings.Builder
	for _, c := range body {
		if fragment, ok := maskDirectives[c]; ok {
			b.WriteString(fragment)
			continue
		}
		b.WriteString(regexp2.Escape(string(c)))
	}
	return b.String(), nil
}
