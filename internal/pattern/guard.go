package pattern

import (
	"unicode"
)

// Protected reports, for every rune position of text, whether a match may not
// start there. A position is protected when it sits inside a markup tag (a '>'
// comes before the next '[', '|' or '<'), when the next of those characters
// opens a closing [/redact] shortcode, or when the next '<' opens a closing
// </redact> element. Either closer may carry any number of "no" prefixes.
//
// The result has len(text)+1 entries; the end position is never protected.
// It is computed in a single backward pass.
func Protected(text []rune) []bool {
	out := make([]bool, len(text)+1)

	var (
		tagOpen     bool // a '>' lies before the next stop character
		stopCloses  bool // the next stop character opens [/redact]
		angleCloses bool // the next '<' opens </redact>
	)
	for p := len(text) - 1; p >= 0; p-- {
		switch text[p] {
		case '[':
			tagOpen = false
			stopCloses = closesRedact(text, p, '[', ']')
		case '|':
			tagOpen = false
			stopCloses = false
		case '<':
			tagOpen = false
			stopCloses = false
			angleCloses = closesRedact(text, p, '<', '>')
		case '>':
			tagOpen = true
		}
		out[p] = tagOpen || stopCloses || angleCloses
	}
	return out
}

// closesRedact reports whether text at p reads open + "/" + ("no")* + "redact" + close.
func closesRedact(text []rune, p int, open, close rune) bool {
	if p+1 >= len(text) || text[p] != open || text[p+1] != '/' {
		return false
	}
	i := p + 2
	for hasFold(text, i, "no") {
		i += 2
	}
	if !hasFold(text, i, "redact") {
		return false
	}
	i += len("redact")
	return i < len(text) && text[i] == close
}

func hasFold(text []rune, i int, word string) bool {
	if i+len(word) > len(text) {
		return false
	}
	for j, c := range word {
		if unicode.ToLower(text[i+j]) != c {
			return false
		}
	}
	return true
}
