package pattern

import (
	"errors"
	"fmt"
)

// Sigils that select the pattern syntax.
const (
	NamedSigil = '/'
	MaskSigil  = '#'
)

var (
	ErrEmptyPattern       = errors.New("pattern is empty")
	ErrUnknownPatternName = errors.New("unknown pattern name")
	ErrEmptyMask          = errors.New("mask has no directives")
	ErrInvalidRegex       = errors.New("invalid regular expression")
	ErrMatchesEmpty       = errors.New("pattern matches empty text")
	ErrMatchTimeout       = errors.New("match timed out")
)

// Kind identifies which of the three syntaxes a pattern was written in.
type Kind string

const (
	KindLiteral Kind = "literal"
	KindMask    Kind = "mask"
	KindNamed   Kind = "named"
)

// CompileError reports why a rule pattern could not be turned into a matcher.
type CompileError struct {
	Pattern string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile pattern %q: %v", e.Pattern, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Filter transforms a pattern string. Pre filters see the raw rule text;
// post filters see the built expression before it is handed to the regex engine.
type Filter func(string) string

// KindOf reports the syntax of a raw pattern.
func KindOf(raw string) Kind {
	if raw == "" {
		return KindLiteral
	}
	switch raw[0] {
	case NamedSigil:
		return KindNamed
	case MaskSigil:
		return KindMask
	default:
		return KindLiteral
	}
}
