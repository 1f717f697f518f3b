package pattern

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Compiled is an executable matcher built from one rule pattern. Matches that
// start at a Protected position are skipped by Scan.
type Compiled struct {
	Source string
	Kind   Kind
	Expr   string
	re     *regexp2.Regexp
	budget time.Duration
}

// Scan calls fn with every match of c in text that does not start at a
// protected position, left to right, until fn returns false. Match.Index is a
// rune offset into text.
//
// The whole scan shares one time budget. Exceeding it, or any other engine
// failure, yields an error wrapping ErrMatchTimeout that never carries text.
func (c *Compiled) Scan(ctx context.Context, text string, fn func(m *regexp2.Match) bool) error {
	runes := []rune(text)
	protected := Protected(runes)

	var deadline time.Time
	if c.budget > 0 {
		deadline = time.Now().Add(c.budget)
	}

	m, err := c.re.FindRunesMatch(runes)
	for {
		if err != nil {
			return c.timeout()
		}
		if m == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return c.timeout()
		}

		if protected[m.Index] {
			m, err = c.re.FindRunesMatchStartingAt(runes, m.Index+1)
			continue
		}
		if !fn(m) {
			return nil
		}
		m, err = c.re.FindNextMatch(m)
	}
}

func (c *Compiled) timeout() error {
	return fmt.Errorf("%w after %s", ErrMatchTimeout, c.budget)
}

// MatchString reports whether c matches anywhere in text outside protected positions.
func (c *Compiled) MatchString(ctx context.Context, text string) (bool, error) {
	found := false
	err := c.Scan(ctx, text, func(*regexp2.Match) bool {
		found = true
		return false
	})
	return found, err
}

// Compiler turns rule patterns into Compiled matchers. It holds no per-call
// state and is safe for concurrent use once configured.
type Compiler struct {
	registry     *Registry
	preFilters   []Filter
	postFilters  []Filter
	matchTimeout time.Duration
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithPreFilter appends a filter applied to the raw pattern text.
func WithPreFilter(f Filter) Option {
	return func(c *Compiler) {
		c.preFilters = append(c.preFilters, f)
	}
}

// WithPostFilter appends a filter applied to the built expression.
func WithPostFilter(f Filter) Option {
	return func(c *Compiler) {
		c.postFilters = append(c.postFilters, f)
	}
}

// WithMatchTimeout bounds how long matching one pattern against one text may take.
func WithMatchTimeout(d time.Duration) Option {
	return func(c *Compiler) {
		c.matchTimeout = d
	}
}

// NewCompiler creates a compiler resolving named patterns against registry.
// A nil registry means only literal and mask patterns resolve.
func NewCompiler(registry *Registry, opts ...Option) *Compiler {
	if registry == nil {
		registry = NewEmptyRegistry()
	}
	c := &Compiler{
		registry:     registry,
		matchTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the named pattern registry used by the compiler.
func (c *Compiler) Registry() *Registry {
	return c.registry
}

// Compile builds the matcher for raw.
func (c *Compiler) Compile(raw string) (*Compiled, error) {
	text := raw
	for _, f := range c.preFilters {
		text = f(text)
	}

	kind, body, opts, err := c.expression(text)
	if err != nil {
		return nil, &CompileError{Pattern: raw, Err: err}
	}

	expr := body
	for _, f := range c.postFilters {
		expr = f(expr)
	}

	re, err := regexp2.Compile(expr, opts)
	if err != nil {
		return nil, &CompileError{Pattern: raw, Err: fmt.Errorf("%w: %v", ErrInvalidRegex, err)}
	}
	re.MatchTimeout = c.matchTimeout

	// An expression matching empty text matches between every two characters.
	if empty, err := re.MatchString(""); err == nil && empty {
		return nil, &CompileError{Pattern: raw, Err: ErrMatchesEmpty}
	}

	return &Compiled{Source: raw, Kind: kind, Expr: expr, re: re, budget: c.matchTimeout}, nil
}

// CompileLiteral builds a case-insensitive matcher for an exact piece of
// text. It is used to locate already discovered matches in original content.
func (c *Compiler) CompileLiteral(text string) (*Compiled, error) {
	if text == "" {
		return nil, &CompileError{Pattern: text, Err: ErrEmptyPattern}
	}
	expr := regexp2.Escape(text)
	re, err := regexp2.Compile(expr, regexp2.IgnoreCase)
	if err != nil {
		return nil, &CompileError{Pattern: text, Err: fmt.Errorf("%w: %v", ErrInvalidRegex, err)}
	}
	re.MatchTimeout = c.matchTimeout
	return &Compiled{Source: text, Kind: KindLiteral, Expr: expr, re: re, budget: c.matchTimeout}, nil
}

func (c *Compiler) expression(text string) (Kind, string, regexp2.RegexOptions, error) {
	if text == "" {
		return KindLiteral, "", regexp2.None, ErrEmptyPattern
	}

	switch KindOf(text) {
	case KindNamed:
		name := strings.ToUpper(text[1:])
		fragment, ok := c.registry.Lookup(name)
		if !ok {
			return KindNamed, "", regexp2.None, fmt.Errorf("%w: %s", ErrUnknownPatternName, name)
		}
		return KindNamed, "(?:" + fragment + ")", regexp2.None, nil
	case KindMask:
		expr, err := maskExpression(text[1:])
		if err != nil {
			return KindMask, "", regexp2.None, err
		}
		return KindMask, expr, regexp2.None, nil
	default:
		return KindLiteral, regexp2.Escape(text), regexp2.IgnoreCase, nil
	}
}

// Validate checks a pattern the way rule authoring does before it is stored.
func (c *Compiler) Validate(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &CompileError{Pattern: raw, Err: ErrEmptyPattern}
	}
	_, err := c.Compile(raw)
	return err
}
