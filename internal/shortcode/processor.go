// Package shortcode renders the inline [redact] and [noredact] directives
// authors place directly in content.
package shortcode

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/raaihank/redactor/internal/render"
)

// Attribute defaults for [redact] blocks that leave them out.
const (
	DefaultRedactor = "unknown"
	DefaultDate     = "unspecified date"
)

// Authorizer decides whether the current viewer may read text restricted to roles.
type Authorizer func(roles []string) (bool, error)

// RoleParser turns the allow attribute into a role list.
type RoleParser func(string) ([]string, error)

// Defaults fill attributes a block does not set.
type Defaults struct {
	Roles   []string
	Style   string
	Options render.Options
}

// Processor finds shortcode blocks and replaces them with rendered markup.
type Processor struct {
	renderer   *render.Renderer
	parseRoles RoleParser
	block      *regexp2.Regexp
	attr       *regexp2.Regexp
}

var (
	blockExpr = `\[(redact|noredact)(\s[^\]]*)?\](.*?)\[\/\1\]`
	attrExpr  = `([\w\-]+)\s*=\s*"([^"]*)"|([\w\-]+)\s*=\s*'([^']*)'|([\w\-]+)\s*=\s*([^\s'"]+)`
)

// NewProcessor builds a processor rendering through renderer.
func NewProcessor(renderer *render.Renderer, parseRoles RoleParser) *Processor {
	return &Processor{
		renderer:   renderer,
		parseRoles: parseRoles,
		block:      regexp2.MustCompile(blockExpr, regexp2.Singleline),
		attr:       regexp2.MustCompile(attrExpr, regexp2.None),
	}
}

// Process renders every enclosed [redact] and [noredact] block in content.
func (p *Processor) Process(content string, defaults Defaults, authorize Authorizer) (string, error) {
	if !strings.Contains(content, "[") {
		return content, nil
	}

	var firstErr error
	out, err := p.block.ReplaceFunc(content, func(m regexp2.Match) string {
		if firstErr != nil {
			return m.String()
		}
		name := m.GroupByNumber(1).String()
		inner := m.GroupByNumber(3).String()
		if name == "noredact" {
			return "<noredact>" + inner + "</noredact>"
		}

		rendered, err := p.redact(p.attributes(m.GroupByNumber(2).String()), inner, defaults, authorize)
		if err != nil {
			firstErr = err
			return m.String()
		}
		return rendered
	}, -1, -1)
	if err != nil {
		return "", fmt.Errorf("process shortcodes: %w", err)
	}
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func (p *Processor) redact(attrs map[string]string, inner string, defaults Defaults, authorize Authorizer) (string, error) {
	roles := defaults.Roles
	if allow, ok := attrs["allow"]; ok {
		parsed, err := p.parseRoles(allow)
		if err != nil {
			return "", fmt.Errorf("redact shortcode allow attribute: %w", err)
		}
		roles = parsed
	}
	if len(roles) == 0 {
		roles = defaults.Roles
	}

	meta := render.Meta{
		Who:   valueOr(attrs["redactor"], DefaultRedactor),
		When:  valueOr(attrs["date"], DefaultDate),
		Style: valueOr(attrs["style"], defaults.Style),
	}

	allowed, err := authorize(roles)
	if err != nil {
		return "", err
	}
	return p.renderer.Render(allowed, inner, meta, defaults.Options), nil
}

// attributes parses name="value", name='value' and name=value pairs.
// Names are lower-cased; the last repeat wins.
func (p *Processor) attributes(s string) map[string]string {
	attrs := make(map[string]string)
	m, err := p.attr.FindStringMatch(s)
	for err == nil && m != nil {
		g := m.Groups()
		for i := 1; i+1 < len(g); i += 2 {
			if name := g[i].String(); name != "" {
				attrs[strings.ToLower(name)] = g[i+1].String()
				break
			}
		}
		m, err = p.attr.FindNextMatch(m)
	}
	return attrs
}

func valueOr(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
