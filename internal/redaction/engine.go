// Package redaction applies stored redaction rules to content for a given
// viewer: matches are found on a markup-free surface, merged across rules,
// and replaced in the original content with the configured mask style.
package redaction

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/match"
	"github.com/raaihank/redactor/internal/pattern"
	"github.com/raaihank/redactor/internal/render"
	"github.com/raaihank/redactor/internal/rules"
	"github.com/raaihank/redactor/internal/shortcode"
)

// DefaultDateFormat renders a rule's creation time in tooltips.
const DefaultDateFormat = "January 2, 2006"

// Stripper produces the matching surface of a piece of content.
type Stripper interface {
	Strip(content string) (string, error)
}

// RenderDefaults are the site-wide settings every span falls back to.
type RenderDefaults struct {
	Roles   []string       `json:"roles"`
	Style   string         `json:"style"`
	Options render.Options `json:"options"`
}

// Report is the outcome of one redaction call.
type Report struct {
	Content string `json:"content"`
	// Errors holds per-rule failures and, under FailClosed, the oracle error.
	Errors []error `json:"-"`
	// Hits counts replaced occurrences per rule id.
	Hits  map[int64]int `json:"hits"`
	Spans int           `json:"spans"`
}

// Engine redacts content. It keeps no per-call state and is safe for
// concurrent use.
type Engine struct {
	compiler   *pattern.Compiler
	renderer   *render.Renderer
	stripper   Stripper
	logger     *zap.Logger
	failure    FailurePolicy
	dateFormat string
}

// Option configures an Engine.
type Option func(*Engine)

// WithFailurePolicy sets how permission oracle failures are handled.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Engine) {
		if p.Valid() {
			e.failure = p
		}
	}
}

// WithDateFormat sets the layout used for the "when" of rule redactions.
func WithDateFormat(layout string) Option {
	return func(e *Engine) {
		if layout != "" {
			e.dateFormat = layout
		}
	}
}

// NewEngine wires an engine from its collaborators.
func NewEngine(compiler *pattern.Compiler, renderer *render.Renderer, stripper Stripper, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		compiler:   compiler,
		renderer:   renderer,
		stripper:   stripper,
		logger:     logger,
		failure:    FailClosed,
		dateFormat: DefaultDateFormat,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Redact returns content with every applicable rule match masked for viewer,
// along with the errors of rules that were skipped. When a collaborator fails
// hard the returned content is empty, never the unredacted original.
func (e *Engine) Redact(ctx context.Context, content string, ruleSet []rules.Rule, viewer PermissionOracle, defaults RenderDefaults) (string, []error) {
	report, err := e.RedactWithReport(ctx, content, ruleSet, viewer, defaults)
	if err != nil {
		return "", []error{err}
	}
	return report.Content, report.Errors
}

// RedactWithReport is Redact with per-rule hit counts. A non-nil error means
// a collaborator failed and no content is returned.
func (e *Engine) RedactWithReport(ctx context.Context, content string, ruleSet []rules.Rule, viewer PermissionOracle, defaults RenderDefaults) (*Report, error) {
	report := &Report{Content: content, Hits: map[int64]int{}}
	if content == "" || len(ruleSet) == 0 {
		return report, nil
	}

	g, err := e.newGate(ctx, viewer)
	if err != nil {
		return nil, err
	}
	report.Errors = append(report.Errors, g.errs...)
	g.errs = nil

	if g.identity.Privileged() {
		return report, nil
	}

	if err := e.apply(ctx, report, ruleSet, g, defaults); err != nil {
		return nil, err
	}
	report.Errors = append(report.Errors, g.errs...)
	return report, nil
}

// apply runs discovery on the stripped surface and substitution on the
// original content held in report.
func (e *Engine) apply(ctx context.Context, report *Report, ruleSet []rules.Rule, g *gate, defaults RenderDefaults) error {
	surface, err := e.stripper.Strip(report.Content)
	if err != nil {
		e.logger.Error("Markup stripper failed", zap.Error(err))
		return unavailable("markup stripper", err)
	}

	compiled := make(map[string]*pattern.Compiled, len(ruleSet))
	failed := make(map[string]error)
	var found []match.Match

	for _, rule := range ruleSet {
		if err := ctx.Err(); err != nil {
			return err
		}

		c, ok := compiled[rule.Pattern]
		if !ok {
			if cerr, seen := failed[rule.Pattern]; seen {
				report.Errors = append(report.Errors, &RuleError{RuleID: rule.ID, Pattern: rule.Pattern, Err: cerr})
				continue
			}
			c, err = e.compiler.Compile(rule.Pattern)
			if err != nil {
				failed[rule.Pattern] = err
				e.logger.Warn("Skipping rule with invalid pattern",
					zap.Int64("rule_id", rule.ID),
					zap.String("pattern", rule.Pattern),
					zap.Error(err))
				report.Errors = append(report.Errors, &RuleError{RuleID: rule.ID, Pattern: rule.Pattern, Err: err})
				continue
			}
			compiled[rule.Pattern] = c
		}

		matches, err := match.Find(ctx, c, surface, match.Source{
			RuleID:       rule.ID,
			AllowedRoles: rule.AllowedRoles,
			Who:          rule.CreatedBy,
			When:         rule.CreatedAt,
		})
		if err != nil {
			e.logger.Warn("Skipping rule after match failure",
				zap.Int64("rule_id", rule.ID),
				zap.String("pattern", rule.Pattern),
				zap.Error(err))
			report.Errors = append(report.Errors, &RuleError{RuleID: rule.ID, Pattern: rule.Pattern, Err: err})
			continue
		}
		found = append(found, matches...)
	}

	spans := match.Deduplicate(found, defaults.Roles)
	report.Spans = len(spans)

	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}

		roles := span.AllowedRoles
		if len(roles) == 0 {
			roles = defaults.Roles
		}
		allowed, err := g.allowed(roles)
		if err != nil {
			return err
		}

		meta := render.Meta{Who: span.Who, When: e.formatWhen(span.When), Style: defaults.Style}
		if meta.Who == "" {
			meta.Who = shortcode.DefaultRedactor
		}

		out, n, err := e.substitute(ctx, report.Content, span.Text, allowed, meta, defaults.Options)
		if err != nil {
			e.logger.Error("Substitution failed",
				zap.Int64("rule_id", span.RuleID),
				zap.Int("length", span.Length),
				zap.Error(err))
			return &RuleError{RuleID: span.RuleID, Err: err}
		}
		report.Content = out
		for _, id := range span.RuleIDs {
			if n > 0 {
				report.Hits[id] += n
			}
		}
	}

	e.logger.Debug("Redaction applied",
		zap.Int("rules", len(ruleSet)),
		zap.Int("spans", len(spans)),
		zap.Int("errors", len(report.Errors)))
	return nil
}

// substitute replaces every unprotected occurrence of text in content with
// its rendering and reports how many occurrences were replaced. Each
// occurrence is rendered from its own text so allowed viewers keep the
// original casing. The surface has entities decoded, so the entity-encoded
// form of text is replaced as well.
func (e *Engine) substitute(ctx context.Context, content, text string, allowed bool, meta render.Meta, opts render.Options) (string, int, error) {
	variants := []string{text}
	if escaped := html.EscapeString(text); escaped != text {
		variants = append(variants, escaped)
	}

	n := 0
	for _, v := range variants {
		lit, err := e.compiler.CompileLiteral(v)
		if err != nil {
			return content, 0, err
		}

		runes := []rune(content)
		var b strings.Builder
		last := 0
		err = lit.Scan(ctx, content, func(m *regexp2.Match) bool {
			b.WriteString(string(runes[last:m.Index]))
			b.WriteString(e.renderer.Render(allowed, m.String(), meta, opts))
			last = m.Index + m.Length
			n++
			return true
		})
		if err != nil {
			return content, 0, err
		}
		if last > 0 {
			b.WriteString(string(runes[last:]))
			content = b.String()
		}
	}
	return content, n, nil
}

func (e *Engine) formatWhen(t time.Time) string {
	if t.IsZero() {
		return shortcode.DefaultDate
	}
	return t.Format(e.dateFormat)
}

// gate is the per-call permission decision: a viewer is allowed to see a
// span when they are an administrator or editor, or hold any of its roles.
type gate struct {
	ctx      context.Context
	oracle   PermissionOracle
	policy   FailurePolicy
	identity Identity
	degraded bool
	roles    map[string]bool
	errs     []error
}

func (e *Engine) newGate(ctx context.Context, viewer PermissionOracle) (*gate, error) {
	g := &gate{ctx: ctx, oracle: viewer, policy: e.failure, roles: map[string]bool{}}
	if viewer == nil {
		g.degraded = true
		return g, nil
	}

	identity, err := viewer.CurrentViewer(ctx)
	if err != nil {
		e.logger.Error("Permission oracle failed", zap.Error(err))
		if err := g.fail(err); err != nil {
			return nil, err
		}
		return g, nil
	}
	g.identity = identity
	return g, nil
}

// fail applies the failure policy to an oracle error.
func (g *gate) fail(err error) error {
	wrapped := unavailable("permission oracle", err)
	if g.policy == FailError {
		return wrapped
	}
	if !g.degraded {
		g.errs = append(g.errs, wrapped)
	}
	g.degraded = true
	g.identity = Identity{}
	return nil
}

func (g *gate) allowed(roles []string) (bool, error) {
	if g.identity.Privileged() {
		return true, nil
	}
	if g.degraded {
		return false, nil
	}

	for _, role := range roles {
		has, ok := g.roles[role]
		if !ok {
			var err error
			has, err = g.oracle.ViewerHasRole(g.ctx, role)
			if err != nil {
				return false, g.fail(err)
			}
			g.roles[role] = has
		}
		if has {
			return true, nil
		}
	}
	return false, nil
}
