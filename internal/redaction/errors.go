package redaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/raaihank/redactor/internal/pattern"
)

// ErrCollaboratorUnavailable wraps failures of the rule store, the permission
// oracle or the markup stripper.
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// RuleError records why one rule contributed nothing to a redaction.
type RuleError struct {
	RuleID  int64
	Pattern string
	Err     error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %d (%q): %v", e.RuleID, e.Pattern, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// PublicMessage describes err for API clients. It names the failing rule and
// the kind of failure but never the pattern, the content or the cause.
func PublicMessage(err error) string {
	var ruleErr *RuleError
	if errors.As(err, &ruleErr) {
		var compileErr *pattern.CompileError
		switch {
		case errors.As(err, &compileErr):
			return fmt.Sprintf("rule %d: invalid pattern", ruleErr.RuleID)
		case errors.Is(err, pattern.ErrMatchTimeout):
			return fmt.Sprintf("rule %d: match timed out", ruleErr.RuleID)
		default:
			return fmt.Sprintf("rule %d: match failed", ruleErr.RuleID)
		}
	}

	switch {
	case errors.Is(err, ErrCollaboratorUnavailable):
		return ErrCollaboratorUnavailable.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "redaction cancelled"
	default:
		return "redaction failed"
	}
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCollaboratorUnavailable, what, err)
}

// FailurePolicy selects what happens when the permission oracle fails.
type FailurePolicy string

const (
	// FailClosed treats the viewer as holding no roles and reports the error.
	FailClosed FailurePolicy = "closed"
	// FailError aborts the redaction call.
	FailError FailurePolicy = "error"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool {
	return p == FailClosed || p == FailError
}
