package match

import (
	"fmt"
	"time"
)

// Match is one substring found by applying a rule's compiled pattern to
// content. Offset and Length are measured in characters (runes).
type Match struct {
	Text         string    `json:"text"`
	Offset       int       `json:"offset"`
	Length       int       `json:"length"`
	RuleID       int64     `json:"rule_id"`
	AllowedRoles []string  `json:"allowed_roles"`
	Who          string    `json:"who"`
	When         time.Time `json:"when"`
}

// Span is a deduplicated match ready for rendering. RuleIDs lists every rule
// that produced the same text, in first-seen order.
type Span struct {
	Match
	RuleIDs []int64 `json:"rule_ids"`
}

// EngineError reports that the regex engine failed while matching a rule,
// for example by exceeding its match budget. Err never carries content.
type EngineError struct {
	RuleID int64
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("match rule %d: %v", e.RuleID, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
