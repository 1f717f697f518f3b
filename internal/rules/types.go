package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRuleNotFound     = errors.New("rule not found")
	ErrDuplicatePattern = errors.New("a rule with this pattern already exists")
	ErrInvalidRule      = errors.New("invalid rule")
)

// Rule is a stored redaction policy: a pattern plus the roles allowed to see
// the text it matches.
type Rule struct {
	ID           int64     `db:"id" json:"id"`
	Pattern      string    `db:"pattern" json:"pattern"`
	Description  string    `db:"description" json:"description"`
	AllowedRoles Roles     `db:"allowed_roles" json:"allowed_roles"`
	CreatedBy    string    `db:"created_by" json:"created_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	MatchCount   int64     `db:"match_count" json:"match_count"`
}

// Normalize trims the rule fields and fills the defaults applied on creation:
// the description falls back to the pattern and a zero CreatedAt becomes now.
func (r *Rule) Normalize(now time.Time) error {
	r.Pattern = strings.TrimSpace(r.Pattern)
	if r.Pattern == "" {
		return fmt.Errorf("%w: pattern is required", ErrInvalidRule)
	}
	r.Description = strings.TrimSpace(r.Description)
	if r.Description == "" {
		r.Description = r.Pattern
	}
	r.CreatedBy = strings.TrimSpace(r.CreatedBy)
	r.AllowedRoles = r.AllowedRoles.Normalize()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	return nil
}

// Store is the read side used at redaction time.
type Store interface {
	ListActiveRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id int64) (*Rule, error)
}

// Repository is the full rule CRUD layer used by administration and import.
type Repository interface {
	Store
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, ids ...int64) (int64, error)
	HasPattern(ctx context.Context, pattern string, excludeID int64) (bool, error)
	BatchInsert(ctx context.Context, batch []*Rule) (*BatchInsertResult, error)
	AddMatchCounts(ctx context.Context, counts map[int64]int64) error
	Close() error
}

// Sort columns accepted by List.
const (
	OrderByID          = "id"
	OrderByPattern     = "pattern"
	OrderByDescription = "description"
	OrderByCreatedBy   = "created_by"
	OrderByCreatedAt   = "created_at"
	OrderByMatchCount  = "match_count"
)

// MaxListLimit caps the page size of List.
const MaxListLimit = 100

var sortColumns = map[string]bool{
	OrderByID:          true,
	OrderByPattern:     true,
	OrderByDescription: true,
	OrderByCreatedBy:   true,
	OrderByCreatedAt:   true,
	OrderByMatchCount:  true,
}

// ListOptions selects a page of rules. Search is a case-insensitive prefix
// matched against pattern or description.
type ListOptions struct {
	Search  string `json:"search"`
	OrderBy string `json:"order_by"`
	Order   string `json:"order"`
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
}

// Normalized returns a copy with unknown sort columns replaced by id, the
// order forced to ASC or DESC and the page bounds clamped.
func (o ListOptions) Normalized() ListOptions {
	o.Search = strings.TrimSpace(o.Search)
	o.OrderBy = strings.ToLower(strings.TrimSpace(o.OrderBy))
	if !sortColumns[o.OrderBy] {
		o.OrderBy = OrderByID
	}
	if strings.EqualFold(o.Order, "desc") {
		o.Order = "DESC"
	} else {
		o.Order = "ASC"
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit <= 0 || o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	return o
}

// ListResult is one page of rules and the total number matching the search.
type ListResult struct {
	Rules []Rule `json:"rules"`
	Total int64  `json:"total"`
}

// BatchInsertResult reports the outcome of a bulk insert.
type BatchInsertResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Duration   time.Duration `json:"duration"`
}
