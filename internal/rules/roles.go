package rules

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Roles is the ordered set of roles allowed to see a rule's matches. An
// empty set means the site-wide default roles apply.
type Roles []string

// ParseRoles reads roles from a comma separated list or a JSON array.
func ParseRoles(s string) (Roles, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Roles{}, nil
	}
	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, fmt.Errorf("parse roles %q: %w", s, err)
		}
		return Roles(list).Normalize(), nil
	}
	return Roles(strings.Split(s, ",")).Normalize(), nil
}

// Normalize trims every role and drops blanks and repeats, keeping the
// first-seen order.
func (r Roles) Normalize() Roles {
	out := make(Roles, 0, len(r))
	seen := make(map[string]bool, len(r))
	for _, role := range r {
		role = strings.TrimSpace(role)
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out
}

// Contains reports whether role is in the set.
func (r Roles) Contains(role string) bool {
	for _, v := range r {
		if v == role {
			return true
		}
	}
	return false
}

// String renders the roles as a comma separated list.
func (r Roles) String() string {
	return strings.Join(r, ",")
}

// UnmarshalJSON accepts either a JSON array or a string in any form
// ParseRoles understands.
func (r *Roles) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = Roles(list).Normalize()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("roles must be an array or a string: %w", err)
	}
	parsed, err := ParseRoles(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Scan implements sql.Scanner for a Postgres text[] column.
func (r *Roles) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return fmt.Errorf("scan roles: %w", err)
	}
	*r = Roles(arr)
	return nil
}

// Value implements driver.Valuer for a Postgres text[] column.
func (r Roles) Value() (driver.Value, error) {
	if r == nil {
		return pq.StringArray{}.Value()
	}
	return pq.StringArray(r).Value()
}
