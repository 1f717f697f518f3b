package match

import (
	"sort"
	"strings"
)

// Deduplicate collapses matches whose text is equal ignoring case into a single
// span. When duplicates disagree on allowed roles, the span keeps the most
// restrictive list: the one with the fewest effective roles, where an empty
// list stands for defaultRoles. On a tie the first-seen list is kept.
//
// Spans are returned longest first; equal lengths keep first-seen order.
func Deduplicate(matches []Match, defaultRoles []string) []Span {
	if len(matches) == 0 {
		return nil
	}

	index := make(map[string]int, len(matches))
	spans := make([]Span, 0, len(matches))
	for _, m := range matches {
		key := strings.ToLower(m.Text)
		i, ok := index[key]
		if !ok {
			index[key] = len(spans)
			spans = append(spans, Span{Match: m, RuleIDs: []int64{m.RuleID}})
			continue
		}

		span := &spans[i]
		if !containsID(span.RuleIDs, m.RuleID) {
			span.RuleIDs = append(span.RuleIDs, m.RuleID)
		}
		if MoreRestrictive(m.AllowedRoles, span.AllowedRoles, defaultRoles) {
			span.AllowedRoles = m.AllowedRoles
			span.Who = m.Who
			span.When = m.When
		}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Length > spans[j].Length
	})
	return spans
}

// MoreRestrictive reports whether candidate grants access to strictly fewer
// roles than current once empty lists are replaced by defaultRoles.
func MoreRestrictive(candidate, current, defaultRoles []string) bool {
	return restrictiveness(candidate, defaultRoles) < restrictiveness(current, defaultRoles)
}

func restrictiveness(roles, defaultRoles []string) int {
	if len(roles) == 0 {
		roles = defaultRoles
	}
	distinct := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r = strings.TrimSpace(r); r != "" {
			distinct[r] = struct{}{}
		}
	}
	return len(distinct)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
