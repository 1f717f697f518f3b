package match

import (
	"context"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"github.com/raaihank/redactor/internal/pattern"
)

// Source carries the rule metadata attached to every match a pattern produces.
type Source struct {
	RuleID       int64
	AllowedRoles []string
	Who          string
	When         time.Time
}

// Find returns every match of compiled in content, longest text first, with
// duplicates of the exact same text collapsed to their first occurrence.
// An engine failure yields no matches and an *EngineError.
func Find(ctx context.Context, compiled *pattern.Compiled, content string, src Source) ([]Match, error) {
	if content == "" || compiled == nil {
		return nil, nil
	}

	seen := make(map[string]bool)
	var found []Match
	err := compiled.Scan(ctx, content, func(m *regexp2.Match) bool {
		text := m.String()
		if text != "" && !seen[text] {
			seen[text] = true
			found = append(found, Match{
				Text:         text,
				Offset:       m.Index,
				Length:       utf8.RuneCountInString(text),
				RuleID:       src.RuleID,
				AllowedRoles: src.AllowedRoles,
				Who:          src.Who,
				When:         src.When,
			})
		}
		return true
	})
	if err != nil {
		return nil, &EngineError{RuleID: src.RuleID, Err: err}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Length > found[j].Length
	})
	return found, nil
}

// Count reports how many matches compiled has in content. It is the cheap
// discovery check used to decide whether a rule applies at all.
func Count(ctx context.Context, compiled *pattern.Compiled, content string) (int, error) {
	if content == "" || compiled == nil {
		return 0, nil
	}

	n := 0
	err := compiled.Scan(ctx, content, func(*regexp2.Match) bool {
		n++
		return true
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
