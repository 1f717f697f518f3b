package match

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/raaihank/redactor/internal/pattern"
)

func compile(t *testing.T, raw string) *pattern.Compiled {
	t.Helper()
	c, err := pattern.NewCompiler(pattern.NewRegistry()).Compile(raw)
	if err != nil {
		t.Fatalf("Compile(%q) failed: %v", raw, err)
	}
	return c
}

func TestFind(t *testing.T) {
	t.Run("EmptyContent", func(t *testing.T) {
		found, err := Find(context.Background(), compile(t, "x"), "", Source{})
		if err != nil || len(found) != 0 {
			t.Fatalf("expected no matches and no error, got %v, %v", found, err)
		}
	})

	t.Run("LongestFirstAndUnique", func(t *testing.T) {
		content := "call 555-1234 or 555-123 or 555-1234 again"
		found, err := Find(context.Background(), compile(t, "#000-9999"), content, Source{RuleID: 7, Who: "alice"})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		var texts []string
		for _, m := range found {
			texts = append(texts, m.Text)
			if m.RuleID != 7 || m.Who != "alice" {
				t.Errorf("source metadata not attached: %+v", m)
			}
		}
		want := []string{"555-1234", "555-123"}
		if !reflect.DeepEqual(texts, want) {
			t.Errorf("got %v, want %v", texts, want)
		}
		if found[0].Offset != 5 || found[0].Length != 8 {
			t.Errorf("unexpected position: offset=%d length=%d", found[0].Offset, found[0].Length)
		}
	})

	t.Run("CaseInsensitiveLiteral", func(t *testing.T) {
		found, err := Find(context.Background(), compile(t, "acme"), "ACME and Acme", Source{})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(found) != 2 {
			t.Fatalf("expected 2 distinct texts, got %d", len(found))
		}
	})

	t.Run("OffsetsAreRunes", func(t *testing.T) {
		found, err := Find(context.Background(), compile(t, "cafe"), "é cafe", Source{})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(found) != 1 || found[0].Offset != 2 {
			t.Fatalf("expected rune offset 2, got %+v", found)
		}
	})

	t.Run("EngineTimeout", func(t *testing.T) {
		registry := pattern.NewEmptyRegistry()
		if err := registry.Register("SLOW", `(a+)+$`); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		c, err := pattern.NewCompiler(registry, pattern.WithMatchTimeout(time.Millisecond)).Compile("/slow")
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		content := strings.Repeat("a", 5000) + "!"
		found, err := Find(context.Background(), c, content, Source{RuleID: 3})
		var engineErr *EngineError
		if !errors.As(err, &engineErr) {
			t.Fatalf("expected *EngineError, got %v", err)
		}
		if engineErr.RuleID != 3 || len(found) != 0 {
			t.Errorf("unexpected result: %v %+v", found, engineErr)
		}
		if !errors.Is(err, pattern.ErrMatchTimeout) {
			t.Errorf("expected ErrMatchTimeout, got %v", err)
		}
		if strings.Contains(err.Error(), "aaaa") {
			t.Errorf("engine error carries content: %.80s", err.Error())
		}
	})

	t.Run("TagFreeProse", func(t *testing.T) {
		content := strings.Repeat("Nothing to see in this sentence at all. ", 400) + "mail jane@example.com today"
		found, err := Find(context.Background(), compile(t, "/EMAIL"), content, Source{RuleID: 4})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(found) != 1 || found[0].Text != "jane@example.com" {
			t.Errorf("unexpected matches: %+v", found)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Find(ctx, compile(t, "x"), "x y x", Source{RuleID: 5})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestCount(t *testing.T) {
	n, err := Count(context.Background(), compile(t, "/email"), "a@b.io, c@d.org and <a href='x@y.com'>link</a>")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 matches outside markup, got %d", n)
	}
}

func TestDeduplicate(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		if spans := Deduplicate(nil, nil); len(spans) != 0 {
			t.Fatalf("expected no spans, got %v", spans)
		}
	})

	t.Run("MostRestrictiveWins", func(t *testing.T) {
		matches := []Match{
			{Text: "Acme", Length: 4, RuleID: 1, AllowedRoles: []string{"editor", "intern"}, Who: "bob"},
			{Text: "acme", Length: 4, RuleID: 2, AllowedRoles: []string{"editor"}, Who: "carol"},
		}
		spans := Deduplicate(matches, nil)
		if len(spans) != 1 {
			t.Fatalf("expected 1 span, got %d", len(spans))
		}
		span := spans[0]
		if !reflect.DeepEqual(span.AllowedRoles, []string{"editor"}) {
			t.Errorf("expected the narrower role list, got %v", span.AllowedRoles)
		}
		if span.Who != "carol" || span.Text != "Acme" {
			t.Errorf("unexpected span metadata: %+v", span)
		}
		if !reflect.DeepEqual(span.RuleIDs, []int64{1, 2}) {
			t.Errorf("unexpected rule ids: %v", span.RuleIDs)
		}
	})

	t.Run("TieKeepsFirstSeen", func(t *testing.T) {
		matches := []Match{
			{Text: "x", Length: 1, RuleID: 1, AllowedRoles: []string{"author"}},
			{Text: "X", Length: 1, RuleID: 2, AllowedRoles: []string{"subscriber"}},
		}
		spans := Deduplicate(matches, nil)
		if !reflect.DeepEqual(spans[0].AllowedRoles, []string{"author"}) {
			t.Errorf("expected first-seen roles, got %v", spans[0].AllowedRoles)
		}
	})

	t.Run("EmptyListUsesDefaults", func(t *testing.T) {
		defaults := []string{"author", "contributor", "subscriber"}
		matches := []Match{
			{Text: "x", Length: 1, RuleID: 1},
			{Text: "x", Length: 1, RuleID: 2, AllowedRoles: []string{"author", "contributor"}},
		}
		spans := Deduplicate(matches, defaults)
		if !reflect.DeepEqual(spans[0].AllowedRoles, []string{"author", "contributor"}) {
			t.Errorf("expected explicit two-role list to win over three defaults, got %v", spans[0].AllowedRoles)
		}
	})

	t.Run("LongestFirst", func(t *testing.T) {
		matches := []Match{
			{Text: "ab", Length: 2},
			{Text: "abcd", Length: 4},
			{Text: "xy", Length: 2},
		}
		spans := Deduplicate(matches, nil)
		var texts []string
		for _, s := range spans {
			texts = append(texts, s.Text)
		}
		if !reflect.DeepEqual(texts, []string{"abcd", "ab", "xy"}) {
			t.Errorf("unexpected order: %v", texts)
		}
	})
}

func TestEngineErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &EngineError{RuleID: 1, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("EngineError should unwrap to its cause")
	}
}
