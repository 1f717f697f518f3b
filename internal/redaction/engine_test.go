package redaction

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/markup"
	"github.com/raaihank/redactor/internal/pattern"
	"github.com/raaihank/redactor/internal/render"
	"github.com/raaihank/redactor/internal/rules"
)

const solidOpen = "<redact class='redacted restricted redact-solid'>"

func newEngine(t testing.TB, opts ...Option) *Engine {
	t.Helper()
	stripper, err := markup.NewStripper(nil)
	if err != nil {
		t.Fatalf("NewStripper failed: %v", err)
	}
	return NewEngine(pattern.NewCompiler(pattern.NewRegistry()), render.NewRenderer(), stripper, zap.NewNop(), opts...)
}

var (
	subscriber = NewStaticViewer("sam", "subscriber")
	plain      = RenderDefaults{Style: render.StyleSolid}
)

func TestRedactScenarios(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	t.Run("LiteralWord", func(t *testing.T) {
		defaults := RenderDefaults{Style: render.StyleSolid, Options: render.Options{Color: "#000000"}}
		got, errs := e.Redact(ctx, "Contact SSN for help", []rules.Rule{{ID: 1, Pattern: "SSN"}}, subscriber, defaults)
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		want := "Contact <redact class='redacted restricted redact-solid' style='color:#000000;background-color:#000000'>███</redact> for help"
		if got != want {
			t.Errorf("\n got %s\nwant %s", got, want)
		}
	})

	t.Run("Mask", func(t *testing.T) {
		got, _ := e.Redact(ctx, "Call 123-45-6789 now", []rules.Rule{{ID: 1, Pattern: "#000-00-0000"}}, subscriber, plain)
		want := "Call " + solidOpen + strings.Repeat("█", 11) + "</redact> now"
		if got != want {
			t.Errorf("\n got %s\nwant %s", got, want)
		}
	})

	t.Run("MarkupPreserved", func(t *testing.T) {
		content := `<p class="secret">The <b>secret</b> plan</p>`
		got, _ := e.Redact(ctx, content, []rules.Rule{{ID: 1, Pattern: "secret"}}, subscriber, plain)
		want := `<p class="secret">The <b>` + solidOpen + "██████</redact></b> plan</p>"
		if got != want {
			t.Errorf("\n got %s\nwant %s", got, want)
		}
	})

	t.Run("LongestFirstNoNesting", func(t *testing.T) {
		ruleSet := []rules.Rule{{ID: 1, Pattern: "123"}, {ID: 2, Pattern: "#000-0000"}}
		report, err := e.RedactWithReport(ctx, "call 555-1234", ruleSet, subscriber, plain)
		if err != nil {
			t.Fatalf("RedactWithReport failed: %v", err)
		}
		want := "call " + solidOpen + "████████</redact>"
		if report.Content != want {
			t.Errorf("\n got %s\nwant %s", report.Content, want)
		}
		if !reflect.DeepEqual(report.Hits, map[int64]int{2: 1}) {
			t.Errorf("unexpected hits: %v", report.Hits)
		}
	})

	t.Run("NoRedactBlockUntouched", func(t *testing.T) {
		content := "secret [noredact]secret[/noredact]"
		got, _ := e.Redact(ctx, content, []rules.Rule{{ID: 1, Pattern: "secret"}}, subscriber, plain)
		want := solidOpen + "██████</redact> [noredact]secret[/noredact]"
		if got != want {
			t.Errorf("\n got %s\nwant %s", got, want)
		}
	})

	t.Run("EntityEncodedText", func(t *testing.T) {
		got, _ := e.Redact(ctx, "Fish &amp; Chips", []rules.Rule{{ID: 1, Pattern: "fish & chips"}}, subscriber, plain)
		if strings.Contains(got, "Fish") || !strings.Contains(got, solidOpen) {
			t.Errorf("entity-encoded occurrence not masked: %s", got)
		}
	})

	t.Run("EntityEncodedKeepsVisibleLength", func(t *testing.T) {
		got, _ := e.Redact(ctx, "AT&amp;T rocks", []rules.Rule{{ID: 1, Pattern: "AT&T"}}, subscriber, plain)
		want := solidOpen + "████</redact> rocks"
		if got != want {
			t.Errorf("\n got %s\nwant %s", got, want)
		}
	})
}

func TestRedactLargeTagFreeContent(t *testing.T) {
	e := newEngine(t)
	prose := strings.Repeat("The quarterly figures were discussed at length by the committee. ", 200)
	content := prose + "Reach jane.doe@example.com for details. " + prose

	start := time.Now()
	got, errs := e.Redact(context.Background(), content, []rules.Rule{{ID: 1, Pattern: "/EMAIL"}}, subscriber, plain)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if strings.Contains(got, "jane.doe@example.com") {
		t.Error("email left in the output")
	}
	if !strings.Contains(got, solidOpen+strings.Repeat("█", len("jane.doe@example.com"))+"</redact>") {
		t.Error("email not masked")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("redaction of %d bytes took %s", len(content), elapsed)
	}
}

func TestRedactPermissions(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	created := time.Date(2016, 3, 3, 12, 0, 0, 0, time.UTC)
	rule := rules.Rule{ID: 9, Pattern: "secret", AllowedRoles: rules.Roles{"author"}, CreatedBy: "alice", CreatedAt: created}

	t.Run("AdministratorSeesOriginal", func(t *testing.T) {
		admin := NewStaticViewer("root", "Administrator")
		got, errs := e.Redact(ctx, "the secret", []rules.Rule{rule}, admin, plain)
		if got != "the secret" || len(errs) != 0 {
			t.Errorf("got %q, %v", got, errs)
		}
	})

	t.Run("EditorSeesOriginal", func(t *testing.T) {
		got, _ := e.Redact(ctx, "the secret", []rules.Rule{rule}, NewStaticViewer("ed", "editor"), plain)
		if got != "the secret" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("AllowedRole", func(t *testing.T) {
		got, _ := e.Redact(ctx, "the Secret", []rules.Rule{rule}, NewStaticViewer("al", "author"), plain)
		want := "the <redact class='redacted tooltip allowed' title='Redacted by alice on March 3, 2016'>Secret</redact>"
		if got != want {
			t.Errorf("\n got %s\nwant %s", got, want)
		}
	})

	t.Run("EmptyRolesUseDefaults", func(t *testing.T) {
		defaults := RenderDefaults{Roles: []string{"author"}, Style: render.StyleSolid}
		open := rules.Rule{ID: 1, Pattern: "secret"}
		got, _ := e.Redact(ctx, "secret", []rules.Rule{open}, NewStaticViewer("al", "author"), defaults)
		if !strings.Contains(got, "allowed") {
			t.Errorf("default role should be allowed: %s", got)
		}
		got, _ = e.Redact(ctx, "secret", []rules.Rule{open}, subscriber, defaults)
		if !strings.Contains(got, "restricted") {
			t.Errorf("subscriber should be restricted: %s", got)
		}
	})

	t.Run("MostRestrictiveWins", func(t *testing.T) {
		ruleSet := []rules.Rule{
			{ID: 1, Pattern: "Acme", AllowedRoles: rules.Roles{"editor", "intern"}},
			{ID: 2, Pattern: "acme", AllowedRoles: rules.Roles{"editor"}},
		}
		report, err := e.RedactWithReport(ctx, "Acme corp", ruleSet, NewStaticViewer("ian", "intern"), plain)
		if err != nil {
			t.Fatalf("RedactWithReport failed: %v", err)
		}
		if report.Content != solidOpen+"████</redact> corp" {
			t.Errorf("intern should be masked by the narrower rule: %s", report.Content)
		}
		if report.Spans != 1 || !reflect.DeepEqual(report.Hits, map[int64]int{1: 1, 2: 1}) {
			t.Errorf("unexpected report: spans=%d hits=%v", report.Spans, report.Hits)
		}
	})
}

func TestRedactRuleErrors(t *testing.T) {
	e := newEngine(t)
	ruleSet := []rules.Rule{
		{ID: 1, Pattern: "/UNKNOWN"},
		{ID: 2, Pattern: "#"},
		{ID: 3, Pattern: "secret"},
		{ID: 4, Pattern: "/UNKNOWN"},
	}

	got, errs := e.Redact(context.Background(), "a secret", ruleSet, subscriber, plain)
	if got != "a "+solidOpen+"██████</redact>" {
		t.Errorf("valid rule not applied: %s", got)
	}
	if len(errs) != 3 {
		t.Fatalf("expected 3 rule errors, got %v", errs)
	}

	var ruleErr *RuleError
	if !errors.As(errs[0], &ruleErr) || ruleErr.RuleID != 1 || !errors.Is(errs[0], pattern.ErrUnknownPatternName) {
		t.Errorf("unexpected first error: %v", errs[0])
	}
	if !errors.Is(errs[1], pattern.ErrEmptyMask) {
		t.Errorf("unexpected second error: %v", errs[1])
	}
	if !errors.As(errs[2], &ruleErr) || ruleErr.RuleID != 4 {
		t.Errorf("repeated pattern should report its own rule id: %v", errs[2])
	}
}

func TestRedactShortCircuits(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	if got, errs := e.Redact(ctx, "", []rules.Rule{{ID: 1, Pattern: "x"}}, subscriber, plain); got != "" || errs != nil {
		t.Errorf("empty content: %q %v", got, errs)
	}
	if got, _ := e.Redact(ctx, "x marks", nil, subscriber, plain); got != "x marks" {
		t.Errorf("no rules: %q", got)
	}
}

type brokenOracle struct {
	viewerErr error
	roleErr   error
}

func (o brokenOracle) CurrentViewer(context.Context) (Identity, error) {
	return Identity{Name: "ghost"}, o.viewerErr
}

func (o brokenOracle) ViewerHasRole(context.Context, string) (bool, error) {
	return true, o.roleErr
}

func TestOracleFailure(t *testing.T) {
	ctx := context.Background()
	ruleSet := []rules.Rule{{ID: 1, Pattern: "secret", AllowedRoles: rules.Roles{"author"}}, {ID: 2, Pattern: "plan", AllowedRoles: rules.Roles{"author"}}}
	down := errors.New("directory down")

	t.Run("ClosedViewerLookup", func(t *testing.T) {
		got, errs := newEngine(t).Redact(ctx, "secret plan", ruleSet, brokenOracle{viewerErr: down}, plain)
		if strings.Contains(got, "secret") || strings.Contains(got, "plan") {
			t.Errorf("content leaked on oracle failure: %s", got)
		}
		if len(errs) != 1 || !errors.Is(errs[0], ErrCollaboratorUnavailable) {
			t.Errorf("expected one unavailable error, got %v", errs)
		}
	})

	t.Run("ClosedRoleLookup", func(t *testing.T) {
		got, errs := newEngine(t).Redact(ctx, "secret plan", ruleSet, brokenOracle{roleErr: down}, plain)
		if strings.Contains(got, "allowed") {
			t.Errorf("failed role lookup must not allow: %s", got)
		}
		if len(errs) != 1 || !errors.Is(errs[0], ErrCollaboratorUnavailable) {
			t.Errorf("expected one unavailable error, got %v", errs)
		}
	})

	t.Run("ErrorPolicy", func(t *testing.T) {
		e := newEngine(t, WithFailurePolicy(FailError))
		got, errs := e.Redact(ctx, "secret plan", ruleSet, brokenOracle{roleErr: down}, plain)
		if got != "" || len(errs) != 1 || !errors.Is(errs[0], ErrCollaboratorUnavailable) {
			t.Errorf("expected hard failure, got %q %v", got, errs)
		}
	})

	t.Run("NilViewerIsAnonymous", func(t *testing.T) {
		got, errs := newEngine(t).Redact(ctx, "secret", ruleSet, nil, plain)
		if !strings.Contains(got, "restricted") || len(errs) != 0 {
			t.Errorf("got %q %v", got, errs)
		}
	})
}

type failingStripper struct{}

func (failingStripper) Strip(string) (string, error) { return "", errors.New("parser crashed") }

func TestStripperFailure(t *testing.T) {
	e := NewEngine(pattern.NewCompiler(nil), render.NewRenderer(), failingStripper{}, zap.NewNop())
	got, errs := e.Redact(context.Background(), "secret", []rules.Rule{{ID: 1, Pattern: "secret"}}, subscriber, plain)
	if got != "" {
		t.Errorf("content must not be returned on stripper failure: %q", got)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrCollaboratorUnavailable) {
		t.Errorf("expected unavailable error, got %v", errs)
	}
}

func TestStaticViewer(t *testing.T) {
	v := NewStaticViewer("x", " Author ", "", "EDITOR")
	id, _ := v.CurrentViewer(context.Background())
	if !id.IsEditor || id.IsAdmin || !id.Privileged() {
		t.Errorf("unexpected identity: %+v", id)
	}
	if ok, _ := v.ViewerHasRole(context.Background(), "author"); !ok {
		t.Error("expected author role")
	}
	if ok, _ := v.ViewerHasRole(context.Background(), "subscriber"); ok {
		t.Error("unexpected subscriber role")
	}
}
