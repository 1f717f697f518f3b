package render

import (
	"errors"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"pgregory.net/rapid"
)

var meta = Meta{Who: "alice", When: "March 3, 2016", Style: StyleSolid}

func TestRenderSolid(t *testing.T) {
	r := NewRenderer()
	opts := Options{Color: "#000000", Tooltips: TooltipsRedactors}

	got := r.Render(false, "SSN", meta, opts)
	want := "<redact class='redacted restricted redact-solid' style='color:#000000;background-color:#000000'>███</redact>"
	if got != want {
		t.Errorf("restricted solid:\n got %s\nwant %s", got, want)
	}

	got = r.Render(true, "SSN", meta, opts)
	want = "<redact class='redacted tooltip allowed' title='Redacted by alice on March 3, 2016'>SSN</redact>"
	if got != want {
		t.Errorf("allowed solid:\n got %s\nwant %s", got, want)
	}
}

func TestTooltipPolicy(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		policy      TooltipPolicy
		allowed     bool
		wantTooltip bool
	}{
		{TooltipsAll, false, true},
		{TooltipsAll, true, true},
		{TooltipsRedactors, false, false},
		{TooltipsRedactors, true, true},
		{"", true, true},
		{TooltipsNone, false, false},
		{TooltipsNone, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			out := r.Render(tt.allowed, "x", meta, Options{Tooltips: tt.policy})
			if got := strings.Contains(out, "title='Redacted by alice"); got != tt.wantTooltip {
				t.Errorf("allowed=%v: tooltip=%v, want %v (%s)", tt.allowed, got, tt.wantTooltip, out)
			}
		})
	}
}

func TestRenderStyles(t *testing.T) {
	r := NewRenderer()
	opts := Options{Color: "red", AltText: "REDACTED"}

	t.Run("Hidden", func(t *testing.T) {
		out := r.Render(false, "secret", Meta{Style: StyleHidden}, opts)
		if out != "<redact class='redacted redact-hidden'></redact>" {
			t.Errorf("unexpected markup: %s", out)
		}
	})

	t.Run("AltText", func(t *testing.T) {
		out := r.Render(false, "top secret info", Meta{Style: StyleAltText}, opts)
		want := "<redact class='redacted alttext' style='color:red;border-color:red'>REDACTED REDACT</redact>"
		if out != want {
			t.Errorf("\n got %s\nwant %s", out, want)
		}
		if got := AltText("REDACTED", utf8.RuneCountInString("top secret info")); utf8.RuneCountInString(got) != utf8.RuneCountInString("top secret info") {
			t.Errorf("alt text %q does not keep the length", got)
		}
	})

	t.Run("EntityEncodedContentKeepsVisibleLength", func(t *testing.T) {
		out := r.Render(false, "AT&amp;T", Meta{Style: StyleSolid}, Options{})
		if !strings.Contains(out, ">████</redact>") {
			t.Errorf("expected four blocks, got %s", out)
		}
		out = r.Render(false, "AT&amp;T", Meta{Style: StyleAltText}, Options{AltText: "XY"})
		if !strings.HasSuffix(out, ">XY X</redact>") {
			t.Errorf("expected four alt text characters, got %s", out)
		}
	})

	t.Run("Spoiler", func(t *testing.T) {
		out := r.Render(false, "plot twist", Meta{Style: StyleSpoiler}, opts)
		if out != "<redact class='redacted spoiler'>plot twist</redact>" {
			t.Errorf("unexpected markup: %s", out)
		}
	})

	t.Run("UnknownFallsBackToSolid", func(t *testing.T) {
		out := r.Render(false, "ab", Meta{Style: "sparkle"}, Options{})
		if !strings.Contains(out, "redact-solid") || !strings.Contains(out, "██") {
			t.Errorf("expected solid rendering, got %s", out)
		}
	})

	t.Run("EmptyContent", func(t *testing.T) {
		if out := r.Render(false, "", meta, opts); out != "" {
			t.Errorf("expected empty output, got %q", out)
		}
	})

	t.Run("TitleIsEscaped", func(t *testing.T) {
		out := r.Render(true, "x", Meta{Who: "<b>'eve'</b>", When: "now"}, Options{})
		if strings.Contains(out, "<b>") || strings.Contains(out, "'eve'") {
			t.Errorf("title not escaped: %s", out)
		}
	})
}

func TestRegister(t *testing.T) {
	r := NewRenderer()

	if err := r.Register("", renderSolid); !errors.Is(err, ErrEmptyStyleName) {
		t.Errorf("expected ErrEmptyStyleName, got %v", err)
	}
	if err := r.Register("x", nil); !errors.Is(err, ErrNilRenderFunc) {
		t.Errorf("expected ErrNilRenderFunc, got %v", err)
	}

	err := r.Register("Stars", func(allowed bool, content string, _ Meta, _ Options) string {
		if allowed {
			return content
		}
		return strings.Repeat("*", utf8.RuneCountInString(content))
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !r.Has("stars") {
		t.Error("registered style not found")
	}
	if out := r.Render(false, "abc", Meta{Style: "stars"}, Options{}); out != "***" {
		t.Errorf("custom style not used: %q", out)
	}

	want := []string{"alttext", "hidden", "solid", "spoiler", "stars"}
	if got := r.Styles(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Styles() = %v, want %v", got, want)
	}
}

func TestHooks(t *testing.T) {
	r := NewRenderer()
	r.AddPreHook(func(text string, _ Meta) string { return strings.ToUpper(text) })
	r.AddPostHook(func(text string, m Meta) string { return "[" + m.Who + "]" + text })

	out := r.Render(false, "spoil", Meta{Who: "bob", Style: StyleSpoiler}, Options{})
	if out != "[bob]<redact class='redacted spoiler'>SPOIL</redact>" {
		t.Errorf("unexpected hook output: %s", out)
	}
}

func TestAltText(t *testing.T) {
	tests := []struct {
		alt    string
		length int
		want   string
	}{
		{"REDACTED", 0, ""},
		{"REDACTED", 3, "RED"},
		{"REDACTED", 9, "REDACTEDR"},
		{"REDACTED", 12, "REDACTED RED"},
		{"  NO  ", 4, "NO N"},
		{"", 3, "███"},
	}
	for _, tt := range tests {
		if got := AltText(tt.alt, tt.length); got != tt.want {
			t.Errorf("AltText(%q, %d) = %q, want %q", tt.alt, tt.length, got, tt.want)
		}
	}
}

func TestBlocksPreservesShape(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "content")
		masked := Blocks(s)

		in, out := []rune(s), []rune(masked)
		if len(in) != len(out) {
			t.Fatalf("length changed: %d -> %d", len(in), len(out))
		}
		for i := range in {
			if unicode.IsSpace(in[i]) != unicode.IsSpace(out[i]) {
				t.Fatalf("whitespace moved at %d in %q", i, s)
			}
			if !unicode.IsSpace(in[i]) && out[i] != Block {
				t.Fatalf("rune %d not masked in %q", i, s)
			}
		}
	})
}

func TestAltTextPreservesLength(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alt := rapid.String().Draw(t, "alt")
		n := rapid.IntRange(0, 200).Draw(t, "length")
		if got := utf8.RuneCountInString(AltText(alt, n)); got != n {
			t.Fatalf("AltText(%q, %d) has length %d", alt, n, got)
		}
	})
}
