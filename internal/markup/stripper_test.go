package markup

import "testing"

func TestStrip(t *testing.T) {
	s, err := NewStripper(nil)
	if err != nil {
		t.Fatalf("NewStripper failed: %v", err)
	}

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"Empty", "", ""},
		{"PlainText", "nothing to see", "nothing to see"},
		{"Tags", `<p>Call <a href="tel:555">555-1234</a> now</p>`, "Call 555-1234 now"},
		{"Entities", "Fish &amp; Chips", "Fish & Chips"},
		{"RedactBlock", `before [redact allow="editor"]hidden part[/redact] after`, "before  after"},
		{"NoRedactBlock", "a [NOREDACT]keep out[/noredact] b", "a  b"},
		{"SelfClosing", "x [redact] y", "x  y"},
		{"UnknownShortcodeKept", "[gallery ids=1]", "[gallery ids=1]"},
		{"Multiline", "a [redact]line1\nline2[/redact] b", "a  b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Strip(tt.content)
			if err != nil {
				t.Fatalf("Strip failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestStripWithoutShortcodes(t *testing.T) {
	s, err := NewStripper([]string{})
	if err != nil {
		t.Fatalf("NewStripper failed: %v", err)
	}
	got, err := s.Strip("<b>[redact]x[/redact]</b>")
	if err != nil {
		t.Fatalf("Strip failed: %v", err)
	}
	if got != "[redact]x[/redact]" {
		t.Errorf("unexpected surface: %q", got)
	}
}
