package redaction

// ContentKind is the kind of text being redacted.
type ContentKind string

const (
	KindPost      ContentKind = "post"
	KindTitle     ContentKind = "title"
	KindComment   ContentKind = "comment"
	KindShortcode ContentKind = "shortcode"
)

// RedactionContext carries the metadata of the content owner that
// applicability filters inspect.
type RedactionContext struct {
	Kind       ContentKind `json:"kind"`
	Categories []string    `json:"categories,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	PostType   string      `json:"post_type,omitempty"`
}

// Decision is the result of an applicability filter.
type Decision int

const (
	Abstain Decision = iota
	Redact
	Skip
)

// Filter refines the decision reached by the filters before it.
type Filter func(current Decision, rc RedactionContext) Decision

// Applicability decides whether a piece of content is redacted at all.
type Applicability struct {
	Titles     bool
	Comments   bool
	Shortcodes bool
	Categories []string
	Tags       []string
	PostTypes  []string
	Filters    []Filter
}

// ShouldRedact reports whether content described by rc goes through the
// engine. Posts are always eligible; titles, comments and shortcode output
// only when switched on. When categories, tags or post types are configured,
// the content must match at least one configured value.
func (a Applicability) ShouldRedact(rc RedactionContext) bool {
	switch rc.Kind {
	case KindTitle:
		if !a.Titles {
			return false
		}
	case KindComment:
		if !a.Comments {
			return false
		}
	case KindShortcode:
		if !a.Shortcodes {
			return false
		}
	}

	d := Abstain
	for _, f := range a.filters() {
		d = f(d, rc)
	}
	return d != Skip
}

func (a Applicability) filters() []Filter {
	out := []Filter{
		membership(a.Categories, func(rc RedactionContext) []string { return rc.Categories }),
		membership(a.Tags, func(rc RedactionContext) []string { return rc.Tags }),
		membership(a.PostTypes, func(rc RedactionContext) []string { return []string{rc.PostType} }),
	}
	return append(out, a.Filters...)
}

// membership builds a filter that votes Redact when the content carries one
// of the configured values and Skip otherwise. An earlier Redact is kept and
// an empty configuration abstains.
func membership(configured []string, values func(RedactionContext) []string) Filter {
	return func(current Decision, rc RedactionContext) Decision {
		if current == Redact || len(configured) == 0 {
			return current
		}
		for _, v := range values(rc) {
			for _, c := range configured {
				if v != "" && v == c {
					return Redact
				}
			}
		}
		return Skip
	}
}
