package render

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Renderer is the style registry. It dispatches a span to the render function
// registered under the span's style and runs the configured hooks around it.
type Renderer struct {
	mu       sync.RWMutex
	styles   map[string]Func
	fallback string
	pre      []Hook
	post     []Hook
}

// NewRenderer returns a registry holding the four built-in styles. Spans with
// an unknown or empty style render as solid.
func NewRenderer() *Renderer {
	return &Renderer{
		styles: map[string]Func{
			StyleSolid:   renderSolid,
			StyleHidden:  renderHidden,
			StyleAltText: renderAltText,
			StyleSpoiler: renderSpoiler,
		},
		fallback: StyleSolid,
	}
}

// Register adds or replaces the render function for a style.
func (r *Renderer) Register(name string, fn Func) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ErrEmptyStyleName
	}
	if fn == nil {
		return fmt.Errorf("register style %q: %w", name, ErrNilRenderFunc)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.styles[name] = fn
	return nil
}

// AddPreHook appends a hook applied to span content before rendering.
func (r *Renderer) AddPreHook(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pre = append(r.pre, h)
}

// AddPostHook appends a hook applied to rendered markup.
func (r *Renderer) AddPostHook(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.post = append(r.post, h)
}

// Has reports whether a style is registered.
func (r *Renderer) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.styles[strings.ToLower(name)]
	return ok
}

// Styles lists the registered style names in sorted order.
func (r *Renderer) Styles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.styles))
	for name := range r.styles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render produces the replacement markup for one span. Empty content renders
// as the empty string.
func (r *Renderer) Render(allowed bool, content string, meta Meta, opts Options) string {
	if content == "" {
		return ""
	}

	r.mu.RLock()
	fn, ok := r.styles[strings.ToLower(meta.Style)]
	if !ok {
		fn = r.styles[r.fallback]
	}
	pre := r.pre
	post := r.post
	r.mu.RUnlock()

	for _, h := range pre {
		content = h(content, meta)
	}
	out := fn(allowed, content, meta, opts)
	for _, h := range post {
		out = h(out, meta)
	}
	return out
}
