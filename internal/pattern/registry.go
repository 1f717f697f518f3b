package pattern

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
)

// Registry maps upper-case pattern names to raw expression fragments that
// rules reference with the "/NAME" syntax.
type Registry struct {
	mu        sync.RWMutex
	fragments map[string]string
}

// DefaultFragments are the named patterns every registry starts with.
var DefaultFragments = map[string]string{
	"SSN":        `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`,
	"EMAIL":      `(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`,
	"PHONE":      `(\+?1[ .\-]?)?\(?\b[0-9]{3}\)?[ .\-]?[0-9]{3}[ .\-]?[0-9]{4}\b`,
	"CREDITCARD": `\b[0-9]{4}[ \-]?[0-9]{4}[ \-]?[0-9]{4}[ \-]?[0-9]{4}\b`,
	"IPV4":       `\b(25[0-5]|2[0-4][0-9]|1?[0-9]?[0-9])(\.(25[0-5]|2[0-4][0-9]|1?[0-9]?[0-9])){3}\b`,
	"ZIPCODE":    `\b[0-9]{5}(-[0-9]{4})?\b`,
	"DATE":       `\b[0-9]{1,2}/[0-9]{1,2}/[0-9]{2,4}\b`,
}

// NewRegistry returns a registry seeded with DefaultFragments.
func NewRegistry() *Registry {
	r := &Registry{fragments: make(map[string]string, len(DefaultFragments))}
	for name, fragment := range DefaultFragments {
		r.fragments[name] = fragment
	}
	return r
}

// NewEmptyRegistry returns a registry with no named patterns.
func NewEmptyRegistry() *Registry {
	return &Registry{fragments: make(map[string]string)}
}

// Register adds or replaces a named pattern. The fragment must compile on its
// own; names are case-insensitive.
func (r *Registry) Register(name, fragment string) error {
	key := normalizeName(name)
	if key == "" {
		return fmt.Errorf("register pattern: %w", ErrUnknownPatternName)
	}
	if fragment == "" {
		return fmt.Errorf("register pattern %s: %w", key, ErrEmptyPattern)
	}
	if _, err := regexp2.Compile(fragment, regexp2.None); err != nil {
		return fmt.Errorf("register pattern %s: %w: %v", key, ErrInvalidRegex, err)
	}

	r.mu.Lock()
	r.fragments[key] = fragment
	r.mu.Unlock()
	return nil
}

// Lookup returns the fragment registered under name.
func (r *Registry) Lookup(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fragment, ok := r.fragments[normalizeName(name)]
	return fragment, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.fragments))
	for name := range r.fragments {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
