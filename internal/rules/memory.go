package rules

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Repository. It backs tests and deployments
// that run without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	rules  map[int64]Rule
	nextID int64
	now    func() time.Time
}

// NewMemoryStore returns an empty store, optionally seeded with rules.
func NewMemoryStore(seed ...Rule) *MemoryStore {
	s := &MemoryStore{
		rules:  make(map[int64]Rule),
		nextID: 1,
		now:    time.Now,
	}
	for i := range seed {
		r := seed[i]
		_ = s.Create(context.Background(), &r)
	}
	return s
}

// ListActiveRules returns every rule in id order.
func (s *MemoryStore) ListActiveRules(ctx context.Context) ([]Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(OrderByID, "ASC"), nil
}

// GetRule returns the rule with the given id.
func (s *MemoryStore) GetRule(ctx context.Context, id int64) (*Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	r.AllowedRoles = append(Roles(nil), r.AllowedRoles...)
	return &r, nil
}

// List returns one page of rules.
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.Normalized()

	s.mu.RLock()
	all := s.sortedLocked(opts.OrderBy, opts.Order)
	s.mu.RUnlock()

	prefix := strings.ToLower(opts.Search)
	filtered := all[:0]
	for _, r := range all {
		if prefix == "" ||
			strings.HasPrefix(strings.ToLower(r.Pattern), prefix) ||
			strings.HasPrefix(strings.ToLower(r.Description), prefix) {
			filtered = append(filtered, r)
		}
	}

	result := &ListResult{Total: int64(len(filtered)), Rules: []Rule{}}
	if opts.Offset >= len(filtered) {
		return result, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	result.Rules = append(result.Rules, filtered[opts.Offset:end]...)
	return result, nil
}

// Create stores a new rule and assigns its id.
func (s *MemoryStore) Create(ctx context.Context, rule *Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rule.Normalize(s.now()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPatternLocked(rule.Pattern, 0) {
		return ErrDuplicatePattern
	}
	rule.ID = s.nextID
	s.nextID++
	s.rules[rule.ID] = *rule
	return nil
}

// Update replaces the editable fields of an existing rule.
func (s *MemoryStore) Update(ctx context.Context, rule *Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[rule.ID]
	if !ok {
		return ErrRuleNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.MatchCount = existing.MatchCount
	if rule.CreatedBy == "" {
		rule.CreatedBy = existing.CreatedBy
	}
	if err := rule.Normalize(s.now()); err != nil {
		return err
	}
	if s.hasPatternLocked(rule.Pattern, rule.ID) {
		return ErrDuplicatePattern
	}
	s.rules[rule.ID] = *rule
	return nil
}

// Delete removes the given rules and reports how many existed.
func (s *MemoryStore) Delete(ctx context.Context, ids ...int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.rules[id]; ok {
			delete(s.rules, id)
			n++
		}
	}
	return n, nil
}

// HasPattern reports whether a rule other than excludeID uses pattern.
func (s *MemoryStore) HasPattern(ctx context.Context, pattern string, excludeID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasPatternLocked(strings.TrimSpace(pattern), excludeID), nil
}

// BatchInsert creates every rule whose pattern is not already stored.
func (s *MemoryStore) BatchInsert(ctx context.Context, batch []*Rule) (*BatchInsertResult, error) {
	start := time.Now()
	result := &BatchInsertResult{}
	for _, r := range batch {
		err := s.Create(ctx, r)
		switch {
		case err == nil:
			result.Inserted++
		case errors.Is(err, ErrDuplicatePattern):
			result.Duplicates++
		default:
			return result, err
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}

// AddMatchCounts increments the usage counters of the given rules.
func (s *MemoryStore) AddMatchCounts(ctx context.Context, counts map[int64]int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range counts {
		if r, ok := s.rules[id]; ok {
			r.MatchCount += n
			s.rules[id] = r
		}
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) hasPatternLocked(pattern string, excludeID int64) bool {
	for id, r := range s.rules {
		if id != excludeID && r.Pattern == pattern {
			return true
		}
	}
	return false
}

func (s *MemoryStore) sortedLocked(orderBy, order string) []Rule {
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		r.AllowedRoles = append(Roles(nil), r.AllowedRoles...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	less := func(a, b Rule) bool {
		switch orderBy {
		case OrderByPattern:
			return a.Pattern < b.Pattern
		case OrderByDescription:
			return a.Description < b.Description
		case OrderByCreatedBy:
			return a.CreatedBy < b.CreatedBy
		case OrderByCreatedAt:
			return a.CreatedAt.Before(b.CreatedAt)
		case OrderByMatchCount:
			return a.MatchCount < b.MatchCount
		default:
			return a.ID < b.ID
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == "DESC" {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}
