package etl

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/pattern"
	"github.com/raaihank/redactor/internal/rules"
)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.calls++
	return nil
}

func newImporter(store rules.Repository, inv Invalidator, mutate func(*Config)) *Importer {
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	if mutate != nil {
		mutate(cfg)
	}
	compiler := pattern.NewCompiler(pattern.NewRegistry())
	return NewImporter(store, compiler, inv, cfg, zap.NewNop())
}

func patterns(t *testing.T, store *rules.MemoryStore) []string {
	t.Helper()
	list, err := store.ListActiveRules(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.Pattern)
	}
	return out
}

func TestImportCSV(t *testing.T) {
	store := rules.NewMemoryStore(rules.Rule{Pattern: "already", CreatedBy: "alice"})
	inv := &countingInvalidator{}
	im := newImporter(store, inv, nil)

	data := "Pattern,allowed_roles,description\n" +
		"secret,\"editor, author\",top secret\n" +
		"/NOPE,,\n" +
		"already,,\n" +
		"secret,,again\n" +
		",,blank\n" +
		"Acme,\"[\"\"subscriber\"\"]\",\n"

	result, err := im.Import(context.Background(), strings.NewReader(data), FormatCSV)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.TotalRecords != 6 || result.Inserted != 2 || result.Duplicates != 2 || result.Invalid != 2 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(result.Errors) != 2 {
		t.Errorf("errors = %v", result.Errors)
	}
	if inv.calls != 1 {
		t.Errorf("invalidations = %d, want 1", inv.calls)
	}

	rule, err := store.GetRule(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if rule.Pattern != "secret" || rule.Description != "top secret" || rule.CreatedBy != "import" {
		t.Errorf("unexpected rule %+v", rule)
	}
	if len(rule.AllowedRoles) != 2 || rule.AllowedRoles[0] != "editor" || rule.AllowedRoles[1] != "author" {
		t.Errorf("roles = %v", rule.AllowedRoles)
	}
	if got := patterns(t, store); len(got) != 3 {
		t.Errorf("patterns = %v", got)
	}
}

func TestImportCSVStrict(t *testing.T) {
	store := rules.NewMemoryStore()
	im := newImporter(store, nil, func(c *Config) { c.SkipBad = false })

	_, err := im.Import(context.Background(), strings.NewReader("pattern\nok\n/NOPE\n"), FormatCSV)
	if err == nil {
		t.Fatal("expected the invalid row to abort the import")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Row != 2 {
		t.Errorf("error = %v", err)
	}
}

func TestImportCSVHeader(t *testing.T) {
	im := newImporter(rules.NewMemoryStore(), nil, nil)
	if _, err := im.Import(context.Background(), strings.NewReader(""), FormatCSV); err == nil {
		t.Error("empty file should fail")
	}
	if _, err := im.Import(context.Background(), strings.NewReader("name\nx\n"), FormatCSV); err == nil {
		t.Error("missing pattern column should fail")
	}
}

func TestImportJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"lines", `{"pattern":"secret","allowed_roles":"editor","created_by":"bob"}
{"pattern":"Acme"}
`},
		{"array", `[{"pattern":"secret","allowed_roles":"editor","created_by":"bob"}, {"pattern":"Acme"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := rules.NewMemoryStore()
			im := newImporter(store, nil, nil)
			result, err := im.Import(context.Background(), strings.NewReader(tt.data), FormatJSON)
			if err != nil {
				t.Fatalf("Import: %v", err)
			}
			if result.Inserted != 2 {
				t.Errorf("inserted = %d", result.Inserted)
			}
			rule, _ := store.GetRule(context.Background(), 1)
			if rule == nil || rule.CreatedBy != "bob" || !rule.AllowedRoles.Contains("editor") {
				t.Errorf("unexpected rule %+v", rule)
			}
		})
	}
}

func TestImportJSONTypeError(t *testing.T) {
	store := rules.NewMemoryStore()
	im := newImporter(store, nil, nil)
	data := "{\"pattern\":1}\n{\"pattern\":\"ok\"}\n"
	result, err := im.Import(context.Background(), strings.NewReader(data), FormatJSON)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Invalid != 1 || result.Inserted != 1 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestImportParquet(t *testing.T) {
	var buf bytes.Buffer
	w := parquet.NewWriter(&buf)
	for _, rec := range []RuleRecord{
		{Pattern: "secret", AllowedRoles: "editor"},
		{Pattern: "#000-00-0000", Description: "ssn"},
		{Pattern: "Acme", CreatedBy: "carol"},
	} {
		if err := w.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "rules.parquet")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	store := rules.NewMemoryStore()
	im := newImporter(store, nil, nil)
	result, err := im.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if result.Inserted != 3 {
		t.Errorf("inserted = %d", result.Inserted)
	}
	if stats := im.GetStats(); stats.RecordsRead != 3 {
		t.Errorf("records read = %d", stats.RecordsRead)
	}
	rule, _ := store.GetRule(context.Background(), 3)
	if rule == nil || rule.CreatedBy != "carol" {
		t.Errorf("unexpected rule %+v", rule)
	}
}

func TestImportCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	im := newImporter(rules.NewMemoryStore(), nil, nil)
	if _, err := im.Import(ctx, strings.NewReader("pattern\na\n"), FormatCSV); err == nil {
		t.Error("expected context error")
	}
}

func TestDetectFileFormat(t *testing.T) {
	tests := map[string]FileFormat{
		"rules.csv":     FormatCSV,
		"rules.PARQUET": FormatParquet,
		"rules.jsonl":   FormatJSON,
		"rules.json":    FormatJSON,
		"rules.txt":     FormatCSV,
	}
	for name, want := range tests {
		if got := DetectFileFormat(name); got != want {
			t.Errorf("DetectFileFormat(%q) = %s, want %s", name, got, want)
		}
	}
}
