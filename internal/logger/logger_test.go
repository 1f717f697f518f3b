package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	if _, err := New(Config{Level: "verbose", Format: "json"}); err == nil {
		t.Error("expected error for unknown level")
	}

	path := filepath.Join(t.TempDir(), "nested", "redactor.log")
	log, err := New(Config{Level: "info", Format: "console", File: &FileConfig{Enabled: true, Path: path}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info("hello")
	_ = log.Sync()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &Logger{Logger: zap.New(core)}

	log.WithComponent("engine").WithRuleID(7).WithRequestID("req-1").Info("applied")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["component"] != "engine" || fields["rule_id"] != int64(7) || fields["request_id"] != "req-1" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestLogRedactionOmitsContent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := &Logger{Logger: zap.New(core)}

	log.LogRedaction("post", 2, 3, 0, time.Millisecond)

	fields := logs.All()[0].ContextMap()
	if fields["spans"] != int64(2) || fields["hits"] != int64(3) {
		t.Errorf("unexpected fields: %v", fields)
	}
	if _, ok := fields["content"]; ok {
		t.Error("content must not be logged")
	}
}

func TestSafeHeaders(t *testing.T) {
	got := SafeHeaders(map[string][]string{
		"Authorization":  {"Basic abc"},
		"X-Viewer-Token": {"t"},
		"X-Viewer-Name":  {"alice"},
		"Empty":          {},
	})

	if got["Authorization"] != "[REDACTED]" || got["X-Viewer-Token"] != "[REDACTED]" {
		t.Errorf("sensitive headers leaked: %v", got)
	}
	if got["X-Viewer-Name"] != "alice" {
		t.Errorf("plain header lost: %v", got)
	}
	if _, ok := got["Empty"]; ok {
		t.Errorf("empty header should be skipped: %v", got)
	}
}
