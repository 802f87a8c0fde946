package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewJSONWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Options{Level: "debug", Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello", String(FieldReportID, "r-1"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"msg":"hello"`) {
		t.Fatalf("missing message in %q", content)
	}
	if !strings.Contains(content, `"report_id":"r-1"`) {
		t.Fatalf("missing attr in %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("warn") != slog.LevelWarn {
		t.Fatal("warn level")
	}
	if parseLevel("") != slog.LevelInfo {
		t.Fatal("default level")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("should not panic", Error(nil))
}
