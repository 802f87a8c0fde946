package main

import (
	"bytes"
	"strings"
	"testing"

	"quill/internal/pipeline"
)

func TestColorizeStateDisabled(t *testing.T) {
	if got := colorizeState(pipeline.StateComplete, false); got != "complete" {
		t.Fatalf("expected plain text, got %q", got)
	}
}

func TestColorizeStateEnabled(t *testing.T) {
	got := colorizeState(pipeline.StateFailed, true)
	if !strings.Contains(got, ansiRed) || !strings.Contains(got, "failed") {
		t.Fatalf("expected red failed, got %q", got)
	}
}

func TestShouldColorizeBuffer(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Fatal("buffers must not be colorized")
	}
}
