package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindClassification(t *testing.T) {
	cases := []struct {
		marker error
		want   string
	}{
		{ErrTransient, KindTransient},
		{ErrValidation, KindValidation},
		{ErrBudget, KindBudget},
		{ErrAuth, KindAuth},
		{ErrInvariant, KindInvariant},
		{ErrDAGMismatch, KindDAGMismatch},
		{ErrCancelled, KindCancelled},
	}
	for _, tc := range cases {
		err := Wrap(tc.marker, "developmental", "run", "boom", nil)
		if got := Kind(err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.marker, got, tc.want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrTransient, "lineEditing", "llm call", "request failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to satisfy errors.Is")
	}
	if !errors.Is(err, ErrTransient) {
		t.Fatal("expected marker to satisfy errors.Is")
	}
}

func TestUnclassifiedErrorsAreTransient(t *testing.T) {
	err := fmt.Errorf("something odd: %w", errors.New("eof"))
	if Kind(err) != KindTransient {
		t.Fatalf("unexpected kind %q", Kind(err))
	}
	if !Retryable(err) {
		t.Fatal("unclassified errors should be retryable")
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(Wrap(ErrBudget, "", "", "limit reached", nil)) {
		t.Fatal("budget errors must not retry")
	}
	if Retryable(Wrap(ErrValidation, "", "", "schema mismatch", nil)) {
		t.Fatal("validation errors are handled by the repair path, not retry")
	}
	if !Retryable(Wrap(ErrTransient, "", "", "timeout", nil)) {
		t.Fatal("transient errors must retry")
	}
}
