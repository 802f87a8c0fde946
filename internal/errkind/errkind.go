// Package errkind classifies pipeline failures into the wire-stable error
// kinds surfaced in status records and cost event metadata.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers. Wrap tags errors with one of these so callers can
// classify with errors.Is without inspecting message text.
var (
	ErrTransient   = errors.New("transient failure")
	ErrValidation  = errors.New("validation error")
	ErrBudget      = errors.New("budget exceeded")
	ErrAuth        = errors.New("auth error")
	ErrInvariant   = errors.New("invariant violation")
	ErrDAGMismatch = errors.New("dag version mismatch")
	ErrCancelled   = errors.New("cancelled")
)

// Kind strings as they appear in StatusRecord.errors.
const (
	KindTransient   = "transient"
	KindValidation  = "validation_error"
	KindBudget      = "budget_exceeded"
	KindAuth        = "auth_error"
	KindInvariant   = "invariant_violation"
	KindDAGMismatch = "dag_version_mismatch"
	KindCancelled   = "cancelled"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to its wire kind string. Unclassified errors are
// treated as transient so the orchestrator's retry policy applies.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrBudget):
		return KindBudget
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrInvariant):
		return KindInvariant
	case errors.Is(err, ErrDAGMismatch):
		return KindDAGMismatch
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return KindTransient
	}
}

// Retryable reports whether the orchestrator may retry the failed operation
// under its backoff policy. Validation errors get their own single repair
// retry and are not retryable here.
func Retryable(err error) bool {
	return Kind(err) == KindTransient
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
