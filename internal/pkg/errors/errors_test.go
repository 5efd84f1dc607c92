package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestPipelineErrorMessage(t *testing.T) {
	err := New(CodeDatabase, "insert failed", "PAGW-20260825-00001-ABCD1234")
	msg := err.Error()
	if !strings.Contains(msg, CodeDatabase) || !strings.Contains(msg, "PAGW-20260825-00001-ABCD1234") {
		t.Fatalf("message = %q", msg)
	}

	noID := New(CodeInternal, "boom", "")
	if strings.Contains(noID.Error(), "pagw_id") {
		t.Fatalf("message should omit pagw_id when empty: %q", noID.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CodeQueue, "publish failed", "PAGW-X", cause)

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause not reachable via errors.Is")
	}
	if err.Severity != SeverityError {
		t.Fatalf("severity = %q", err.Severity)
	}
}

func TestCodeOf(t *testing.T) {
	inner := Wrap(CodeCache, "redis down", "", fmt.Errorf("dial tcp"))
	wrapped := fmt.Errorf("guard: %w", inner)

	if got := CodeOf(wrapped); got != CodeCache {
		t.Fatalf("CodeOf = %q, want %q", got, CodeCache)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != CodeInternal {
		t.Fatalf("CodeOf(plain) = %q, want %q", got, CodeInternal)
	}
}
