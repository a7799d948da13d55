package reconcile

import (
	"errors"
	"strings"
	"testing"
)

func TestSyncErrorSingleCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewSyncError(KindGitSyncFailed, cause)

	if err.Kind != KindGitSyncFailed {
		t.Fatalf("Kind = %v, want %v", err.Kind, KindGitSyncFailed)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to unwrap to the cause")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Error() = %q, want it to contain %q", err.Error(), "boom")
	}
}

func TestAggregateSyncErrorCollectsCauses(t *testing.T) {
	causes := []error{errors.New("file a"), errors.New("file b")}
	err := NewAggregateSyncError(KindParseFailed, causes)

	if len(err.Causes) != 2 {
		t.Fatalf("Causes = %v, want 2 entries", err.Causes)
	}
	msg := err.Error()
	if !strings.Contains(msg, "file a") || !strings.Contains(msg, "file b") {
		t.Fatalf("Error() = %q, want it to mention both causes", msg)
	}
}
