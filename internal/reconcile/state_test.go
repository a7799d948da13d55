package reconcile

import (
	"testing"
	"time"
)

func timePtr() *time.Time {
	t := time.Now()
	return &t
}

func TestWorkerStateSyncedInvariant(t *testing.T) {
	sha, err := NewCommitSHA("9ca3a0ad308ed8bffa6602572e2a1343af9c3d2e")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name  string
		state WorkerState
		want  bool
	}{
		{"synced with commit and timestamp", WorkerState{Phase: PhaseSynced, LastCommit: &sha, LastSyncAt: timePtr()}, true},
		{"synced but missing commit", WorkerState{Phase: PhaseSynced, LastSyncAt: timePtr()}, false},
		{"synced but missing timestamp", WorkerState{Phase: PhaseSynced, LastCommit: &sha}, false},
		{"not synced phase", WorkerState{Phase: PhaseFailed, LastCommit: &sha, LastSyncAt: timePtr()}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.state.Synced(); got != tc.want {
				t.Fatalf("Synced() = %v, want %v", got, tc.want)
			}
		})
	}
}
