package reconcile

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Kind enumerates the typed error variants from spec.md §7.
type Kind string

const (
	KindGitSyncFailed       Kind = "GitSyncFailed"
	KindListFilesFailed     Kind = "ListFilesFailed"
	KindParseFailed         Kind = "ParseFailed"
	KindApplyFailed         Kind = "ApplyFailed"
	KindInvalidResource     Kind = "InvalidResource"
	KindWatchDisconnected   Kind = "WatchDisconnected"
	KindLeaseConflict       Kind = "LeaseConflict"
	KindCollaboratorCrashed Kind = "CollaboratorCrashed"
	KindNotFound            Kind = "NotFound"
)

// SyncError is the typed error returned by the SyncExecutor and propagated,
// unmodified, up to the Worker (§7: "SyncExecutor returns the first error").
type SyncError struct {
	Kind   Kind
	Err    error
	Causes []error // per-file / per-manifest reasons for ParseFailed/ApplyFailed
}

func (e *SyncError) Error() string {
	if len(e.Causes) == 0 {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	agg := utilerrors.NewAggregate(e.Causes)
	return fmt.Sprintf("%s: %v", e.Kind, agg)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError wraps a single cause under the given kind.
func NewSyncError(kind Kind, err error) *SyncError {
	return &SyncError{Kind: kind, Err: err}
}

// NewAggregateSyncError wraps a list of per-file/per-manifest causes, used
// for ParseFailed and ApplyFailed which are "not recovered — all-or-nothing".
func NewAggregateSyncError(kind Kind, causes []error) *SyncError {
	return &SyncError{Kind: kind, Err: utilerrors.NewAggregate(causes), Causes: causes}
}
