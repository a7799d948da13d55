// Package gitcollab defines the GitOps capability interface (Design Note
// §9) that the Git collaborator of spec.md §6.2 must satisfy, plus the two
// implementations this repository ships: an in-process one built directly
// on go-git (localgit) and a length-prefixed wire client talking to a
// co-located process (process).
package gitcollab

import (
	"context"
	"time"
)

// HeadInfo is the response shape of the head(path) operation.
type HeadInfo struct {
	SHA       string
	Author    string
	Email     string
	Message   string
	Timestamp time.Time
}

// GitOps is the capability interface the SyncExecutor and Worker depend on.
// It mirrors the wire contract of spec.md §6.2 operation for operation so
// that either implementation satisfies callers identically.
type GitOps interface {
	// Sync clones into path if absent, else fetches and hard-resets to
	// origin/<branch>. Returns the resulting HEAD commit SHA.
	Sync(ctx context.Context, url, branch, path string, depth int) (string, error)

	// Files lists files with .yaml/.yml extensions under path+subpath,
	// excluding dot-prefixed files, sorted for deterministic order.
	Files(ctx context.Context, path, subpath string) ([]string, error)

	// Read returns the raw bytes of a single file under path.
	Read(ctx context.Context, path, file string) ([]byte, error)

	// Head returns metadata about the current HEAD commit at path.
	Head(ctx context.Context, path string) (HeadInfo, error)

	// Checkout moves the working tree at path to sha.
	Checkout(ctx context.Context, path, sha string) (string, error)

	// LsRemote resolves branch on a remote without touching a working tree.
	LsRemote(ctx context.Context, url, branch string) (string, error)
}
