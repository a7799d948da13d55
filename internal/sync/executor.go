// Package sync implements the SyncExecutor of spec.md §4.3: a pure
// (spec, workDir) -> (SyncResult, error) pipeline composing the Git
// collaborator, a YAML document reader and the Kubernetes collaborator's
// apply call. Grounded on rancher-fleet's internal/cmd/agent/apply.go
// end-to-end deploy flow (list manifests, decode, apply-per-resource,
// aggregate errors), generalized to the spec's all-or-nothing semantics.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/nopea-io/nopea/internal/gitcollab"
	"github.com/nopea-io/nopea/internal/k8sclient"
	"github.com/nopea-io/nopea/internal/reconcile"
)

const fieldManager = "nopea"

// Result is everything the Worker needs to record after a sync cycle.
type Result struct {
	Commit    reconcile.CommitSHA
	Manifests []reconcile.Manifest
	Duration  time.Duration
}

// Executor runs the git -> list -> read -> parse -> apply pipeline for one
// repository. It holds no per-repository state; every field is a shared
// collaborator injected once at construction (Design Note §9: "Dependency
// injection of Git and Kubernetes collaborators: express them as
// capability interfaces").
type Executor struct {
	Git   gitcollab.GitOps
	K8s   k8sclient.K8sOps
	Depth int
}

// New builds an Executor. depth is the shallow-clone depth passed to the
// Git collaborator's Sync operation; 0 means a full clone.
func New(git gitcollab.GitOps, k8s k8sclient.K8sOps, depth int) *Executor {
	return &Executor{Git: git, K8s: k8s, Depth: depth}
}

// Run executes one full sync cycle for spec against the working directory
// workDir, applying every parsed manifest. Per spec.md §4.3 step 3/4,
// parse and apply failures are all-or-nothing: the first stage that fails
// aborts the cycle and no partial commit is recorded by the caller.
func (e *Executor) Run(ctx context.Context, spec reconcile.RepositorySpec, workDir string) (Result, error) {
	start := time.Now()

	sha, err := e.Git.Sync(ctx, spec.URL, spec.Branch, workDir, e.Depth)
	if err != nil {
		return Result{}, reconcile.NewSyncError(reconcile.KindGitSyncFailed, err)
	}
	commit, err := reconcile.NewCommitSHA(sha)
	if err != nil {
		return Result{}, reconcile.NewSyncError(reconcile.KindGitSyncFailed, err)
	}

	files, err := e.Git.Files(ctx, workDir, spec.Subpath)
	if err != nil {
		return Result{}, reconcile.NewSyncError(reconcile.KindListFilesFailed, err)
	}

	manifests, err := e.parseAll(ctx, workDir, files, spec.TargetNamespace)
	if err != nil {
		return Result{}, err
	}

	if err := e.applyAll(ctx, manifests); err != nil {
		return Result{}, err
	}

	return Result{Commit: commit, Manifests: manifests, Duration: time.Since(start)}, nil
}

// parseAll reads and decodes every file, collecting per-file failures into
// a single aggregate ParseFailed error (spec.md §7: "not recovered —
// all-or-nothing").
func (e *Executor) parseAll(ctx context.Context, workDir string, files []string, targetNamespace string) ([]reconcile.Manifest, error) {
	var manifests []reconcile.Manifest
	var causes []error

	for _, file := range files {
		raw, err := e.Git.Read(ctx, workDir, file)
		if err != nil {
			causes = append(causes, fmt.Errorf("%s: %w", file, err))
			continue
		}

		decoder := yaml.NewDecoder(newBytesReader(raw))
		for {
			var doc map[string]interface{}
			if err := decoder.Decode(&doc); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				causes = append(causes, fmt.Errorf("%s: %w", file, err))
				break
			}
			doc = stringifyKeys(doc)
			if len(doc) == 0 {
				continue
			}

			m, ok, err := reconcile.NewManifest(doc)
			if err != nil {
				causes = append(causes, fmt.Errorf("%s: %w", file, err))
				continue
			}
			if !ok {
				continue
			}
			if m.Object.GetNamespace() == "" && targetNamespace != "" {
				m.Object.SetNamespace(targetNamespace)
			}
			if err := m.Validate(); err != nil {
				causes = append(causes, fmt.Errorf("%s: %w", file, err))
				continue
			}
			manifests = append(manifests, m)
		}
	}

	if len(causes) > 0 {
		return nil, reconcile.NewAggregateSyncError(reconcile.KindParseFailed, causes)
	}
	return manifests, nil
}

// applyAll server-side-applies every manifest, aggregating per-manifest
// failures the same way parseAll does.
func (e *Executor) applyAll(ctx context.Context, manifests []reconcile.Manifest) error {
	var causes []error
	for _, m := range manifests {
		if _, err := e.K8s.Apply(ctx, m.Object, fieldManager, true); err != nil {
			causes = append(causes, fmt.Errorf("%s: %w", m.Key(), err))
		}
	}
	if len(causes) > 0 {
		return reconcile.NewAggregateSyncError(reconcile.KindApplyFailed, causes)
	}
	return nil
}
