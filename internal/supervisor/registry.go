// Package supervisor implements the single-process Supervisor & Registry
// of spec.md §4.7: an in-memory map of running Workers guarded by a mutex,
// grounded on rancher-fleet's internal/cmd/controller/gitops/operator.go
// errgroup-managed goroutine lifecycle. Cluster mode lives in the sibling
// internal/supervisor/cluster package behind the same Registry interface.
package supervisor

import (
	"context"
	"sync"

	"github.com/nopea-io/nopea/internal/events"
	"github.com/nopea-io/nopea/internal/gitcollab"
	"github.com/nopea-io/nopea/internal/k8sclient"
	"github.com/nopea-io/nopea/internal/metrics"
	"github.com/nopea-io/nopea/internal/reconcile"
	"github.com/nopea-io/nopea/internal/store"
	"github.com/nopea-io/nopea/internal/worker"
)

// Registry is the capability interface the Controller depends on, so
// single-process and cluster registries are interchangeable (Design Note
// §9 / spec.md §4.7).
type Registry interface {
	// Start ensures a Worker is running for key, replacing any existing
	// one with a fresh generation built from spec.
	Start(ctx context.Context, key string, spec reconcile.RepositorySpec)
	// Stop tears down the Worker for key, if any; absence is not an error.
	Stop(key string)
	// StopAll tears down every running Worker, used on loss of leadership.
	StopAll()
	// Lookup returns the Handle for key, if a Worker is running.
	Lookup(key string) (*worker.Handle, bool)
	// List returns every currently running key.
	List() []string
}

// LocalRegistry is the single-process Registry: an in-process map guarded
// by a mutex, satisfying spec.md §4.7's invariant ("at most one live
// worker per repository name") trivially within one process.
type LocalRegistry struct {
	deps worker.Deps

	mu      sync.Mutex
	workers map[string]*worker.Handle
}

// New builds a LocalRegistry sharing deps across every worker it starts.
func New(deps worker.Deps) *LocalRegistry {
	return &LocalRegistry{deps: deps, workers: make(map[string]*worker.Handle)}
}

var _ Registry = (*LocalRegistry)(nil)

// NewDeps is a convenience constructor bundling the collaborators a
// LocalRegistry needs to hand to each Worker it starts.
func NewDeps(git gitcollab.GitOps, k8s k8sclient.K8sOps, st *store.Store, emitter *events.Emitter, collectors *metrics.Collectors, workDir string, gitDepth int) worker.Deps {
	return worker.Deps{
		Git:      git,
		K8s:      k8s,
		Store:    st,
		Events:   emitter,
		Metrics:  collectors,
		WorkDir:  workDir,
		GitDepth: gitDepth,
	}
}

// Start implements Registry.
func (r *LocalRegistry) Start(ctx context.Context, key string, spec reconcile.RepositorySpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.workers[key]; ok {
		existing.Stop()
	}
	r.workers[key] = worker.Start(ctx, spec, r.deps)
}

// Stop implements Registry.
func (r *LocalRegistry) Stop(key string) {
	r.mu.Lock()
	h, ok := r.workers[key]
	if ok {
		delete(r.workers, key)
	}
	r.mu.Unlock()
	if ok {
		h.Stop()
	}
}

// StopAll implements Registry.
func (r *LocalRegistry) StopAll() {
	r.mu.Lock()
	handles := make([]*worker.Handle, 0, len(r.workers))
	for k, h := range r.workers {
		handles = append(handles, h)
		delete(r.workers, k)
	}
	r.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
}

// Lookup implements Registry.
func (r *LocalRegistry) Lookup(key string) (*worker.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.workers[key]
	return h, ok
}

// List implements Registry.
func (r *LocalRegistry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.workers))
	for k := range r.workers {
		out = append(out, k)
	}
	return out
}
