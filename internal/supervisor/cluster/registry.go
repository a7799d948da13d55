// Package cluster implements the cluster-mode Registry named in spec.md
// §4.7: a cluster-wide, CRDT-like last-write-wins placement map keyed by
// (repository, nodeID, version). No gossip or consensus library exists
// anywhere in the retrieval pack to ground a real cross-node transport on
// (see DESIGN.md); this package ships the same Registry interface as
// internal/supervisor's single-process implementation, running real
// Workers locally, with the placement bookkeeping structured so a gossip
// transport (e.g. hashicorp/memberlist) could later feed remote placements
// in through Merge without changing callers; no placement is sent to other
// nodes today.
package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/nopea-io/nopea/internal/reconcile"
	"github.com/nopea-io/nopea/internal/supervisor"
	"github.com/nopea-io/nopea/internal/worker"
)

// placement is one last-write-wins entry in the cluster-wide map.
type placement struct {
	nodeID  string
	version uint64
	seenAt  time.Time
}

// Registry is a cluster-aware supervisor.Registry. In the absence of a
// real gossip transport it only ever sees its own node's writes, so it
// degrades to "one node hosts every worker it is asked to start" while
// still exposing the placement map's last-write-wins merge semantics for
// when a transport is plugged in.
type Registry struct {
	nodeID string
	local  *supervisor.LocalRegistry

	mu         sync.Mutex
	placements map[string]placement
	version    uint64
}

// New builds a cluster Registry identified by nodeID, wrapping a
// LocalRegistry for the workers this node actually runs.
func New(nodeID string, deps worker.Deps) *Registry {
	return &Registry{
		nodeID:     nodeID,
		local:      supervisor.New(deps),
		placements: make(map[string]placement),
	}
}

var _ supervisor.Registry = (*Registry)(nil)

// Merge applies a remote placement observation using last-write-wins on
// version, per spec.md §4.7 ("CRDT-backed, last-write-wins on partition
// heal"). A real gossip transport would call this on every received
// broadcast; nothing in this retrieval pack provides one, so it is only
// exercised by tests today.
func (r *Registry) Merge(repo, nodeID string, version uint64, seenAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.placements[repo]
	if ok && existing.version >= version {
		return
	}
	r.placements[repo] = placement{nodeID: nodeID, version: version, seenAt: seenAt}
}

// Start implements supervisor.Registry: claims repo for this node in the
// placement map and starts a local Worker.
func (r *Registry) Start(ctx context.Context, key string, spec reconcile.RepositorySpec) {
	r.mu.Lock()
	r.version++
	r.placements[key] = placement{nodeID: r.nodeID, version: r.version, seenAt: time.Now()}
	r.mu.Unlock()

	r.local.Start(ctx, key, spec)
}

// Stop implements supervisor.Registry.
func (r *Registry) Stop(key string) {
	r.mu.Lock()
	delete(r.placements, key)
	r.mu.Unlock()
	r.local.Stop(key)
}

// StopAll implements supervisor.Registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	for k, p := range r.placements {
		if p.nodeID == r.nodeID {
			delete(r.placements, k)
		}
	}
	r.mu.Unlock()
	r.local.StopAll()
}

// Lookup implements supervisor.Registry.
func (r *Registry) Lookup(key string) (*worker.Handle, bool) {
	return r.local.Lookup(key)
}

// List implements supervisor.Registry.
func (r *Registry) List() []string {
	return r.local.List()
}

// Owner returns which node the placement map currently believes owns
// repo, for diagnostics and tests.
func (r *Registry) Owner(repo string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.placements[repo]
	return p.nodeID, ok
}
