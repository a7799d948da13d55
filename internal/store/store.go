// Package store implements the in-memory StateStore of spec.md §4.5: four
// independent concurrent-map partitions keyed by (repo, ...) tuples, one
// lock per partition since every repository only ever writes its own
// partition entries (Design Note §9: "concurrent map per partition").
package store

import (
	"sync"
	"time"

	"github.com/nopea-io/nopea/internal/reconcile"
)

// SyncState is the per-repository summary persisted by put_sync_state.
type SyncState struct {
	Commit     reconcile.CommitSHA
	LastSyncAt time.Time
	Phase      reconcile.Phase
}

type lastAppliedKey struct {
	repo string
	key  reconcile.ResourceKey
}

type driftKey struct {
	repo string
	key  reconcile.ResourceKey
}

// Store is the aggregate StateStore. The zero value is not usable; use New.
type Store struct {
	commitMu sync.RWMutex
	commit   map[string]reconcile.CommitSHA

	lastAppliedMu sync.RWMutex
	lastApplied   map[lastAppliedKey]reconcile.Manifest

	driftMu sync.RWMutex
	drift   map[driftKey]time.Time

	syncStateMu sync.RWMutex
	syncState   map[string]SyncState
}

// New returns an empty StateStore.
func New() *Store {
	return &Store{
		commit:      make(map[string]reconcile.CommitSHA),
		lastApplied: make(map[lastAppliedKey]reconcile.Manifest),
		drift:       make(map[driftKey]time.Time),
		syncState:   make(map[string]SyncState),
	}
}

// PutCommit records the last successfully synced commit for repo.
func (s *Store) PutCommit(repo string, sha reconcile.CommitSHA) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.commit[repo] = sha
}

// GetCommit returns the stored commit for repo, if any.
func (s *Store) GetCommit(repo string) (reconcile.CommitSHA, bool) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	sha, ok := s.commit[repo]
	return sha, ok
}

// DeleteCommit removes repo's stored commit.
func (s *Store) DeleteCommit(repo string) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	delete(s.commit, repo)
}

// PutLastApplied records the normalized manifest last written for a key.
func (s *Store) PutLastApplied(repo string, key reconcile.ResourceKey, m reconcile.Manifest) {
	s.lastAppliedMu.Lock()
	defer s.lastAppliedMu.Unlock()
	s.lastApplied[lastAppliedKey{repo, key}] = m
}

// GetLastApplied returns the last-applied manifest for a key, if any.
func (s *Store) GetLastApplied(repo string, key reconcile.ResourceKey) (reconcile.Manifest, bool) {
	s.lastAppliedMu.RLock()
	defer s.lastAppliedMu.RUnlock()
	m, ok := s.lastApplied[lastAppliedKey{repo, key}]
	return m, ok
}

// ListLastApplied returns every (key, manifest) pair recorded for repo.
func (s *Store) ListLastApplied(repo string) map[reconcile.ResourceKey]reconcile.Manifest {
	s.lastAppliedMu.RLock()
	defer s.lastAppliedMu.RUnlock()
	out := make(map[reconcile.ResourceKey]reconcile.Manifest)
	for k, v := range s.lastApplied {
		if k.repo == repo {
			out[k.key] = v
		}
	}
	return out
}

// DeleteLastApplied removes a single key's last-applied record.
func (s *Store) DeleteLastApplied(repo string, key reconcile.ResourceKey) {
	s.lastAppliedMu.Lock()
	defer s.lastAppliedMu.Unlock()
	delete(s.lastApplied, lastAppliedKey{repo, key})
}

// ClearLastApplied removes every last-applied record for repo.
func (s *Store) ClearLastApplied(repo string) {
	s.lastAppliedMu.Lock()
	defer s.lastAppliedMu.Unlock()
	for k := range s.lastApplied {
		if k.repo == repo {
			delete(s.lastApplied, k)
		}
	}
}

// RecordDriftFirstSeen is idempotent: the first call for (repo, key) inserts
// now and returns it; later calls return the previously stored value.
func (s *Store) RecordDriftFirstSeen(repo string, key reconcile.ResourceKey, now time.Time) time.Time {
	s.driftMu.Lock()
	defer s.driftMu.Unlock()
	k := driftKey{repo, key}
	if existing, ok := s.drift[k]; ok {
		return existing
	}
	s.drift[k] = now
	return now
}

// GetDriftFirstSeen returns the recorded first-sighting timestamp, if any.
func (s *Store) GetDriftFirstSeen(repo string, key reconcile.ResourceKey) (time.Time, bool) {
	s.driftMu.RLock()
	defer s.driftMu.RUnlock()
	t, ok := s.drift[driftKey{repo, key}]
	return t, ok
}

// ClearDriftFirstSeen removes the grace-period start for a single resource.
func (s *Store) ClearDriftFirstSeen(repo string, key reconcile.ResourceKey) {
	s.driftMu.Lock()
	defer s.driftMu.Unlock()
	delete(s.drift, driftKey{repo, key})
}

// ClearAllDriftTimestamps removes every recorded grace-period start for repo.
func (s *Store) ClearAllDriftTimestamps(repo string) {
	s.driftMu.Lock()
	defer s.driftMu.Unlock()
	for k := range s.drift {
		if k.repo == repo {
			delete(s.drift, k)
		}
	}
}

// PutSyncState records the latest commit/last-sync/phase summary for repo.
func (s *Store) PutSyncState(repo string, st SyncState) {
	s.syncStateMu.Lock()
	defer s.syncStateMu.Unlock()
	s.syncState[repo] = st
}

// GetSyncState returns the stored summary for repo, if any.
func (s *Store) GetSyncState(repo string) (SyncState, bool) {
	s.syncStateMu.RLock()
	defer s.syncStateMu.RUnlock()
	st, ok := s.syncState[repo]
	return st, ok
}

// ClearRepository removes every entry for repo across all four partitions;
// called when the repository custom resource is deleted.
func (s *Store) ClearRepository(repo string) {
	s.DeleteCommit(repo)
	s.ClearLastApplied(repo)
	s.ClearAllDriftTimestamps(repo)
	s.syncStateMu.Lock()
	delete(s.syncState, repo)
	s.syncStateMu.Unlock()
}
