// Package worker implements the per-repository actor of spec.md §4.2: one
// goroutine owning a buffered mailbox channel, a single-flight guard so a
// sync cycle never overlaps itself, and a go-quartz scheduler driving the
// poll and reconcile timers. Grounded on rancher-fleet's polling_job.go
// (semaphore.Weighted single-flight, go-quartz Job scheduling), generalized
// from "one polling job patching a CRD status" to "one actor with a full
// tagged-union mailbox" per Design Note §9.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/reugn/go-quartz/quartz"
	"golang.org/x/sync/semaphore"

	"github.com/nopea-io/nopea/internal/crspec"
	"github.com/nopea-io/nopea/internal/drift"
	"github.com/nopea-io/nopea/internal/events"
	"github.com/nopea-io/nopea/internal/gitcollab"
	"github.com/nopea-io/nopea/internal/k8sclient"
	"github.com/nopea-io/nopea/internal/metrics"
	"github.com/nopea-io/nopea/internal/reconcile"
	"github.com/nopea-io/nopea/internal/store"
	"github.com/nopea-io/nopea/internal/sync"
)

// GitRepositoryAPIVersion/Kind identify the custom resource a worker
// re-reads its own spec from, per spec.md §4.2 ("MUST re-read its spec
// from the custom resource... not trust the value passed in").
const (
	GitRepositoryAPIVersion = "nopea.io/v1alpha1"
	GitRepositoryKind       = "GitRepository"
)

var invalidPathChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitizeDirName replaces every character outside [A-Za-z0-9_-] with "_",
// per spec.md §4.2.
func sanitizeDirName(name string) string {
	return invalidPathChar.ReplaceAllString(name, "_")
}

// mailboxKind discriminates the tagged union of messages a Worker accepts.
type mailboxKind int

const (
	msgStartupSync mailboxKind = iota
	msgPoll
	msgReconcile
	msgWebhook
	msgSyncNow
	msgGetState
	msgStop
)

type msg struct {
	kind mailboxKind

	commit string // Webhook

	reply chan replyMsg // SyncNow / GetState
	done  chan struct{} // Stop
}

type replyMsg struct {
	state reconcile.WorkerState
	err   error
}

// Handle is the caller-facing reference to a running Worker: a mailbox
// send side plus the repository name it serves.
type Handle struct {
	Repo string

	mailbox chan msg
	stopped chan struct{}
}

// Stop requests the worker shut down and blocks until its goroutine exits.
func (h *Handle) Stop() {
	done := make(chan struct{})
	select {
	case h.mailbox <- msg{kind: msgStop, done: done}:
	case <-h.stopped:
		return
	}
	select {
	case <-done:
	case <-h.stopped:
	}
	<-h.stopped
}

// Webhook delivers a webhook-triggered sync request carrying the commit
// the provider reported, if any (informational only per spec.md §4.2).
func (h *Handle) Webhook(commit string) {
	h.mailbox <- msg{kind: msgWebhook, commit: commit}
}

// SyncNow requests an immediate out-of-band sync and blocks for the result.
func (h *Handle) SyncNow(ctx context.Context) (reconcile.WorkerState, error) {
	return h.roundTrip(ctx, msgSyncNow)
}

// GetState returns the worker's current observable state.
func (h *Handle) GetState(ctx context.Context) (reconcile.WorkerState, error) {
	return h.roundTrip(ctx, msgGetState)
}

func (h *Handle) roundTrip(ctx context.Context, kind mailboxKind) (reconcile.WorkerState, error) {
	reply := make(chan replyMsg, 1)
	select {
	case h.mailbox <- msg{kind: kind, reply: reply}:
	case <-ctx.Done():
		return reconcile.WorkerState{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.state, r.err
	case <-ctx.Done():
		return reconcile.WorkerState{}, ctx.Err()
	}
}

// Deps bundles the collaborators every Worker shares, injected once by the
// Supervisor at construction (Design Note §9).
type Deps struct {
	Git     gitcollab.GitOps
	K8s     k8sclient.K8sOps
	Store   *store.Store
	Events  *events.Emitter
	Metrics *metrics.Collectors
	WorkDir string // base directory workers clone into, one subdir per repo
	GitDepth int
}

// worker is the actor goroutine state. Everything here is owned
// exclusively by Start's goroutine; no field is touched concurrently.
type worker struct {
	repo  string
	spec  reconcile.RepositorySpec
	state reconcile.WorkerState

	lastManifests []reconcile.Manifest

	deps     Deps
	sem      *semaphore.Weighted
	executor *sync.Executor
	workDir  string

	mailbox   chan msg
	stopped   chan struct{}
	scheduler quartz.Scheduler
}

// Start launches a new Worker actor goroutine for spec and returns a
// Handle. The mailbox is buffered so Controller dispatch and timers never
// block on a busy worker.
func Start(ctx context.Context, spec reconcile.RepositorySpec, deps Deps) *Handle {
	w := &worker{
		repo: spec.Name,
		spec: spec,
		state: reconcile.WorkerState{
			Spec:  spec,
			Phase: reconcile.PhaseInitializing,
		},
		deps:     deps,
		sem:      semaphore.NewWeighted(1),
		executor: sync.New(deps.Git, deps.K8s, deps.GitDepth),
		workDir:  filepath.Join(deps.WorkDir, sanitizeDirName(spec.Name)),
		mailbox:  make(chan msg, 32),
		stopped:  make(chan struct{}),
	}

	h := &Handle{Repo: spec.Name, mailbox: w.mailbox, stopped: w.stopped}

	go w.run(ctx)

	w.mailbox <- msg{kind: msgStartupSync}
	return h
}

func (w *worker) run(ctx context.Context) {
	defer close(w.stopped)

	w.scheduler = quartz.NewStdScheduler()
	w.scheduler.Start(ctx)
	defer w.scheduler.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-w.mailbox:
			if w.handle(ctx, m) {
				return
			}
		}
	}
}

// pollJob and reconcileJob just drop a tagged message onto the worker's
// own mailbox; all actual work happens back on the worker goroutine so
// timers never race the mailbox loop.
type pollJob struct{ mailbox chan msg }

func (j pollJob) Execute(ctx context.Context) error {
	select {
	case j.mailbox <- msg{kind: msgPoll}:
	case <-ctx.Done():
	}
	return nil
}
func (j pollJob) Description() string { return "nopea-worker-poll" }

type reconcileJob struct{ mailbox chan msg }

func (j reconcileJob) Execute(ctx context.Context) error {
	select {
	case j.mailbox <- msg{kind: msgReconcile}:
	case <-ctx.Done():
	}
	return nil
}
func (j reconcileJob) Description() string { return "nopea-worker-reconcile" }

// rescheduleTimers cancels and re-creates the poll (I) and reconcile (2I)
// timers, per spec.md §4.2/§5: "exactly one active poll timer and one
// reconcile timer per worker at any time".
func (w *worker) rescheduleTimers() {
	_ = w.scheduler.DeleteJob(quartz.NewJobKey(fmt.Sprintf("poll-%s", w.repo)))
	_ = w.scheduler.DeleteJob(quartz.NewJobKey(fmt.Sprintf("reconcile-%s", w.repo)))

	pollTrigger := quartz.NewSimpleTrigger(w.spec.PollInterval)
	_ = w.scheduler.ScheduleJob(
		quartz.NewJobDetail(pollJob{mailbox: w.mailbox}, quartz.NewJobKey(fmt.Sprintf("poll-%s", w.repo))),
		pollTrigger,
	)

	reconcileTrigger := quartz.NewSimpleTrigger(2 * w.spec.PollInterval)
	_ = w.scheduler.ScheduleJob(
		quartz.NewJobDetail(reconcileJob{mailbox: w.mailbox}, quartz.NewJobKey(fmt.Sprintf("reconcile-%s", w.repo))),
		reconcileTrigger,
	)
}

// handle processes one mailbox message and returns true if the worker
// should terminate.
func (w *worker) handle(ctx context.Context, m msg) bool {
	switch m.kind {
	case msgStartupSync:
		if !w.refreshSpec(ctx) {
			return true // custom resource already gone
		}
		if err := w.runFullSync(ctx); err == nil {
			w.rescheduleTimers()
		} else {
			pollTrigger := quartz.NewSimpleTrigger(w.spec.PollInterval)
			_ = w.scheduler.ScheduleJob(
				quartz.NewJobDetail(pollJob{mailbox: w.mailbox}, quartz.NewJobKey(fmt.Sprintf("poll-%s", w.repo))),
				pollTrigger,
			)
		}
		return false

	case msgPoll:
		if w.spec.Suspend {
			return false
		}
		w.runPoll(ctx)
		w.rescheduleTimers()
		return false

	case msgReconcile:
		if w.spec.Suspend {
			return false
		}
		w.runReconcileOnly(ctx)
		w.rescheduleTimers()
		return false

	case msgWebhook:
		if w.spec.Suspend {
			return false
		}
		_ = w.runFullSync(ctx)
		w.rescheduleTimers()
		return false

	case msgSyncNow:
		err := w.runFullSync(ctx)
		w.rescheduleTimers()
		m.reply <- replyMsg{state: w.state, err: err}
		return false

	case msgGetState:
		m.reply <- replyMsg{state: w.state}
		return false

	case msgStop:
		close(m.done)
		return true

	default:
		return false
	}
}

// refreshSpec re-reads the owning custom resource directly, per spec.md
// §4.2: the worker never trusts the spec value it was constructed with
// beyond the very first read. Returns false if the resource is gone.
func (w *worker) refreshSpec(ctx context.Context) bool {
	obj, err := w.deps.K8s.Get(ctx, GitRepositoryAPIVersion, GitRepositoryKind, w.spec.SourceNamespace, w.spec.Name)
	if err != nil || obj == nil {
		return false
	}
	cr := k8sclient.CustomResource{
		Name:       w.spec.Name,
		Namespace:  w.spec.SourceNamespace,
		Generation: obj.GetGeneration(),
		Object:     obj,
	}
	if fresh, err := crspec.FromCustomResource(cr); err == nil {
		w.spec = fresh
		w.state.Spec = fresh
	}
	return true
}

// runFullSync executes the SyncExecutor pipeline, updates in-memory state
// and the StateStore, writes CRD status, and on success emits a deployed
// event (first successful sync) or an upgraded event (commit changed). On
// failure it records the Failed phase, failure metric and status only; no
// event is emitted. After a successful sync it always runs the
// drift-detection pass over the newly-applied manifests.
func (w *worker) runFullSync(ctx context.Context) error {
	if !w.sem.TryAcquire(1) {
		return nil
	}
	defer w.sem.Release(1)

	w.state.Phase = reconcile.PhaseSyncing

	if err := os.MkdirAll(w.workDir, 0o755); err != nil {
		w.onFailure(ctx, reconcile.NewSyncError(reconcile.KindGitSyncFailed, err))
		return err
	}

	wasSynced := w.state.LastCommit != nil
	result, err := w.executor.Run(ctx, w.spec, w.workDir)
	if err != nil {
		w.onFailure(ctx, err)
		return err
	}

	now := time.Now()
	commitChanged := w.state.LastCommit == nil || !w.state.LastCommit.Equal(result.Commit)

	w.state.Phase = reconcile.PhaseSynced
	w.state.LastCommit = &result.Commit
	w.state.LastSyncAt = &now
	w.state.Message = ""
	w.lastManifests = result.Manifests

	w.deps.Store.PutCommit(w.repo, result.Commit)
	w.deps.Store.PutSyncState(w.repo, store.SyncState{Commit: result.Commit, LastSyncAt: now, Phase: w.state.Phase})

	if w.deps.Metrics != nil {
		w.deps.Metrics.SyncTotal.WithLabelValues(w.repo, "success").Inc()
	}
	w.writeStatus(ctx)

	w.runDriftPass(ctx, now)

	if w.deps.Events != nil {
		payload := events.ServicePayload{Repository: w.repo, Commit: result.Commit.String()}
		if !wasSynced {
			_ = w.deps.Events.ServiceDeployed(ctx, w.repo, payload)
		} else if commitChanged {
			_ = w.deps.Events.ServiceUpgraded(ctx, w.repo, payload)
		}
	}

	return nil
}

// runPoll implements the cheap change check of spec.md §4.2: resolve the
// remote branch head without a full clone/fetch, and only run a full sync
// if it differs from the last recorded commit.
func (w *worker) runPoll(ctx context.Context) {
	sha, err := w.deps.Git.LsRemote(ctx, w.spec.URL, w.spec.Branch)
	if err != nil {
		w.onFailure(ctx, reconcile.NewSyncError(reconcile.KindGitSyncFailed, err))
		return
	}
	if w.state.LastCommit != nil && w.state.LastCommit.String() == sha {
		return
	}
	_ = w.runFullSync(ctx)
}

// runReconcileOnly implements the reconcile cycle of spec.md §4.2/§4.4: a
// drift-detection pass using the manifests from the last successful sync,
// without touching Git.
func (w *worker) runReconcileOnly(ctx context.Context) {
	if w.spec.Suspend || len(w.lastManifests) == 0 {
		return
	}
	w.runDriftPass(ctx, time.Now())
}

func (w *worker) onFailure(ctx context.Context, err error) {
	w.state.Phase = reconcile.PhaseFailed
	w.state.Message = err.Error()
	w.deps.Store.PutSyncState(w.repo, store.SyncState{Phase: w.state.Phase})
	if w.deps.Metrics != nil {
		w.deps.Metrics.SyncTotal.WithLabelValues(w.repo, "failure").Inc()
	}
	w.writeStatus(ctx)
}

// writeStatus patches the owning custom resource's status subresource to
// mirror the worker's observable state, per spec.md §6.1.
func (w *worker) writeStatus(ctx context.Context) {
	status := map[string]interface{}{
		"phase":              string(w.state.Phase),
		"message":            w.state.Message,
		"observedGeneration": w.spec.Generation,
	}
	if w.state.LastCommit != nil {
		status["lastSyncedCommit"] = w.state.LastCommit.String()
	}
	if w.state.LastSyncAt != nil {
		status["lastSyncTime"] = w.state.LastSyncAt.UTC().Format(time.RFC3339)
	}
	_ = w.deps.K8s.UpdateStatus(ctx, w.spec.Name, w.spec.SourceNamespace, status)
}

// runDriftPass classifies every manifest from the last sync against its
// prior last-applied record and the live cluster object, arbitrates per
// the repository's heal policy, and re-applies/emits events as decided.
func (w *worker) runDriftPass(ctx context.Context, now time.Time) {
	if w.spec.Suspend {
		return
	}

	for _, m := range w.lastManifests {
		key := m.Key()

		desiredHash, err := drift.NormalizeAndHash(m.Object)
		if err != nil {
			continue
		}

		var lastAppliedHash *string
		if prev, ok := w.deps.Store.GetLastApplied(w.repo, key); ok {
			if h, err := drift.NormalizeAndHash(prev.Object); err == nil {
				lastAppliedHash = &h
			}
		}

		var liveHash *string
		live, err := w.deps.K8s.Get(ctx, m.Object.GetAPIVersion(), m.Object.GetKind(), m.Object.GetNamespace(), m.Object.GetName())
		if err == nil && live != nil {
			if h, err := drift.NormalizeAndHash(live); err == nil {
				liveHash = &h
			}
		}

		classification := drift.Classify(drift.Inputs{LastApplied: lastAppliedHash, Desired: desiredHash, Live: liveHash})

		if w.deps.Metrics != nil {
			w.deps.Metrics.DriftTotal.WithLabelValues(w.repo, string(classification)).Inc()
		}

		breakGlass := live != nil && live.GetAnnotations()[drift.BreakGlassAnnotation] == "true"
		var firstSeen *time.Time
		if t, ok := w.deps.Store.GetDriftFirstSeen(w.repo, key); ok {
			firstSeen = &t
		}

		arb := drift.Arbitrate(drift.ArbitrationInput{
			Classification: classification,
			HealPolicy:     w.spec.HealPolicy,
			BreakGlass:     breakGlass,
			GracePeriod:    w.spec.HealGracePeriod,
			DriftFirstSeen: firstSeen,
			Now:            now,
		})

		if arb.RecordFirstSeenNow {
			w.deps.Store.RecordDriftFirstSeen(w.repo, key, now)
		}
		if arb.ClearFirstSeen {
			w.deps.Store.ClearDriftFirstSeen(w.repo, key)
		}
		if w.deps.Metrics != nil {
			w.deps.Metrics.DriftHealTotal.WithLabelValues(w.repo, string(arb.Action)).Inc()
		}

		if w.deps.Events != nil {
			_ = w.deps.Events.ServiceDrifted(ctx, w.repo, events.DriftPayload{
				ResourceKey:    key.String(),
				Repository:     w.repo,
				Classification: string(classification),
				Healed:         arb.Action == drift.ActionHealed,
			})
		}

		switch {
		case arb.Action == drift.ActionHealed:
			if _, err := w.deps.K8s.Apply(ctx, m.Object, "nopea", true); err == nil {
				w.deps.Store.PutLastApplied(w.repo, key, m)
				if w.deps.Metrics != nil {
					w.deps.Metrics.ApplyTotal.WithLabelValues(w.repo, "success").Inc()
				}
			} else if w.deps.Metrics != nil {
				w.deps.Metrics.ApplyTotal.WithLabelValues(w.repo, "failure").Inc()
			}
		case classification == drift.NewResource || classification == drift.NeedsApply:
			w.deps.Store.PutLastApplied(w.repo, key, m)
		}
	}
}
