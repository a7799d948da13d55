package worker

import (
	"context"
	"path/filepath"

	"github.com/cloudevents/sdk-go/v2/event"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/nopea-io/nopea/internal/events"
	"github.com/nopea-io/nopea/internal/gitcollab"
	"github.com/nopea-io/nopea/internal/k8sclient"
	"github.com/nopea-io/nopea/internal/metrics"
	"github.com/nopea-io/nopea/internal/reconcile"
	"github.com/nopea-io/nopea/internal/store"
	"github.com/nopea-io/nopea/internal/sync"
)

const (
	acmeURL    = "https://example/acme.git"
	acmeBranch = "main"
	commitV1   = "abc123abc123abc123abc123abc123abc123abcd"
	commitV2   = "def456def456def456def456def456def456defa"
)

func appManifest(value string) []byte {
	return []byte(`apiVersion: v1
kind: ConfigMap
metadata:
  name: app
data:
  k: ` + value + `
`)
}

// recordingSink captures every event sent through it, for scenario
// assertions that check which CDEvents type fired.
type recordingSink struct {
	types []string
}

func (s *recordingSink) Send(_ context.Context, ev event.Event) error {
	s.types = append(s.types, ev.Type())
	return nil
}

func newScenarioWorker(spec reconcile.RepositorySpec, git gitcollab.GitOps, k8s k8sclient.K8sOps, sink events.Sink, workDir string) *worker {
	return &worker{
		repo:     spec.Name,
		spec:     spec,
		state:    reconcile.WorkerState{Spec: spec, Phase: reconcile.PhaseInitializing},
		deps: Deps{
			Git:     git,
			K8s:     k8s,
			Store:   store.New(),
			Events:  events.NewEmitterWithSink(sink),
			Metrics: metrics.New(prometheus.NewRegistry()),
			WorkDir: workDir,
			GitDepth: 1,
		},
		sem:      semaphore.NewWeighted(1),
		executor: sync.New(git, k8s, 1),
		workDir:  filepath.Join(workDir, "acme"),
	}
}

func seedGitRepoCR(k8s *k8sclient.FakeClient, spec reconcile.RepositorySpec) {
	k8s.SeedLiveObject(&unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": GitRepositoryAPIVersion,
		"kind":       GitRepositoryKind,
		"metadata": map[string]interface{}{
			"name":      spec.Name,
			"namespace": spec.SourceNamespace,
		},
		"spec": map[string]interface{}{
			"url":             spec.URL,
			"branch":          spec.Branch,
			"path":            spec.Subpath,
			"targetNamespace": spec.TargetNamespace,
		},
	}})
}

func acmeSpec() reconcile.RepositorySpec {
	spec, err := reconcile.NewRepositorySpec("acme", "nopea-system", acmeURL, acmeBranch,
		"deploy", "prod", "5m", false, "auto", "", 1, nil)
	Expect(err).NotTo(HaveOccurred())
	return spec
}

var _ = Describe("Worker sync and drift scenarios", func() {
	var (
		ctx context.Context
		git *gitcollab.FakeGit
		k8s *k8sclient.FakeClient
		sink *recordingSink
		spec reconcile.RepositorySpec
		w    *worker
	)

	BeforeEach(func() {
		ctx = context.Background()
		git = gitcollab.NewFakeGit()
		k8s = k8sclient.NewFakeClient()
		sink = &recordingSink{}
		spec = acmeSpec()
		seedGitRepoCR(k8s, spec)
		w = newScenarioWorker(spec, git, k8s, sink, GinkgoT().TempDir())
	})

	When("the repository is synced for the first time", func() {
		BeforeEach(func() {
			git.SetRemote(acmeURL, acmeBranch, commitV1, map[string][]byte{
				"deploy/app.yaml": appManifest("v1"),
			})
		})

		It("applies the manifest, records the commit and emits service.deployed", func() {
			Expect(w.refreshSpec(ctx)).To(BeTrue())
			err := w.runFullSync(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(w.state.Phase).To(Equal(reconcile.PhaseSynced))
			Expect(w.state.LastCommit).NotTo(BeNil())
			Expect(w.state.LastCommit.String()).To(Equal(commitV1))

			live, err := k8s.Get(ctx, "v1", "ConfigMap", "prod", "app")
			Expect(err).NotTo(HaveOccurred())
			Expect(live).NotTo(BeNil())

			key := reconcile.NewResourceKey("ConfigMap", "prod", "app")
			_, ok := w.deps.Store.GetLastApplied("acme", key)
			Expect(ok).To(BeTrue())

			Expect(sink.types).To(ContainElement(events.TypeServiceDeployed))
		})
	})

	When("the remote has not changed since the last poll", func() {
		BeforeEach(func() {
			git.SetRemote(acmeURL, acmeBranch, commitV1, map[string][]byte{
				"deploy/app.yaml": appManifest("v1"),
			})
			Expect(w.refreshSpec(ctx)).To(BeTrue())
			Expect(w.runFullSync(ctx)).To(Succeed())
		})

		It("does not run a full sync again", func() {
			beforeSyncAt := w.state.LastSyncAt
			w.runPoll(ctx)
			Expect(w.state.LastSyncAt).To(Equal(beforeSyncAt))
		})
	})

	When("the git branch advances to a new commit", func() {
		BeforeEach(func() {
			git.SetRemote(acmeURL, acmeBranch, commitV1, map[string][]byte{
				"deploy/app.yaml": appManifest("v1"),
			})
			Expect(w.refreshSpec(ctx)).To(BeTrue())
			Expect(w.runFullSync(ctx)).To(Succeed())
			git.SetRemote(acmeURL, acmeBranch, commitV2, map[string][]byte{
				"deploy/app.yaml": appManifest("v2"),
			})
		})

		It("polls the new SHA, re-syncs and emits service.upgraded", func() {
			w.runPoll(ctx)
			Expect(w.state.LastCommit.String()).To(Equal(commitV2))
			Expect(sink.types).To(ContainElement(events.TypeServiceUpgraded))
		})
	})

	When("a live resource is changed out-of-band", func() {
		BeforeEach(func() {
			git.SetRemote(acmeURL, acmeBranch, commitV1, map[string][]byte{
				"deploy/app.yaml": appManifest("v2"),
			})
			Expect(w.refreshSpec(ctx)).To(BeTrue())
			Expect(w.runFullSync(ctx)).To(Succeed())

			k8s.SeedLiveObject(&unstructured.Unstructured{Object: map[string]interface{}{
				"apiVersion": "v1",
				"kind":       "ConfigMap",
				"metadata":   map[string]interface{}{"name": "app", "namespace": "prod"},
				"data":       map[string]interface{}{"k": "v9"},
			}})
		})

		It("heals the resource back to its last-applied desired state under auto policy", func() {
			w.runReconcileOnly(ctx)

			live, err := k8s.Get(ctx, "v1", "ConfigMap", "prod", "app")
			Expect(err).NotTo(HaveOccurred())
			data, _, _ := unstructured.NestedString(live.Object, "data", "k")
			Expect(data).To(Equal("v2"))
			Expect(sink.types).To(ContainElement(events.TypeServiceDrifted))
		})

		It("skips healing when the live object carries the break-glass annotation", func() {
			k8s.SeedLiveObject(&unstructured.Unstructured{Object: map[string]interface{}{
				"apiVersion": "v1",
				"kind":       "ConfigMap",
				"metadata": map[string]interface{}{
					"name": "app", "namespace": "prod",
					"annotations": map[string]interface{}{"nopea.io/suspend-heal": "true"},
				},
				"data": map[string]interface{}{"k": "v9"},
			}})

			w.runReconcileOnly(ctx)

			live, err := k8s.Get(ctx, "v1", "ConfigMap", "prod", "app")
			Expect(err).NotTo(HaveOccurred())
			data, _, _ := unstructured.NestedString(live.Object, "data", "k")
			Expect(data).To(Equal("v9"))

			key := reconcile.NewResourceKey("ConfigMap", "prod", "app")
			_, ok := w.deps.Store.GetDriftFirstSeen("acme", key)
			Expect(ok).To(BeFalse())
		})
	})
})
