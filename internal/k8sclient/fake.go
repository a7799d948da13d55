package k8sclient

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// FakeClient is an in-memory K8sOps used by unit and scenario tests so the
// Worker/SyncExecutor/DriftEngine can be exercised without a real API
// server, grounded on rancher-fleet's heavy use of fake clientsets throughout
// integrationtests/.
type FakeClient struct {
	mu sync.Mutex

	customResources map[string]CustomResource // key: namespace/name
	liveObjects     map[string]*unstructured.Unstructured
	statuses        map[string]map[string]interface{}

	watchers []chan WatchEvent
}

// NewFakeClient returns an empty fake collaborator.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		customResources: make(map[string]CustomResource),
		liveObjects:     make(map[string]*unstructured.Unstructured),
		statuses:        make(map[string]map[string]interface{}),
	}
}

var _ K8sOps = (*FakeClient)(nil)

func crKey(ns, name string) string    { return ns + "/" + name }
func objKey(apiVersion, kind, ns, name string) string {
	return apiVersion + "/" + kind + "/" + ns + "/" + name
}

// SeedCustomResource inserts or replaces a tracked GitRepository and emits a
// watch event to every open watcher, letting tests drive ADDED/MODIFIED/
// DELETED sequences deterministically.
func (f *FakeClient) SeedCustomResource(ev WatchEventType, cr CustomResource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := crKey(cr.Namespace, cr.Name)
	if ev == EventDeleted {
		delete(f.customResources, key)
	} else {
		f.customResources[key] = cr
	}
	for _, ch := range f.watchers {
		ch <- WatchEvent{Type: ev, Resource: cr}
	}
}

// SeedLiveObject sets the live cluster state for a resource, as if it had
// been applied or modified out-of-band.
func (f *FakeClient) SeedLiveObject(obj *unstructured.Unstructured) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveObjects[objKey(obj.GetAPIVersion(), obj.GetKind(), obj.GetNamespace(), obj.GetName())] = obj
}

// ListCustom implements K8sOps.
func (f *FakeClient) ListCustom(ctx context.Context, ns string) ([]CustomResource, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []CustomResource
	for _, cr := range f.customResources {
		if ns == "" || cr.Namespace == ns {
			out = append(out, cr)
		}
	}
	return out, "1", nil
}

// WatchCustom implements K8sOps.
func (f *FakeClient) WatchCustom(ctx context.Context, ns, resourceVersion string) (<-chan WatchEvent, error) {
	f.mu.Lock()
	ch := make(chan WatchEvent, 16)
	f.watchers = append(f.watchers, ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
	}()
	return ch, nil
}

// Get implements K8sOps.
func (f *FakeClient) Get(ctx context.Context, apiVersion, kind, ns, name string) (*unstructured.Unstructured, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.liveObjects[objKey(apiVersion, kind, ns, name)]
	if !ok {
		return nil, nil
	}
	return obj.DeepCopy(), nil
}

// Apply implements K8sOps: it echoes the manifest back, as server-side
// apply would, recording it as the new live object.
func (f *FakeClient) Apply(ctx context.Context, manifest *unstructured.Unstructured, fieldManager string, force bool) (*unstructured.Unstructured, error) {
	if manifest == nil {
		return nil, fmt.Errorf("k8sclient: nil manifest")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	echoed := manifest.DeepCopy()
	f.liveObjects[objKey(echoed.GetAPIVersion(), echoed.GetKind(), echoed.GetNamespace(), echoed.GetName())] = echoed
	return echoed.DeepCopy(), nil
}

// UpdateStatus implements K8sOps.
func (f *FakeClient) UpdateStatus(ctx context.Context, name, ns string, status map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[crKey(ns, name)] = status
	return nil
}

// Status returns the last status written for (ns, name), for assertions.
func (f *FakeClient) Status(ns, name string) (map[string]interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[crKey(ns, name)]
	return s, ok
}
