package k8sclient

import (
	"context"
	"testing"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic/fake"
)

func testRESTMapper() meta.RESTMapper {
	mapper := meta.NewDefaultRESTMapper(nil)
	mapper.Add(schema.GroupVersionKind{Group: "nopea.io", Version: "v1alpha1", Kind: "GitRepository"}, meta.RESTScopeNamespace)
	mapper.Add(schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"}, meta.RESTScopeNamespace)
	return mapper
}

func TestToCustomResourceReadsObservedGeneration(t *testing.T) {
	u := &unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{
			"name":       "acme",
			"namespace":  "nopea-system",
			"generation": int64(3),
		},
		"status": map[string]interface{}{
			"observedGeneration": int64(2),
		},
	}}

	cr := toCustomResource(u)
	if cr.Name != "acme" || cr.Namespace != "nopea-system" || cr.Generation != 3 {
		t.Fatalf("toCustomResource() = %+v", cr)
	}
	if cr.ObservedGeneration == nil || *cr.ObservedGeneration != 2 {
		t.Fatalf("ObservedGeneration = %v, want pointer to 2", cr.ObservedGeneration)
	}
}

func TestToCustomResourceWithoutStatusLeavesObservedGenerationNil(t *testing.T) {
	u := &unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{"name": "acme"},
	}}

	if cr := toCustomResource(u); cr.ObservedGeneration != nil {
		t.Fatalf("ObservedGeneration = %v, want nil", cr.ObservedGeneration)
	}
}

func TestMapEventType(t *testing.T) {
	cases := []struct {
		in   watch.EventType
		want WatchEventType
		ok   bool
	}{
		{watch.Added, EventAdded, true},
		{watch.Modified, EventModified, true},
		{watch.Deleted, EventDeleted, true},
		{watch.Bookmark, EventBookmark, true},
		{watch.Error, "", false},
	}
	for _, c := range cases {
		got, ok := mapEventType(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("mapEventType(%v) = %v, %v, want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func newTestRealClient(t *testing.T, objects ...runtime.Object) *RealClient {
	t.Helper()
	scheme := runtime.NewScheme()
	gvrToKind := map[schema.GroupVersionResource]string{
		gitRepositoryResource:                                          "GitRepositoryList",
		{Group: "", Version: "v1", Resource: "configmaps"}:              "ConfigMapList",
	}
	dyn := fake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToKind, objects...)

	mapper := testRESTMapper()
	return &RealClient{dyn: dyn, mapper: mapper}
}

func TestRealClientGetReturnsNilOnNotFound(t *testing.T) {
	c := newTestRealClient(t)
	obj, err := c.Get(context.Background(), "v1", "ConfigMap", "default", "missing")
	if err != nil {
		t.Fatalf("Get() error = %v, want nil", err)
	}
	if obj != nil {
		t.Fatalf("Get() = %v, want nil for a missing object", obj)
	}
}

func TestRealClientUpdateStatusPatchesStatusSubresource(t *testing.T) {
	existing := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "nopea.io/v1alpha1",
		"kind":       "GitRepository",
		"metadata": map[string]interface{}{
			"name":      "acme",
			"namespace": "nopea-system",
		},
	}}
	c := newTestRealClient(t, existing)

	err := c.UpdateStatus(context.Background(), "acme", "nopea-system", map[string]interface{}{
		"phase": "Synced",
	})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
}
