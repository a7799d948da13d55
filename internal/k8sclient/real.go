package k8sclient

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
)

// gitRepositoryResource is the GVR for the GitRepository custom resource.
var gitRepositoryResource = schema.GroupVersionResource{
	Group:    "nopea.io",
	Version:  "v1alpha1",
	Resource: "gitrepositories",
}

// RealClient is the production Kubernetes collaborator, built the way
// rancher-fleet's internal/cmd/agent/apply.go constructs its local clients:
// cached discovery feeding a deferred REST mapper, plus a dynamic client
// for both the custom resource and the arbitrary manifests being applied.
type RealClient struct {
	dyn    dynamic.Interface
	mapper meta.RESTMapper
}

// NewRealClient builds a RealClient from a rest.Config.
func NewRealClient(cfg *rest.Config) (*RealClient, error) {
	disc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: discovery client: %w", err)
	}
	cached := memory.NewMemCacheClient(disc)
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(cached)

	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: dynamic client: %w", err)
	}

	return &RealClient{dyn: dyn, mapper: mapper}, nil
}

var _ K8sOps = (*RealClient)(nil)

func toCustomResource(u *unstructured.Unstructured) CustomResource {
	var observed *int64
	if og, found, _ := unstructured.NestedInt64(u.Object, "status", "observedGeneration"); found {
		observed = &og
	}
	return CustomResource{
		Name:               u.GetName(),
		Namespace:          u.GetNamespace(),
		Generation:         u.GetGeneration(),
		ObservedGeneration: observed,
		ResourceVersion:    u.GetResourceVersion(),
		Object:             u,
	}
}

// ListCustom implements K8sOps.
func (c *RealClient) ListCustom(ctx context.Context, ns string) ([]CustomResource, string, error) {
	list, err := c.dyn.Resource(gitRepositoryResource).Namespace(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", err
	}
	out := make([]CustomResource, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, toCustomResource(&list.Items[i]))
	}
	return out, list.GetResourceVersion(), nil
}

// WatchCustom implements K8sOps.
func (c *RealClient) WatchCustom(ctx context.Context, ns, resourceVersion string) (<-chan WatchEvent, error) {
	w, err := c.dyn.Resource(gitRepositoryResource).Namespace(ns).Watch(ctx, metav1.ListOptions{
		ResourceVersion: resourceVersion,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan WatchEvent)
	go func() {
		defer close(out)
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.ResultChan():
				if !ok {
					return
				}
				mapped, ok := mapEventType(ev.Type)
				if !ok {
					continue
				}
				u, ok := ev.Object.(*unstructured.Unstructured)
				if !ok {
					continue
				}
				select {
				case out <- WatchEvent{Type: mapped, Resource: toCustomResource(u)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func mapEventType(t watch.EventType) (WatchEventType, bool) {
	switch t {
	case watch.Added:
		return EventAdded, true
	case watch.Modified:
		return EventModified, true
	case watch.Deleted:
		return EventDeleted, true
	case watch.Bookmark:
		return EventBookmark, true
	default:
		return "", false
	}
}

// Get implements K8sOps.
func (c *RealClient) Get(ctx context.Context, apiVersion, kind, ns, name string) (*unstructured.Unstructured, error) {
	gvk := schema.FromAPIVersionAndKind(apiVersion, kind)
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: rest mapping for %s: %w", gvk, err)
	}

	var ri dynamic.ResourceInterface
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		ri = c.dyn.Resource(mapping.Resource).Namespace(ns)
	} else {
		ri = c.dyn.Resource(mapping.Resource)
	}

	obj, err := ri.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	return obj, err
}

// Apply implements K8sOps as a server-side apply, per spec.md §6.3.
func (c *RealClient) Apply(ctx context.Context, manifest *unstructured.Unstructured, fieldManager string, force bool) (*unstructured.Unstructured, error) {
	gvk := manifest.GroupVersionKind()
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: rest mapping for %s: %w", gvk, err)
	}

	var ri dynamic.ResourceInterface
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		ri = c.dyn.Resource(mapping.Resource).Namespace(manifest.GetNamespace())
	} else {
		ri = c.dyn.Resource(mapping.Resource)
	}

	data, err := manifest.MarshalJSON()
	if err != nil {
		return nil, err
	}

	return ri.Patch(ctx, manifest.GetName(), types.ApplyPatchType, data, metav1.PatchOptions{
		FieldManager: fieldManager,
		Force:        &force,
	})
}

// UpdateStatus implements K8sOps.
func (c *RealClient) UpdateStatus(ctx context.Context, name, ns string, status map[string]interface{}) error {
	current, err := c.dyn.Resource(gitRepositoryResource).Namespace(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return err
	}
	patched := current.DeepCopy()
	if err := unstructured.SetNestedMap(patched.Object, status, "status"); err != nil {
		return err
	}
	_, err = c.dyn.Resource(gitRepositoryResource).Namespace(ns).UpdateStatus(ctx, patched, metav1.UpdateOptions{})
	return err
}
