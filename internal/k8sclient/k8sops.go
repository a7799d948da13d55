// Package k8sclient defines the K8sOps capability interface for the
// Kubernetes collaborator of spec.md §6.3, plus a real implementation
// grounded on rancher-fleet's internal/cmd/agent/apply.go (discovery +
// RESTMapper + dynamic client) and a fake for tests.
package k8sclient

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// CustomResource is a minimal, collaborator-agnostic view of a watched
// GitRepository custom resource, enough for the Controller and Worker to
// act on without depending on the generated clientset directly.
type CustomResource struct {
	Name               string
	Namespace          string
	Generation         int64
	ObservedGeneration *int64
	ResourceVersion    string
	Object             *unstructured.Unstructured
}

// WatchEventType mirrors the four event kinds named in spec.md §4.1.
type WatchEventType string

const (
	EventAdded    WatchEventType = "ADDED"
	EventModified WatchEventType = "MODIFIED"
	EventDeleted  WatchEventType = "DELETED"
	EventBookmark WatchEventType = "BOOKMARK"
)

// WatchEvent is a single event off the custom-resource watch stream.
type WatchEvent struct {
	Type     WatchEventType
	Resource CustomResource
}

// K8sOps is the capability interface (Design Note §9) the Controller,
// Worker and SyncExecutor depend on instead of a concrete clientset.
type K8sOps interface {
	ListCustom(ctx context.Context, ns string) ([]CustomResource, string, error)
	WatchCustom(ctx context.Context, ns, resourceVersion string) (<-chan WatchEvent, error)
	Get(ctx context.Context, apiVersion, kind, ns, name string) (*unstructured.Unstructured, error)
	Apply(ctx context.Context, manifest *unstructured.Unstructured, fieldManager string, force bool) (*unstructured.Unstructured, error)
	UpdateStatus(ctx context.Context, name, ns string, status map[string]interface{}) error
}
