// Package crspec converts a watched GitRepository custom resource into the
// reconcile package's immutable RepositorySpec value, per spec.md §6.1.
// It is factored out of internal/controller so internal/worker can re-read
// a fresh spec directly off the custom resource (spec.md §4.2) without
// creating an import cycle between controller and worker.
package crspec

import (
	"github.com/nopea-io/nopea/internal/k8sclient"
	"github.com/nopea-io/nopea/internal/reconcile"
)

// FromCustomResource reads the nested spec fields off the unstructured
// object and builds a validated RepositorySpec.
func FromCustomResource(cr k8sclient.CustomResource) (reconcile.RepositorySpec, error) {
	var raw map[string]interface{}
	if cr.Object != nil {
		raw, _ = cr.Object.Object["spec"].(map[string]interface{})
	}

	getString := func(key string) string {
		v, _ := raw[key].(string)
		return v
	}
	getBool := func(key string) bool {
		v, _ := raw[key].(bool)
		return v
	}

	return reconcile.NewRepositorySpec(
		cr.Name,
		cr.Namespace,
		getString("url"),
		getString("branch"),
		getString("path"),
		getString("targetNamespace"),
		getString("interval"),
		getBool("suspend"),
		getString("healPolicy"),
		getString("healGracePeriod"),
		cr.Generation,
		cr.ObservedGeneration,
	)
}
