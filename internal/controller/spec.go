package controller

import (
	"github.com/nopea-io/nopea/internal/crspec"
	"github.com/nopea-io/nopea/internal/k8sclient"
	"github.com/nopea-io/nopea/internal/reconcile"
)

// repoKey derives the registry key the Supervisor indexes workers under.
func repoKey(namespace, name string) string {
	return namespace + "/" + name
}

// toRepositorySpec converts a watched custom resource into the immutable
// RepositorySpec a Worker generation is built from.
func toRepositorySpec(cr k8sclient.CustomResource) (reconcile.RepositorySpec, error) {
	return crspec.FromCustomResource(cr)
}
