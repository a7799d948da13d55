package reconcile

import (
	"fmt"
	"strings"
)

// ResourceKey identifies a single Kubernetes object by kind, namespace and
// name. The zero value is not valid; use NewResourceKey or ParseResourceKey.
type ResourceKey struct {
	Kind      string
	Namespace string
	Name      string
}

// NewResourceKey builds a key, defaulting namespace to "default" when empty.
func NewResourceKey(kind, namespace, name string) ResourceKey {
	if namespace == "" {
		namespace = "default"
	}
	return ResourceKey{Kind: kind, Namespace: namespace, Name: name}
}

// String renders the canonical "Kind/Namespace/Name" text form.
func (k ResourceKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.Namespace, k.Name)
}

// ParseResourceKey parses the canonical text form produced by String.
func ParseResourceKey(s string) (ResourceKey, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return ResourceKey{}, fmt.Errorf("reconcile: invalid resource key %q", s)
	}
	return NewResourceKey(parts[0], parts[1], parts[2]), nil
}
