package reconcile

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Manifest is a parsed Kubernetes object. Any Manifest that reaches the
// applier is guaranteed to carry apiVersion, kind and metadata.name.
type Manifest struct {
	Object *unstructured.Unstructured
}

// Key returns the ResourceKey this manifest would be applied/read under.
func (m Manifest) Key() ResourceKey {
	return NewResourceKey(m.Object.GetKind(), m.Object.GetNamespace(), m.Object.GetName())
}

// Validate checks the four required fields named by the spec's Manifest
// invariant.
func (m Manifest) Validate() error {
	if m.Object == nil {
		return fmt.Errorf("reconcile: nil manifest object")
	}
	if m.Object.GetAPIVersion() == "" {
		return fmt.Errorf("reconcile: manifest missing apiVersion")
	}
	if m.Object.GetKind() == "" {
		return fmt.Errorf("reconcile: manifest missing kind")
	}
	if m.Object.GetName() == "" {
		return fmt.Errorf("reconcile: manifest missing metadata.name")
	}
	return nil
}

// NewManifest wraps a raw decoded document, validating the required fields.
func NewManifest(doc map[string]interface{}) (Manifest, bool, error) {
	if len(doc) == 0 {
		return Manifest{}, false, nil
	}
	u := &unstructured.Unstructured{Object: doc}
	m := Manifest{Object: u}
	if u.GetAPIVersion() == "" || u.GetKind() == "" || u.GetName() == "" {
		// Not a rejectable parse error by itself; caller decides whether to
		// keep or discard documents missing the required trio (§4.3 step 3).
		return Manifest{}, false, nil
	}
	return m, true, nil
}
