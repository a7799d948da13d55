// Package drift implements manifest normalization, canonical hashing and the
// three-way drift classifier described in spec.md §4.4. It is grounded on
// rancher-fleet's internal/cmd/agent/deployer/normalizers and driftdetect
// packages, generalized from Fleet's Helm-release-diff model to the spec's
// last-applied/desired/live three-way model.
package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const lastAppliedConfigAnnotation = "kubectl.kubernetes.io/last-applied-configuration"

var metadataFieldsToStrip = []string{
	"resourceVersion",
	"uid",
	"creationTimestamp",
	"generation",
	"managedFields",
	"selfLink",
}

// Normalize returns a deep copy of obj with cluster-managed fields removed,
// per spec.md §4.4. The input is never mutated.
func Normalize(obj *unstructured.Unstructured) *unstructured.Unstructured {
	out := obj.DeepCopy()
	unstructured.RemoveNestedField(out.Object, "status")

	for _, f := range metadataFieldsToStrip {
		unstructured.RemoveNestedField(out.Object, "metadata", f)
	}

	annotations, found, _ := unstructured.NestedStringMap(out.Object, "metadata", "annotations")
	if found {
		delete(annotations, lastAppliedConfigAnnotation)
		if len(annotations) == 0 {
			unstructured.RemoveNestedField(out.Object, "metadata", "annotations")
		} else {
			_ = unstructured.SetNestedStringMap(out.Object, annotations, "metadata", "annotations")
		}
	}

	return out
}

// Hash computes the canonical "sha256:<hex>" digest of a normalized
// manifest. encoding/json already sorts map keys when marshaling a
// map[string]interface{}, which gives the stable key ordering the spec
// requires without a bespoke canonicalizer.
func Hash(obj *unstructured.Unstructured) (string, error) {
	b, err := json.Marshal(obj.Object)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// NormalizeAndHash is a convenience wrapper combining Normalize and Hash.
func NormalizeAndHash(obj *unstructured.Unstructured) (string, error) {
	return Hash(Normalize(obj))
}
