package crspec

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/nopea-io/nopea/internal/k8sclient"
	"github.com/nopea-io/nopea/internal/reconcile"
)

func crWithSpec(spec map[string]interface{}) k8sclient.CustomResource {
	return k8sclient.CustomResource{
		Name:       "repo-a",
		Namespace:  "nopea-system",
		Generation: 3,
		Object: &unstructured.Unstructured{Object: map[string]interface{}{
			"spec": spec,
		}},
	}
}

func TestFromCustomResourceFullSpec(t *testing.T) {
	cr := crWithSpec(map[string]interface{}{
		"url":             "https://example.com/repo-a.git",
		"branch":          "release",
		"path":            "manifests",
		"targetNamespace": "prod",
		"interval":        "1m",
		"suspend":         true,
		"healPolicy":      "manual",
		"healGracePeriod": "5m",
	})

	spec, err := FromCustomResource(cr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Name != "repo-a" || spec.SourceNamespace != "nopea-system" {
		t.Fatalf("identity fields wrong: %+v", spec)
	}
	if spec.URL != "https://example.com/repo-a.git" || spec.Branch != "release" {
		t.Fatalf("git fields wrong: %+v", spec)
	}
	if spec.TargetNamespace != "prod" || spec.Subpath != "manifests" {
		t.Fatalf("placement fields wrong: %+v", spec)
	}
	if !spec.Suspend {
		t.Fatalf("expected Suspend=true")
	}
	if spec.HealPolicy != reconcile.HealPolicyManual {
		t.Fatalf("HealPolicy = %v, want %v", spec.HealPolicy, reconcile.HealPolicyManual)
	}
	if spec.HealGracePeriod == nil {
		t.Fatalf("expected HealGracePeriod to be set")
	}
	if spec.Generation != 3 {
		t.Fatalf("Generation = %d, want 3", spec.Generation)
	}
}

func TestFromCustomResourceDefaultsMissingOptionalFields(t *testing.T) {
	cr := crWithSpec(map[string]interface{}{
		"url": "https://example.com/repo-a.git",
	})

	spec, err := FromCustomResource(cr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Branch != "main" {
		t.Fatalf("Branch = %q, want %q", spec.Branch, "main")
	}
	if spec.TargetNamespace != spec.SourceNamespace {
		t.Fatalf("TargetNamespace = %q, want it to default to SourceNamespace %q", spec.TargetNamespace, spec.SourceNamespace)
	}
	if spec.HealPolicy != reconcile.HealPolicyAuto {
		t.Fatalf("HealPolicy = %v, want default %v", spec.HealPolicy, reconcile.HealPolicyAuto)
	}
}

func TestFromCustomResourceMissingURL(t *testing.T) {
	cr := crWithSpec(map[string]interface{}{})
	if _, err := FromCustomResource(cr); err == nil {
		t.Fatalf("expected error for a spec missing url")
	}
}

func TestFromCustomResourceNilObject(t *testing.T) {
	cr := k8sclient.CustomResource{Name: "repo-a", Namespace: "ns"}
	if _, err := FromCustomResource(cr); err == nil {
		t.Fatalf("expected error for a custom resource with no spec object")
	}
}
