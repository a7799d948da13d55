package v1alpha1

import (
	"testing"

	"k8s.io/apimachinery/pkg/runtime"
)

func TestAddToSchemeRegistersBothTypes(t *testing.T) {
	scheme := runtime.NewScheme()
	if err := AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme() returned an error: %v", err)
	}

	for _, obj := range []runtime.Object{&GitRepository{}, &GitRepositoryList{}} {
		kinds, _, err := scheme.ObjectKinds(obj)
		if err != nil || len(kinds) == 0 {
			t.Fatalf("scheme does not recognize %T: kinds=%v err=%v", obj, kinds, err)
		}
		if got := kinds[0].GroupVersion(); got != SchemeGroupVersion {
			t.Fatalf("%T registered under %v, want %v", obj, got, SchemeGroupVersion)
		}
	}
}
