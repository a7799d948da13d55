// Package v1alpha1 contains the GitRepository custom resource type,
// modeled on rancher-fleet's pkg/apis/fleet.cattle.io/v1alpha1/gitrepo_types.go
// shape (TypeMeta/ObjectMeta/Spec/Status, kubebuilder markers), trimmed to
// the input contract of spec.md §6.1 plus the heal-policy fields
// rancher-fleet's GitRepo has no equivalent of.
package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// +genclient
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
// +kubebuilder:object:root=true
// +kubebuilder:resource:categories=nopea,path=gitrepositories,shortName=grepo
// +kubebuilder:subresource:status

// GitRepository describes a git repository reconciled into a Kubernetes
// cluster by the nopea controller.
type GitRepository struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   GitRepositorySpec   `json:"spec,omitempty"`
	Status GitRepositoryStatus `json:"status,omitempty"`
}

// GitRepositorySpec is the input contract of spec.md §6.1.
type GitRepositorySpec struct {
	// URL is the git remote to clone.
	// +required
	URL string `json:"url"`

	// Branch is the branch to follow. Defaults to "main".
	Branch string `json:"branch,omitempty"`

	// Path is the directory, relative to the repo root, containing the
	// manifests to apply. Defaults to the repo root.
	Path string `json:"path,omitempty"`

	// TargetNamespace is the namespace applied manifests default into
	// when they do not specify their own. Defaults to the custom
	// resource's own namespace.
	TargetNamespace string `json:"targetNamespace,omitempty"`

	// Interval is the poll interval, in the grammar ^(\d+)(s|m|h)$.
	// Invalid or absent values fall back to 5 minutes.
	Interval string `json:"interval,omitempty"`

	// Suspend, when true, makes every reconcile pass a no-op.
	Suspend bool `json:"suspend,omitempty"`

	// HealPolicy controls whether drifted resources are re-applied.
	// One of "auto", "manual", "notify"; defaults to "auto".
	// +kubebuilder:validation:Enum=auto;manual;notify
	HealPolicy string `json:"healPolicy,omitempty"`

	// HealGracePeriod delays healing of ManualDrift/Conflict resources by
	// this duration after first detection, in the same grammar as Interval.
	HealGracePeriod string `json:"healGracePeriod,omitempty"`
}

// GitRepositoryStatus is written by the controller after each reconcile
// pass, per spec.md §6.1.
type GitRepositoryStatus struct {
	// Phase mirrors the owning worker's lifecycle phase.
	Phase string `json:"phase,omitempty"`

	// LastSyncedCommit is the commit SHA of the most recent successful sync.
	LastSyncedCommit string `json:"lastSyncedCommit,omitempty"`

	// LastSyncTime is when LastSyncedCommit was recorded.
	LastSyncTime metav1.Time `json:"lastSyncTime,omitempty"`

	// Message carries the most recent error, if Phase is "Failed".
	Message string `json:"message,omitempty"`

	// ObservedGeneration is set to metadata.generation after a successful
	// reconcile of a new spec.
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
}

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// GitRepositoryList is a list of GitRepository.
type GitRepositoryList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []GitRepository `json:"items"`
}
