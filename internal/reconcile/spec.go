package reconcile

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// HealPolicy controls whether the DriftEngine auto-heals classified drift.
type HealPolicy string

const (
	HealPolicyAuto   HealPolicy = "auto"
	HealPolicyManual HealPolicy = "manual"
	HealPolicyNotify HealPolicy = "notify"
)

func (p HealPolicy) valid() bool {
	switch p {
	case HealPolicyAuto, HealPolicyManual, HealPolicyNotify:
		return true
	}
	return false
}

const defaultPollInterval = 5 * time.Minute

var durationPattern = regexp.MustCompile(`^(\d+)(s|m|h)$`)

// ParseDuration implements the grammar from spec.md §6.1:
// ^(\d+)(s|m|h)$, falling back to def on any mismatch or on a zero value.
func ParseDuration(s string, def time.Duration) time.Duration {
	d, ok := tryParseDuration(s)
	if !ok || d == 0 {
		return def
	}
	return d
}

func tryParseDuration(s string) (time.Duration, bool) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	}
	return time.Duration(n) * unit, true
}

// RepositorySpec is the immutable value derived from a GitRepository custom
// resource for the duration of one worker generation.
type RepositorySpec struct {
	Name               string
	SourceNamespace    string
	URL                string
	Branch             string
	Subpath            string
	TargetNamespace    string
	PollInterval       time.Duration
	Suspend            bool
	HealPolicy         HealPolicy
	HealGracePeriod    *time.Duration
	Generation         int64
	ObservedGeneration *int64
}

// NewRepositorySpec builds a RepositorySpec from custom-resource-shaped raw
// fields, applying the defaults from spec.md §3 and §6.1.
func NewRepositorySpec(name, sourceNamespace, url, branch, subpath, targetNamespace string,
	pollIntervalRaw string, suspend bool, healPolicyRaw string, healGracePeriodRaw string,
	generation int64, observedGeneration *int64) (RepositorySpec, error) {
	if name == "" || sourceNamespace == "" {
		return RepositorySpec{}, fmt.Errorf("reconcile: name and source_namespace are required")
	}
	if url == "" {
		return RepositorySpec{}, fmt.Errorf("reconcile: url is required")
	}
	if branch == "" {
		branch = "main"
	}
	if targetNamespace == "" {
		targetNamespace = sourceNamespace
	}
	policy := HealPolicy(healPolicyRaw)
	if !policy.valid() {
		policy = HealPolicyAuto
	}
	spec := RepositorySpec{
		Name:            name,
		SourceNamespace: sourceNamespace,
		URL:             url,
		Branch:          branch,
		Subpath:         subpath,
		TargetNamespace: targetNamespace,
		PollInterval:    ParseDuration(pollIntervalRaw, defaultPollInterval),
		Suspend:         suspend,
		HealPolicy:      policy,
		Generation:      generation,
		ObservedGeneration: observedGeneration,
	}
	if healGracePeriodRaw != "" {
		if d, ok := tryParseDuration(healGracePeriodRaw); ok {
			spec.HealGracePeriod = &d
		}
	}
	return spec, nil
}
