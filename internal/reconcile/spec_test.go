package reconcile

import (
	"testing"
	"time"
)

func TestParseDurationGrammar(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"", time.Minute},        // falls back to def
		{"0s", time.Minute},      // zero parses but falls back to def
		{"bogus", time.Minute},   // no match falls back to def
		{"5", time.Minute},       // missing unit falls back to def
		{"-5m", time.Minute},     // no negative numbers in the grammar
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got := ParseDuration(tc.raw, time.Minute)
			if got != tc.want {
				t.Fatalf("ParseDuration(%q, 1m) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNewRepositorySpecDefaults(t *testing.T) {
	spec, err := NewRepositorySpec("repo-a", "ns", "https://example.com/repo-a.git", "", "", "",
		"", false, "", "", 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Branch != "main" {
		t.Fatalf("Branch = %q, want %q", spec.Branch, "main")
	}
	if spec.TargetNamespace != "ns" {
		t.Fatalf("TargetNamespace = %q, want %q", spec.TargetNamespace, "ns")
	}
	if spec.PollInterval != defaultPollInterval {
		t.Fatalf("PollInterval = %v, want %v", spec.PollInterval, defaultPollInterval)
	}
	if spec.HealPolicy != HealPolicyAuto {
		t.Fatalf("HealPolicy = %v, want %v", spec.HealPolicy, HealPolicyAuto)
	}
	if spec.HealGracePeriod != nil {
		t.Fatalf("HealGracePeriod = %v, want nil", spec.HealGracePeriod)
	}
}

func TestNewRepositorySpecInvalidPolicyFallsBackToAuto(t *testing.T) {
	spec, err := NewRepositorySpec("repo-a", "ns", "https://example.com/repo-a.git", "main", "", "",
		"5m", false, "nonsense", "", 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.HealPolicy != HealPolicyAuto {
		t.Fatalf("HealPolicy = %v, want %v", spec.HealPolicy, HealPolicyAuto)
	}
}

func TestNewRepositorySpecHealGracePeriod(t *testing.T) {
	spec, err := NewRepositorySpec("repo-a", "ns", "https://example.com/repo-a.git", "main", "", "",
		"5m", false, "auto", "10m", 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.HealGracePeriod == nil || *spec.HealGracePeriod != 10*time.Minute {
		t.Fatalf("HealGracePeriod = %v, want 10m", spec.HealGracePeriod)
	}
}

func TestNewRepositorySpecRequiredFields(t *testing.T) {
	if _, err := NewRepositorySpec("", "ns", "https://x", "main", "", "", "", false, "", "", 1, nil); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if _, err := NewRepositorySpec("repo-a", "ns", "", "main", "", "", "", false, "", "", 1, nil); err == nil {
		t.Fatalf("expected error for missing url")
	}
}
