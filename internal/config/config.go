// Package config populates typed configuration structs from environment
// variables, in the idiom of rancher-fleet's internal/cmd/options.go:
// documented defaults, a logrus.Warn on an invalid (non-parseable) value
// rather than a hard failure, and no external config-file format.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
)

// Controller is the top-level configuration for the nopea-controller
// process, populated from environment variables per spec.md §6.6.
type Controller struct {
	PodNamespace   string
	PodName        string
	WatchNamespace string

	EnableLeaderElection bool
	ClusterEnabled       bool

	HTTPPort      int
	WebhookSecret string

	LeaderLeaseDuration time.Duration
	LeaderRenewDeadline time.Duration
	LeaderRetryPeriod   time.Duration
}

const (
	defaultHTTPPort           = 4000
	defaultLeaderLeaseDuration = 15 * time.Second
	defaultLeaderRenewDeadline = 10 * time.Second
	defaultLeaderRetryPeriod   = 2 * time.Second
)

// Load reads every NOPEA_* / POD_* / WATCH_NAMESPACE environment variable,
// falling back to documented defaults and warning (never failing) on
// malformed values.
func Load() Controller {
	return Controller{
		PodNamespace:   getenv("POD_NAMESPACE", "nopea-system"),
		PodName:        getenv("POD_NAME", "nopea-controller"),
		WatchNamespace: os.Getenv("WATCH_NAMESPACE"),

		EnableLeaderElection: getBool("NOPEA_ENABLE_LEADER_ELECTION", false),
		ClusterEnabled:       getBool("NOPEA_CLUSTER_ENABLED", false),

		HTTPPort:      getInt("NOPEA_HTTP_PORT", defaultHTTPPort),
		WebhookSecret: os.Getenv("NOPEA_WEBHOOK_SECRET"),

		LeaderLeaseDuration: getDuration("NOPEA_LEADER_LEASE_DURATION", defaultLeaderLeaseDuration),
		LeaderRenewDeadline: getDuration("NOPEA_LEADER_RENEW_DEADLINE", defaultLeaderRenewDeadline),
		LeaderRetryPeriod:   getDuration("NOPEA_LEADER_RETRY_PERIOD", defaultLeaderRetryPeriod),
	}
}

// WebhookSecretName/WebhookSecretKey name the Kubernetes Secret NOPEA_WEBHOOK_SECRET
// falls back to when no literal value is set in the environment, so the HMAC
// secret can live in the cluster instead of the pod spec.
const (
	WebhookSecretName = "nopea-webhook-secret"
	WebhookSecretKey  = "secret"
)

// WebhookSecretFromK8sSecret extracts the webhook HMAC secret from a
// Kubernetes Secret object, the way production deployments prefer over a
// plaintext NOPEA_WEBHOOK_SECRET environment variable.
func WebhookSecretFromK8sSecret(secret *corev1.Secret) (string, error) {
	if secret == nil {
		return "", fmt.Errorf("config: nil webhook secret object")
	}
	raw, ok := secret.Data[WebhookSecretKey]
	if !ok || len(raw) == 0 {
		return "", fmt.Errorf("config: secret %s/%s has no %q key", secret.Namespace, secret.Name, WebhookSecretKey)
	}
	return string(raw), nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.Warnf("config: invalid bool for %s=%q, using default %v", key, raw, def)
		return def
	}
	return v
}

func getInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logrus.Warnf("config: invalid int for %s=%q, using default %d", key, raw, def)
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		logrus.Warnf("config: invalid duration for %s=%q, using default %s", key, raw, def)
		return def
	}
	return v
}
