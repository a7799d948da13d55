// Command nopea-controller is the process entrypoint, wired the way
// rancher-fleet's internal/cmd/controller/gitops/operator.go wires gitjob: a
// cobra root command, zap logging through controller-runtime's log
// package, and an errgroup-managed set of concurrent loops (watch
// controller, webhook/metrics HTTP server, leader election) that all
// exit together on first failure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/nopea-io/nopea/internal/config"
	"github.com/nopea-io/nopea/internal/controller"
	"github.com/nopea-io/nopea/internal/events"
	"github.com/nopea-io/nopea/internal/gitcollab"
	"github.com/nopea-io/nopea/internal/gitcollab/localgit"
	"github.com/nopea-io/nopea/internal/gitcollab/process"
	"github.com/nopea-io/nopea/internal/k8sclient"
	"github.com/nopea-io/nopea/internal/leaderelect"
	"github.com/nopea-io/nopea/internal/metrics"
	"github.com/nopea-io/nopea/internal/store"
	"github.com/nopea-io/nopea/internal/supervisor"
	"github.com/nopea-io/nopea/internal/supervisor/cluster"
	"github.com/nopea-io/nopea/internal/webhook"
)

const defaultGitDepth = 1

var setupLog = ctrl.Log.WithName("setup")

func main() {
	cmd := &cobra.Command{
		Use:   "nopea-controller",
		Short: "GitOps reconciliation controller for GitRepository custom resources",
		RunE:  run,
	}
	cmd.Flags().String("work-dir", "/tmp/nopea", "base directory for per-repository git checkouts")
	cmd.Flags().Int("git-depth", defaultGitDepth, "shallow-clone depth for the git collaborator")
	cmd.Flags().String("git-collaborator-socket", "", "unix socket for an external git collaborator process; empty uses the in-process collaborator")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	zopts := zap.Options{Development: false}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zopts)))
	ctx := log.IntoContext(cmd.Context(), ctrl.Log.WithName("nopea-controller"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	workDir, _ := cmd.Flags().GetString("work-dir")
	gitDepth, _ := cmd.Flags().GetInt("git-depth")
	socketPath, _ := cmd.Flags().GetString("git-collaborator-socket")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("nopea-controller: creating work dir: %w", err)
	}

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("nopea-controller: loading kubeconfig: %w", err)
	}

	k8s, err := k8sclient.NewRealClient(restCfg)
	if err != nil {
		return fmt.Errorf("nopea-controller: building k8s collaborator: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("nopea-controller: building clientset: %w", err)
	}

	if cfg.WebhookSecret == "" {
		secret, err := clientset.CoreV1().Secrets(cfg.PodNamespace).Get(ctx, config.WebhookSecretName, metav1.GetOptions{})
		switch {
		case err == nil:
			if v, err := config.WebhookSecretFromK8sSecret(secret); err != nil {
				logrus.Warnf("nopea-controller: %v, webhook signature verification disabled", err)
			} else {
				cfg.WebhookSecret = v
			}
		case apierrors.IsNotFound(err):
			logrus.Warnf("nopea-controller: no %s secret and no NOPEA_WEBHOOK_SECRET set, webhook signature verification disabled", config.WebhookSecretName)
		default:
			return fmt.Errorf("nopea-controller: loading webhook secret: %w", err)
		}
	}

	git := buildGitCollaborator(socketPath)
	if closer, ok := git.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	// promhttp.Handler() (wired in internal/webhook) serves the default
	// registry, so collectors register there rather than a private one.
	collectors := metrics.New(prometheus.DefaultRegisterer)
	emitter := buildEmitter()

	st := store.New()
	deps := supervisor.NewDeps(git, k8s, st, emitter, collectors, workDir, gitDepth)

	var registry supervisor.Registry
	if cfg.ClusterEnabled {
		nodeID := cfg.PodName
		if nodeID == "" {
			nodeID = uuid.NewString()
		}
		registry = cluster.New(nodeID, deps)
	} else {
		registry = supervisor.New(deps)
	}

	gitController := controller.New(k8s, registry, st, emitter, cfg.WatchNamespace)

	var isLeader atomic.Bool
	ready := func() bool { return isLeader.Load() }

	group, gctx := errgroup.WithContext(ctx)

	if cfg.EnableLeaderElection {
		elector := leaderelect.New(clientset, leaderelect.Options{
			Namespace:     cfg.PodNamespace,
			LeaseName:     "nopea-controller-leader",
			Identity:      cfg.PodName,
			LeaseDuration: cfg.LeaderLeaseDuration,
			RenewDeadline: cfg.LeaderRenewDeadline,
			RetryPeriod:   cfg.LeaderRetryPeriod,
		})

		group.Go(func() error { return elector.Run(gctx) })
		group.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case edge := <-elector.Edges():
					isLeader.Store(edge.Leader)
					gitController.Leadership() <- edge.Leader
				}
			}
		})
	} else {
		isLeader.Store(true)
		group.Go(func() error {
			gitController.Leadership() <- true
			return nil
		})
	}

	group.Go(func() error { return gitController.Run(gctx) })
	group.Go(func() error { return serveHTTP(gctx, cfg, registry, ready) })

	return group.Wait()
}

func buildGitCollaborator(socketPath string) gitcollab.GitOps {
	if socketPath == "" {
		return localgit.New()
	}
	return process.New(socketPath, nil)
}

// buildEmitter wires an Emitter over the HTTP CloudEvents binding if a sink
// target is configured, and otherwise over a sink that only logs, so the
// controller still runs (without outbound events) in environments with no
// CDEvents receiver deployed.
func buildEmitter() *events.Emitter {
	if target := os.Getenv("NOPEA_CLOUDEVENTS_SINK"); target != "" {
		emitter, err := events.NewEmitter(target)
		if err != nil {
			logrus.Warnf("nopea-controller: cloudevents sink %q unavailable, logging events instead: %v", target, err)
		} else {
			return emitter
		}
	}
	return events.NewEmitterWithSink(loggingSink{})
}

type loggingSink struct{}

func (loggingSink) Send(_ context.Context, ev event.Event) error {
	logrus.Debugf("event: %s %s", ev.Type(), ev.Source())
	return nil
}

func serveHTTP(ctx context.Context, cfg config.Controller, registry supervisor.Registry, ready webhook.ReadyFunc) error {
	srv, err := webhook.New(registry, cfg.WebhookSecret, ready)
	if err != nil {
		return fmt.Errorf("nopea-controller: building webhook server: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	setupLog.Info("serving webhook, health and metrics endpoints", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("nopea-controller: http server: %w", err)
	}
	return nil
}
