// Package controller implements a raw watch-event loop, maintaining a 1:1
// correspondence between live GitRepository custom resources and running
// Workers. Grounded on gitjob's pkg/controller/register.go dispatch style
// and rancher-fleet's general client-go watch idiom, deliberately not
// built on controller-runtime's Reconcile(ctx, req) loop since the
// BOOKMARK/resourceVersion handling needs the raw watch.Interface
// contract.
package controller

import (
	"context"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/nopea-io/nopea/internal/events"
	"github.com/nopea-io/nopea/internal/k8sclient"
	"github.com/nopea-io/nopea/internal/store"
	"github.com/nopea-io/nopea/internal/supervisor"
)

const reconnectDelay = 5 * time.Second

// Controller watches GitRepository custom resources in Namespace and
// drives a supervisor.Registry to start/stop one Worker per resource.
type Controller struct {
	K8s       k8sclient.K8sOps
	Registry  supervisor.Registry
	Store     *store.Store
	Events    *events.Emitter
	Namespace string

	leadership chan bool
	tracked    map[string]string // repoKey -> last observed resourceVersion
}

// New builds a Controller. It starts in standby and does nothing until
// true is sent on the Leadership() channel, mirroring spec.md's
// "start(namespace, standby?)" contract.
func New(k8s k8sclient.K8sOps, registry supervisor.Registry, st *store.Store, emitter *events.Emitter, namespace string) *Controller {
	return &Controller{
		K8s:        k8s,
		Registry:   registry,
		Store:      st,
		Events:     emitter,
		Namespace:  namespace,
		leadership: make(chan bool, 4),
		tracked:    make(map[string]string),
	}
}

// Leadership returns the channel leadership edges should be sent on; the
// leaderelect package's Elector.Edges() output is expected to be forwarded
// here by the caller wiring the two together in cmd/nopea-controller.
func (c *Controller) Leadership() chan<- bool {
	return c.leadership
}

// Run blocks, alternating between standby (waiting for leadership) and
// active (list-then-watch) until ctx is canceled, per spec.md §4.1/§5:
// "a loss-of-leadership event stops every worker before returning to
// standby; a gain-of-leadership performs a full list-then-watch sequence".
func (c *Controller) Run(ctx context.Context) error {
	logger := log.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case leader := <-c.leadership:
			if !leader {
				continue
			}
		}

		if err := c.runActive(ctx); err != nil {
			logger.Error(err, "active watch loop exited")
		}

		c.Registry.StopAll()
		for k := range c.tracked {
			delete(c.tracked, k)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// runActive performs one list-then-watch cycle. It returns (nil error)
// only when ctx is canceled; any watch failure is retried internally
// after reconnectDelay per spec.md §4.1, except it returns early if a
// leadership-lost signal arrives.
func (c *Controller) runActive(ctx context.Context) error {
	logger := log.FromContext(ctx)

	for {
		resourceVersion, err := c.listAndStart(ctx)
		if err != nil {
			logger.Error(err, "list failed, retrying")
			if !c.sleepOrLoseLeadership(ctx, reconnectDelay) {
				return nil
			}
			continue
		}

		lost, err := c.watch(ctx, resourceVersion)
		if lost {
			return nil
		}
		if err != nil {
			logger.Error(err, "watch failed, reconnecting")
			if !c.sleepOrLoseLeadership(ctx, reconnectDelay) {
				return nil
			}
			continue
		}
		// watch ended cleanly (end-of-stream): reconnect immediately.
	}
}

func (c *Controller) sleepOrLoseLeadership(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case leader := <-c.leadership:
		return leader
	case <-timer.C:
		return true
	}
}

func (c *Controller) listAndStart(ctx context.Context) (string, error) {
	list, resourceVersion, err := c.K8s.ListCustom(ctx, c.Namespace)
	if err != nil {
		return "", err
	}
	for _, cr := range list {
		c.handleAdded(ctx, cr)
	}
	return resourceVersion, nil
}

func (c *Controller) watch(ctx context.Context, resourceVersion string) (lostLeadership bool, err error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := c.K8s.WatchCustom(watchCtx, c.Namespace, resourceVersion)
	if err != nil {
		return false, err
	}

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case leader := <-c.leadership:
			if !leader {
				return true, nil
			}
		case ev, ok := <-events:
			if !ok {
				return false, nil
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev k8sclient.WatchEvent) {
	switch ev.Type {
	case k8sclient.EventAdded:
		c.handleAdded(ctx, ev.Resource)
	case k8sclient.EventModified:
		c.handleModified(ctx, ev.Resource)
	case k8sclient.EventDeleted:
		c.handleDeleted(ctx, ev.Resource)
	case k8sclient.EventBookmark:
		c.tracked[repoKey(ev.Resource.Namespace, ev.Resource.Name)] = ev.Resource.ResourceVersion
	default:
		// Unknown type: ignored per spec.md §4.1.
	}
}

func (c *Controller) handleAdded(ctx context.Context, cr k8sclient.CustomResource) {
	key := repoKey(cr.Namespace, cr.Name)
	if _, ok := c.tracked[key]; ok {
		return // duplicate ADDED is a no-op
	}
	c.startWorker(ctx, cr)
	c.tracked[key] = cr.ResourceVersion
}

func (c *Controller) handleModified(ctx context.Context, cr k8sclient.CustomResource) {
	key := repoKey(cr.Namespace, cr.Name)
	_, wasTracked := c.tracked[key]

	specChanged := !wasTracked || cr.ObservedGeneration == nil || *cr.ObservedGeneration != cr.Generation
	if specChanged {
		c.Registry.Stop(key)
		c.startWorker(ctx, cr)
	}
	c.tracked[key] = cr.ResourceVersion
}

func (c *Controller) handleDeleted(ctx context.Context, cr k8sclient.CustomResource) {
	key := repoKey(cr.Namespace, cr.Name)
	c.Registry.Stop(key)
	delete(c.tracked, key)

	if c.Store != nil {
		var lastCommit string
		if sha, ok := c.Store.GetCommit(cr.Name); ok {
			lastCommit = sha.String()
		}
		if c.Events != nil {
			if err := c.Events.ServiceRemoved(ctx, cr.Name, events.ServicePayload{
				Repository: cr.Name,
				Commit:     lastCommit,
			}); err != nil {
				log.FromContext(ctx).Error(err, "emitting service.removed")
			}
		}
		c.Store.ClearRepository(cr.Name)
	}
}

func (c *Controller) startWorker(ctx context.Context, cr k8sclient.CustomResource) {
	spec, err := toRepositorySpec(cr)
	if err != nil {
		return
	}
	c.Registry.Start(ctx, repoKey(cr.Namespace, cr.Name), spec)
}
