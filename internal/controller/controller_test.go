package controller

import (
	"context"
	"testing"

	"github.com/cloudevents/sdk-go/v2/event"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/nopea-io/nopea/internal/events"
	"github.com/nopea-io/nopea/internal/k8sclient"
	"github.com/nopea-io/nopea/internal/reconcile"
	"github.com/nopea-io/nopea/internal/store"
	"github.com/nopea-io/nopea/internal/worker"
)

// fakeRegistry records Start/Stop calls instead of running real workers, so
// the Controller's dispatch logic can be tested without goroutines.
type fakeRegistry struct {
	started []string
	stopped []string
}

func (r *fakeRegistry) Start(_ context.Context, key string, _ reconcile.RepositorySpec) {
	r.started = append(r.started, key)
}
func (r *fakeRegistry) Stop(key string) { r.stopped = append(r.stopped, key) }
func (r *fakeRegistry) StopAll()        {}
func (r *fakeRegistry) Lookup(string) (*worker.Handle, bool) { return nil, false }
func (r *fakeRegistry) List() []string                       { return nil }

func crFor(name, ns string, generation int64, observed *int64) k8sclient.CustomResource {
	return k8sclient.CustomResource{
		Name: name, Namespace: ns, Generation: generation, ObservedGeneration: observed,
		ResourceVersion: "1",
		Object: &unstructured.Unstructured{Object: map[string]interface{}{
			"spec": map[string]interface{}{
				"url": "https://example.com/" + name + ".git",
			},
		}},
	}
}

func TestHandleAddedStartsWorkerOnce(t *testing.T) {
	reg := &fakeRegistry{}
	c := &Controller{Registry: reg, tracked: make(map[string]string)}

	cr := crFor("acme", "ns", 1, nil)
	c.handleAdded(context.Background(), cr)
	c.handleAdded(context.Background(), cr) // duplicate ADDED

	if len(reg.started) != 1 {
		t.Fatalf("started = %v, want exactly one Start call", reg.started)
	}
}

func TestHandleModifiedRestartsOnGenerationChange(t *testing.T) {
	reg := &fakeRegistry{}
	c := &Controller{Registry: reg, tracked: make(map[string]string)}

	c.handleAdded(context.Background(), crFor("acme", "ns", 1, nil))

	observed := int64(1)
	c.handleModified(context.Background(), crFor("acme", "ns", 1, &observed))
	if len(reg.stopped) != 0 {
		t.Fatalf("expected no restart when generation is unchanged, stopped = %v", reg.stopped)
	}

	c.handleModified(context.Background(), crFor("acme", "ns", 2, &observed))
	if len(reg.stopped) != 1 || len(reg.started) != 2 {
		t.Fatalf("expected a restart on generation change, stopped=%v started=%v", reg.stopped, reg.started)
	}
}

func TestHandleDeletedStopsWorkerAndUntracks(t *testing.T) {
	reg := &fakeRegistry{}
	c := &Controller{Registry: reg, tracked: make(map[string]string)}

	c.handleAdded(context.Background(), crFor("acme", "ns", 1, nil))
	c.handleDeleted(context.Background(), crFor("acme", "ns", 1, nil))

	if len(reg.stopped) != 1 {
		t.Fatalf("expected Stop to be called once, got %v", reg.stopped)
	}
	if _, ok := c.tracked[repoKey("ns", "acme")]; ok {
		t.Fatalf("expected key to be untracked after delete")
	}
}

type recordingEventSink struct {
	events []event.Event
}

func (s *recordingEventSink) Send(_ context.Context, ev event.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func TestHandleDeletedClearsStoreAndEmitsServiceRemoved(t *testing.T) {
	reg := &fakeRegistry{}
	st := store.New()
	sha, _ := reconcile.NewCommitSHA("9ca3a0ad308ed8bffa6602572e2a1343af9c3d2e")
	st.PutCommit("acme", sha)

	sink := &recordingEventSink{}
	c := &Controller{
		Registry: reg,
		Store:    st,
		Events:   events.NewEmitterWithSink(sink),
		tracked:  make(map[string]string),
	}

	c.handleAdded(context.Background(), crFor("acme", "ns", 1, nil))
	c.handleDeleted(context.Background(), crFor("acme", "ns", 1, nil))

	if _, ok := st.GetCommit("acme"); ok {
		t.Fatalf("expected ClearRepository to remove the commit entry")
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one emitted event, got %d", len(sink.events))
	}
	if sink.events[0].Type() != events.TypeServiceRemoved {
		t.Fatalf("event type = %q, want %q", sink.events[0].Type(), events.TypeServiceRemoved)
	}
}

func TestHandleEventBookmarkUpdatesResourceVersionOnly(t *testing.T) {
	reg := &fakeRegistry{}
	c := &Controller{Registry: reg, tracked: make(map[string]string)}

	ev := k8sclient.WatchEvent{Type: k8sclient.EventBookmark, Resource: k8sclient.CustomResource{
		Namespace: "ns", Name: "acme", ResourceVersion: "42",
	}}
	c.handleEvent(context.Background(), ev)

	if len(reg.started) != 0 {
		t.Fatalf("expected a bookmark event to never start a worker")
	}
	if c.tracked[repoKey("ns", "acme")] != "42" {
		t.Fatalf("expected tracked resourceVersion to be updated by the bookmark")
	}
}

func TestHandleEventUnknownTypeIsIgnored(t *testing.T) {
	reg := &fakeRegistry{}
	c := &Controller{Registry: reg, tracked: make(map[string]string)}

	ev := k8sclient.WatchEvent{Type: k8sclient.WatchEventType("WHATEVER"), Resource: crFor("acme", "ns", 1, nil)}
	c.handleEvent(context.Background(), ev)

	if len(reg.started) != 0 || len(reg.stopped) != 0 {
		t.Fatalf("expected an unknown event type to be a no-op")
	}
}
