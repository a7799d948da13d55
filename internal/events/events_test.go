package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
)

type captureSink struct {
	events []event.Event
}

func (s *captureSink) Send(_ context.Context, ev event.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func TestEmitterIDsAreMonotonicWithinAProcess(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitterWithSink(sink)

	if err := e.ServiceDeployed(context.Background(), "acme", ServicePayload{Repository: "acme"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.ServiceDeployed(context.Background(), "acme", ServicePayload{Repository: "acme"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("captured %d events, want 2", len(sink.events))
	}
	if sink.events[0].ID() == sink.events[1].ID() {
		t.Fatalf("expected distinct IDs, got %q twice", sink.events[0].ID())
	}
	if !strings.HasSuffix(sink.events[0].ID(), "-1") || !strings.HasSuffix(sink.events[1].ID(), "-2") {
		t.Fatalf("expected a monotonically increasing counter suffix, got %q then %q", sink.events[0].ID(), sink.events[1].ID())
	}
}

func TestEmitterSourceIsPerRepository(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitterWithSink(sink)

	_ = e.ServiceDeployed(context.Background(), "acme", ServicePayload{Repository: "acme"})
	if got, want := sink.events[0].Source(), "/nopea/worker/acme"; got != want {
		t.Fatalf("Source() = %q, want %q", got, want)
	}
}

func TestEmitterEventTypesMatchOperation(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitterWithSink(sink)

	_ = e.ServiceDeployed(context.Background(), "acme", ServicePayload{})
	_ = e.ServiceUpgraded(context.Background(), "acme", ServicePayload{})
	_ = e.ServiceRemoved(context.Background(), "acme", ServicePayload{})
	_ = e.ServiceDrifted(context.Background(), "acme", DriftPayload{})

	want := []string{TypeServiceDeployed, TypeServiceUpgraded, TypeServiceRemoved, TypeServiceDrifted}
	for i, w := range want {
		if got := sink.events[i].Type(); got != w {
			t.Fatalf("event[%d].Type() = %q, want %q", i, got, w)
		}
	}
}

func TestEmitterSetsTimeAndSubject(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitterWithSink(sink)

	before := time.Now().Add(-time.Second)
	err := e.ServiceDeployed(context.Background(), "acme", ServicePayload{Repository: "acme", Commit: "abc123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := time.Now().Add(time.Second)

	ev := sink.events[0]
	if ev.Time().Before(before) || ev.Time().After(after) {
		t.Fatalf("Time() = %v, want between %v and %v", ev.Time(), before, after)
	}

	var subject struct {
		ID      string         `json:"id"`
		Content ServicePayload `json:"content"`
	}
	if err := json.Unmarshal([]byte(ev.Subject()), &subject); err != nil {
		t.Fatalf("Subject() did not decode as {id,content}: %v", err)
	}
	if subject.ID != "acme" {
		t.Fatalf("subject.id = %q, want %q", subject.ID, "acme")
	}
	if subject.Content.Commit != "abc123" {
		t.Fatalf("subject.content.commit = %q, want %q", subject.Content.Commit, "abc123")
	}
}

func TestEmitterPropagatesSinkError(t *testing.T) {
	e := NewEmitterWithSink(failingSink{})
	if err := e.ServiceDeployed(context.Background(), "acme", ServicePayload{}); err == nil {
		t.Fatalf("expected the sink's error to propagate")
	}
}

type failingSink struct{}

func (failingSink) Send(context.Context, event.Event) error { return errSinkFailed }

var errSinkFailed = sinkError("boom")

type sinkError string

func (e sinkError) Error() string { return string(e) }
