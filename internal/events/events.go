// Package events implements the CloudEvents 1.0 emitter of spec.md §6.5.
// rancher-fleet has no CDEvents emitter of its own (it reports status via
// plain Kubernetes Events); this package is grounded on the CloudEvents Go
// SDK's documented client/event construction pattern, the only place in the
// retrieval pack that names github.com/cloudevents/sdk-go/v2 at all.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"
)

const (
	TypeServiceDeployed = "dev.cdevents.service.deployed.0.3.0"
	TypeServiceUpgraded = "dev.cdevents.service.upgraded.0.3.0"
	TypeServiceRemoved  = "dev.cdevents.service.removed.0.3.0"
	TypeServiceDrifted  = "dev.nopea.service.drifted.0.1.0"
)

// ServicePayload is the CDEvents-shaped subject data carried by the three
// service.* event types.
type ServicePayload struct {
	ResourceKey string `json:"resourceKey"`
	Repository  string `json:"repository"`
	Commit      string `json:"commit"`
}

// DriftPayload is the subject data for the nopea-specific drift event.
type DriftPayload struct {
	ResourceKey    string `json:"resourceKey"`
	Repository     string `json:"repository"`
	Classification string `json:"classification"`
	Healed         bool   `json:"healed"`
}

// Sink is where an Emitter hands off finished events; the default Emitter
// wraps a cloudevents.Client, but tests substitute a capturing Sink.
type Sink interface {
	Send(ctx context.Context, ev event.Event) error
}

// clientSink adapts a cloudevents.Client to the Sink interface.
type clientSink struct {
	client cloudevents.Client
}

func (s clientSink) Send(ctx context.Context, ev event.Event) error {
	result := s.client.Send(ctx, ev)
	if cloudevents.IsUndelivered(result) {
		return fmt.Errorf("events: undelivered: %w", result)
	}
	return nil
}

// Emitter builds and sends CloudEvents for one controller process. IDs are
// a boot-time UUID prefix combined with a monotonically increasing
// per-process counter, so IDs are ordered within a process and unique
// across restarts.
type Emitter struct {
	sink    Sink
	bootID  string
	counter atomic.Uint64
}

// NewEmitter builds an Emitter that POSTs events to target using the HTTP
// protocol binding, the CloudEvents SDK's default transport.
func NewEmitter(target string) (*Emitter, error) {
	client, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, fmt.Errorf("events: new client: %w", err)
	}
	return newEmitter(clientSink{client: client}), nil
}

// NewEmitterWithSink builds an Emitter over an arbitrary Sink, for tests.
func NewEmitterWithSink(sink Sink) *Emitter {
	return newEmitter(sink)
}

func newEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink, bootID: uuid.NewString()}
}

func (e *Emitter) nextID() string {
	n := e.counter.Add(1)
	return fmt.Sprintf("%s-%d", e.bootID, n)
}

func (e *Emitter) source(repo string) string {
	return fmt.Sprintf("/nopea/worker/%s", repo)
}

// subjectEnvelope carries spec.md §6.5's required subject.{id,content}
// shape. It is serialized into the CloudEvents "subject" context attribute,
// which the spec (and the Go SDK) model as a plain string.
type subjectEnvelope struct {
	ID      string      `json:"id"`
	Content interface{} `json:"content"`
}

func (e *Emitter) emit(ctx context.Context, eventType, repo string, data interface{}) error {
	ev := event.New()
	ev.SetID(e.nextID())
	ev.SetType(eventType)
	ev.SetSource(e.source(repo))
	ev.SetTime(time.Now())
	if err := ev.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return fmt.Errorf("events: set data: %w", err)
	}

	subject, err := json.Marshal(subjectEnvelope{ID: repo, Content: data})
	if err != nil {
		return fmt.Errorf("events: marshal subject: %w", err)
	}
	ev.SetSubject(string(subject))

	return e.sink.Send(ctx, ev)
}

// ServiceDeployed emits a dev.cdevents.service.deployed event; the worker
// sends it after a repository's first successful sync.
func (e *Emitter) ServiceDeployed(ctx context.Context, repo string, p ServicePayload) error {
	return e.emit(ctx, TypeServiceDeployed, repo, p)
}

// ServiceUpgraded emits a dev.cdevents.service.upgraded event; the worker
// sends it after a successful sync whose commit differs from the last one.
func (e *Emitter) ServiceUpgraded(ctx context.Context, repo string, p ServicePayload) error {
	return e.emit(ctx, TypeServiceUpgraded, repo, p)
}

// ServiceRemoved emits a dev.cdevents.service.removed event.
func (e *Emitter) ServiceRemoved(ctx context.Context, repo string, p ServicePayload) error {
	return e.emit(ctx, TypeServiceRemoved, repo, p)
}

// ServiceDrifted emits the nopea-specific drift-detected event, sent
// regardless of whether the DriftEngine decided to heal.
func (e *Emitter) ServiceDrifted(ctx context.Context, repo string, p DriftPayload) error {
	return e.emit(ctx, TypeServiceDrifted, repo, p)
}
